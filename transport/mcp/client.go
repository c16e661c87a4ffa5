package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/verifygate/gate/service"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string, version string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer(version)
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer(version string) {
	c.mcpServer = server.NewMCPServer(
		"verifygate",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(`verifygate - MCP Interface

This is a thin client that proxies all requests to the gate's REST API.

Users arriving in the shared environment must type a verification code
before they may act. Wrong codes count against a limited number of
attempts; running out or waiting too long removes the user.

AVAILABLE TOOLS:
- arrive_user: Report a user arrival and start verification
- submit_code: Submit a code on behalf of a user
- get_user: Show a user's current verification session
- depart_user: Report that a user left
- kick_user: Revoke a user's session and disconnect them
- queue_action: Queue a command released when the user verifies
- list_sessions: List sessions, optionally filtered by status
- gate_status: Show gate settings and session counts
- reload_config: Re-read the configuration file`),
	)

	c.registerTools()
}

func userIDProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "User identifier",
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// User lifecycle
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "arrive_user",
		Description: "Report a user arrival. Returns the challenge code unless the user bypasses verification.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"user_id": userIDProperty()},
			Required:   []string{"user_id"},
		},
	}, c.handleArrive)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "submit_code",
		Description: "Submit a verification code for a user. Matching ignores case and surrounding spaces.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"user_id": userIDProperty(),
				"code": map[string]any{
					"type":        "string",
					"description": "Code typed by the user",
				},
			},
			Required: []string{"user_id", "code"},
		},
	}, c.handleSubmit)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_user",
		Description: "Get the current verification session of a user",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"user_id": userIDProperty()},
			Required:   []string{"user_id"},
		},
	}, c.handleGetUser)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "depart_user",
		Description: "Report that a user left. Their session is discarded whatever its status.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"user_id": userIDProperty()},
			Required:   []string{"user_id"},
		},
	}, c.handleDepart)

	// Administration
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "kick_user",
		Description: "Revoke a user's session and disconnect them",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"user_id": userIDProperty(),
				"reason": map[string]any{
					"type":        "string",
					"description": "Reason recorded with the revocation (optional)",
				},
			},
			Required: []string{"user_id"},
		},
	}, c.handleKick)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "queue_action",
		Description: "Queue a command that runs once when the user verifies. {player} is replaced by the user ID.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"user_id": userIDProperty(),
				"command": map[string]any{
					"type":        "string",
					"description": "Command to run on success",
				},
			},
			Required: []string{"user_id", "command"},
		},
	}, c.handleQueueAction)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List verification sessions",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"pending", "success", "failed", "timed_out", "revoked"},
					"description": "Only list sessions with this status (optional)",
				},
			},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "gate_status",
		Description: "Show gate settings and session counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, c.handleStatus)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "reload_config",
		Description: "Re-read the configuration file. An invalid file disables verification until fixed.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, c.handleReload)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

// apiError is the error body returned by the REST API
type apiError struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

func (c *Client) apiCall(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp apiError
		json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			if len(errResp.Problems) > 0 {
				return fmt.Errorf("%s\n- %s", errResp.Error, strings.Join(errResp.Problems, "\n- "))
			}
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func stringArg(request mcp.CallToolRequest, name string) string {
	args, _ := request.Params.Arguments.(map[string]any)
	v, _ := args[name].(string)
	return v
}

func userPath(userID string, suffix string) string {
	return "/api/users/" + url.PathEscape(userID) + suffix
}

// Tool handlers

func (c *Client) handleArrive(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := stringArg(request, "user_id")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	var result service.ArrivalResult
	if err := c.apiCall(ctx, "POST", userPath(userID, "/arrive"), nil, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatArrival(&result)), nil
}

func (c *Client) handleSubmit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := stringArg(request, "user_id")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	var result struct {
		service.Outcome
		Lines []string `json:"lines"`
	}
	body := map[string]string{"code": stringArg(request, "code")}
	if err := c.apiCall(ctx, "POST", userPath(userID, "/submit"), body, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatOutcome(userID, &result.Outcome, result.Lines)), nil
}

func (c *Client) handleGetUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := stringArg(request, "user_id")

	var info service.SessionInfo
	if err := c.apiCall(ctx, "GET", userPath(userID, ""), nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&info)), nil
}

func (c *Client) handleDepart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := stringArg(request, "user_id")

	var result struct {
		Removed bool `json:"removed"`
	}
	if err := c.apiCall(ctx, "DELETE", userPath(userID, ""), nil, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if !result.Removed {
		return mcp.NewToolResultText(fmt.Sprintf("User %s had no session", userID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("User %s departed, session discarded", userID)), nil
}

func (c *Client) handleKick(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := stringArg(request, "user_id")

	var info service.SessionInfo
	body := map[string]string{"reason": stringArg(request, "reason")}
	if err := c.apiCall(ctx, "POST", userPath(userID, "/kick"), body, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Kicked %s (final status: %s)", userID, info.Status)), nil
}

func (c *Client) handleQueueAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := stringArg(request, "user_id")
	command := stringArg(request, "command")
	if command == "" {
		return mcp.NewToolResultError("command is required"), nil
	}

	body := map[string]string{"kind": service.ActionCommand, "command": command}
	if err := c.apiCall(ctx, "POST", userPath(userID, "/actions"), body, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Queued for %s: %s", userID, command)), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := "/api/users"
	if status := stringArg(request, "status"); status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var response struct {
		Count    int                   `json:"count"`
		Total    int                   `json:"total"`
		Sessions []service.SessionInfo `json:"sessions"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sessions (%d of %d):\n\n", response.Count, response.Total)
	for _, s := range response.Sessions {
		fmt.Fprintf(&b, "- %s: %s, attempts %d/%d, created %s\n",
			s.UserID, s.Status, s.Attempts, s.MaxAttempts, s.CreatedAt.Format("15:04:05"))
	}

	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status service.StatusInfo
	if err := c.apiCall(ctx, "GET", "/api/status", nil, &status); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatStatus(&status)), nil
}

func (c *Client) handleReload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status service.StatusInfo
	if err := c.apiCall(ctx, "POST", "/api/config/reload", nil, &status); err != nil {
		return mcp.NewToolResultError("Reload rejected, verification is disabled until the file is fixed:\n" + err.Error()), nil
	}

	return mcp.NewToolResultText("Configuration reloaded\n\n" + formatStatus(&status)), nil
}

// Formatting

func formatArrival(result *service.ArrivalResult) string {
	if !result.Required {
		msg := fmt.Sprintf("User %s may proceed without verification (%s)", result.UserID, result.BypassReason)
		if result.ConfigError != "" {
			msg += "\nConfiguration error: " + result.ConfigError
		}
		return msg
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Verification started for %s\n", result.UserID)
	fmt.Fprintf(&b, "Code: %s\n", result.Code)
	if result.Session != nil {
		fmt.Fprintf(&b, "Attempts: %d\n", result.Session.MaxAttempts)
		fmt.Fprintf(&b, "Expires in: %ds\n", result.Session.RemainingSeconds)
	}
	if result.Replaced {
		b.WriteString("A previous session for this user was replaced\n")
	}
	return b.String()
}

func formatOutcome(userID string, outcome *service.Outcome, lines []string) string {
	var msg string
	switch outcome.Kind {
	case service.OutcomeSuccess:
		msg = fmt.Sprintf("%s verified after %d wrong attempt(s)", userID, outcome.Attempts)
	case service.OutcomePending:
		msg = fmt.Sprintf("Wrong code for %s, %d attempt(s) remaining", userID, outcome.Remaining)
	case service.OutcomeFailed:
		msg = fmt.Sprintf("%s used all %d attempts and was disconnected", userID, outcome.MaxAttempts)
	case service.OutcomeAlreadyResolved:
		msg = fmt.Sprintf("%s is already resolved (%s)", userID, outcome.Status)
	case service.OutcomeNotFound:
		msg = fmt.Sprintf("%s has no verification in progress", userID)
	default:
		msg = string(outcome.Kind)
	}
	if len(lines) > 0 {
		msg += "\nUser sees: " + strings.Join(lines, " / ")
	}
	return msg
}

func formatSessionInfo(info *service.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User: %s\n", info.UserID)
	fmt.Fprintf(&b, "Session: %s\n", info.ID)
	fmt.Fprintf(&b, "Status: %s\n", info.Status)
	fmt.Fprintf(&b, "Attempts: %d/%d\n", info.Attempts, info.MaxAttempts)
	fmt.Fprintf(&b, "Created: %s\n", info.CreatedAt.Format(time.RFC3339))
	if !info.ResolvedAt.IsZero() {
		fmt.Fprintf(&b, "Resolved: %s\n", info.ResolvedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(&b, "Expires in: %ds\n", info.RemainingSeconds)
	}
	if info.Actions > 0 {
		fmt.Fprintf(&b, "Queued actions: %d\n", info.Actions)
	}
	return b.String()
}

func formatStatus(status *service.StatusInfo) string {
	var b strings.Builder
	if status.Enabled {
		b.WriteString("Gate: enabled\n")
	} else {
		b.WriteString("Gate: disabled\n")
	}
	if status.ConfigError != "" {
		fmt.Fprintf(&b, "Configuration error: %s\n", status.ConfigError)
	}
	fmt.Fprintf(&b, "Policy: %s, timeout %ds, %d attempts, sweep every %s\n",
		status.PolicyKind, status.TimeoutSeconds, status.MaxAttempts, status.SweepInterval)
	fmt.Fprintf(&b, "Sessions: %d (pending %d, verified %d, failed %d, timed out %d, revoked %d)\n",
		status.Sessions, status.Pending, status.Verified, status.Failed, status.TimedOut, status.Revoked)
	return b.String()
}
