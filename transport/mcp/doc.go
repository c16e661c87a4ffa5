// Package mcp provides a Model Context Protocol server for the verification gate.
//
// The mcp package implements:
//   - MCP tools for driving and inspecting verification
//   - A thin client that proxies every tool to the REST API
//   - Stdio and HTTP transport modes
//
// MCP Tools:
//
// The package exposes the following tools for AI agents:
//   - arrive_user: Report an arrival and receive the challenge
//   - submit_code: Submit a code for a user
//   - get_user: Show a user's session
//   - depart_user: Report a departure
//   - kick_user: Revoke and disconnect a user
//   - queue_action: Queue a command released on success
//   - list_sessions: List sessions, optionally by status
//   - gate_status: Show settings and counts
//   - reload_config: Re-read the configuration file
//
// Transport Modes:
//
// The server supports two transport modes:
//   - Stdio: Direct stdio communication for local MCP clients
//   - HTTP: POST /mcp on the main server
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080", version)
//	server.ServeStdio(client.GetMCPServer())
//
// Tool failures, including API errors, are returned as error results rather
// than protocol errors so agents can read and react to them.
package mcp
