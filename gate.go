package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wricardo/verifygate/api"
	"github.com/wricardo/verifygate/gate/config"
	"github.com/wricardo/verifygate/gate/metrics"
	"github.com/wricardo/verifygate/gate/service"
	"github.com/wricardo/verifygate/gate/session"
	"github.com/wricardo/verifygate/transport/mcp"
	"github.com/wricardo/verifygate/transport/presenter"
	"github.com/wricardo/verifygate/transport/telegram"
	"github.com/wricardo/verifygate/transport/websocket"
)

// gate bundles the verification service with everything the binary wires
// around it.
type gate struct {
	manager  *config.Manager
	service  service.VerificationService
	gateway  *websocket.Gateway
	renderer *presenter.Renderer
	telegram *telegram.Notifier
	registry *prometheus.Registry
	logger   *slog.Logger
}

// newGate loads the configuration at path and builds the service. An invalid
// configuration does not fail startup: the gate runs disabled until a valid
// one is reloaded. A file that cannot be read or parsed does.
func newGate(path string, logger *slog.Logger) (*gate, error) {
	manager := config.NewManager(path)
	if created, err := manager.SaveDefault(); err != nil {
		logger.Warn("could not write default configuration", "path", path, "error", err)
	} else if created {
		logger.Info("wrote default configuration", "path", path)
	}

	cfg, err := manager.Load()
	if cfg == nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err != nil {
		logger.Error("configuration invalid, verification disabled until reload", "path", path, "error", err)
	}

	registry, m := metrics.NewRegistry()
	renderer := presenter.New(cfg.Messages)
	gw := websocket.NewGateway(renderer, logger)

	g := &gate{
		manager:  manager,
		gateway:  gw,
		renderer: renderer,
		registry: registry,
		logger:   logger,
	}

	sinks := []service.EventSink{gw}
	if cfg.Telegram.BotToken != "" {
		tg, err := telegram.Dial(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Warn("telegram notifications disabled", "error", err)
		} else {
			g.telegram = tg
			sinks = append(sinks, tg)
		}
	}

	g.service = service.NewVerificationService(session.NewStore(),
		service.WithConfig(cfg),
		service.WithNotifier(gw),
		service.WithDisconnector(gw),
		service.WithActionRunner(gw),
		service.WithEventSinks(sinks...),
		service.WithMetrics(m),
		service.WithLogger(logger),
	)
	gw.Bind(g.service)
	return g, nil
}

// start runs the background workers until ctx is done
func (g *gate) start(ctx context.Context) {
	go g.gateway.Hub().Run(ctx)
	if g.telegram != nil {
		go g.telegram.Run(ctx)
	}
	g.service.Start(ctx)
}

// shutdown stops the sweeper and discards every session
func (g *gate) shutdown(ctx context.Context) error {
	return g.service.Shutdown(ctx)
}

// reload re-reads the configuration file and applies it. A file that cannot
// be parsed leaves the running configuration in place.
func (g *gate) reload(ctx context.Context) error {
	cfg, err := g.manager.Reload()
	if cfg == nil {
		g.logger.ErrorContext(ctx, "configuration reload failed, keeping current settings", "error", err)
		return err
	}

	g.renderer.SetMessages(cfg.Messages)
	if applyErr := g.service.ApplyConfig(ctx, cfg); applyErr != nil {
		return applyErr
	}
	return err
}

// apiHandler builds the REST, websocket and metrics handler
func (g *gate) apiHandler() *api.Server {
	return api.NewServer(g.service,
		api.WithGateway(g.gateway),
		api.WithRenderer(g.renderer),
		api.WithMetricsHandler(metrics.HandlerFor(g.registry)),
		api.WithReload(g.reload),
		api.WithLogger(g.logger),
	)
}

// checkConfig loads the file at path the way the server would and reports
// whether it is usable.
func checkConfig(path string, w io.Writer) error {
	cfg, err := config.NewManager(path).Load()
	if cfg == nil {
		return err
	}

	var verr *config.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintf(w, "%s: invalid\n", path)
		for _, p := range verr.Problems {
			fmt.Fprintf(w, "  - %s\n", p)
		}
		return err
	}

	v := cfg.Verification
	fmt.Fprintf(w, "%s: ok\n", path)
	fmt.Fprintf(w, "  enabled: %t, policy: %s, timeout: %s, attempts: %d\n", v.Enabled, v.Type, v.Timeout, v.MaxAttempts)
	return nil
}

// mcpHandler serves MCP JSON-RPC messages over HTTP POST
func mcpHandler(client *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := client.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}
