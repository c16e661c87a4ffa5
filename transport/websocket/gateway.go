package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wricardo/verifygate/gate/logging"
	"github.com/wricardo/verifygate/gate/service"
	"github.com/wricardo/verifygate/gate/session"
	"github.com/wricardo/verifygate/transport/presenter"
)

// Gateway connects the hub to the verification service. Inbound, it turns
// connections into arrivals, submit frames into submissions and closed
// connections into departures. Outbound, it is the service's Notifier,
// Disconnector, ActionRunner and EventSink.
type Gateway struct {
	hub      *Hub
	renderer *presenter.Renderer
	svc      service.VerificationService
	logger   *slog.Logger
}

var (
	_ service.Notifier     = (*Gateway)(nil)
	_ service.Disconnector = (*Gateway)(nil)
	_ service.ActionRunner = (*Gateway)(nil)
	_ service.EventSink    = (*Gateway)(nil)
	_ Handler              = (*Gateway)(nil)
)

// NewGateway creates a gateway and its hub. Bind must be called before the
// hub starts accepting connections.
func NewGateway(renderer *presenter.Renderer, logger *slog.Logger) *Gateway {
	logger = logging.OrDiscard(logger)
	g := &Gateway{renderer: renderer, logger: logger}
	g.hub = NewHub(g, logger)
	return g
}

// Bind sets the service inbound frames are forwarded to
func (g *Gateway) Bind(svc service.VerificationService) {
	g.svc = svc
}

// Hub returns the underlying hub
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// ServeUser handles /ws?user=<id>
func (g *Gateway) ServeUser(w http.ResponseWriter, r *http.Request, userID string) {
	g.hub.ServeUser(w, r, userID)
}

// ServeWatcher handles /ws/watch
func (g *Gateway) ServeWatcher(w http.ResponseWriter, r *http.Request) {
	g.hub.ServeWatcher(w, r)
}

// OnConnect starts verification for a freshly connected user
func (g *Gateway) OnConnect(ctx context.Context, userID string) {
	res, err := g.svc.OnArrived(ctx, userID)
	if err != nil {
		g.logger.Warn("arrival failed", "user_id", userID, "error", err)
		_ = g.hub.Send(ctx, userID, &Message{Type: TypeError, UserID: userID, Kind: "arrival_failed"})
		return
	}

	// The challenge notice carries the code; the arrival frame does not.
	view := *res
	view.Code = ""
	_ = g.hub.Send(ctx, userID, &Message{Type: TypeArrival, UserID: userID, Data: &view})
}

// OnMessage submits a code on behalf of the connection
func (g *Gateway) OnMessage(ctx context.Context, userID string, in Inbound) {
	outcome, err := g.svc.Submit(ctx, userID, in.Code)
	if err != nil {
		g.logger.Warn("submission failed", "user_id", userID, "error", err)
		_ = g.hub.Send(ctx, userID, &Message{Type: TypeError, UserID: userID, Kind: "submit_failed"})
		return
	}
	// A failed submission already closed the connection with its own frame.
	if outcome.Kind == service.OutcomeFailed {
		return
	}
	if err := g.hub.Send(ctx, userID, &Message{
		Type:   TypeOutcome,
		UserID: userID,
		Kind:   string(outcome.Kind),
		Lines:  g.renderer.Outcome(userID, outcome),
		Data:   outcome,
	}); err != nil {
		g.logger.Debug("outcome not delivered", "user_id", userID, "error", err)
	}
}

// OnDisconnect reports the departure of a user
func (g *Gateway) OnDisconnect(ctx context.Context, userID string) {
	g.svc.OnDeparted(ctx, userID)
}

// Notify implements service.Notifier
func (g *Gateway) Notify(ctx context.Context, userID string, notice service.Notice) error {
	return g.hub.Send(ctx, userID, &Message{
		Type:   TypeNotice,
		UserID: userID,
		Kind:   string(notice.Kind),
		Lines:  g.renderer.Notice(notice),
		Data:   notice,
	})
}

// Disconnect implements service.Disconnector
func (g *Gateway) Disconnect(ctx context.Context, userID string, reason service.DisconnectReason) error {
	return g.hub.Close(ctx, userID, &Message{
		Type:   TypeDisconnect,
		UserID: userID,
		Kind:   string(reason),
		Lines:  g.renderer.Disconnect(userID, reason),
	})
}

// Run implements service.ActionRunner by handing the expanded command to the
// watchers, which execute it on the host.
func (g *Gateway) Run(ctx context.Context, userID string, action session.Action) error {
	n, err := g.hub.Broadcast(ctx, &Message{
		Type:   TypeAction,
		UserID: userID,
		Kind:   action.Kind,
		Lines:  []string{g.renderer.Command(userID, action.Command)},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoWatchers
	}
	return nil
}

// Publish implements service.EventSink
func (g *Gateway) Publish(ctx context.Context, event service.Event) error {
	return g.hub.Publish(ctx, &Message{
		Type:   TypeEvent,
		UserID: event.UserID,
		Kind:   string(event.Type),
		Data:   event,
	})
}
