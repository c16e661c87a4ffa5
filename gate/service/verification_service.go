package service

import (
	"context"
	"errors"

	"github.com/wricardo/verifygate/gate/config"
	"github.com/wricardo/verifygate/gate/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidUser     = errors.New("user id is required")
	ErrServiceClosed   = errors.New("verification service is shut down")
	ErrCodeGeneration  = errors.New("failed to generate verification code")
)

// VerificationService is the public entry point of the gate. Hosts feed it
// arrival, submission and departure events; it owns the session store and
// the timeout sweeper.
type VerificationService interface {
	// Configuration
	ApplyConfig(ctx context.Context, cfg *config.Config) error
	Config() *config.Config

	// User events
	OnArrived(ctx context.Context, userID string) (*ArrivalResult, error)
	Submit(ctx context.Context, userID, input string) (*Outcome, error)
	OnDeparted(ctx context.Context, userID string) bool

	// Admin operations
	Kick(ctx context.Context, userID, reason string) (*SessionInfo, error)
	AddAction(ctx context.Context, userID string, action session.Action) error

	// Queries
	Query(ctx context.Context, userID string) (*SessionInfo, bool)
	List(ctx context.Context) []*SessionInfo
	PendingCount() int
	VerifiedCount() int
	Status(ctx context.Context) *StatusInfo

	// Lifecycle
	Start(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// Notifier delivers a notice to a connected user
type Notifier interface {
	Notify(ctx context.Context, userID string, notice Notice) error
}

// Disconnector forcibly removes a user from the shared environment
type Disconnector interface {
	Disconnect(ctx context.Context, userID string, reason DisconnectReason) error
}

// ActionRunner executes a deferred action released by a successful verification
type ActionRunner interface {
	Run(ctx context.Context, userID string, action session.Action) error
}

// EventSink receives lifecycle events. Publish must not block for long.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, userID string, notice Notice) error

func (f NotifierFunc) Notify(ctx context.Context, userID string, notice Notice) error {
	return f(ctx, userID, notice)
}

// DisconnectorFunc adapts a function to Disconnector
type DisconnectorFunc func(ctx context.Context, userID string, reason DisconnectReason) error

func (f DisconnectorFunc) Disconnect(ctx context.Context, userID string, reason DisconnectReason) error {
	return f(ctx, userID, reason)
}

// ActionRunnerFunc adapts a function to ActionRunner
type ActionRunnerFunc func(ctx context.Context, userID string, action session.Action) error

func (f ActionRunnerFunc) Run(ctx context.Context, userID string, action session.Action) error {
	return f(ctx, userID, action)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ctx context.Context, event Event) error

func (f EventSinkFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
