package service

import (
	"time"

	"github.com/wricardo/verifygate/gate/session"
)

// NoticeKind identifies a user-facing notice. Rendering is up to the Notifier.
type NoticeKind string

const (
	NoticeChallenge NoticeKind = "challenge"
	NoticeSuccess   NoticeKind = "success"
	NoticeWrongCode NoticeKind = "wrong_code"
	NoticeFailed    NoticeKind = "failed"
	NoticeTimeout   NoticeKind = "timeout"
)

// Notice carries the data a presentation layer needs to tell a user about
// their verification. Code is only set on the challenge notice; failure
// notices never reveal it.
type Notice struct {
	Kind        NoticeKind    `json:"kind"`
	UserID      string        `json:"user_id"`
	SessionID   string        `json:"session_id"`
	Code        string        `json:"code,omitempty"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Remaining   int           `json:"remaining_attempts"`
	Timeout     time.Duration `json:"-"`
}

// DisconnectReason is the machine-readable cause of a forced disconnect
type DisconnectReason string

const (
	ReasonFailed   DisconnectReason = "verification_failed"
	ReasonTimedOut DisconnectReason = "verification_timeout"
	ReasonRevoked  DisconnectReason = "revoked"
)

// OutcomeKind classifies the result of a submission
type OutcomeKind string

const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomePending         OutcomeKind = "pending"
	OutcomeFailed          OutcomeKind = "failed"
	OutcomeAlreadyResolved OutcomeKind = "already_resolved"
	OutcomeNotFound        OutcomeKind = "not_found"
)

// Outcome reports what a submission did. Wrong codes, exhaustion and missing
// sessions are outcomes, not errors.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// Status is empty for OutcomeNotFound
	Status      string `json:"status,omitempty"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	Remaining   int    `json:"remaining_attempts"`
	SessionID   string `json:"session_id,omitempty"`
}

// BypassReason explains why an arrival was not challenged
type BypassReason string

const (
	BypassDisabled    BypassReason = "disabled"
	BypassConfigError BypassReason = "config_error"
	BypassListed      BypassReason = "bypass_list"
)

// ArrivalResult reports what happened when a user arrived
type ArrivalResult struct {
	UserID   string `json:"user_id"`
	Required bool   `json:"required"`

	// Set when Required is false
	BypassReason BypassReason `json:"bypass_reason,omitempty"`
	ConfigError  string       `json:"config_error,omitempty"`

	// Set when Required is true. Code is handed to the host so it can present
	// the challenge when no Notifier reaches the user.
	Session  *SessionInfo `json:"session,omitempty"`
	Code     string       `json:"code,omitempty"`
	Replaced bool         `json:"replaced"`
}

// SessionInfo is the read-only view of a session exposed to hosts
type SessionInfo struct {
	session.Snapshot
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// EventType names a lifecycle event
type EventType string

const (
	EventCreated  EventType = "created"
	EventVerified EventType = "verified"
	EventFailed   EventType = "failed"
	EventTimedOut EventType = "timed_out"
	EventRevoked  EventType = "revoked"
	EventDeparted EventType = "departed"
)

// Event is published to every EventSink on session lifecycle changes
type Event struct {
	Type      EventType      `json:"type"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
	Attempts  int            `json:"attempts"`
	Reason    string         `json:"reason,omitempty"`
	At        time.Time      `json:"at"`
}

// StatusInfo summarizes the gate for admin surfaces
type StatusInfo struct {
	Enabled        bool   `json:"enabled"`
	ConfigError    string `json:"config_error,omitempty"`
	PolicyKind     string `json:"policy_kind,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxAttempts    int    `json:"max_attempts"`
	SweepInterval  string `json:"sweep_interval"`
	SweeperRunning bool   `json:"sweeper_running"`

	Sessions int `json:"sessions"`
	Pending  int `json:"pending"`
	Verified int `json:"verified"`
	Failed   int `json:"failed"`
	TimedOut int `json:"timed_out"`
	Revoked  int `json:"revoked"`
}
