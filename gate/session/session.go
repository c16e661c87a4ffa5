package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotPending     = errors.New("session is not pending")
	ErrInvalidSession = errors.New("invalid session")
)

// Action is a deferred side effect attached to a session. It is executed by
// the coordinator exactly once, after the session transitions to Success.
type Action struct {
	Kind    string `json:"kind"`
	Command string `json:"command"`
}

// Session is one user's verification attempt. The immutable fields are set
// by New; everything else is guarded by mu.
type Session struct {
	id          string
	userID      string
	code        string
	createdAt   time.Time
	maxAttempts int

	mu         sync.Mutex
	attempts   int
	status     Status
	resolvedAt time.Time
	actions    []Action
	detached   bool
}

// New creates a pending session. createdAt should come from a clock whose
// readings carry a monotonic component.
func New(userID, code string, maxAttempts int, createdAt time.Time, actions ...Action) (*Session, error) {
	if userID == "" {
		return nil, errors.Join(ErrInvalidSession, errors.New("user id is required"))
	}
	if code == "" {
		return nil, errors.Join(ErrInvalidSession, errors.New("code is required"))
	}
	if maxAttempts < 1 {
		return nil, errors.Join(ErrInvalidSession, errors.New("max attempts must be positive"))
	}

	return &Session{
		id:          uuid.NewString(),
		userID:      userID,
		code:        code,
		createdAt:   createdAt,
		maxAttempts: maxAttempts,
		status:      StatusPending,
		actions:     append([]Action(nil), actions...),
	}, nil
}

// ID returns the unique id of this session (distinct per arrival)
func (s *Session) ID() string { return s.id }

// UserID returns the owner of the session
func (s *Session) UserID() string { return s.userID }

// Code returns the expected verification code
func (s *Session) Code() string { return s.code }

// CreatedAt returns the creation timestamp
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// MaxAttempts returns the wrong-guess ceiling fixed at creation
func (s *Session) MaxAttempts() int { return s.maxAttempts }

// Status returns the current status
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Attempts returns the number of wrong submissions so far
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Detached reports whether the session was removed from (or replaced in) its store
func (s *Session) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// Result reports the effect of a Submit call
type Result struct {
	Status      Status
	Attempts    int
	MaxAttempts int

	// Changed is false when the call was a no-op on a resolved or detached session.
	Changed bool

	// Detached is true when the session no longer lives in a store.
	Detached bool

	// Actions holds the pending actions released by the transition to Success.
	Actions []Action
}

// Remaining returns how many wrong guesses are left
func (r Result) Remaining() int {
	if r.Status != StatusPending {
		return 0
	}
	return r.MaxAttempts - r.Attempts
}

// Submit applies one code submission. The input is trimmed and compared
// case-insensitively. Only attempts and the code are considered here; elapsed
// time is the sweeper's business.
func (s *Session) Submit(input string, now time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{
		Status:      s.status,
		Attempts:    s.attempts,
		MaxAttempts: s.maxAttempts,
		Detached:    s.detached,
	}
	if s.detached || s.status != StatusPending {
		return res
	}

	res.Changed = true
	if strings.EqualFold(strings.TrimSpace(input), s.code) {
		s.resolve(StatusSuccess, now)
		res.Status = s.status
		res.Actions = s.actions
		s.actions = nil
		return res
	}

	s.attempts++
	if s.attempts >= s.maxAttempts {
		s.resolve(StatusFailed, now)
		s.actions = nil
	}
	res.Status = s.status
	res.Attempts = s.attempts
	return res
}

// Expire moves a pending session to TimedOut once more than timeout has
// elapsed since creation. It reports whether the transition happened. A
// session that already left its store never expires.
func (s *Session) Expire(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached || s.status != StatusPending || now.Sub(s.createdAt) <= timeout {
		return false
	}
	s.resolve(StatusTimedOut, now)
	s.actions = nil
	return true
}

// Revoke marks the session as disposed of after a forced disconnection.
// A verified session is never revoked.
func (s *Session) Revoke(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusPending, StatusFailed, StatusTimedOut:
		s.resolve(StatusRevoked, now)
		s.actions = nil
		return true
	case StatusSuccess, StatusRevoked:
		return false
	default:
		return false
	}
}

// AddAction queues a deferred action. It fails once the session is resolved.
func (s *Session) AddAction(a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPending || s.detached {
		return ErrNotPending
	}
	s.actions = append(s.actions, a)
	return nil
}

// RemainingTime returns the time left before the session may be expired
func (s *Session) RemainingTime(now time.Time, timeout time.Duration) time.Duration {
	left := timeout - now.Sub(s.createdAt)
	if left < 0 {
		return 0
	}
	return left
}

// Snapshot is an immutable copy of a session for readers outside the lock
type Snapshot struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Code        string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	ResolvedAt  time.Time `json:"resolved_at,omitzero"`
	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Remaining   int       `json:"remaining_attempts"`
	Actions     int       `json:"pending_actions"`
}

// Snapshot returns a consistent copy of the session state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := 0
	if s.status == StatusPending {
		remaining = s.maxAttempts - s.attempts
	}

	return Snapshot{
		ID:          s.id,
		UserID:      s.userID,
		Code:        s.code,
		CreatedAt:   s.createdAt,
		ResolvedAt:  s.resolvedAt,
		Status:      s.status,
		Attempts:    s.attempts,
		MaxAttempts: s.maxAttempts,
		Remaining:   remaining,
		Actions:     len(s.actions),
	}
}

// resolve records a terminal transition; callers hold mu.
func (s *Session) resolve(status Status, now time.Time) {
	s.status = status
	s.resolvedAt = now
}

// detach is called by the store when the session leaves it
func (s *Session) detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}
