package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/wricardo/verifygate/gate/code"
	"github.com/wricardo/verifygate/gate/config"
	"github.com/wricardo/verifygate/gate/logging"
	"github.com/wricardo/verifygate/gate/metrics"
	"github.com/wricardo/verifygate/gate/session"
	"github.com/wricardo/verifygate/gate/sweeper"
)

// ActionCommand is the kind given to reward commands from the configuration
const ActionCommand = "command"

// settings is the immutable view of one applied configuration
type settings struct {
	cfg       *config.Config
	generator *code.Generator // nil when err != nil
	err       error
	// timing keeps the last valid timeout and retention so pending sessions
	// still expire while the configuration is broken
	timing sweeper.Policy
}

// verificationServiceImpl implements the VerificationService interface
type verificationServiceImpl struct {
	store        *session.Store
	clock        clock.WithTicker
	initial      *config.Config
	notifier     Notifier
	disconnector Disconnector
	runner       ActionRunner
	sinks        []EventSink
	metrics      *metrics.Metrics
	logger       *slog.Logger

	sweeper  *sweeper.Sweeper
	settings atomic.Pointer[settings]
	applyMu  sync.Mutex
	closed   atomic.Bool
}

// NewVerificationService creates a verification service backed by store.
// The sweeper is created stopped; call Start to run it.
func NewVerificationService(store *session.Store, opts ...Option) VerificationService {
	s := &verificationServiceImpl{
		store: store,
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = session.NewStore()
	}
	base := logging.OrDiscard(s.logger)
	s.logger = base.With("component", "verification")

	initial := s.initial
	if initial == nil {
		initial = config.Default()
	}

	s.sweeper = sweeper.New(s.store, s.clock, sweeper.Options{
		Interval:   initial.Verification.SweepInterval,
		Policy:     s.sweepPolicy,
		Handler:    sweepHandler{s: s},
		AfterSweep: s.afterSweep,
		Logger:     base,
		Metrics:    s.metrics,
	})

	if err := s.apply(initial); err != nil {
		s.logger.Error("initial configuration rejected, verification disabled", "error", err)
	}
	return s
}

// ApplyConfig swaps in a new configuration. An invalid configuration disables
// verification (every arrival bypasses the gate) and the error is returned.
func (s *verificationServiceImpl) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if err := s.apply(cfg); err != nil {
		s.logger.ErrorContext(ctx, "configuration rejected, verification disabled", "error", err)
		return err
	}

	v := cfg.Verification
	s.logger.InfoContext(ctx, "configuration applied",
		"enabled", v.Enabled,
		"type", v.Type,
		"timeout", v.Timeout,
		"max_attempts", v.MaxAttempts,
		"sweep_interval", v.SweepInterval)
	return nil
}

func (s *verificationServiceImpl) apply(cfg *config.Config) error {
	next := &settings{cfg: cfg.Clone()}
	if cfg == nil {
		next.cfg = config.Default()
		next.err = fmt.Errorf("%w: configuration is empty", config.ErrInvalidConfig)
	} else if err := config.Validate(cfg); err != nil {
		next.err = err
	} else if policy, err := cfg.Verification.Policy(); err != nil {
		next.err = err
	} else if next.generator, err = code.NewGenerator(policy); err != nil {
		next.err = err
	}

	switch prev := s.settings.Load(); {
	case next.err == nil:
		next.timing = sweeper.Policy{
			Timeout:   next.cfg.Verification.Timeout,
			Retention: next.cfg.Verification.ResolvedRetention,
		}
	case prev != nil:
		next.timing = prev.timing
	default:
		d := config.Default().Verification
		next.timing = sweeper.Policy{Timeout: d.Timeout, Retention: d.ResolvedRetention}
	}

	s.settings.Store(next)
	if next.err != nil {
		return next.err
	}
	return s.sweeper.SetInterval(next.cfg.Verification.SweepInterval)
}

// Config returns a copy of the configuration in effect
func (s *verificationServiceImpl) Config() *config.Config {
	return s.settings.Load().cfg.Clone()
}

// OnArrived starts verification for a user, unless the gate is disabled,
// misconfigured, or the user is on the bypass list. A previous session for the
// same user is replaced.
func (s *verificationServiceImpl) OnArrived(ctx context.Context, userID string) (*ArrivalResult, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}

	st := s.settings.Load()
	if reason, ok := bypassReason(st, userID); ok {
		// A stale session from an earlier arrival must not linger.
		s.store.Remove(userID)
		s.metrics.RecordArrival("bypassed")
		s.logVerification(ctx, st, "verification bypassed", "user_id", userID, "reason", reason)

		res := &ArrivalResult{UserID: userID, BypassReason: reason}
		if st.err != nil {
			res.ConfigError = st.err.Error()
		}
		return res, nil
	}

	v := st.cfg.Verification
	verificationCode, err := st.generator.Generate()
	if err != nil {
		s.metrics.RecordArrival("error")
		return nil, fmt.Errorf("%w: %v", ErrCodeGeneration, err)
	}

	var actions []session.Action
	if st.cfg.Settings.GiveRewards {
		for _, cmd := range st.cfg.Settings.RewardCommands {
			actions = append(actions, session.Action{Kind: ActionCommand, Command: cmd})
		}
	}

	sess, err := session.New(userID, verificationCode, v.MaxAttempts, s.clock.Now(), actions...)
	if err != nil {
		s.metrics.RecordArrival("error")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	replaced := s.store.Create(sess)

	// Shutdown may have cleared the store while we were generating.
	if s.closed.Load() {
		s.store.RemoveIf(userID, sess)
		return nil, ErrServiceClosed
	}

	notice := Notice{
		Kind:        NoticeChallenge,
		UserID:      userID,
		SessionID:   sess.ID(),
		Code:        verificationCode,
		MaxAttempts: v.MaxAttempts,
		Remaining:   v.MaxAttempts,
		Timeout:     v.Timeout,
	}
	if err := s.notify(ctx, userID, notice); err != nil {
		s.logger.WarnContext(ctx, "challenge delivery failed", "user_id", userID, "error", err)
	}

	snap := sess.Snapshot()
	s.publish(ctx, eventFrom(EventCreated, snap, s.clock.Now(), ""))
	s.metrics.RecordArrival("challenged")
	s.logVerification(ctx, st, "verification started",
		"user_id", userID, "session_id", snap.ID, "replaced", replaced != nil)

	return &ArrivalResult{
		UserID:   userID,
		Required: true,
		Session:  s.info(snap, st),
		Code:     verificationCode,
		Replaced: replaced != nil,
	}, nil
}

// Submit applies a code submission for the user's current session
func (s *verificationServiceImpl) Submit(ctx context.Context, userID, input string) (*Outcome, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}

	sess, ok := s.store.Get(userID)
	if !ok {
		s.metrics.RecordSubmission(string(OutcomeNotFound))
		return &Outcome{Kind: OutcomeNotFound}, nil
	}

	res := sess.Submit(input, s.clock.Now())
	out := &Outcome{
		Status:      res.Status.String(),
		Attempts:    res.Attempts,
		MaxAttempts: res.MaxAttempts,
		Remaining:   res.Remaining(),
		SessionID:   sess.ID(),
	}

	switch {
	case res.Detached:
		// Removed or replaced between Get and Submit.
		out = &Outcome{Kind: OutcomeNotFound}
	case !res.Changed:
		out.Kind = OutcomeAlreadyResolved
	default:
		out.Kind = s.afterSubmit(ctx, sess, res)
	}

	s.metrics.RecordSubmission(string(out.Kind))
	return out, nil
}

// afterSubmit performs the side effects of a state change. It runs with no
// lock held.
func (s *verificationServiceImpl) afterSubmit(ctx context.Context, sess *session.Session, res session.Result) OutcomeKind {
	st := s.settings.Load()
	userID := sess.UserID()
	notice := Notice{
		UserID:      userID,
		SessionID:   sess.ID(),
		Attempts:    res.Attempts,
		MaxAttempts: res.MaxAttempts,
		Remaining:   res.Remaining(),
		Timeout:     st.timing.Timeout,
	}

	switch res.Status {
	case session.StatusSuccess:
		s.runActions(ctx, userID, res.Actions)
		notice.Kind = NoticeSuccess
		if err := s.notify(ctx, userID, notice); err != nil {
			s.logger.WarnContext(ctx, "success notice delivery failed", "user_id", userID, "error", err)
		}
		s.publish(ctx, eventFrom(EventVerified, sess.Snapshot(), s.clock.Now(), ""))
		s.metrics.RecordResolution(res.Status.String())
		s.logVerification(ctx, st, "verification succeeded", "user_id", userID, "attempts", res.Attempts)
		return OutcomeSuccess

	case session.StatusPending:
		notice.Kind = NoticeWrongCode
		if err := s.notify(ctx, userID, notice); err != nil {
			s.logger.WarnContext(ctx, "wrong code notice delivery failed", "user_id", userID, "error", err)
		}
		s.logger.DebugContext(ctx, "wrong code", "user_id", userID, "remaining", res.Remaining())
		return OutcomePending

	case session.StatusFailed:
		notice.Kind = NoticeFailed
		if err := s.notify(ctx, userID, notice); err != nil {
			s.logger.WarnContext(ctx, "failure notice delivery failed", "user_id", userID, "error", err)
		}
		if err := s.disconnect(ctx, userID, ReasonFailed); err != nil {
			s.logger.WarnContext(ctx, "disconnect after failure failed", "user_id", userID, "error", err)
		}
		s.publish(ctx, eventFrom(EventFailed, sess.Snapshot(), s.clock.Now(), string(ReasonFailed)))
		s.metrics.RecordResolution(res.Status.String())
		s.logVerification(ctx, st, "verification failed", "user_id", userID, "attempts", res.Attempts)
		return OutcomeFailed

	case session.StatusTimedOut, session.StatusRevoked:
		// Submit never produces these transitions.
		return OutcomeAlreadyResolved

	default:
		panic(fmt.Sprintf("unhandled session status %v", res.Status))
	}
}

// OnDeparted removes the user's session whatever its status. It reports
// whether a session existed.
func (s *verificationServiceImpl) OnDeparted(ctx context.Context, userID string) bool {
	sess, ok := s.store.Remove(userID)
	if !ok {
		return false
	}

	snap := sess.Snapshot()
	s.publish(ctx, eventFrom(EventDeparted, snap, s.clock.Now(), ""))
	s.logVerification(ctx, s.settings.Load(), "user departed", "user_id", userID, "status", snap.Status)
	return true
}

// Kick revokes the user's session, disconnects the user and removes the
// session. It reports ErrSessionNotFound when the session it looked up was
// replaced or removed before it could be taken out of the store.
func (s *verificationServiceImpl) Kick(ctx context.Context, userID, reason string) (*SessionInfo, error) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	now := s.clock.Now()
	// Only the session that was looked up is kicked. A reconnect that
	// replaced it in the meantime keeps its connection.
	if !s.store.RemoveIf(userID, sess) {
		s.logger.DebugContext(ctx, "kick lost race with a newer session", "user_id", userID)
		return nil, ErrSessionNotFound
	}
	revoked := sess.Revoke(now)
	snap := sess.Snapshot()

	if err := s.disconnect(ctx, userID, ReasonRevoked); err != nil {
		s.logger.WarnContext(ctx, "disconnect on kick failed", "user_id", userID, "error", err)
	}

	if revoked {
		s.metrics.RecordResolution(snap.Status.String())
		s.publish(ctx, eventFrom(EventRevoked, snap, now, reason))
	} else {
		s.publish(ctx, eventFrom(EventDeparted, snap, now, reason))
	}
	s.logger.InfoContext(ctx, "user kicked", "user_id", userID, "reason", reason, "status", snap.Status)

	return s.info(snap, s.settings.Load()), nil
}

// AddAction attaches a deferred action to a pending session
func (s *verificationServiceImpl) AddAction(ctx context.Context, userID string, action session.Action) error {
	sess, ok := s.store.Get(userID)
	if !ok {
		return ErrSessionNotFound
	}
	if action.Kind == "" {
		action.Kind = ActionCommand
	}
	return sess.AddAction(action)
}

// Query returns the user's session, if any
func (s *verificationServiceImpl) Query(ctx context.Context, userID string) (*SessionInfo, bool) {
	sess, ok := s.store.Get(userID)
	if !ok {
		return nil, false
	}
	return s.info(sess.Snapshot(), s.settings.Load()), true
}

// List returns every stored session, oldest first
func (s *verificationServiceImpl) List(ctx context.Context) []*SessionInfo {
	st := s.settings.Load()
	sessions := s.store.Snapshot()

	result := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, s.info(sess.Snapshot(), st))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].UserID < result[j].UserID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// PendingCount returns the number of users still verifying
func (s *verificationServiceImpl) PendingCount() int {
	return s.store.CountWhere(func(snap session.Snapshot) bool {
		return snap.Status == session.StatusPending
	})
}

// VerifiedCount returns the number of verified sessions still in the store
func (s *verificationServiceImpl) VerifiedCount() int {
	return s.store.CountWhere(func(snap session.Snapshot) bool {
		return snap.Status == session.StatusSuccess
	})
}

// Status summarizes configuration and session counts
func (s *verificationServiceImpl) Status(ctx context.Context) *StatusInfo {
	st := s.settings.Load()
	v := st.cfg.Verification

	info := &StatusInfo{
		Enabled:        st.err == nil && v.Enabled,
		TimeoutSeconds: int(st.timing.Timeout / time.Second),
		MaxAttempts:    v.MaxAttempts,
		SweepInterval:  s.sweeper.Interval().String(),
		SweeperRunning: s.sweeper.Running(),
	}
	if st.err != nil {
		info.ConfigError = st.err.Error()
	} else {
		info.PolicyKind = string(st.generator.Policy().Kind)
	}

	counts := s.countByStatus()
	for status, n := range counts {
		info.Sessions += n
		switch status {
		case session.StatusPending:
			info.Pending = n
		case session.StatusSuccess:
			info.Verified = n
		case session.StatusFailed:
			info.Failed = n
		case session.StatusTimedOut:
			info.TimedOut = n
		case session.StatusRevoked:
			info.Revoked = n
		}
	}
	return info
}

// Start runs the sweeper in the background
func (s *verificationServiceImpl) Start(ctx context.Context) {
	if s.closed.Load() {
		return
	}
	s.sweeper.Start(ctx)
}

// Shutdown stops the sweeper and clears the store. It is idempotent.
func (s *verificationServiceImpl) Shutdown(ctx context.Context) error {
	first := s.closed.CompareAndSwap(false, true)
	s.sweeper.Stop()
	n := s.store.Clear()
	if first {
		s.logger.InfoContext(ctx, "verification service stopped", "dropped_sessions", n)
	}
	return nil
}

func (s *verificationServiceImpl) sweepPolicy() sweeper.Policy {
	return s.settings.Load().timing
}

func (s *verificationServiceImpl) afterSweep(ctx context.Context, res sweeper.Result) {
	if s.metrics == nil {
		return
	}
	counts := make(map[string]int)
	for status, n := range s.countByStatus() {
		counts[status.String()] = n
	}
	s.metrics.SetSessions(counts)
}

func (s *verificationServiceImpl) countByStatus() map[session.Status]int {
	counts := make(map[session.Status]int)
	s.store.ForEach(func(sess *session.Session) bool {
		counts[sess.Status()]++
		return true
	})
	return counts
}

func (s *verificationServiceImpl) info(snap session.Snapshot, st *settings) *SessionInfo {
	info := &SessionInfo{
		Snapshot:  snap,
		ExpiresAt: snap.CreatedAt.Add(st.timing.Timeout),
	}
	if snap.Status == session.StatusPending {
		left := st.timing.Timeout - s.clock.Since(snap.CreatedAt)
		if left > 0 {
			info.RemainingSeconds = int((left + time.Second - 1) / time.Second)
		}
	}
	return info
}

func (s *verificationServiceImpl) runActions(ctx context.Context, userID string, actions []session.Action) {
	if len(actions) == 0 {
		return
	}
	if s.runner == nil {
		s.logger.WarnContext(ctx, "no action runner configured, actions dropped", "user_id", userID, "count", len(actions))
		return
	}
	for _, action := range actions {
		if err := s.runner.Run(ctx, userID, action); err != nil {
			s.metrics.RecordDeliveryFailure("action")
			s.logger.WarnContext(ctx, "action failed",
				"user_id", userID, "kind", action.Kind, "command", action.Command, "error", err)
		}
	}
}

func (s *verificationServiceImpl) notify(ctx context.Context, userID string, notice Notice) error {
	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.Notify(ctx, userID, notice); err != nil {
		s.metrics.RecordDeliveryFailure("notify")
		return err
	}
	return nil
}

func (s *verificationServiceImpl) disconnect(ctx context.Context, userID string, reason DisconnectReason) error {
	if s.disconnector == nil {
		return nil
	}
	if err := s.disconnector.Disconnect(ctx, userID, reason); err != nil {
		s.metrics.RecordDeliveryFailure("disconnect")
		return err
	}
	return nil
}

func (s *verificationServiceImpl) publish(ctx context.Context, event Event) {
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			s.metrics.RecordDeliveryFailure("event")
			s.logger.WarnContext(ctx, "event delivery failed", "type", event.Type, "user_id", event.UserID, "error", err)
		}
	}
}

// logVerification logs per-user lifecycle lines at info level when
// settings.log_verifications is on, and at debug level otherwise.
func (s *verificationServiceImpl) logVerification(ctx context.Context, st *settings, msg string, args ...any) {
	level := slog.LevelDebug
	if st != nil && st.cfg.Settings.LogVerifications {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, msg, args...)
}

func bypassReason(st *settings, userID string) (BypassReason, bool) {
	switch {
	case st.err != nil:
		return BypassConfigError, true
	case !st.cfg.Verification.Enabled:
		return BypassDisabled, true
	case st.cfg.Verification.IsBypassed(userID):
		return BypassListed, true
	}
	return "", false
}

func eventFrom(t EventType, snap session.Snapshot, at time.Time, reason string) Event {
	return Event{
		Type:      t,
		UserID:    snap.UserID,
		SessionID: snap.ID,
		Status:    snap.Status,
		Attempts:  snap.Attempts,
		Reason:    reason,
		At:        at,
	}
}

// sweepHandler adapts the service to sweeper.Handler
type sweepHandler struct {
	s *verificationServiceImpl
}

func (h sweepHandler) OnTimeout(ctx context.Context, snap session.Snapshot) error {
	s := h.s
	st := s.settings.Load()

	var errs []error
	notice := Notice{
		Kind:        NoticeTimeout,
		UserID:      snap.UserID,
		SessionID:   snap.ID,
		Attempts:    snap.Attempts,
		MaxAttempts: snap.MaxAttempts,
		Timeout:     st.timing.Timeout,
	}
	if err := s.notify(ctx, snap.UserID, notice); err != nil {
		errs = append(errs, fmt.Errorf("notify: %w", err))
	}
	if err := s.disconnect(ctx, snap.UserID, ReasonTimedOut); err != nil {
		errs = append(errs, fmt.Errorf("disconnect: %w", err))
	}

	s.publish(ctx, eventFrom(EventTimedOut, snap, s.clock.Now(), string(ReasonTimedOut)))
	s.metrics.RecordResolution(snap.Status.String())
	s.logVerification(ctx, st, "verification timed out", "user_id", snap.UserID, "session_id", snap.ID)
	return errors.Join(errs...)
}

func (h sweepHandler) OnEvict(ctx context.Context, snap session.Snapshot) {
	h.s.logger.DebugContext(ctx, "resolved session evicted",
		"user_id", snap.UserID, "session_id", snap.ID, "status", snap.Status)
}
