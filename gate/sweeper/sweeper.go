package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/wricardo/verifygate/gate/logging"
	"github.com/wricardo/verifygate/gate/metrics"
	"github.com/wricardo/verifygate/gate/session"
)

// DefaultInterval is the sweep cadence used when none is configured
const DefaultInterval = time.Second

var ErrInvalidInterval = errors.New("sweep interval must be positive")

// Handler reacts to sessions the sweeper resolves or evicts. It is called
// without any store or session lock held.
type Handler interface {
	// OnTimeout is called after a pending session was moved to TimedOut and
	// removed from the store. It is not called when the user got a newer
	// session in the meantime. A returned error is logged.
	OnTimeout(ctx context.Context, snap session.Snapshot) error

	// OnEvict is called after an already terminal session was removed.
	OnEvict(ctx context.Context, snap session.Snapshot)
}

// Policy is the time budget applied on each run
type Policy struct {
	// Timeout is how long a session may stay pending
	Timeout time.Duration
	// Retention is how long a terminal session stays in the store
	Retention time.Duration
}

// Options configures a Sweeper
type Options struct {
	Interval time.Duration
	// Policy is read at the start of every run so reloaded settings apply
	// without restarting the sweeper.
	Policy  func() Policy
	Handler Handler
	// AfterSweep, when set, runs at the end of every pass
	AfterSweep func(ctx context.Context, res Result)
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Result summarizes one sweep
type Result struct {
	Scanned int
	Expired int
	Evicted int
	Removed int
}

// Sweeper periodically scans the store, expiring pending sessions older than
// the timeout and removing terminal sessions. There is no per-session timer:
// a session with timeout T and cadence C is expired at some point in
// (createdAt+T, createdAt+T+C].
type Sweeper struct {
	store   *session.Store
	clock   clock.WithTicker
	policy  func() Policy
	handler Handler
	after   func(context.Context, Result)
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	reset    chan struct{}
}

// New creates a stopped sweeper
func New(store *session.Store, clk clock.WithTicker, opts Options) *Sweeper {
	if clk == nil {
		clk = clock.RealClock{}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	policy := opts.Policy
	if policy == nil {
		policy = func() Policy { return Policy{Timeout: 5 * time.Minute} }
	}

	return &Sweeper{
		store:    store,
		clock:    clk,
		policy:   policy,
		handler:  opts.Handler,
		after:    opts.AfterSweep,
		logger:   logging.OrDiscard(opts.Logger).With("component", "sweeper"),
		metrics:  opts.Metrics,
		interval: interval,
		reset:    make(chan struct{}, 1),
	}
}

// Start launches the background loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop halts the background loop and waits for an in-flight run to finish.
// It is idempotent.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the background loop is active
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Interval returns the current cadence
func (s *Sweeper) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval changes the cadence; a running loop picks it up immediately
func (s *Sweeper) SetInterval(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	changed := s.interval != d
	s.interval = d
	s.mu.Unlock()

	if changed {
		select {
		case s.reset <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(s.Interval())
	defer func() { ticker.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reset:
			ticker.Stop()
			ticker = s.clock.NewTicker(s.Interval())
		case <-ticker.C():
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass over a snapshot of the store. It is safe to call
// concurrently with the background loop and with every store operation.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	start := s.clock.Now()
	policy := s.policy()
	var res Result

	for _, sess := range s.store.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		res.Scanned++
		now := s.clock.Now()

		if sess.Expire(now, policy.Timeout) {
			res.Expired++
			snap := sess.Snapshot()
			// A replacement that raced the expiry keeps the user; the
			// handler only hears about sessions this pass removed.
			if !s.store.RemoveIf(snap.UserID, sess) {
				continue
			}
			res.Removed++
			if s.handler != nil {
				if err := s.handler.OnTimeout(ctx, snap); err != nil {
					s.logger.Warn("timeout handling failed",
						"user_id", snap.UserID, "session_id", snap.ID, "error", err)
				}
			}
			continue
		}

		snap := sess.Snapshot()
		if !snap.Status.IsTerminal() || now.Sub(snap.ResolvedAt) < policy.Retention {
			continue
		}
		if s.store.RemoveIf(snap.UserID, sess) {
			res.Evicted++
			res.Removed++
			if s.handler != nil {
				s.handler.OnEvict(ctx, snap)
			}
		}
	}

	elapsed := s.clock.Since(start)
	s.metrics.RecordSweep(elapsed, res.Expired, res.Evicted)
	if res.Expired > 0 || res.Evicted > 0 {
		s.logger.Debug("sweep finished",
			"scanned", res.Scanned, "expired", res.Expired, "evicted", res.Evicted, "removed", res.Removed)
	}
	if s.after != nil {
		s.after(ctx, res)
	}
	return res
}
