package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/wricardo/verifygate/gate/metrics"
	"github.com/wricardo/verifygate/gate/session"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingHandler is a hand-written Handler that records what it saw
type recordingHandler struct {
	mu        sync.Mutex
	timeouts  []session.Snapshot
	evictions []session.Snapshot

	OnTimeoutFunc func(ctx context.Context, snap session.Snapshot) error
}

func (h *recordingHandler) OnTimeout(ctx context.Context, snap session.Snapshot) error {
	h.mu.Lock()
	h.timeouts = append(h.timeouts, snap)
	h.mu.Unlock()
	if h.OnTimeoutFunc != nil {
		return h.OnTimeoutFunc(ctx, snap)
	}
	return nil
}

func (h *recordingHandler) OnEvict(ctx context.Context, snap session.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evictions = append(h.evictions, snap)
}

func (h *recordingHandler) Timeouts() []session.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]session.Snapshot(nil), h.timeouts...)
}

func (h *recordingHandler) Evictions() []session.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]session.Snapshot(nil), h.evictions...)
}

func fixedPolicy(timeout, retention time.Duration) func() Policy {
	return func() Policy { return Policy{Timeout: timeout, Retention: retention} }
}

func addSession(t *testing.T, store *session.Store, userID string, createdAt time.Time) *session.Session {
	t.Helper()
	sess, err := session.New(userID, "CODE", 3, createdAt)
	require.NoError(t, err)
	store.Create(sess)
	return sess
}

func TestSweep_ExpiresAndRemovesPending(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := session.NewStore()
	handler := &recordingHandler{}
	sw := New(store, fc, Options{Policy: fixedPolicy(10*time.Second, time.Minute), Handler: handler})

	sess := addSession(t, store, "alice", fc.Now())

	fc.Step(10 * time.Second)
	res := sw.Sweep(context.Background())
	assert.Equal(t, 0, res.Expired, "exactly at the timeout is not expired")
	assert.Equal(t, 1, store.Len())

	fc.Step(time.Millisecond)
	res = sw.Sweep(context.Background())
	assert.Equal(t, Result{Scanned: 1, Expired: 1, Removed: 1}, res)
	assert.Equal(t, 0, store.Len())

	// Transitioned through TimedOut before removal.
	assert.Equal(t, session.StatusTimedOut, sess.Status())
	timeouts := handler.Timeouts()
	require.Len(t, timeouts, 1)
	assert.Equal(t, "alice", timeouts[0].UserID)
	assert.Equal(t, session.StatusTimedOut, timeouts[0].Status)
}

func TestSweep_TimeoutBound(t *testing.T) {
	const (
		timeout = 10 * time.Second
		cadence = time.Second
	)

	for _, offset := range []time.Duration{0, 1, 300 * time.Millisecond, 999 * time.Millisecond} {
		fc := testingclock.NewFakeClock(epoch)
		store := session.NewStore()
		sw := New(store, fc, Options{Interval: cadence, Policy: fixedPolicy(timeout, time.Minute)})

		// The session appears somewhere between two sweep ticks.
		fc.Step(offset)
		created := fc.Now()
		sess := addSession(t, store, "bob", created)

		var resolvedAt time.Time
		for tick := 1; tick <= 20; tick++ {
			fc.SetTime(epoch.Add(time.Duration(tick) * cadence))
			if sw.Sweep(context.Background()).Expired > 0 {
				resolvedAt = fc.Now()
				break
			}
			assert.Equal(t, session.StatusPending, sess.Status())
		}

		require.False(t, resolvedAt.IsZero(), "offset %v: never expired", offset)
		assert.True(t, resolvedAt.After(created.Add(timeout)), "offset %v: expired too early", offset)
		assert.False(t, resolvedAt.After(created.Add(timeout+cadence)), "offset %v: expired too late", offset)
	}
}

func TestSweep_EvictsTerminalAfterRetention(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := session.NewStore()
	handler := &recordingHandler{}
	sw := New(store, fc, Options{Policy: fixedPolicy(time.Hour, 30*time.Second), Handler: handler})

	verified := addSession(t, store, "carol", fc.Now())
	verified.Submit("code", fc.Now())
	addSession(t, store, "dave", fc.Now())

	fc.Step(29 * time.Second)
	res := sw.Sweep(context.Background())
	assert.Equal(t, 0, res.Removed, "still retained")

	fc.Step(time.Second)
	res = sw.Sweep(context.Background())
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, 0, res.Expired)

	_, ok := store.Get("carol")
	assert.False(t, ok)
	_, ok = store.Get("dave")
	assert.True(t, ok, "pending sessions are untouched before the timeout")

	evictions := handler.Evictions()
	require.Len(t, evictions, 1)
	assert.Equal(t, session.StatusSuccess, evictions[0].Status)
	assert.Empty(t, handler.Timeouts())
}

func TestSweep_ZeroRetentionEvictsImmediately(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := session.NewStore()
	sw := New(store, fc, Options{Policy: fixedPolicy(time.Hour, 0)})

	sess := addSession(t, store, "erin", fc.Now())
	for i := 0; i < 3; i++ {
		sess.Submit("wrong", fc.Now())
	}
	require.Equal(t, session.StatusFailed, sess.Status())

	res := sw.Sweep(context.Background())
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, 0, store.Len())
}

func TestSweep_HandlerFailureStillRemoves(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := session.NewStore()
	handler := &recordingHandler{
		OnTimeoutFunc: func(context.Context, session.Snapshot) error {
			return errors.New("user unreachable")
		},
	}
	sw := New(store, fc, Options{Policy: fixedPolicy(time.Second, time.Minute), Handler: handler})

	addSession(t, store, "frank", fc.Now())
	addSession(t, store, "grace", fc.Now())
	fc.Step(2 * time.Second)

	res := sw.Sweep(context.Background())
	assert.Equal(t, 2, res.Expired)
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, 0, store.Len())
	assert.Len(t, handler.Timeouts(), 2)
}

func TestSweep_DoesNotRemoveReplacement(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := session.NewStore()

	var fresh *session.Session
	handler := &recordingHandler{
		// The user reconnects while the timeout is being handled.
		OnTimeoutFunc: func(_ context.Context, snap session.Snapshot) error {
			var err error
			fresh, err = session.New(snap.UserID, "NEW", 3, fc.Now())
			if err == nil {
				store.Create(fresh)
			}
			return err
		},
	}
	sw := New(store, fc, Options{Policy: fixedPolicy(time.Second, time.Minute), Handler: handler})

	addSession(t, store, "heidi", fc.Now())
	fc.Step(2 * time.Second)

	res := sw.Sweep(context.Background())
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.Removed)

	got, ok := store.Get("heidi")
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.Equal(t, session.StatusPending, got.Status())
}

func TestSweep_HandlerMayRemove(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := session.NewStore()
	handler := &recordingHandler{
		OnTimeoutFunc: func(_ context.Context, snap session.Snapshot) error {
			store.Remove(snap.UserID)
			return nil
		},
	}
	sw := New(store, fc, Options{Policy: fixedPolicy(time.Second, time.Minute), Handler: handler})

	addSession(t, store, "ivan", fc.Now())
	fc.Step(2 * time.Second)

	res := sw.Sweep(context.Background())
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 0, store.Len())
	assert.Len(t, handler.Timeouts(), 1)
}

// hookClock runs hook on every Now call once armed
type hookClock struct {
	*testingclock.FakeClock

	mu   sync.Mutex
	hook func()
}

func (c *hookClock) arm(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = hook
}

func (c *hookClock) Now() time.Time {
	c.mu.Lock()
	hook := c.hook
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return c.FakeClock.Now()
}

func TestSweep_SkipsSessionReplacedDuringScan(t *testing.T) {
	clk := &hookClock{FakeClock: testingclock.NewFakeClock(epoch)}
	store := session.NewStore()
	handler := &recordingHandler{}
	sw := New(store, clk, Options{Policy: fixedPolicy(time.Second, time.Minute), Handler: handler})

	old := addSession(t, store, "liam", clk.Now())
	clk.Step(2 * time.Second)

	// The user reconnects after the store was snapshotted but before the
	// stale session is looked at.
	var fresh *session.Session
	calls := 0
	clk.arm(func() {
		calls++
		if calls == 2 {
			fresh = addSession(t, store, "liam", clk.FakeClock.Now())
		}
	})

	res := sw.Sweep(context.Background())
	clk.arm(nil)

	assert.Equal(t, 0, res.Expired)
	assert.Equal(t, 0, res.Removed)
	assert.Empty(t, handler.Timeouts())
	assert.Empty(t, handler.Evictions())
	assert.Equal(t, session.StatusPending, old.Status())

	got, ok := store.Get("liam")
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.Equal(t, session.StatusPending, got.Status())
}

func TestSweep_SkipsSessionRemovedDuringScan(t *testing.T) {
	clk := &hookClock{FakeClock: testingclock.NewFakeClock(epoch)}
	store := session.NewStore()
	handler := &recordingHandler{}
	sw := New(store, clk, Options{Policy: fixedPolicy(time.Second, time.Minute), Handler: handler})

	old := addSession(t, store, "mia", clk.Now())
	clk.Step(2 * time.Second)

	calls := 0
	clk.arm(func() {
		calls++
		if calls == 2 {
			store.Remove("mia")
		}
	})

	res := sw.Sweep(context.Background())
	clk.arm(nil)

	assert.Equal(t, Result{Scanned: 1}, res)
	assert.Empty(t, handler.Timeouts())
	assert.Equal(t, session.StatusPending, old.Status())
}

func TestSweep_RecordsMetrics(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := session.NewStore()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	sw := New(store, fc, Options{Policy: fixedPolicy(time.Second, 0), Metrics: m})

	addSession(t, store, "judy", fc.Now())
	fc.Step(2 * time.Second)
	sw.Sweep(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sweeps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Swept.WithLabelValues("timeout")))
}

func TestSweeper_BackgroundLoop(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := session.NewStore()
	sw := New(store, fc, Options{Interval: time.Second, Policy: fixedPolicy(5*time.Second, time.Minute)})

	addSession(t, store, "kate", fc.Now())

	sw.Start(context.Background())
	defer sw.Stop()
	assert.True(t, sw.Running())

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond, "ticker not registered")

	// Before the timeout nothing is swept.
	fc.Step(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, store.Len())

	assert.Eventually(t, func() bool {
		fc.Step(time.Second)
		return store.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeper_SetInterval(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := session.NewStore()
	sw := New(store, fc, Options{Policy: fixedPolicy(time.Second, time.Minute)})
	assert.Equal(t, DefaultInterval, sw.Interval())

	assert.ErrorIs(t, sw.SetInterval(0), ErrInvalidInterval)
	assert.ErrorIs(t, sw.SetInterval(-time.Second), ErrInvalidInterval)

	sw.Start(context.Background())
	defer sw.Stop()
	require.NoError(t, sw.SetInterval(5*time.Second))
	assert.Equal(t, 5*time.Second, sw.Interval())

	addSession(t, store, "leo", fc.Now())
	assert.Eventually(t, func() bool {
		fc.Step(5 * time.Second)
		return store.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeper_StartStopIdempotent(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	sw := New(session.NewStore(), fc, Options{})

	sw.Stop()
	sw.Start(context.Background())
	sw.Start(context.Background())
	assert.True(t, sw.Running())

	sw.Stop()
	sw.Stop()
	assert.False(t, sw.Running())

	// Restartable after a stop.
	sw.Start(context.Background())
	assert.True(t, sw.Running())
	sw.Stop()
}

func TestSweeper_ConcurrentWithStoreTraffic(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := session.NewStore()
	sw := New(store, fc, Options{Policy: fixedPolicy(0, 0)})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sess, err := session.New("user", "CODE", 3, epoch)
				if err != nil {
					return
				}
				store.Create(sess)
				sess.Submit("wrong", epoch)
				store.Remove("user")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			sw.Sweep(context.Background())
		}
	}()
	wg.Wait()

	assert.LessOrEqual(t, store.Len(), 1)
}
