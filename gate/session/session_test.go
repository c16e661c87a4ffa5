package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestSession(t *testing.T, code string, maxAttempts int, actions ...Action) *Session {
	t.Helper()
	sess, err := New("user-1", code, maxAttempts, t0, actions...)
	require.NoError(t, err)
	return sess
}

func TestNew(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		sess := newTestSession(t, "ABC123", 3)
		assert.NotEmpty(t, sess.ID())
		assert.Equal(t, "user-1", sess.UserID())
		assert.Equal(t, "ABC123", sess.Code())
		assert.Equal(t, 3, sess.MaxAttempts())
		assert.Equal(t, t0, sess.CreatedAt())
		assert.Equal(t, StatusPending, sess.Status())
		assert.Equal(t, 0, sess.Attempts())
	})

	t.Run("distinct ids per session", func(t *testing.T) {
		a := newTestSession(t, "A", 1)
		b := newTestSession(t, "A", 1)
		assert.NotEqual(t, a.ID(), b.ID())
	})

	t.Run("invalid arguments", func(t *testing.T) {
		_, err := New("", "A", 1, t0)
		assert.ErrorIs(t, err, ErrInvalidSession)
		_, err = New("u", "", 1, t0)
		assert.ErrorIs(t, err, ErrInvalidSession)
		_, err = New("u", "A", 0, t0)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})
}

func TestSession_SubmitSuccess(t *testing.T) {
	sess := newTestSession(t, "ABC123", 3)

	res := sess.Submit(" abc123 ", t0.Add(time.Second))
	assert.True(t, res.Changed)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, StatusSuccess, sess.Status())

	snap := sess.Snapshot()
	assert.Equal(t, t0.Add(time.Second), snap.ResolvedAt)
}

func TestSession_SubmitExhaustion(t *testing.T) {
	sess := newTestSession(t, "ABC123", 2)

	first := sess.Submit("nope", t0)
	assert.Equal(t, StatusPending, first.Status)
	assert.Equal(t, 1, first.Attempts)
	assert.Equal(t, 1, first.Remaining())

	second := sess.Submit("still-no", t0)
	assert.Equal(t, StatusFailed, second.Status)
	assert.Equal(t, 2, second.Attempts)
	assert.Equal(t, 0, second.Remaining())

	third := sess.Submit("ABC123", t0)
	assert.False(t, third.Changed)
	assert.Equal(t, StatusFailed, third.Status)
	assert.Equal(t, 2, third.Attempts)
	assert.Equal(t, 2, sess.Attempts())
}

func TestSession_AttemptsNeverExceedMax(t *testing.T) {
	for limit := 1; limit <= 5; limit++ {
		sess := newTestSession(t, "X", limit)
		for i := 0; i < limit*3; i++ {
			res := sess.Submit("wrong", t0)
			assert.LessOrEqual(t, res.Attempts, limit)
			if res.Attempts == limit {
				assert.Equal(t, StatusFailed, res.Status)
			} else {
				assert.Equal(t, StatusPending, res.Status)
			}
		}
		assert.Equal(t, limit, sess.Attempts())
	}
}

func TestSession_TerminalIsSticky(t *testing.T) {
	tests := []struct {
		name    string
		resolve func(*Session)
		want    Status
	}{
		{"success", func(s *Session) { s.Submit("ABC", t0) }, StatusSuccess},
		{"failed", func(s *Session) { s.Submit("x", t0) }, StatusFailed},
		{"timed out", func(s *Session) { s.Expire(t0.Add(time.Hour), time.Minute) }, StatusTimedOut},
		{"revoked", func(s *Session) { s.Revoke(t0) }, StatusRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newTestSession(t, "ABC", 1)
			tt.resolve(sess)
			require.Equal(t, tt.want, sess.Status())
			attempts := sess.Attempts()

			for _, input := range []string{"ABC", "abc", "zzz", ""} {
				res := sess.Submit(input, t0)
				assert.False(t, res.Changed)
				assert.Equal(t, tt.want, res.Status)
			}
			assert.False(t, sess.Expire(t0.Add(24*time.Hour), time.Second))
			assert.Equal(t, tt.want, sess.Status())
			assert.Equal(t, attempts, sess.Attempts())
		})
	}
}

func TestSession_Expire(t *testing.T) {
	timeout := 10 * time.Second

	sess := newTestSession(t, "ABC", 3)
	assert.False(t, sess.Expire(t0.Add(timeout), timeout), "exactly at the timeout is not yet expired")
	assert.Equal(t, StatusPending, sess.Status())

	assert.True(t, sess.Expire(t0.Add(timeout+time.Millisecond), timeout))
	assert.Equal(t, StatusTimedOut, sess.Status())
	assert.False(t, sess.Expire(t0.Add(time.Hour), timeout), "second expire is a no-op")
}

func TestSession_ExpireAfterLeavingStore(t *testing.T) {
	timeout := 10 * time.Second
	store := NewStore()

	removed := newTestSession(t, "ABC", 3)
	store.Create(removed)
	store.Remove(removed.UserID())
	assert.False(t, removed.Expire(t0.Add(time.Hour), timeout))
	assert.Equal(t, StatusPending, removed.Status())

	replaced := newTestSession(t, "ABC", 3)
	store.Create(replaced)
	store.Create(newTestSession(t, "DEF", 3))
	assert.False(t, replaced.Expire(t0.Add(time.Hour), timeout))
	assert.Equal(t, StatusPending, replaced.Status())
}

func TestSession_Revoke(t *testing.T) {
	t.Run("after failure", func(t *testing.T) {
		sess := newTestSession(t, "ABC", 1)
		sess.Submit("x", t0)
		assert.True(t, sess.Revoke(t0))
		assert.Equal(t, StatusRevoked, sess.Status())
		assert.False(t, sess.Revoke(t0))
	})

	t.Run("never after success", func(t *testing.T) {
		sess := newTestSession(t, "ABC", 1)
		sess.Submit("abc", t0)
		assert.False(t, sess.Revoke(t0))
		assert.Equal(t, StatusSuccess, sess.Status())
	})

	t.Run("pending", func(t *testing.T) {
		sess := newTestSession(t, "ABC", 1)
		assert.True(t, sess.Revoke(t0))
		assert.Equal(t, StatusRevoked, sess.Status())
	})
}

func TestSession_Actions(t *testing.T) {
	t.Run("released once on success", func(t *testing.T) {
		sess := newTestSession(t, "ABC", 3, Action{Kind: "command", Command: "give {player} bread"})
		require.NoError(t, sess.AddAction(Action{Kind: "command", Command: "say hi"}))
		assert.Equal(t, 2, sess.Snapshot().Actions)

		miss := sess.Submit("nope", t0)
		assert.Empty(t, miss.Actions)

		hit := sess.Submit("abc", t0)
		require.Len(t, hit.Actions, 2)
		assert.Equal(t, "give {player} bread", hit.Actions[0].Command)
		assert.Equal(t, "say hi", hit.Actions[1].Command)

		again := sess.Submit("abc", t0)
		assert.Empty(t, again.Actions)
		assert.ErrorIs(t, sess.AddAction(Action{Command: "late"}), ErrNotPending)
	})

	t.Run("dropped on failure", func(t *testing.T) {
		sess := newTestSession(t, "ABC", 1, Action{Command: "reward"})
		res := sess.Submit("x", t0)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Empty(t, res.Actions)
		assert.Equal(t, 0, sess.Snapshot().Actions)
	})
}

func TestSession_RemainingTime(t *testing.T) {
	sess := newTestSession(t, "ABC", 1)
	assert.Equal(t, 7*time.Second, sess.RemainingTime(t0.Add(3*time.Second), 10*time.Second))
	assert.Equal(t, time.Duration(0), sess.RemainingTime(t0.Add(time.Minute), 10*time.Second))
}

func TestSession_SnapshotJSON(t *testing.T) {
	sess := newTestSession(t, "SECRET", 3)
	sess.Submit("wrong", t0)

	data, err := json.Marshal(sess.Snapshot())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "pending", decoded["status"])
	assert.Equal(t, float64(2), decoded["remaining_attempts"])
	assert.NotContains(t, string(data), "SECRET")
}

func TestSession_ConcurrentSubmit(t *testing.T) {
	const limit = 5
	sess := newTestSession(t, "RIGHT", limit)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := "wrong"
			if i%10 == 0 {
				input = "right"
			}
			res := sess.Submit(input, t0)
			if res.Changed && res.Status == StatusSuccess {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, sess.Attempts(), limit)
	assert.LessOrEqual(t, successes, 1, "at most one submission performs the success transition")
	assert.True(t, sess.Status().IsTerminal())
}

func TestStatus(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusSuccess, StatusFailed, StatusTimedOut, StatusRevoked} {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	assert.False(t, StatusPending.IsTerminal())
	assert.True(t, StatusRevoked.IsTerminal())

	_, err := ParseStatus("bogus")
	assert.Error(t, err)

	var s Status
	require.NoError(t, s.UnmarshalText([]byte("kicked")))
	assert.Equal(t, StatusRevoked, s)
}
