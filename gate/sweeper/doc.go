// Package sweeper implements the periodic timeout pass over the session store.
//
// The sweeper is the only timeout mechanism: no per-session timer exists.
// Each run works on a snapshot of the store:
//
//  1. A pending session whose age exceeds the timeout is expired, handed to
//     Handler.OnTimeout, then removed if it is still the user's current session.
//  2. A session already terminal for at least the retention period is removed
//     and reported through Handler.OnEvict.
//
// Timing Bound:
//
// With timeout T and cadence C, a session created at t0 becomes TimedOut at
// some t with t0+T < t <= t0+T+C. Tests drive the sweeper with the fake clock
// from k8s.io/utils/clock/testing to check this bound.
//
// Usage:
//
//	sw := sweeper.New(store, clock.RealClock{}, sweeper.Options{
//		Interval: time.Second,
//		Policy:   func() sweeper.Policy { return sweeper.Policy{Timeout: 5 * time.Minute} },
//		Handler:  handler,
//	})
//	sw.Start(ctx)
//	defer sw.Stop()
package sweeper
