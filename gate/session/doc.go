// Package session holds per-user verification state for the gate.
//
// The session package implements:
//   - The verification state machine (pending → success/failed/timed_out/revoked)
//   - Attempt accounting against a ceiling fixed at creation
//   - Deferred actions released exactly once on success
//   - A thread-safe store keyed by user id
//
// Core Types:
//
// Session is one user's verification attempt. Every mutation happens under
// the session's own mutex. Store maps user ids to sessions and keeps at most
// one session per user: Create overwrites, and the replaced session is
// detached so late submissions against it are reported as nothing pending.
//
// State Machine:
//
//	Submit(match)                 pending → success
//	Submit(miss), attempts == max pending → failed
//	Expire(elapsed > timeout)     pending → timed_out
//	Revoke()                      pending|failed|timed_out → revoked
//
// Once a session leaves pending it never returns. Submit on a resolved session
// is a no-op that reports the current status and leaves attempts untouched.
//
// Concurrency:
//
// Operations for different users proceed in parallel. Operations on the same
// user are serialized by the session mutex, and removal or replacement takes
// that same mutex to detach the session. The store never calls out while
// holding its lock; iteration works over a snapshot.
//
// Usage:
//
//	store := session.NewStore()
//
//	sess, err := session.New("user-42", "K7Q2", 3, time.Now())
//	if err != nil {
//		log.Fatal(err)
//	}
//	store.Create(sess)
//
//	res := sess.Submit(" k7q2 ", time.Now())
//	// res.Status == session.StatusSuccess
package session
