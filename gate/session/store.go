package session

import (
	"sync"
)

// Store maps user ids to their current session. It is the only authority on
// who is under verification. The map is guarded by mu; each session guards its
// own state, so unrelated users never wait on each other beyond a map access.
//
// Lock order is store then session. Callbacks passed to ForEach and CountWhere
// run without the store lock held.
type Store struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// Create stores sess for its user, replacing any existing entry. The replaced
// session, if any, is detached and returned.
func (s *Store) Create(sess *Session) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.sessions[sess.userID]
	s.sessions[sess.userID] = sess
	if old != nil && old != sess {
		old.detach()
		return old
	}
	return nil
}

// Get returns the current session for userID
func (s *Store) Get(userID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	return sess, ok
}

// Remove deletes the session for userID and returns it
func (s *Store) Remove(userID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	delete(s.sessions, userID)
	sess.detach()
	return sess, true
}

// RemoveIf deletes the entry for userID only while it still points at sess.
// A session created for the same user in the meantime is left alone.
func (s *Store) RemoveIf(userID string, sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.sessions[userID]; !ok || current != sess {
		return false
	}
	delete(s.sessions, userID)
	sess.detach()
	return true
}

// Snapshot returns the sessions present at the time of the call
func (s *Store) Snapshot() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess)
	}
	return result
}

// ForEach calls fn for every session present when the call started, stopping
// early when fn returns false. Sessions removed concurrently may still be
// visited; check Detached when it matters.
func (s *Store) ForEach(fn func(*Session) bool) {
	for _, sess := range s.Snapshot() {
		if !fn(sess) {
			return
		}
	}
}

// CountWhere counts sessions whose snapshot satisfies pred
func (s *Store) CountWhere(pred func(Snapshot) bool) int {
	count := 0
	s.ForEach(func(sess *Session) bool {
		if pred(sess.Snapshot()) {
			count++
		}
		return true
	})
	return count
}

// Len returns the number of stored sessions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Clear removes every session and returns how many were dropped
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.sessions)
	for id, sess := range s.sessions {
		sess.detach()
		delete(s.sessions, id)
	}
	return n
}
