package store

import "sync"

// SessionStore owns the single active Session. StartSession swaps in a fresh one
// atomically; holders of an older handle keep a detached object whose writes are
// never visible through the store again.
type SessionStore struct {
	mu         sync.RWMutex
	current    *Session
	generation uint64
	rankCutoff int
}

func NewSessionStore(rankCutoff int) *SessionStore {
	if rankCutoff < 0 {
		rankCutoff = 0
	}
	s := &SessionStore{rankCutoff: rankCutoff}
	s.current = newSession(0, rankCutoff)
	return s
}

// StartSession discards the current session and returns the new one.
func (s *SessionStore) StartSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	next := newSession(s.generation, s.rankCutoff)
	// The connection outlives sessions; carry it over.
	if s.current != nil {
		next.connection = s.current.ConnectionState()
	}
	s.current = next
	return next
}

func (s *SessionStore) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// IsCurrent reports whether sess has not been superseded.
func (s *SessionStore) IsCurrent(sess *Session) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sess != nil && s.current == sess
}

func (s *SessionStore) RankCutoff() int {
	return s.rankCutoff
}
