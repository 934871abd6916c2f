package session

import "sync"

// Store maps a conversation to its active codex session id.
// Last write wins; entries live for the process lifetime.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]string
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]string)}
}

// Get returns the session id bound to the conversation, if any.
func (s *Store) Get(chatID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessions[chatID]
	return id, ok
}

// Set binds a session id to the conversation, replacing any previous one.
func (s *Store) Set(chatID int64, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[chatID] = sessionID
}

// Len reports how many conversations hold a session.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
