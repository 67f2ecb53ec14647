package api

import (
	"errors"
	"sync"

	"github.com/costcraft/mason/pkg/models"
)

// ErrSessionNotFound is returned when a session id has no state.
var ErrSessionNotFound = errors.New("session not found")

// Store keeps request state in memory per session. The pipeline core never
// touches it: the transport owns storage, the core only sees state objects.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.SharedState
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*models.SharedState)}
}

// Put saves (or replaces) a session's state.
func (s *Store) Put(state *models.SharedState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.SessionID] = state
}

// Get returns the state for a session.
func (s *Store) Get(sessionID string) (*models.SharedState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return state, nil
}

// Len reports the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
