// Package memory provides an in-process session store, suitable for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
)

// Store keeps sessions in a map guarded by an RWMutex.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*chat.Session
}

// NewStore bootstraps an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*chat.Session)}
}

// Get retrieves a copy of the session.
func (s *Store) Get(_ context.Context, id string) (*chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return session.Clone(), nil
}

// Insert stores a new session with version 1.
func (s *Store) Insert(_ context.Context, session *chat.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("insert session: id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("insert session %s: already exists", session.ID)
	}
	session.Version = 1
	s.sessions[session.ID] = session.Clone()
	return nil
}

// Save overwrites the stored aggregate when versions match.
func (s *Store) Save(_ context.Context, session *chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[session.ID]
	if !ok {
		return chat.ErrNotFound
	}
	if current.Version != session.Version {
		return chat.ErrVersionConflict
	}

	session.Version++
	s.sessions[session.ID] = session.Clone()
	return nil
}
