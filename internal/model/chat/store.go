package chat

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by a Store when no session has the given id.
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict is returned by Save when the stored session changed
	// after it was read.
	ErrVersionConflict = errors.New("session modified concurrently")
)

// Store persists whole session aggregates.
type Store interface {
	// Get returns a private copy of the session.
	Get(ctx context.Context, id string) (*Session, error)
	// Insert stores a new session.
	Insert(ctx context.Context, session *Session) error
	// Save overwrites the stored session if its version still equals
	// session.Version, then increments session.Version.
	Save(ctx context.Context, session *Session) error
}
