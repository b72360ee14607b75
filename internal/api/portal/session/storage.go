package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a session that should be updated does not exist (anymore)
var ErrNotFound = errors.New("session not found")

// Storage defines the session storage API
type Storage interface {
	// GetByRawToken retrieves a non-expired session by its raw (prior hashing) token.
	// Returns nil if no such session exists.
	GetByRawToken(ctx context.Context, rawToken string) (*Session, error)

	// Create creates a new empty session and returns its raw token
	Create(ctx context.Context, expires int64) (string, *Session, error)

	// Update replaces the stored state of an existing session
	Update(ctx context.Context, ses *Session) error

	// Terminate terminates a session by its (hashed) token
	Terminate(ctx context.Context, token string) error

	// TerminateExpired terminates all sessions that are expired
	TerminateExpired(ctx context.Context) (int, error)

	// Close releases the resources held by the storage
	Close()
}
