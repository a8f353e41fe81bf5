package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an attempt id is unknown or has been evicted.
var ErrNotFound = errors.New("write attempt not found")

// Storage defines the interface for write attempt history.
type Storage interface {
	// Attempt lifecycle
	CreateAttempt(ctx context.Context, attempt *WriteAttempt) error
	UpdateAttempt(ctx context.Context, attempt *WriteAttempt) error
	GetAttempt(ctx context.Context, id string) (*WriteAttempt, error)

	// History queries
	ListAttempts(ctx context.Context, limit, offset int) (*PaginatedWriteAttempts, error)

	// Lifecycle
	Close() error
}
