package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of attempts kept before the oldest is evicted.
const DefaultCapacity = 100

// MemoryStorage is a bounded, process-local Storage. Nothing survives a restart.
type MemoryStorage struct {
	mu       sync.RWMutex
	attempts []WriteAttempt // oldest first
	index    map[string]int // id -> position in attempts
	capacity int
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates a store holding at most capacity attempts.
func NewMemoryStorage(capacity int) *MemoryStorage {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStorage{
		attempts: make([]WriteAttempt, 0, capacity),
		index:    make(map[string]int, capacity),
		capacity: capacity,
	}
}

// CreateAttempt stores a new attempt, assigning an id if it has none.
func (s *MemoryStorage) CreateAttempt(ctx context.Context, attempt *WriteAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.attempts) == s.capacity {
		evicted := s.attempts[0]
		delete(s.index, evicted.ID)
		s.attempts = append(s.attempts[:0], s.attempts[1:]...)
		for id, pos := range s.index {
			s.index[id] = pos - 1
		}
	}

	s.attempts = append(s.attempts, *attempt)
	s.index[attempt.ID] = len(s.attempts) - 1
	return nil
}

// UpdateAttempt replaces a stored attempt with the same id.
func (s *MemoryStorage) UpdateAttempt(ctx context.Context, attempt *WriteAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[attempt.ID]
	if !ok {
		return ErrNotFound
	}
	s.attempts[pos] = *attempt
	return nil
}

// GetAttempt returns a copy of the attempt with the given id.
func (s *MemoryStorage) GetAttempt(ctx context.Context, id string) (*WriteAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	a := s.attempts[pos]
	return &a, nil
}

// ListAttempts returns a page of attempts, newest first.
func (s *MemoryStorage) ListAttempts(ctx context.Context, limit, offset int) (*PaginatedWriteAttempts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.attempts)
	page := &PaginatedWriteAttempts{
		Attempts: []WriteAttempt{},
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}
	if offset < 0 || limit <= 0 || offset >= total {
		return page, nil
	}

	for i := total - 1 - offset; i >= 0 && len(page.Attempts) < limit; i-- {
		page.Attempts = append(page.Attempts, s.attempts[i])
	}
	return page, nil
}

// Close is a no-op; the store holds no external resources.
func (s *MemoryStorage) Close() error {
	return nil
}
