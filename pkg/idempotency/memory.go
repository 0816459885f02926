package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore keeps inbox entries in process memory
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*InboxEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory entry store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*InboxEntry), now: time.Now}
}

// Get returns a copy of the entry for key
func (s *MemoryStore) Get(_ context.Context, key string) (*InboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrEntryNotFound
	}
	copied := *e
	return &copied, nil
}

// Start creates the entry as STARTED or revives a RECOVERABLE one
func (s *MemoryStore) Start(_ context.Context, key, handlerName string, payload json.RawMessage, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok {
		if e.Status != StatusRecoverable {
			return ErrDuplicateMessage
		}
		e.Status = StatusStarted
		e.UpdatedAt = now
		return nil
	}

	s.entries[key] = &InboxEntry{
		IdempotencyKey: key,
		HandlerName:    handlerName,
		Status:         StatusStarted,
		Payload:        payload,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      &expiresAt,
	}
	return nil
}

// SetStatus updates the status and result of an entry
func (s *MemoryStore) SetStatus(_ context.Context, key string, status Status, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = status
	e.Result = result
	e.UpdatedAt = s.now()
	return nil
}

// Cleanup removes expired entries
func (s *MemoryStore) Cleanup(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	now := s.now()
	for key, e := range s.entries {
		if e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
			delete(s.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

// RecoverStaleEntries marks STARTED entries untouched for longer than timeout as RECOVERABLE
func (s *MemoryStore) RecoverStaleEntries(_ context.Context, timeout time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recovered int64
	cutoff := s.now().Add(-timeout)
	for _, e := range s.entries {
		if e.Status == StatusStarted && e.UpdatedAt.Before(cutoff) {
			e.Status = StatusRecoverable
			e.UpdatedAt = s.now()
			recovered++
		}
	}
	return recovered, nil
}
