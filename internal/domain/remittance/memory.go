package remittance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local runs
type MemoryStore struct {
	mu        sync.RWMutex
	events    map[string][]*Event
	documents map[string]*Document
	byKey     map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string][]*Event),
		documents: make(map[string]*Document),
		byKey:     make(map[string]string),
	}
}

// Save appends the aggregate's uncommitted events and pending document
func (s *MemoryStore) Save(_ context.Context, agg *Aggregate) error {
	changes := agg.Changes()
	if len(changes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if edi := agg.PendingDocument(); edi != "" {
		if key := agg.IdempotencyKey(); key != "" {
			if existing, ok := s.byKey[key]; ok && existing != agg.ID() {
				return fmt.Errorf("%w: %s used by %s", ErrDuplicateKey, key, existing)
			}
			s.byKey[key] = agg.ID()
		}
		s.documents[agg.ID()] = &Document{
			RemittanceID:             agg.ID(),
			Filename:                 agg.Filename(),
			InterchangeControlNumber: agg.InterchangeControlNumber(),
			IdempotencyKey:           agg.IdempotencyKey(),
			Content:                  edi,
			CreatedAt:                time.Now().UTC(),
		}
	}

	for i, event := range changes {
		event.Version = agg.Version() - len(changes) + i + 1
		s.events[agg.ID()] = append(s.events[agg.ID()], event)
	}

	agg.ClearChanges()
	return nil
}

// Load rebuilds an aggregate from its stored events
func (s *MemoryStore) Load(ctx context.Context, id string) (*Aggregate, error) {
	events, err := s.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	agg := NewAggregate(id)
	agg.LoadFromHistory(events)
	return agg, nil
}

// GetEvents returns a copy of the stored events for id
func (s *MemoryStore) GetEvents(_ context.Context, id string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Event(nil), s.events[id]...), nil
}

// GetDocument returns the archived document for id
func (s *MemoryStore) GetDocument(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	copied := *doc
	return &copied, nil
}

// FindByIdempotencyKey returns the remittance ID generated for key
func (s *MemoryStore) FindByIdempotencyKey(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// GetEventsByType returns the newest events of eventType across all remittances
func (s *MemoryStore) GetEventsByType(_ context.Context, eventType EventType, limit int) ([]*Event, error) {
	s.mu.RLock()
	var matched []*Event
	for _, events := range s.events {
		for _, e := range events {
			if e.EventType == eventType {
				matched = append(matched, e)
			}
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
