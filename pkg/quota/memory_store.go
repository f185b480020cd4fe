package quota

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type entryKey struct {
	subscriptionID uuid.UUID
	code           string
}

// memStore is an in-memory Store. Consume runs under the write lock, which
// makes the balance check and the decrement a single atomic step.
type memStore struct {
	mu      sync.RWMutex
	entries map[entryKey]*Entry
}

// NewMemoryStore returns an empty in-memory quota store.
func NewMemoryStore() Store {
	return &memStore{entries: make(map[entryKey]*Entry)}
}

func (s *memStore) Create(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey{entry.SubscriptionID, entry.Code}
	if _, exists := s.entries[key]; exists {
		return ErrEntryExists
	}
	cp := *entry
	s.entries[key] = &cp
	return nil
}

func (s *memStore) Get(_ context.Context, subscriptionID uuid.UUID, code string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[entryKey{subscriptionID, code}]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *entry
	return &cp, nil
}

func (s *memStore) List(_ context.Context, subscriptionID uuid.UUID) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for key, entry := range s.entries {
		if key.subscriptionID == subscriptionID {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func (s *memStore) Consume(_ context.Context, subscriptionID uuid.UUID, code string, qty int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryKey{subscriptionID, code}]
	if !ok {
		return false, nil
	}
	if qty > entry.Available {
		return false, nil
	}
	entry.Available -= qty
	entry.Used += qty
	return true, nil
}
