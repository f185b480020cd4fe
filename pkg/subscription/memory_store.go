package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store. The single mutex makes Create's cap check
// and insert one atomic step, mirroring what the Postgres store does with a
// transaction.
type memStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

// NewMemoryStore returns an empty in-memory subscription store.
func NewMemoryStore() Store {
	return &memStore{subs: make(map[uuid.UUID]*Subscription)}
}

func (s *memStore) Create(_ context.Context, sub *Subscription, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unfinished := 0
	for _, existing := range s.subs {
		if existing.Subscriber == sub.Subscriber && existing.IsUnfinishedAt(now) {
			unfinished++
		}
	}
	if unfinished >= MaxUnfinished {
		return ErrTooManyUnfinished
	}

	cp := cloneSubscription(sub)
	s.subs[sub.ID] = cp
	return nil
}

func (s *memStore) Update(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	s.subs[sub.ID] = cloneSubscription(sub)
	return nil
}

func (s *memStore) FindActive(_ context.Context, subscriber Subscriber, now time.Time) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Subscription
	for _, sub := range s.subs {
		if sub.Subscriber != subscriber || !sub.IsCurrentAt(now) {
			continue
		}
		if latest == nil || sub.StartAt.After(latest.StartAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(latest), nil
}

func (s *memStore) CountUnfinished(_ context.Context, subscriber Subscriber, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sub := range s.subs {
		if sub.Subscriber == subscriber && sub.IsUnfinishedAt(now) {
			count++
		}
	}
	return count, nil
}

func (s *memStore) CountForPlan(_ context.Context, planID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, sub := range s.subs {
		if sub.PlanID == planID {
			count++
		}
	}
	return count, nil
}

func cloneSubscription(sub *Subscription) *Subscription {
	cp := *sub
	if sub.EndAt != nil {
		end := *sub.EndAt
		cp.EndAt = &end
	}
	if sub.CancelledAt != nil {
		cancelled := *sub.CancelledAt
		cp.CancelledAt = &cancelled
	}
	return &cp
}
