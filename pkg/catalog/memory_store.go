package catalog

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// memStore is an in-memory Store used in tests and single-process setups.
// A single mutex covers every operation, which also makes SetDefaultPlan
// atomic with respect to concurrent readers.
type memStore struct {
	mu    sync.RWMutex
	plans map[uuid.UUID]*Plan
}

// NewMemoryStore returns an empty in-memory catalog store.
func NewMemoryStore() Store {
	return &memStore{plans: make(map[uuid.UUID]*Plan)}
}

func (s *memStore) CreatePlan(_ context.Context, plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plan.Default && s.defaultConflict(plan) {
		return ErrDefaultPlanExists
	}
	s.plans[plan.ID] = clonePlan(plan)
	return nil
}

func (s *memStore) UpdatePlan(_ context.Context, plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[plan.ID]; !ok {
		return ErrPlanNotFound
	}
	if plan.Default && s.defaultConflict(plan) {
		return ErrDefaultPlanExists
	}
	s.plans[plan.ID] = clonePlan(plan)
	return nil
}

// defaultConflict reports whether another plan already holds the default flag
// in the plan's group. Enforced under the store lock, mirroring the partial
// unique index the Postgres store relies on.
func (s *memStore) defaultConflict(plan *Plan) bool {
	for _, existing := range s.plans {
		if existing.ID != plan.ID && existing.Group == plan.Group && existing.Default {
			return true
		}
	}
	return false
}

func (s *memStore) DeletePlan(_ context.Context, planID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[planID]; !ok {
		return ErrPlanNotFound
	}
	delete(s.plans, planID)
	return nil
}

func (s *memStore) GetPlan(_ context.Context, planID uuid.UUID) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[planID]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return clonePlan(plan), nil
}

func (s *memStore) ListPlans(_ context.Context, filter Filter) ([]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Plan
	for _, plan := range s.plans {
		if filter.Group != nil && plan.Group != *filter.Group {
			continue
		}
		if filter.Enabled != nil && plan.Enabled != *filter.Enabled {
			continue
		}
		if filter.Default != nil && plan.Default != *filter.Default {
			continue
		}
		out = append(out, *clonePlan(plan))
	}
	return out, nil
}

func (s *memStore) DefaultPlan(_ context.Context, group string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, plan := range s.plans {
		if plan.Group == group && plan.Default {
			return clonePlan(plan), nil
		}
	}
	return nil, ErrPlanNotFound
}

func (s *memStore) SetDefaultPlan(_ context.Context, planID uuid.UUID, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.plans[planID]
	if !ok {
		return ErrPlanNotFound
	}
	for _, plan := range s.plans {
		if plan.Group == group {
			plan.Default = false
		}
	}
	target.Default = true
	return nil
}

func (s *memStore) ReplaceIntervals(_ context.Context, planID uuid.UUID, intervals []Interval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[planID]
	if !ok {
		return ErrPlanNotFound
	}
	plan.Intervals = cloneIntervals(intervals)
	return nil
}

func (s *memStore) AddInterval(_ context.Context, planID uuid.UUID, interval *Interval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[planID]
	if !ok {
		return ErrPlanNotFound
	}
	plan.Intervals = append(plan.Intervals, cloneInterval(*interval))
	return nil
}

func (s *memStore) UpdateInterval(_ context.Context, interval *Interval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[interval.PlanID]
	if !ok {
		return ErrPlanNotFound
	}
	for idx := range plan.Intervals {
		if plan.Intervals[idx].ID == interval.ID {
			plan.Intervals[idx] = cloneInterval(*interval)
			return nil
		}
	}
	return ErrIntervalNotFound
}

func (s *memStore) AddFeatures(_ context.Context, planID uuid.UUID, features []Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[planID]
	if !ok {
		return ErrPlanNotFound
	}
	plan.Features = append(plan.Features, slices.Clone(features)...)
	return nil
}

func clonePlan(p *Plan) *Plan {
	cp := *p
	cp.Intervals = cloneIntervals(p.Intervals)
	cp.Features = slices.Clone(p.Features)
	return &cp
}

func cloneIntervals(intervals []Interval) []Interval {
	if intervals == nil {
		return nil
	}
	out := make([]Interval, len(intervals))
	for idx, iv := range intervals {
		out[idx] = cloneInterval(iv)
	}
	return out
}

func cloneInterval(iv Interval) Interval {
	iv.Features = slices.Clone(iv.Features)
	return iv
}
