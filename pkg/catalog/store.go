package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows ListPlans results. Nil fields are ignored.
type Filter struct {
	Group   *string
	Enabled *bool
	Default *bool
}

// Store is the persistence collaborator for the plan catalog. Implementations
// must make each operation individually atomic; SetDefaultPlan in particular
// must unset every other default in the group and set the new one inside a
// single transaction scope, so concurrent readers observe either the old or
// the new default, never zero.
type Store interface {
	CreatePlan(ctx context.Context, plan *Plan) error
	UpdatePlan(ctx context.Context, plan *Plan) error
	// DeletePlan removes the plan and cascades to its intervals and features.
	DeletePlan(ctx context.Context, planID uuid.UUID) error
	// GetPlan returns ErrPlanNotFound when no plan has the given ID.
	GetPlan(ctx context.Context, planID uuid.UUID) (*Plan, error)
	ListPlans(ctx context.Context, filter Filter) ([]Plan, error)
	// DefaultPlan returns the default plan of a group, or ErrPlanNotFound
	// when the group has none.
	DefaultPlan(ctx context.Context, group string) (*Plan, error)
	// SetDefaultPlan atomically makes planID the only default in group.
	SetDefaultPlan(ctx context.Context, planID uuid.UUID, group string) error

	// ReplaceIntervals swaps the plan's interval set in bulk.
	ReplaceIntervals(ctx context.Context, planID uuid.UUID, intervals []Interval) error
	AddInterval(ctx context.Context, planID uuid.UUID, interval *Interval) error
	UpdateInterval(ctx context.Context, interval *Interval) error

	AddFeatures(ctx context.Context, planID uuid.UUID, features []Feature) error
}
