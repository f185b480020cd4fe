package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
)

// Service defines the public interface for managing the plan catalog.
type Service interface {
	// CreatePlan inserts a new plan. If the plan's group has no default yet,
	// the new plan becomes the default regardless of the requested flag.
	// Requesting the default flag when the group already has one fails with
	// ErrDefaultPlanExists; use SetDefault to move the flag.
	CreatePlan(ctx context.Context, params CreatePlanParams) (*Plan, error)

	// SetDefault makes plan the only default within its group.
	SetDefault(ctx context.Context, plan *Plan) error

	// ChangeToGroup reassigns the plan's group. If the target group has no
	// default, the plan becomes its default.
	ChangeToGroup(ctx context.Context, plan *Plan, group string) error

	// DeletePlan removes a plan and everything it owns. Fails with
	// ErrPlanHasSubscriptions while any subscription still references it.
	DeletePlan(ctx context.Context, plan *Plan) error

	// GetPlan returns ErrPlanNotFound when no plan has the given ID.
	GetPlan(ctx context.Context, planID uuid.UUID) (*Plan, error)

	// SetInterval replaces the sole interval of a single-interval plan,
	// creating it when none exists. Fails fast on multi-interval plans.
	SetInterval(ctx context.Context, plan *Plan, interval Interval) error

	// SetIntervals bulk-replaces the interval set of a multi-interval plan.
	SetIntervals(ctx context.Context, plan *Plan, intervals []Interval) error

	// AddInterval appends one interval to a multi-interval plan.
	AddInterval(ctx context.Context, plan *Plan, interval Interval) error

	// SetFree drops every interval from the plan, making it free.
	SetFree(ctx context.Context, plan *Plan) error

	// AddFeature attaches a feature to the plan. Codes are unique per plan.
	AddFeature(ctx context.Context, plan *Plan, feature Feature) error

	// AddFeatures attaches several features at once.
	AddFeatures(ctx context.Context, plan *Plan, features ...Feature) error

	// PlansInGroup lists a group's plans ordered by sort order.
	PlansInGroup(ctx context.Context, group string) ([]Plan, error)

	// EnabledPlansInGroup lists a group's enabled plans ordered by sort order.
	EnabledPlansInGroup(ctx context.Context, group string) ([]Plan, error)

	// DefaultPlanInGroup returns the group's default plan, or ErrPlanNotFound.
	DefaultPlanInGroup(ctx context.Context, group string) (*Plan, error)

	// AddPlansToGroup moves the given plans into group one by one.
	AddPlansToGroup(ctx context.Context, group string, plans ...*Plan) error
}

// CreatePlanParams carries the attributes of a new plan.
type CreatePlanParams struct {
	Name        string
	Description string
	FreeDays    int
	SortOrder   int
	Enabled     bool
	Default     bool
	Group       string
	Policy      IntervalPolicy
}

// SubscriptionChecker reports whether any subscription references the plan.
// The host wires this to its subscription repository so plan deletion can be
// cascade-restricted without the catalog depending on subscription storage.
type SubscriptionChecker func(ctx context.Context, planID uuid.UUID) (bool, error)

type service struct {
	store      Store
	subscribed SubscriptionChecker
	log        *slog.Logger
}

// ServiceOption configures a catalog Service instance.
type ServiceOption func(*service)

// WithSubscriptionChecker wires the subscription-existence check used by
// DeletePlan. Without it, deletion is never restricted.
func WithSubscriptionChecker(fn SubscriptionChecker) ServiceOption {
	return func(s *service) {
		if fn != nil {
			s.subscribed = fn
		}
	}
}

// WithLogger sets the structured logger used by the service.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates a catalog Service backed by the given store.
// Panics if store is nil to fail fast during initialization.
func NewService(store Store, opts ...ServiceOption) Service {
	if store == nil {
		panic("catalog: Store is required")
	}

	s := &service{
		store: store,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreatePlan(ctx context.Context, params CreatePlanParams) (*Plan, error) {
	if params.Policy == "" {
		params.Policy = SingleInterval
	}

	plan := &Plan{
		ID:          uuid.New(),
		Name:        params.Name,
		Description: params.Description,
		FreeDays:    params.FreeDays,
		SortOrder:   params.SortOrder,
		Enabled:     params.Enabled,
		Default:     params.Default,
		Group:       params.Group,
		Policy:      params.Policy,
	}

	// The first plan of a group is always the default, whatever was asked.
	exists, err := s.defaultExists(ctx, params.Group)
	if err != nil {
		return nil, err
	}
	if !exists {
		plan.Default = true
	}

	if err := s.store.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "plan created",
		slog.String("plan_id", plan.ID.String()),
		slog.String("group", plan.Group),
		slog.Bool("default", plan.Default))

	return plan, nil
}

func (s *service) SetDefault(ctx context.Context, plan *Plan) error {
	if err := s.store.SetDefaultPlan(ctx, plan.ID, plan.Group); err != nil {
		return err
	}
	plan.Default = true
	return nil
}

func (s *service) ChangeToGroup(ctx context.Context, plan *Plan, group string) error {
	// The moved plan is promoted when the target group has no default, and
	// demoted when another plan already holds the flag there.
	def, err := s.store.DefaultPlan(ctx, group)
	switch {
	case err == nil:
		plan.Default = def.ID == plan.ID
	case errors.Is(err, ErrPlanNotFound):
		plan.Default = true
	default:
		return err
	}

	plan.Group = group
	return s.store.UpdatePlan(ctx, plan)
}

func (s *service) DeletePlan(ctx context.Context, plan *Plan) error {
	if s.subscribed != nil {
		has, err := s.subscribed(ctx, plan.ID)
		if err != nil {
			return err
		}
		if has {
			return ErrPlanHasSubscriptions
		}
	}
	return s.store.DeletePlan(ctx, plan.ID)
}

func (s *service) GetPlan(ctx context.Context, planID uuid.UUID) (*Plan, error) {
	return s.store.GetPlan(ctx, planID)
}

func (s *service) SetInterval(ctx context.Context, plan *Plan, interval Interval) error {
	if plan.Policy != SingleInterval {
		return fmt.Errorf("%w: plan %s", ErrNotSingleInterval, plan.ID)
	}

	interval.PlanID = plan.ID

	if len(plan.Intervals) == 0 {
		if interval.ID == uuid.Nil {
			interval.ID = uuid.New()
		}
		if err := s.store.AddInterval(ctx, plan.ID, &interval); err != nil {
			return err
		}
		plan.Intervals = []Interval{interval}
		return nil
	}

	// Replace the existing interval's fields in place, keeping its identity.
	interval.ID = plan.Intervals[0].ID
	if err := s.store.UpdateInterval(ctx, &interval); err != nil {
		return err
	}
	plan.Intervals[0] = interval
	return nil
}

func (s *service) SetIntervals(ctx context.Context, plan *Plan, intervals []Interval) error {
	if plan.Policy != MultiInterval {
		return fmt.Errorf("%w: plan %s", ErrNotMultiInterval, plan.ID)
	}

	for idx := range intervals {
		intervals[idx].PlanID = plan.ID
		if intervals[idx].ID == uuid.Nil {
			intervals[idx].ID = uuid.New()
		}
	}

	if err := s.store.ReplaceIntervals(ctx, plan.ID, intervals); err != nil {
		return err
	}
	plan.Intervals = intervals
	return nil
}

func (s *service) AddInterval(ctx context.Context, plan *Plan, interval Interval) error {
	if plan.Policy != MultiInterval {
		return fmt.Errorf("%w: plan %s", ErrNotMultiInterval, plan.ID)
	}

	interval.PlanID = plan.ID
	if interval.ID == uuid.Nil {
		interval.ID = uuid.New()
	}

	if err := s.store.AddInterval(ctx, plan.ID, &interval); err != nil {
		return err
	}
	plan.Intervals = append(plan.Intervals, interval)
	return nil
}

func (s *service) SetFree(ctx context.Context, plan *Plan) error {
	if err := s.store.ReplaceIntervals(ctx, plan.ID, nil); err != nil {
		return err
	}
	plan.Intervals = nil
	return nil
}

func (s *service) AddFeature(ctx context.Context, plan *Plan, feature Feature) error {
	return s.AddFeatures(ctx, plan, feature)
}

func (s *service) AddFeatures(ctx context.Context, plan *Plan, features ...Feature) error {
	seen := make(map[string]struct{}, len(plan.Features)+len(features))
	for _, f := range plan.Features {
		seen[f.Code] = struct{}{}
	}
	for idx := range features {
		if _, dup := seen[features[idx].Code]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateFeatureCode, features[idx].Code)
		}
		seen[features[idx].Code] = struct{}{}
		if features[idx].ID == uuid.Nil {
			features[idx].ID = uuid.New()
		}
	}

	if err := s.store.AddFeatures(ctx, plan.ID, features); err != nil {
		return err
	}
	plan.Features = append(plan.Features, features...)
	return nil
}

func (s *service) PlansInGroup(ctx context.Context, group string) ([]Plan, error) {
	plans, err := s.store.ListPlans(ctx, Filter{Group: &group})
	if err != nil {
		return nil, err
	}
	sortBySortOrder(plans)
	return plans, nil
}

func (s *service) EnabledPlansInGroup(ctx context.Context, group string) ([]Plan, error) {
	enabled := true
	plans, err := s.store.ListPlans(ctx, Filter{Group: &group, Enabled: &enabled})
	if err != nil {
		return nil, err
	}
	sortBySortOrder(plans)
	return plans, nil
}

func (s *service) DefaultPlanInGroup(ctx context.Context, group string) (*Plan, error) {
	return s.store.DefaultPlan(ctx, group)
}

func (s *service) AddPlansToGroup(ctx context.Context, group string, plans ...*Plan) error {
	for _, plan := range plans {
		if err := s.ChangeToGroup(ctx, plan, group); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) defaultExists(ctx context.Context, group string) (bool, error) {
	_, err := s.store.DefaultPlan(ctx, group)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrPlanNotFound):
		return false, nil
	default:
		return false, err
	}
}

func sortBySortOrder(plans []Plan) {
	sort.SliceStable(plans, func(i, j int) bool {
		return plans[i].SortOrder < plans[j].SortOrder
	})
}
