package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/entitlements/pkg/catalog"
	"github.com/dmitrymomot/entitlements/pkg/quota"
)

// Service defines the public interface for the subscription lifecycle and
// entitlement resolution.
type Service interface {
	// SubscribeToPlan subscribes to a single-interval plan. The new window
	// starts now, or at the current subscription's scheduled end when one is
	// active (back-to-back scheduling). Free plans produce a perpetual
	// subscription.
	SubscribeToPlan(ctx context.Context, subscriber Subscriber, plan *catalog.Plan) (*Subscription, error)

	// SubscribeToInterval subscribes through a specific billing interval of
	// its plan. The expiration is always computed from the interval.
	SubscribeToInterval(ctx context.Context, subscriber Subscriber, interval catalog.Interval) (*Subscription, error)

	// ChangePlanTo moves the subscriber to another plan. A strictly higher
	// target price upgrades: the current subscription ends immediately and
	// the new one starts now. An equal or lower price downgrades: the new
	// subscription is scheduled after the current paid period elapses.
	ChangePlanTo(ctx context.Context, subscriber Subscriber, plan *catalog.Plan, interval *catalog.Interval) (*Subscription, error)

	// UpgradeTo force-ends the active subscription and subscribes to the
	// given interval starting now.
	UpgradeTo(ctx context.Context, subscriber Subscriber, interval catalog.Interval) (*Subscription, error)

	// RenewSubscription extends the active subscription by one billing
	// period counted from its scheduled end, so renewing early never loses
	// remaining paid time.
	RenewSubscription(ctx context.Context, subscriber Subscriber, interval *catalog.Interval) (*Subscription, error)

	// Unsubscribe marks the active subscription cancelled but keeps the
	// scheduled end: entitlement lasts until the already-paid period lapses.
	Unsubscribe(ctx context.Context, subscriber Subscriber) error

	// ForceUnsubscribe ends the active subscription immediately with no
	// replacement. Required before re-subscribing on top of a perpetual
	// subscription, which has no natural expiry to supersede it.
	ForceUnsubscribe(ctx context.Context, subscriber Subscriber) error

	// GetActiveSubscription returns the subscription whose window covers
	// now, or ErrSubscriptionNotFound.
	GetActiveSubscription(ctx context.Context, subscriber Subscriber) (*Subscription, error)

	// HasActiveSubscription reports whether a current subscription exists.
	// Returns false on any store error.
	HasActiveSubscription(ctx context.Context, subscriber Subscriber) bool

	// AbilityFor resolves the value of a feature code for the subscriber:
	// the active plan's value when the plan defines the code, the configured
	// default otherwise. Unknown codes fail with ErrUnknownFeature.
	AbilityFor(ctx context.Context, subscriber Subscriber, code string) (any, error)

	// AbilitiesList resolves every configured feature code, overlaying the
	// active plan's values on top of the defaults.
	AbilitiesList(ctx context.Context, subscriber Subscriber) (map[string]any, error)

	// FreeTrialActive reports whether the subscriber is inside the active
	// plan's free-trial window.
	FreeTrialActive(ctx context.Context, subscriber Subscriber) (bool, error)

	// ConsumeFeature withdraws qty from the active subscription's quota for
	// the feature code. Returns false with a nil error when the balance is
	// insufficient or no ledger entry exists.
	ConsumeFeature(ctx context.Context, subscriber Subscriber, code string, qty int64) (bool, error)

	// ConsumableBalance returns the ledger entry for the active subscription
	// and code, falling back to the configured consumable default for
	// subscribers without an entry.
	ConsumableBalance(ctx context.Context, subscriber Subscriber, code string) (*quota.Entry, error)

	// Consumables lists the active subscription's quota entries.
	Consumables(ctx context.Context, subscriber Subscriber) ([]quota.Entry, error)

	// PlanConsumables lists the consumable templates on the active plan.
	PlanConsumables(ctx context.Context, subscriber Subscriber) ([]catalog.Feature, error)
}

// PlanSource resolves plans by ID. Both catalog.Service and catalog.Store
// satisfy it.
type PlanSource interface {
	GetPlan(ctx context.Context, planID uuid.UUID) (*catalog.Plan, error)
}

type service struct {
	store    Store
	plans    PlanSource
	ledger   *quota.Ledger
	defaults Defaults
	now      func() time.Time
	log      *slog.Logger
}

// ServiceOption configures a subscription Service instance.
type ServiceOption func(*service)

// WithClock injects the time source used by every date-dependent operation.
// Production uses the default UTC wall clock; tests pin a fixed instant.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaults sets the system-wide default ability values and consumable
// quantities used when no plan overrides a code.
func WithDefaults(defaults Defaults) ServiceOption {
	return func(s *service) {
		s.defaults = defaults
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

// NewService creates a subscription Service.
// Panics if required dependencies are nil to fail fast during initialization.
func NewService(store Store, plans PlanSource, ledger *quota.Ledger, opts ...ServiceOption) Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if plans == nil {
		panic("subscription: PlanSource is required")
	}
	if ledger == nil {
		panic("subscription: quota Ledger is required")
	}

	s := &service{
		store:  store,
		plans:  plans,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) SubscribeToPlan(ctx context.Context, subscriber Subscriber, plan *catalog.Plan) (*Subscription, error) {
	if plan.IsDisabled() {
		return nil, ErrPlanDisabled
	}
	if plan.Policy == catalog.MultiInterval {
		return nil, fmt.Errorf("%w: use SubscribeToInterval", ErrIntervalRequired)
	}

	now := s.now()
	if err := s.checkUnfinished(ctx, subscriber, now); err != nil {
		return nil, err
	}

	startAt, err := s.nextStart(ctx, subscriber, now)
	if err != nil {
		return nil, err
	}

	var endAt *time.Time
	if !plan.IsFree() {
		end, err := catalog.ExpireAt(startAt, *plan.FirstInterval())
		if err != nil {
			return nil, err
		}
		endAt = &end
	}

	sub := &Subscription{
		ID:         uuid.New(),
		PlanID:     plan.ID,
		Subscriber: subscriber,
		StartAt:    startAt,
		EndAt:      endAt,
	}
	if err := s.store.Create(ctx, sub, now); err != nil {
		return nil, err
	}

	if err := s.seedConsumables(ctx, sub.ID, plan.Consumables()); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscribed to plan",
		slog.String("subscriber", subscriber.ID.String()),
		slog.String("plan_id", plan.ID.String()),
		slog.Bool("perpetual", endAt == nil))

	return sub, nil
}

func (s *service) SubscribeToInterval(ctx context.Context, subscriber Subscriber, interval catalog.Interval) (*Subscription, error) {
	plan, err := s.plans.GetPlan(ctx, interval.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.IsDisabled() {
		return nil, ErrPlanDisabled
	}

	now := s.now()
	if err := s.checkUnfinished(ctx, subscriber, now); err != nil {
		return nil, err
	}

	startAt, err := s.nextStart(ctx, subscriber, now)
	if err != nil {
		return nil, err
	}

	// Subscribing through an interval is never free-by-omission: the window
	// always ends one billing period after it starts.
	end, err := catalog.ExpireAt(startAt, interval)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:         uuid.New(),
		PlanID:     plan.ID,
		Subscriber: subscriber,
		StartAt:    startAt,
		EndAt:      &end,
	}
	if err := s.store.Create(ctx, sub, now); err != nil {
		return nil, err
	}

	if err := s.seedConsumables(ctx, sub.ID, mergeConsumables(plan, interval)); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscribed to interval",
		slog.String("subscriber", subscriber.ID.String()),
		slog.String("plan_id", plan.ID.String()),
		slog.String("interval_id", interval.ID.String()))

	return sub, nil
}

func (s *service) ChangePlanTo(ctx context.Context, subscriber Subscriber, plan *catalog.Plan, interval *catalog.Interval) (*Subscription, error) {
	now := s.now()

	active, err := s.activeOrErr(ctx, subscriber, now)
	if err != nil {
		return nil, err
	}
	if plan.Policy == catalog.MultiInterval && interval == nil {
		return nil, ErrIntervalRequired
	}
	if err := s.checkUnfinished(ctx, subscriber, now); err != nil {
		return nil, err
	}
	if active.PlanID == plan.ID {
		return nil, ErrSamePlan
	}

	currentPlan, err := s.plans.GetPlan(ctx, active.PlanID)
	if err != nil {
		return nil, err
	}
	currentPrice := decimal.Zero
	if !currentPlan.IsFree() {
		currentPrice = currentPlan.FirstInterval().Price
	}

	target := interval
	if target == nil {
		target = plan.FirstInterval()
	}

	if target != nil && target.Price.GreaterThan(currentPrice) {
		return s.UpgradeTo(ctx, subscriber, *target)
	}

	// Downgrade: both rows coexist until the current paid period elapses.
	if target == nil {
		return s.SubscribeToPlan(ctx, subscriber, plan)
	}
	return s.SubscribeToInterval(ctx, subscriber, *target)
}

func (s *service) UpgradeTo(ctx context.Context, subscriber Subscriber, interval catalog.Interval) (*Subscription, error) {
	if _, err := s.activeOrErr(ctx, subscriber, s.now()); err != nil {
		return nil, err
	}
	if err := s.ForceUnsubscribe(ctx, subscriber); err != nil {
		return nil, err
	}
	return s.SubscribeToInterval(ctx, subscriber, interval)
}

func (s *service) RenewSubscription(ctx context.Context, subscriber Subscriber, interval *catalog.Interval) (*Subscription, error) {
	now := s.now()
	if err := s.checkUnfinished(ctx, subscriber, now); err != nil {
		return nil, err
	}

	active, err := s.activeOrErr(ctx, subscriber, now)
	if err != nil {
		return nil, err
	}
	if active.EndAt == nil {
		return nil, ErrPerpetualSubscription
	}

	if interval == nil {
		plan, err := s.plans.GetPlan(ctx, active.PlanID)
		if err != nil {
			return nil, err
		}
		if plan.Policy == catalog.MultiInterval {
			return nil, fmt.Errorf("%w: renewing a multi-interval plan", ErrIntervalRequired)
		}
		first := plan.FirstInterval()
		if first == nil {
			return nil, fmt.Errorf("%w: plan has no interval to renew with", ErrIntervalRequired)
		}
		interval = first
	}

	// Extend from the scheduled end, not from now: renewing early must not
	// lose remaining paid time.
	newEnd, err := catalog.ExpireAt(*active.EndAt, *interval)
	if err != nil {
		return nil, err
	}
	active.EndAt = &newEnd

	if err := s.store.Update(ctx, active); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription renewed",
		slog.String("subscriber", subscriber.ID.String()),
		slog.Time("end_at", newEnd))

	return active, nil
}

func (s *service) Unsubscribe(ctx context.Context, subscriber Subscriber) error {
	now := s.now()
	active, err := s.store.FindActive(ctx, subscriber, now)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil
		}
		return err
	}
	// Already cancelled: keep the first cancellation timestamp.
	if active.CancelledAt != nil {
		return nil
	}

	active.CancelledAt = &now
	return s.store.Update(ctx, active)
}

func (s *service) ForceUnsubscribe(ctx context.Context, subscriber Subscriber) error {
	now := s.now()
	active, err := s.store.FindActive(ctx, subscriber, now)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil
		}
		return err
	}

	end := now.Add(-time.Second)
	active.EndAt = &end
	active.CancelledAt = &now

	if err := s.store.Update(ctx, active); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "subscription force-ended",
		slog.String("subscriber", subscriber.ID.String()),
		slog.String("subscription_id", active.ID.String()))

	return nil
}

func (s *service) GetActiveSubscription(ctx context.Context, subscriber Subscriber) (*Subscription, error) {
	return s.store.FindActive(ctx, subscriber, s.now())
}

func (s *service) HasActiveSubscription(ctx context.Context, subscriber Subscriber) bool {
	_, err := s.store.FindActive(ctx, subscriber, s.now())
	return err == nil
}

// checkUnfinished guards against runaway subscription chains during rapid
// transitions. The store's Create re-checks atomically as a backstop.
func (s *service) checkUnfinished(ctx context.Context, subscriber Subscriber, now time.Time) error {
	count, err := s.store.CountUnfinished(ctx, subscriber, now)
	if err != nil {
		return err
	}
	if count >= MaxUnfinished {
		return ErrTooManyUnfinished
	}
	return nil
}

// nextStart schedules a new window: now when nothing is active, otherwise
// back-to-back after the current subscription's scheduled end.
func (s *service) nextStart(ctx context.Context, subscriber Subscriber, now time.Time) (time.Time, error) {
	active, err := s.store.FindActive(ctx, subscriber, now)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return now, nil
		}
		return time.Time{}, err
	}
	if active.EndAt == nil {
		return time.Time{}, ErrPerpetualSubscription
	}
	return *active.EndAt, nil
}

func (s *service) activeOrErr(ctx context.Context, subscriber Subscriber, now time.Time) (*Subscription, error) {
	active, err := s.store.FindActive(ctx, subscriber, now)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}
	return active, nil
}

func (s *service) seedConsumables(ctx context.Context, subscriptionID uuid.UUID, features []catalog.Feature) error {
	for _, feature := range features {
		qty, ok := feature.Quantity()
		if !ok {
			s.log.WarnContext(ctx, "consumable feature value is not a whole number, skipping",
				slog.String("code", feature.Code))
			continue
		}
		if _, err := s.ledger.Seed(ctx, subscriptionID, feature.Code, qty); err != nil {
			return err
		}
	}
	return nil
}

// mergeConsumables combines plan-level and interval-level consumable
// templates; interval-level codes take precedence.
func mergeConsumables(plan *catalog.Plan, interval catalog.Interval) []catalog.Feature {
	byCode := make(map[string]int, len(plan.Features))
	var out []catalog.Feature

	for _, feature := range plan.Consumables() {
		byCode[feature.Code] = len(out)
		out = append(out, feature)
	}
	for _, feature := range interval.Features {
		if !feature.Consumable {
			continue
		}
		if idx, exists := byCode[feature.Code]; exists {
			out[idx] = feature
			continue
		}
		byCode[feature.Code] = len(out)
		out = append(out, feature)
	}
	return out
}
