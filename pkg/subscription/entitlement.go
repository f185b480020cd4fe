package subscription

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/dmitrymomot/entitlements/pkg/catalog"
	"github.com/dmitrymomot/entitlements/pkg/quota"
)

func (s *service) AbilityFor(ctx context.Context, subscriber Subscriber, code string) (any, error) {
	def, ok := s.defaults.Features[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, code)
	}

	active, err := s.store.FindActive(ctx, subscriber, s.now())
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return def, nil
		}
		return nil, err
	}

	plan, err := s.plans.GetPlan(ctx, active.PlanID)
	if err != nil {
		return nil, err
	}

	feature := plan.FeatureByCode(code)
	if feature == nil {
		return def, nil
	}
	return feature.Value, nil
}

func (s *service) AbilitiesList(ctx context.Context, subscriber Subscriber) (map[string]any, error) {
	abilities := make(map[string]any, len(s.defaults.Features))
	maps.Copy(abilities, s.defaults.Features)

	active, err := s.store.FindActive(ctx, subscriber, s.now())
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return abilities, nil
		}
		return nil, err
	}

	plan, err := s.plans.GetPlan(ctx, active.PlanID)
	if err != nil {
		return nil, err
	}

	// Active plan values win; codes the plan does not define keep defaults.
	for _, feature := range plan.Features {
		abilities[feature.Code] = feature.Value
	}
	return abilities, nil
}

func (s *service) FreeTrialActive(ctx context.Context, subscriber Subscriber) (bool, error) {
	now := s.now()
	active, err := s.activeOrErr(ctx, subscriber, now)
	if err != nil {
		return false, err
	}

	plan, err := s.plans.GetPlan(ctx, active.PlanID)
	if err != nil {
		return false, err
	}

	// No trial gating configured: the check always passes.
	if plan.FreeDays == 0 {
		return true, nil
	}

	first := plan.FirstInterval()
	if first == nil || first.Price.IsZero() {
		return true, nil
	}

	return active.ElapsedDaysAt(now) <= plan.FreeDays, nil
}

func (s *service) ConsumeFeature(ctx context.Context, subscriber Subscriber, code string, qty int64) (bool, error) {
	active, err := s.activeOrErr(ctx, subscriber, s.now())
	if err != nil {
		return false, err
	}
	return s.ledger.Consume(ctx, active.ID, code, qty)
}

func (s *service) ConsumableBalance(ctx context.Context, subscriber Subscriber, code string) (*quota.Entry, error) {
	active, err := s.activeOrErr(ctx, subscriber, s.now())
	if err != nil {
		return nil, err
	}

	entry, err := s.ledger.Balance(ctx, active.ID, code)
	if err != nil {
		if errors.Is(err, quota.ErrEntryNotFound) {
			if def, ok := s.defaults.Consumables[code]; ok {
				return &quota.Entry{
					SubscriptionID: active.ID,
					Code:           code,
					Available:      def,
				}, nil
			}
		}
		return nil, err
	}
	return entry, nil
}

func (s *service) Consumables(ctx context.Context, subscriber Subscriber) ([]quota.Entry, error) {
	active, err := s.activeOrErr(ctx, subscriber, s.now())
	if err != nil {
		return nil, err
	}
	return s.ledger.Entries(ctx, active.ID)
}

func (s *service) PlanConsumables(ctx context.Context, subscriber Subscriber) ([]catalog.Feature, error) {
	active, err := s.activeOrErr(ctx, subscriber, s.now())
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.GetPlan(ctx, active.PlanID)
	if err != nil {
		return nil, err
	}
	return plan.Consumables(), nil
}
