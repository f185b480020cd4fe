package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/catalog"
	"github.com/dmitrymomot/entitlements/pkg/quota"
)

// fixture wires a subscription service to in-memory collaborators with a
// controllable clock. Each test owns its fixture, so advancing the clock is
// race-free.
type fixture struct {
	t      *testing.T
	now    time.Time
	plans  catalog.Service
	store  Store
	ledger *quota.Ledger
	svc    Service
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()

	f := &fixture{
		t:      t,
		now:    time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC),
		plans:  catalog.NewService(catalog.NewMemoryStore()),
		store:  NewMemoryStore(),
		ledger: quota.NewLedger(quota.NewMemoryStore()),
	}

	base := []ServiceOption{WithClock(func() time.Time { return f.now })}
	f.svc = NewService(f.store, f.plans, f.ledger, append(base, opts...)...)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) createPlan(params catalog.CreatePlanParams, intervals ...catalog.Interval) *catalog.Plan {
	f.t.Helper()
	ctx := context.Background()

	if params.Policy == "" {
		params.Policy = catalog.SingleInterval
	}
	plan, err := f.plans.CreatePlan(ctx, params)
	require.NoError(f.t, err)

	switch params.Policy {
	case catalog.SingleInterval:
		if len(intervals) > 0 {
			require.NoError(f.t, f.plans.SetInterval(ctx, plan, intervals[0]))
		}
	case catalog.MultiInterval:
		require.NoError(f.t, f.plans.SetIntervals(ctx, plan, intervals))
	}
	return plan
}

func (f *fixture) paidPlan(name string, price int64) *catalog.Plan {
	return f.createPlan(
		catalog.CreatePlanParams{Name: name, Enabled: true},
		catalog.Interval{Type: catalog.IntervalMonth, Unit: 1, Price: decimal.NewFromInt(price)},
	)
}

func (f *fixture) freePlan(name string) *catalog.Plan {
	return f.createPlan(catalog.CreatePlanParams{Name: name, Enabled: true})
}

func testSubscriber() Subscriber {
	return Subscriber{Type: "user", ID: uuid.New()}
}

func TestNewServicePanicsOnNilDependencies(t *testing.T) {
	t.Parallel()

	plans := catalog.NewService(catalog.NewMemoryStore())
	ledger := quota.NewLedger(quota.NewMemoryStore())

	assert.Panics(t, func() { NewService(nil, plans, ledger) })
	assert.Panics(t, func() { NewService(NewMemoryStore(), nil, ledger) })
	assert.Panics(t, func() { NewService(NewMemoryStore(), plans, nil) })
}

func TestSubscribeToPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("free plan yields a perpetual subscription", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		plan := f.freePlan("Free")

		sub, err := f.svc.SubscribeToPlan(ctx, testSubscriber(), plan)
		require.NoError(t, err)
		assert.True(t, sub.StartAt.Equal(f.now))
		assert.Nil(t, sub.EndAt)
		assert.True(t, sub.IsPerpetual())
	})

	t.Run("paid plan ends one billing period after start", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		plan := f.paidPlan("Pro", 10)

		sub, err := f.svc.SubscribeToPlan(ctx, testSubscriber(), plan)
		require.NoError(t, err)
		require.NotNil(t, sub.EndAt)

		want, err := catalog.ExpireAt(f.now, *plan.FirstInterval())
		require.NoError(t, err)
		assert.True(t, sub.EndAt.Equal(want))
	})

	t.Run("disabled plan rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		plan := f.createPlan(
			catalog.CreatePlanParams{Name: "Closed", Enabled: false},
			catalog.Interval{Type: catalog.IntervalMonth, Unit: 1, Price: decimal.NewFromInt(10)},
		)

		_, err := f.svc.SubscribeToPlan(ctx, testSubscriber(), plan)
		require.ErrorIs(t, err, ErrPlanDisabled)
	})

	t.Run("multi-interval plan needs an explicit interval", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		plan := f.createPlan(
			catalog.CreatePlanParams{Name: "Flex", Enabled: true, Policy: catalog.MultiInterval},
			catalog.Interval{Type: catalog.IntervalMonth, Unit: 1, Price: decimal.NewFromInt(10)},
			catalog.Interval{Type: catalog.IntervalYear, Unit: 1, Price: decimal.NewFromInt(100)},
		)

		_, err := f.svc.SubscribeToPlan(ctx, testSubscriber(), plan)
		require.ErrorIs(t, err, ErrIntervalRequired)
	})

	t.Run("new window is scheduled back-to-back after the active one", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()

		first, err := f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Pro", 10))
		require.NoError(t, err)

		second, err := f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Basic", 5))
		require.NoError(t, err)
		assert.True(t, second.StartAt.Equal(*first.EndAt))

		// The running window is still the active one.
		active, err := f.svc.GetActiveSubscription(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, first.ID, active.ID)
	})

	t.Run("subscribing on top of a perpetual subscription is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()

		_, err := f.svc.SubscribeToPlan(ctx, sub, f.freePlan("Free"))
		require.NoError(t, err)

		_, err = f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Pro", 10))
		require.ErrorIs(t, err, ErrPerpetualSubscription)

		// Force-ending the perpetual window unblocks the subscriber.
		require.NoError(t, f.svc.ForceUnsubscribe(ctx, sub))
		_, err = f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Pro again", 10))
		require.NoError(t, err)
	})

	t.Run("unfinished windows are capped", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()

		_, err := f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Pro", 10))
		require.NoError(t, err)
		_, err = f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Basic", 5))
		require.NoError(t, err)

		_, err = f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Extra", 7))
		require.ErrorIs(t, err, ErrTooManyUnfinished)
	})

	t.Run("seeds consumable quota from plan features", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		plan := f.paidPlan("Pro", 10)
		require.NoError(t, f.plans.AddFeatures(ctx, plan,
			catalog.Feature{Code: "contacts", Value: int64(5), Consumable: true},
			catalog.Feature{Code: "custom_domain", Value: true},
		))

		sub, err := f.svc.SubscribeToPlan(ctx, testSubscriber(), plan)
		require.NoError(t, err)

		entries, err := f.ledger.Entries(ctx, sub.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "contacts", entries[0].Code)
		assert.Equal(t, int64(5), entries[0].Available)
	})
}

func TestSubscribeToInterval(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("expiration always follows the chosen interval", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		plan := f.createPlan(
			catalog.CreatePlanParams{Name: "Flex", Enabled: true, Policy: catalog.MultiInterval},
			catalog.Interval{Type: catalog.IntervalMonth, Unit: 1, Price: decimal.NewFromInt(10)},
			catalog.Interval{Type: catalog.IntervalYear, Unit: 1, Price: decimal.NewFromInt(100)},
		)
		yearly := plan.Intervals[1]

		sub, err := f.svc.SubscribeToInterval(ctx, testSubscriber(), yearly)
		require.NoError(t, err)
		require.NotNil(t, sub.EndAt)

		want, err := catalog.ExpireAt(f.now, yearly)
		require.NoError(t, err)
		assert.True(t, sub.EndAt.Equal(want))
	})

	t.Run("interval-level consumables override plan-level by code", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		plan := f.createPlan(
			catalog.CreatePlanParams{Name: "Flex", Enabled: true, Policy: catalog.MultiInterval},
			catalog.Interval{
				Type: catalog.IntervalYear, Unit: 1, Price: decimal.NewFromInt(100),
				Features: []catalog.Feature{{Code: "contacts", Value: int64(50), Consumable: true}},
			},
		)
		require.NoError(t, f.plans.AddFeatures(ctx, plan,
			catalog.Feature{Code: "contacts", Value: int64(5), Consumable: true},
			catalog.Feature{Code: "emails", Value: int64(100), Consumable: true},
		))
		reloaded, err := f.plans.GetPlan(ctx, plan.ID)
		require.NoError(t, err)

		sub, err := f.svc.SubscribeToInterval(ctx, testSubscriber(), reloaded.Intervals[0])
		require.NoError(t, err)

		contacts, err := f.ledger.Balance(ctx, sub.ID, "contacts")
		require.NoError(t, err)
		assert.Equal(t, int64(50), contacts.Available, "interval allotment wins")

		emails, err := f.ledger.Balance(ctx, sub.ID, "emails")
		require.NoError(t, err)
		assert.Equal(t, int64(100), emails.Available, "plan-only codes still seeded")
	})
}

func TestChangePlanTo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("same plan rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()
		plan := f.paidPlan("Pro", 10)

		_, err := f.svc.SubscribeToPlan(ctx, sub, plan)
		require.NoError(t, err)

		_, err = f.svc.ChangePlanTo(ctx, sub, plan, nil)
		require.ErrorIs(t, err, ErrSamePlan)
	})

	t.Run("without an active subscription", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.svc.ChangePlanTo(ctx, testSubscriber(), f.paidPlan("Pro", 10), nil)
		require.ErrorIs(t, err, ErrNoActiveSubscription)
	})

	t.Run("higher price upgrades immediately", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()

		current, err := f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Basic", 5))
		require.NoError(t, err)

		f.advance(10 * 24 * time.Hour)

		upgraded, err := f.svc.ChangePlanTo(ctx, sub, f.paidPlan("Pro", 10), nil)
		require.NoError(t, err)
		assert.True(t, upgraded.StartAt.Equal(f.now), "upgrade starts now")

		// The superseded window ended just before the switch.
		old, err := f.store.FindActive(ctx, sub, current.StartAt)
		require.NoError(t, err)
		require.NotNil(t, old.EndAt)
		assert.True(t, old.EndAt.Equal(f.now.Add(-time.Second)))
		assert.True(t, old.IsCancelled())
	})

	t.Run("lower price downgrades after the paid period", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()

		current, err := f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Pro", 10))
		require.NoError(t, err)

		scheduled, err := f.svc.ChangePlanTo(ctx, sub, f.paidPlan("Basic", 5), nil)
		require.NoError(t, err)
		assert.True(t, scheduled.StartAt.Equal(*current.EndAt))

		// The paid window keeps running until it elapses.
		active, err := f.svc.GetActiveSubscription(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, current.ID, active.ID)
	})

	t.Run("downgrade to a free plan schedules a perpetual follow-up", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()

		current, err := f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Pro", 10))
		require.NoError(t, err)

		scheduled, err := f.svc.ChangePlanTo(ctx, sub, f.freePlan("Free"), nil)
		require.NoError(t, err)
		assert.True(t, scheduled.StartAt.Equal(*current.EndAt))
		assert.Nil(t, scheduled.EndAt)
	})
}

func TestUpgradeTo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("requires an active subscription", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		plan := f.paidPlan("Pro", 10)

		_, err := f.svc.UpgradeTo(ctx, testSubscriber(), *plan.FirstInterval())
		require.ErrorIs(t, err, ErrNoActiveSubscription)
	})

	t.Run("force-ends the current window and starts the new one now", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()

		_, err := f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Basic", 5))
		require.NoError(t, err)

		f.advance(24 * time.Hour)

		pro := f.paidPlan("Pro", 10)
		upgraded, err := f.svc.UpgradeTo(ctx, sub, *pro.FirstInterval())
		require.NoError(t, err)
		assert.True(t, upgraded.StartAt.Equal(f.now))
		assert.Equal(t, pro.ID, upgraded.PlanID)

		active, err := f.svc.GetActiveSubscription(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, upgraded.ID, active.ID)
	})
}

func TestRenewSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("extends from the scheduled end, not from now", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()
		plan := f.paidPlan("Pro", 10)

		current, err := f.svc.SubscribeToPlan(ctx, sub, plan)
		require.NoError(t, err)
		scheduledEnd := *current.EndAt

		// Renew halfway through: the remaining paid time must be kept.
		f.advance(15 * 24 * time.Hour)

		renewed, err := f.svc.RenewSubscription(ctx, sub, nil)
		require.NoError(t, err)

		want, err := catalog.ExpireAt(scheduledEnd, *plan.FirstInterval())
		require.NoError(t, err)
		require.NotNil(t, renewed.EndAt)
		assert.True(t, renewed.EndAt.Equal(want))
		assert.Equal(t, current.ID, renewed.ID, "renewal extends the same row")
	})

	t.Run("explicit interval wins over the plan's first", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()
		plan := f.paidPlan("Pro", 10)

		current, err := f.svc.SubscribeToPlan(ctx, sub, plan)
		require.NoError(t, err)

		yearly := catalog.Interval{Type: catalog.IntervalYear, Unit: 1, Price: decimal.NewFromInt(100)}
		renewed, err := f.svc.RenewSubscription(ctx, sub, &yearly)
		require.NoError(t, err)

		want, err := catalog.ExpireAt(*current.EndAt, yearly)
		require.NoError(t, err)
		assert.True(t, renewed.EndAt.Equal(want))
	})

	t.Run("perpetual subscriptions cannot renew", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()

		_, err := f.svc.SubscribeToPlan(ctx, sub, f.freePlan("Free"))
		require.NoError(t, err)

		_, err = f.svc.RenewSubscription(ctx, sub, nil)
		require.ErrorIs(t, err, ErrPerpetualSubscription)
	})

	t.Run("without an active subscription", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.svc.RenewSubscription(ctx, testSubscriber(), nil)
		require.ErrorIs(t, err, ErrNoActiveSubscription)
	})

	t.Run("multi-interval plan needs an explicit interval", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()
		plan := f.createPlan(
			catalog.CreatePlanParams{Name: "Flex", Enabled: true, Policy: catalog.MultiInterval},
			catalog.Interval{Type: catalog.IntervalMonth, Unit: 1, Price: decimal.NewFromInt(10)},
			catalog.Interval{Type: catalog.IntervalYear, Unit: 1, Price: decimal.NewFromInt(100)},
		)

		_, err := f.svc.SubscribeToInterval(ctx, sub, plan.Intervals[0])
		require.NoError(t, err)

		_, err = f.svc.RenewSubscription(ctx, sub, nil)
		require.ErrorIs(t, err, ErrIntervalRequired)
	})
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("keeps entitlement until the paid period lapses", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()

		current, err := f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Pro", 10))
		require.NoError(t, err)

		require.NoError(t, f.svc.Unsubscribe(ctx, sub))

		active, err := f.svc.GetActiveSubscription(ctx, sub)
		require.NoError(t, err)
		assert.True(t, active.IsCancelled())
		assert.True(t, active.EndAt.Equal(*current.EndAt), "scheduled end unchanged")
	})

	t.Run("repeat calls keep the first cancellation timestamp", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()

		_, err := f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Pro", 10))
		require.NoError(t, err)

		require.NoError(t, f.svc.Unsubscribe(ctx, sub))
		first, err := f.svc.GetActiveSubscription(ctx, sub)
		require.NoError(t, err)

		f.advance(48 * time.Hour)
		require.NoError(t, f.svc.Unsubscribe(ctx, sub))

		again, err := f.svc.GetActiveSubscription(ctx, sub)
		require.NoError(t, err)
		assert.True(t, again.CancelledAt.Equal(*first.CancelledAt))
	})

	t.Run("no active subscription is a no-op", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		require.NoError(t, f.svc.Unsubscribe(ctx, testSubscriber()))
	})
}

func TestForceUnsubscribe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("ends the window immediately", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := testSubscriber()

		_, err := f.svc.SubscribeToPlan(ctx, sub, f.paidPlan("Pro", 10))
		require.NoError(t, err)

		require.NoError(t, f.svc.ForceUnsubscribe(ctx, sub))

		_, err = f.svc.GetActiveSubscription(ctx, sub)
		require.ErrorIs(t, err, ErrSubscriptionNotFound)
		assert.False(t, f.svc.HasActiveSubscription(ctx, sub))
	})

	t.Run("no active subscription is a no-op", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		require.NoError(t, f.svc.ForceUnsubscribe(ctx, testSubscriber()))
	})
}
