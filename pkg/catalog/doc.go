// Package catalog manages subscription plans: billing intervals, feature
// flags, consumable quota templates and plan grouping.
//
// A Plan bundles everything a subscriber is entitled to. Each plan declares
// an interval policy at creation time: single-interval plans keep at most one
// billing interval (SetInterval replaces it in place), multi-interval plans
// keep an ordered set (SetIntervals, AddInterval). Calling the wrong policy
// API fails fast with ErrNotSingleInterval or ErrNotMultiInterval.
//
// Plans belong to groups identified by a plain string code; the empty string
// is the ungrouped group. Within a group exactly one plan is the default:
// the first plan created in a group becomes the default regardless of the
// requested flag, and SetDefault atomically moves the flag to another plan.
//
// The free/paid classification inspects the first interval by ascending
// price: a plan with no intervals, or whose cheapest interval is priced at
// zero, is free. IsFree and IsNotFree are deliberately not strict logical
// complements for plans mixing free and paid intervals; callers depend on
// the first-by-price tie-break.
//
// ExpireAt is the calendar arithmetic used by the subscription state machine
// to compute expiration dates. Month and year additions clamp the day of
// month, so a period starting January 31 ends on the last day of February
// rather than overflowing into March.
//
// Persistence is delegated to the Store interface. NewMemoryStore suits
// tests and single-process use; NewPostgresStore persists through pgx and
// relies on a partial unique index as a backstop for the single-default
// invariant under concurrent writers.
//
// Basic usage:
//
//	store := catalog.NewMemoryStore()
//	svc := catalog.NewService(store)
//
//	plan, err := svc.CreatePlan(ctx, catalog.CreatePlanParams{
//		Name:    "Pro",
//		Enabled: true,
//		Policy:  catalog.SingleInterval,
//	})
//	if err != nil {
//		// handle error
//	}
//
//	err = svc.SetInterval(ctx, plan, catalog.Interval{
//		Type:  catalog.IntervalMonth,
//		Unit:  1,
//		Price: decimal.NewFromFloat(4.90),
//	})
package catalog
