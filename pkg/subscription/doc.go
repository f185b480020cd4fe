// Package subscription implements the subscription lifecycle state machine
// and entitlement resolution for subscribers.
//
// A subscriber is any entity capable of holding subscriptions, identified by
// a (type, id) pair. Its lifecycle state is derived from subscription rows
// rather than stored as an explicit status: a row whose window covers now is
// current, a row that has not ended (whether or not it has started) is
// unfinished. At most one subscription is truly current, and at most two
// rows may be unfinished at once: the current one plus a back-to-back
// replacement scheduled during a plan transition. The third attempt fails
// with ErrTooManyUnfinished.
//
// # Lifecycle
//
// SubscribeToPlan and SubscribeToInterval create rows. A new window starts
// now, or at the current subscription's scheduled end when one is active.
// Free plans produce perpetual rows (nil end); subscribing through an
// interval always produces a bounded window.
//
// ChangePlanTo compares the current interval's price with the target's:
//
//   - a strictly higher target price is an upgrade: the current
//     subscription is force-ended (end = now minus one second, cancelled =
//     now) and the new one starts immediately;
//   - an equal or lower price is a downgrade: the new subscription is
//     scheduled after the current paid period, and both rows coexist until
//     the old one naturally expires.
//
// RenewSubscription extends the scheduled end by one billing period counted
// from the current end, never from now, so renewing early keeps the
// remaining paid time. Unsubscribe records the cancellation but leaves the
// end untouched; ForceUnsubscribe ends entitlement immediately and is the
// required escape hatch before replacing a perpetual subscription.
//
// # Entitlements
//
// The resolver answers "what can this subscriber do now". AbilityFor and
// AbilitiesList overlay the active plan's feature values on the configured
// defaults; unknown codes fail with ErrUnknownFeature. ConsumeFeature
// withdraws from the active subscription's quota ledger and fails softly on
// insufficient balance. FreeTrialActive derives trial state from the plan's
// free days and the subscription's start.
//
// # Wiring
//
//	planStore := catalog.NewMemoryStore()
//	svc := subscription.NewService(
//		subscription.NewMemoryStore(),
//		planStore,
//		quota.NewLedger(quota.NewMemoryStore()),
//		subscription.WithDefaults(defaults),
//	)
//
//	sub, err := svc.SubscribeToPlan(ctx, subscriber, plan)
//
// Every date-dependent operation reads time through the injected clock
// (WithClock), never the process wall clock, so transitions are
// deterministic under test.
package subscription
