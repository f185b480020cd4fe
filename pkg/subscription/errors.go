package subscription

import "errors"

var (
	ErrPlanDisabled          = errors.New("plan is disabled, subscribe to another plan")
	ErrTooManyUnfinished     = errors.New("subscriber already has two unfinished subscriptions")
	ErrIntervalRequired      = errors.New("plan has many intervals, an explicit interval is required")
	ErrSamePlan              = errors.New("cannot change to the plan currently subscribed")
	ErrNoActiveSubscription  = errors.New("subscriber has no active subscription")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrPerpetualSubscription = errors.New("active subscription is perpetual, force-unsubscribe first")
	ErrUnknownFeature        = errors.New("feature code is not configured in the defaults")
)
