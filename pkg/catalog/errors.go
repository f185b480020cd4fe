package catalog

import "errors"

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrPlanHasSubscriptions = errors.New("plan has existing subscriptions and cannot be deleted")
	ErrInvalidIntervalType  = errors.New("interval type is not one of day, month or year")
	ErrDuplicateFeatureCode = errors.New("feature code already exists on this owner")
	ErrIntervalNotFound     = errors.New("interval not found")
	ErrDefaultPlanExists    = errors.New("group already has a default plan")

	// Interval policy violations are programming errors: the caller used the
	// wrong capability API for the plan's declared policy.
	ErrNotSingleInterval = errors.New("plan does not use the single-interval policy")
	ErrNotMultiInterval  = errors.New("plan does not use the multi-interval policy")
)
