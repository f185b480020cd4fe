package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntervalType is the granularity of a billing interval.
type IntervalType string

const (
	IntervalDay   IntervalType = "day"
	IntervalMonth IntervalType = "month"
	IntervalYear  IntervalType = "year"

	// intervalInfinite marks the sentinel interval returned by Infinite.
	intervalInfinite IntervalType = "infinite"
)

// Interval is a billing period attached to a plan: a count of days, months
// or years and the price charged for it. Intervals may carry their own
// features, which take precedence over plan-level features when a subscriber
// subscribes through the interval.
type Interval struct {
	ID       uuid.UUID
	PlanID   uuid.UUID
	Type     IntervalType
	Unit     int
	Price    decimal.Decimal
	Features []Feature
}

// IsFree reports whether the interval costs nothing.
func (i Interval) IsFree() bool {
	return i.Price.IsZero()
}

// IsInfinite reports whether this is the perpetual sentinel interval.
func (i Interval) IsInfinite() bool {
	return i.Type == intervalInfinite
}

// Infinite returns the sentinel interval used as a billing reference for
// perpetual, never-expiring subscriptions. It belongs to no plan and cannot
// be passed to ExpireAt.
func Infinite() Interval {
	return Interval{Type: intervalInfinite}
}

// ExpireAt computes the expiration timestamp for a billing period starting at
// start. Month and year additions are calendar-aware: the day of month is
// clamped to the last day of the target month, so one month after January 31
// lands on the last day of February instead of overflowing into March.
func ExpireAt(start time.Time, interval Interval) (time.Time, error) {
	switch interval.Type {
	case IntervalDay:
		return start.AddDate(0, 0, interval.Unit), nil
	case IntervalMonth:
		return addMonths(start, interval.Unit), nil
	case IntervalYear:
		return addMonths(start, 12*interval.Unit), nil
	default:
		return time.Time{}, ErrInvalidIntervalType
	}
}

// addMonths shifts t by the given number of months, clamping the day of month
// instead of letting time.AddDate normalize into the following month.
func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	first := time.Date(year, month+time.Month(months), 1, hour, minute, sec, t.Nanosecond(), t.Location())
	if last := lastDayOfMonth(first); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
