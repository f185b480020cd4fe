package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Subscriber identifies any entity capable of holding subscriptions: a user,
// a team, an organization. The type discriminator plus the opaque ID let the
// host's repository resolve back to a concrete instance.
type Subscriber struct {
	Type string
	ID   uuid.UUID
}

// Subscription is a time-bounded grant of a plan to a subscriber. A nil
// EndAt means the subscription is perpetual and never expires on its own.
type Subscription struct {
	ID          uuid.UUID
	PlanID      uuid.UUID
	Subscriber  Subscriber
	StartAt     time.Time
	EndAt       *time.Time
	CancelledAt *time.Time
}

// IsCurrentAt reports whether the subscription window covers now: it has
// started and has not yet ended.
func (s *Subscription) IsCurrentAt(now time.Time) bool {
	if s.StartAt.After(now) {
		return false
	}
	return s.EndAt == nil || !s.EndAt.Before(now)
}

// IsUnfinishedAt reports whether the subscription has not ended yet,
// regardless of whether it has started. Scheduled-but-not-started rows count
// as unfinished; this is what caps in-flight plan transitions.
func (s *Subscription) IsUnfinishedAt(now time.Time) bool {
	return s.EndAt == nil || !s.EndAt.Before(now)
}

// IsPerpetual reports whether the subscription has no scheduled end.
func (s *Subscription) IsPerpetual() bool {
	return s.EndAt == nil
}

// IsCancelled reports whether the subscriber has cancelled, whether or not
// entitlement has already lapsed.
func (s *Subscription) IsCancelled() bool {
	return s.CancelledAt != nil
}

// DaysLeftAt returns the whole days remaining until the scheduled end, or -1
// for perpetual subscriptions.
func (s *Subscription) DaysLeftAt(now time.Time) int {
	if s.EndAt == nil {
		return -1
	}
	left := s.EndAt.Sub(now)
	if left < 0 {
		return 0
	}
	return int(left.Hours() / 24)
}

// ElapsedDaysAt returns the whole days since the subscription started.
func (s *Subscription) ElapsedDaysAt(now time.Time) int {
	elapsed := now.Sub(s.StartAt)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed.Hours() / 24)
}
