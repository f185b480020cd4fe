package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MaxUnfinished caps how many unfinished subscription rows a subscriber may
// hold at once. Two rows is the legitimate maximum: the current subscription
// plus one scheduled back-to-back replacement.
const MaxUnfinished = 2

// Store is the persistence collaborator for subscription rows. Create must
// verify the unfinished-row cap and insert atomically: a check-then-insert
// race between concurrent callers must not produce a third unfinished row,
// so implementations run it under a transaction or a store-wide lock.
type Store interface {
	// Create persists a new subscription after verifying the subscriber has
	// fewer than MaxUnfinished unfinished rows at now. Returns
	// ErrTooManyUnfinished when the cap is reached.
	Create(ctx context.Context, sub *Subscription, now time.Time) error

	// Update persists mutated dates on an existing row.
	Update(ctx context.Context, sub *Subscription) error

	// FindActive returns the subscriber's current subscription, or
	// ErrSubscriptionNotFound when no window covers now.
	FindActive(ctx context.Context, subscriber Subscriber, now time.Time) (*Subscription, error)

	// CountUnfinished counts the subscriber's rows that have not ended at now.
	CountUnfinished(ctx context.Context, subscriber Subscriber, now time.Time) (int, error)

	// CountForPlan counts every subscription row referencing the plan,
	// finished or not. Used to restrict plan deletion.
	CountForPlan(ctx context.Context, planID uuid.UUID) (int64, error)
}
