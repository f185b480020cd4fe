package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgStore implements Store on top of a pgx connection pool. Create takes a
// transaction-scoped advisory lock on the subscriber before counting, so
// concurrent callers cannot push a subscriber past the unfinished cap.
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a subscription Store backed by PostgreSQL.
// Panics if pool is nil to fail fast during initialization.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		panic("subscription: pgxpool is required")
	}
	return &pgStore{pool: pool}
}

func (s *pgStore) Create(ctx context.Context, sub *Subscription, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Serialize creates per subscriber with an advisory lock held until
	// commit. Row locks cannot close the check-then-insert race: a second
	// transaction blocked on an unmodified locked row resumes without a
	// serialization error, and its snapshot predates the winner's insert.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
		sub.Subscriber.Type, sub.Subscriber.ID.String()); err != nil {
		return fmt.Errorf("failed to lock subscriber: %w", err)
	}

	var unfinished int
	if err := tx.QueryRow(ctx, `
		SELECT count(*) FROM subscriptions
		WHERE subscriber_type = $1 AND subscriber_id = $2
		  AND (end_at IS NULL OR end_at >= $3)`,
		sub.Subscriber.Type, sub.Subscriber.ID, now).Scan(&unfinished); err != nil {
		return fmt.Errorf("failed to count unfinished subscriptions: %w", err)
	}
	if unfinished >= MaxUnfinished {
		return ErrTooManyUnfinished
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO subscriptions (id, plan_id, subscriber_type, subscriber_id, start_at, end_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.PlanID, sub.Subscriber.Type, sub.Subscriber.ID,
		sub.StartAt, sub.EndAt, sub.CancelledAt); err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *pgStore) Update(ctx context.Context, sub *Subscription) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET end_at = $2, cancelled_at = $3, updated_at = now()
		WHERE id = $1`,
		sub.ID, sub.EndAt, sub.CancelledAt)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *pgStore) FindActive(ctx context.Context, subscriber Subscriber, now time.Time) (*Subscription, error) {
	var sub Subscription
	err := s.pool.QueryRow(ctx, `
		SELECT id, plan_id, subscriber_type, subscriber_id, start_at, end_at, cancelled_at
		FROM subscriptions
		WHERE subscriber_type = $1 AND subscriber_id = $2
		  AND start_at <= $3 AND (end_at IS NULL OR end_at >= $3)
		ORDER BY start_at DESC
		LIMIT 1`,
		subscriber.Type, subscriber.ID, now).
		Scan(&sub.ID, &sub.PlanID, &sub.Subscriber.Type, &sub.Subscriber.ID,
			&sub.StartAt, &sub.EndAt, &sub.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to load active subscription: %w", err)
	}
	return &sub, nil
}

func (s *pgStore) CountUnfinished(ctx context.Context, subscriber Subscriber, now time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM subscriptions
		WHERE subscriber_type = $1 AND subscriber_id = $2
		  AND (end_at IS NULL OR end_at >= $3)`,
		subscriber.Type, subscriber.ID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unfinished subscriptions: %w", err)
	}
	return count, nil
}

func (s *pgStore) CountForPlan(ctx context.Context, planID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM subscriptions WHERE plan_id = $1`, planID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count plan subscriptions: %w", err)
	}
	return count, nil
}
