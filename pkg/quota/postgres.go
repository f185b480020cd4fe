package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgStore implements Store on top of a pgx connection pool. Consume is a
// single conditional UPDATE, so the balance check and the decrement happen
// in one statement and concurrent consumers cannot over-draw the quota.
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a quota Store backed by PostgreSQL.
// Panics if pool is nil to fail fast during initialization.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		panic("quota: pgxpool is required")
	}
	return &pgStore{pool: pool}
}

func (s *pgStore) Create(ctx context.Context, entry *Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscription_consumables (id, subscription_id, code, available, used)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.SubscriptionID, entry.Code, entry.Available, entry.Used)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEntryExists
		}
		return fmt.Errorf("failed to insert quota entry: %w", err)
	}
	return nil
}

func (s *pgStore) Get(ctx context.Context, subscriptionID uuid.UUID, code string) (*Entry, error) {
	var entry Entry
	err := s.pool.QueryRow(ctx, `
		SELECT id, subscription_id, code, available, used
		FROM subscription_consumables
		WHERE subscription_id = $1 AND code = $2`, subscriptionID, code).
		Scan(&entry.ID, &entry.SubscriptionID, &entry.Code, &entry.Available, &entry.Used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to load quota entry: %w", err)
	}
	return &entry, nil
}

func (s *pgStore) List(ctx context.Context, subscriptionID uuid.UUID) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, code, available, used
		FROM subscription_consumables
		WHERE subscription_id = $1 ORDER BY code`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list quota entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.SubscriptionID, &entry.Code,
			&entry.Available, &entry.Used); err != nil {
			return nil, fmt.Errorf("failed to scan quota entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *pgStore) Consume(ctx context.Context, subscriptionID uuid.UUID, code string, qty int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscription_consumables
		SET available = available - $3, used = used + $3, updated_at = now()
		WHERE subscription_id = $1 AND code = $2 AND available >= $3`,
		subscriptionID, code, qty)
	if err != nil {
		return false, fmt.Errorf("failed to consume quota: %w", err)
	}
	// Zero rows means no entry or insufficient balance; both fail softly.
	return tag.RowsAffected() == 1, nil
}
