package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// pgStore implements Store on top of a pgx connection pool. The schema lives
// in the migrations directory at the repository root; a partial unique index
// on (group_code) WHERE is_default backstops the one-default-per-group
// invariant under concurrent writers.
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a catalog Store backed by PostgreSQL.
// Panics if pool is nil to fail fast during initialization.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		panic("catalog: pgxpool is required")
	}
	return &pgStore{pool: pool}
}

func (s *pgStore) CreatePlan(ctx context.Context, plan *Plan) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO plans (id, name, description, free_days, sort_order, is_enabled, is_default, group_code, interval_policy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		plan.ID, plan.Name, plan.Description, plan.FreeDays, plan.SortOrder,
		plan.Enabled, plan.Default, plan.Group, string(plan.Policy))
	if err != nil {
		if isDefaultConflict(err) {
			return ErrDefaultPlanExists
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

func (s *pgStore) UpdatePlan(ctx context.Context, plan *Plan) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE plans
		SET name = $2, description = $3, free_days = $4, sort_order = $5,
		    is_enabled = $6, is_default = $7, group_code = $8, updated_at = now()
		WHERE id = $1`,
		plan.ID, plan.Name, plan.Description, plan.FreeDays, plan.SortOrder,
		plan.Enabled, plan.Default, plan.Group)
	if err != nil {
		if isDefaultConflict(err) {
			return ErrDefaultPlanExists
		}
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}

func (s *pgStore) DeletePlan(ctx context.Context, planID uuid.UUID) error {
	// Intervals and features cascade at the schema level.
	tag, err := s.pool.Exec(ctx, `DELETE FROM plans WHERE id = $1`, planID)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}

func (s *pgStore) GetPlan(ctx context.Context, planID uuid.UUID) (*Plan, error) {
	plan, err := s.scanPlan(ctx, s.pool.QueryRow(ctx, `
		SELECT id, name, description, free_days, sort_order, is_enabled, is_default, group_code, interval_policy
		FROM plans WHERE id = $1`, planID))
	if err != nil {
		return nil, err
	}
	if err := s.loadOwned(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *pgStore) ListPlans(ctx context.Context, filter Filter) ([]Plan, error) {
	query := `
		SELECT id, name, description, free_days, sort_order, is_enabled, is_default, group_code, interval_policy
		FROM plans WHERE true`
	var args []any
	if filter.Group != nil {
		args = append(args, *filter.Group)
		query += fmt.Sprintf(" AND group_code = $%d", len(args))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		query += fmt.Sprintf(" AND is_enabled = $%d", len(args))
	}
	if filter.Default != nil {
		args = append(args, *filter.Default)
		query += fmt.Sprintf(" AND is_default = $%d", len(args))
	}
	query += " ORDER BY sort_order, name"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		plan, err := s.scanPlan(ctx, rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for idx := range plans {
		if err := s.loadOwned(ctx, &plans[idx]); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

func (s *pgStore) DefaultPlan(ctx context.Context, group string) (*Plan, error) {
	plan, err := s.scanPlan(ctx, s.pool.QueryRow(ctx, `
		SELECT id, name, description, free_days, sort_order, is_enabled, is_default, group_code, interval_policy
		FROM plans WHERE group_code = $1 AND is_default`, group))
	if err != nil {
		return nil, err
	}
	if err := s.loadOwned(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// SetDefaultPlan runs unset-all-then-set-one in a single transaction, so a
// concurrent reader sees either the old or the new default, never zero.
func (s *pgStore) SetDefaultPlan(ctx context.Context, planID uuid.UUID, group string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `
		UPDATE plans SET is_default = false, updated_at = now()
		WHERE group_code = $1 AND is_default AND id <> $2`, group, planID); err != nil {
		return fmt.Errorf("failed to unset group defaults: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE plans SET is_default = true, updated_at = now() WHERE id = $1`, planID)
	if err != nil {
		return fmt.Errorf("failed to set default plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}

	return tx.Commit(ctx)
}

func (s *pgStore) ReplaceIntervals(ctx context.Context, planID uuid.UUID, intervals []Interval) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM plan_intervals WHERE plan_id = $1`, planID); err != nil {
		return fmt.Errorf("failed to clear intervals: %w", err)
	}
	for idx := range intervals {
		if err := insertInterval(ctx, tx, planID, &intervals[idx]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *pgStore) AddInterval(ctx context.Context, planID uuid.UUID, interval *Interval) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := insertInterval(ctx, tx, planID, interval); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *pgStore) UpdateInterval(ctx context.Context, interval *Interval) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE plan_intervals SET interval_type = $2, unit = $3, price = $4 WHERE id = $1`,
		interval.ID, string(interval.Type), interval.Unit, interval.Price)
	if err != nil {
		return fmt.Errorf("failed to update interval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIntervalNotFound
	}
	return nil
}

func (s *pgStore) AddFeatures(ctx context.Context, planID uuid.UUID, features []Feature) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for idx := range features {
		if err := insertFeature(ctx, tx, planID, uuid.Nil, &features[idx]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func insertInterval(ctx context.Context, tx pgx.Tx, planID uuid.UUID, interval *Interval) error {
	interval.PlanID = planID
	if interval.ID == uuid.Nil {
		interval.ID = uuid.New()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO plan_intervals (id, plan_id, interval_type, unit, price)
		VALUES ($1, $2, $3, $4, $5)`,
		interval.ID, planID, string(interval.Type), interval.Unit, interval.Price); err != nil {
		return fmt.Errorf("failed to insert interval: %w", err)
	}
	for idx := range interval.Features {
		if err := insertFeature(ctx, tx, planID, interval.ID, &interval.Features[idx]); err != nil {
			return err
		}
	}
	return nil
}

func insertFeature(ctx context.Context, tx pgx.Tx, planID, intervalID uuid.UUID, feature *Feature) error {
	if feature.ID == uuid.Nil {
		feature.ID = uuid.New()
	}
	value, err := json.Marshal(feature.Value)
	if err != nil {
		return fmt.Errorf("failed to encode feature value: %w", err)
	}
	var owner any
	if intervalID != uuid.Nil {
		owner = intervalID
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO plan_features (id, plan_id, interval_id, code, value, is_consumable, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		feature.ID, planID, owner, feature.Code, value, feature.Consumable, feature.SortOrder); err != nil {
		return fmt.Errorf("failed to insert feature: %w", err)
	}
	return nil
}

// isDefaultConflict matches a violation of the plans_one_default_per_group
// partial unique index.
func isDefaultConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.ConstraintName == "plans_one_default_per_group"
}

func (s *pgStore) scanPlan(_ context.Context, row pgx.Row) (*Plan, error) {
	var (
		plan   Plan
		policy string
	)
	err := row.Scan(&plan.ID, &plan.Name, &plan.Description, &plan.FreeDays,
		&plan.SortOrder, &plan.Enabled, &plan.Default, &plan.Group, &policy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to scan plan: %w", err)
	}
	plan.Policy = IntervalPolicy(policy)
	return &plan, nil
}

// loadOwned populates the plan's intervals (with their features) and its
// plan-level features.
func (s *pgStore) loadOwned(ctx context.Context, plan *Plan) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, interval_type, unit, price FROM plan_intervals
		WHERE plan_id = $1 ORDER BY price`, plan.ID)
	if err != nil {
		return fmt.Errorf("failed to load intervals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			iv           Interval
			intervalType string
			price        decimal.Decimal
		)
		if err := rows.Scan(&iv.ID, &intervalType, &iv.Unit, &price); err != nil {
			return fmt.Errorf("failed to scan interval: %w", err)
		}
		iv.PlanID = plan.ID
		iv.Type = IntervalType(intervalType)
		iv.Price = price
		plan.Intervals = append(plan.Intervals, iv)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	frows, err := s.pool.Query(ctx, `
		SELECT id, interval_id, code, value, is_consumable, sort_order
		FROM plan_features WHERE plan_id = $1 ORDER BY sort_order, code`, plan.ID)
	if err != nil {
		return fmt.Errorf("failed to load features: %w", err)
	}
	defer frows.Close()

	for frows.Next() {
		var (
			feature    Feature
			intervalID *uuid.UUID
			raw        []byte
		)
		if err := frows.Scan(&feature.ID, &intervalID, &feature.Code, &raw,
			&feature.Consumable, &feature.SortOrder); err != nil {
			return fmt.Errorf("failed to scan feature: %w", err)
		}
		if err := json.Unmarshal(raw, &feature.Value); err != nil {
			return fmt.Errorf("failed to decode feature value: %w", err)
		}
		if intervalID == nil {
			plan.Features = append(plan.Features, feature)
			continue
		}
		for idx := range plan.Intervals {
			if plan.Intervals[idx].ID == *intervalID {
				plan.Intervals[idx].Features = append(plan.Intervals[idx].Features, feature)
				break
			}
		}
	}
	return frows.Err()
}
