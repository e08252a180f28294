package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// PlanStore implements domain.PlanStore using PostgreSQL. Tier snapshots and
// plan steps are stored as JSONB documents; they are read back whole, never
// queried into.
type PlanStore struct {
	pool *pgxpool.Pool
}

// NewPlanStore creates a new PlanStore backed by the given connection pool.
func NewPlanStore(pool *pgxpool.Pool) *PlanStore {
	return &PlanStore{pool: pool}
}

const planColumns = `plan_id, status, trigger_reason, initial_state, deviations, steps,
	total_amount, estimated_gas, estimated_slippage, expected_final, created_at, approved_at`

// Create inserts a new plan.
func (s *PlanStore) Create(ctx context.Context, plan domain.RebalancePlan) error {
	initial, deviations, steps, final, err := marshalPlanDocs(plan)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rebalance_plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		plan.PlanID, string(plan.Status), plan.TriggerReason,
		initial, deviations, steps,
		plan.TotalAmount.String(), int64(plan.EstimatedGas), plan.EstimatedSlippage,
		final, plan.CreatedAt, plan.ApprovedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert plan %s: %w", plan.PlanID, err)
	}
	return nil
}

// Update replaces an existing plan.
func (s *PlanStore) Update(ctx context.Context, plan domain.RebalancePlan) error {
	initial, deviations, steps, final, err := marshalPlanDocs(plan)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE rebalance_plans SET
			status = $2, trigger_reason = $3, initial_state = $4, deviations = $5,
			steps = $6, total_amount = $7, estimated_gas = $8, estimated_slippage = $9,
			expected_final = $10, created_at = $11, approved_at = $12
		WHERE plan_id = $1`,
		plan.PlanID, string(plan.Status), plan.TriggerReason,
		initial, deviations, steps,
		plan.TotalAmount.String(), int64(plan.EstimatedGas), plan.EstimatedSlippage,
		final, plan.CreatedAt, plan.ApprovedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update plan %s: %w", plan.PlanID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update plan %s: %w", plan.PlanID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns one plan by id.
func (s *PlanStore) GetByID(ctx context.Context, id string) (domain.RebalancePlan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM rebalance_plans WHERE plan_id = $1`, id)
	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RebalancePlan{}, fmt.Errorf("postgres: plan %s: %w", id, domain.ErrNotFound)
		}
		return domain.RebalancePlan{}, fmt.Errorf("postgres: get plan %s: %w", id, err)
	}
	return plan, nil
}

// ListByStatus returns plans in the given status, newest first.
func (s *PlanStore) ListByStatus(ctx context.Context, status domain.PlanStatus, opts domain.ListOpts) ([]domain.RebalancePlan, error) {
	return s.list(ctx, `WHERE status = $1`, []any{string(status)}, opts)
}

// List returns all plans, newest first.
func (s *PlanStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.RebalancePlan, error) {
	return s.list(ctx, ``, nil, opts)
}

func (s *PlanStore) list(ctx context.Context, where string, args []any, opts domain.ListOpts) ([]domain.RebalancePlan, error) {
	query := `SELECT ` + planColumns + ` FROM rebalance_plans ` + where
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += clause(where != "" || argIdx > 1, argIdx, "created_at >=")
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += clause(where != "" || argIdx > 1, argIdx, "created_at <=")
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.RebalancePlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list plans rows: %w", err)
	}
	return plans, nil
}

// clause appends either a WHERE or an AND predicate depending on whether one
// already exists.
func clause(hasPredicate bool, argIdx int, predicate string) string {
	kw := " WHERE"
	if hasPredicate {
		kw = " AND"
	}
	return fmt.Sprintf("%s %s $%d", kw, predicate, argIdx)
}

func marshalPlanDocs(plan domain.RebalancePlan) (initial, deviations, steps, final []byte, err error) {
	if initial, err = json.Marshal(plan.InitialState); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("postgres: marshal initial state: %w", err)
	}
	if deviations, err = json.Marshal(plan.Deviations); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("postgres: marshal deviations: %w", err)
	}
	if steps, err = json.Marshal(plan.Steps); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("postgres: marshal steps: %w", err)
	}
	if final, err = json.Marshal(plan.ExpectedFinal); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("postgres: marshal expected final: %w", err)
	}
	return initial, deviations, steps, final, nil
}

func scanPlan(row pgx.Row) (domain.RebalancePlan, error) {
	var (
		plan                            domain.RebalancePlan
		status, totalAmount             string
		initial, deviations, steps, fin []byte
		estimatedGas                    int64
		approvedAt                      *time.Time
	)
	err := row.Scan(&plan.PlanID, &status, &plan.TriggerReason,
		&initial, &deviations, &steps,
		&totalAmount, &estimatedGas, &plan.EstimatedSlippage,
		&fin, &plan.CreatedAt, &approvedAt)
	if err != nil {
		return domain.RebalancePlan{}, err
	}

	plan.Status = domain.PlanStatus(status)
	plan.EstimatedGas = uint64(estimatedGas)
	plan.ApprovedAt = approvedAt
	if plan.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
		return domain.RebalancePlan{}, fmt.Errorf("parse total_amount: %w", err)
	}
	if initial != nil {
		if err := json.Unmarshal(initial, &plan.InitialState); err != nil {
			return domain.RebalancePlan{}, fmt.Errorf("unmarshal initial state: %w", err)
		}
	}
	if deviations != nil {
		if err := json.Unmarshal(deviations, &plan.Deviations); err != nil {
			return domain.RebalancePlan{}, fmt.Errorf("unmarshal deviations: %w", err)
		}
	}
	if steps != nil {
		if err := json.Unmarshal(steps, &plan.Steps); err != nil {
			return domain.RebalancePlan{}, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	if fin != nil {
		if err := json.Unmarshal(fin, &plan.ExpectedFinal); err != nil {
			return domain.RebalancePlan{}, fmt.Errorf("unmarshal expected final: %w", err)
		}
	}
	return plan, nil
}

var _ domain.PlanStore = (*PlanStore)(nil)
