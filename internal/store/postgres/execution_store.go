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

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. The
// transaction records travel with their execution as one JSONB document.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `execution_id, plan_id, status, current_step, total_steps,
	completed_steps, transactions, total_gas_used, total_moved, started_at, completed_at, error_message`

// Create inserts a new execution context.
func (s *ExecutionStore) Create(ctx context.Context, ec domain.ExecutionContext) error {
	txs, err := json.Marshal(ec.Transactions)
	if err != nil {
		return fmt.Errorf("postgres: marshal transactions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ec.ExecutionID, ec.PlanID, string(ec.Status), ec.CurrentStep, ec.TotalSteps,
		ec.CompletedSteps, txs, int64(ec.TotalGasUsed), ec.TotalMoved.String(),
		ec.StartedAt, ec.CompletedAt, ec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", ec.ExecutionID, err)
	}
	return nil
}

// Update replaces an existing execution context.
func (s *ExecutionStore) Update(ctx context.Context, ec domain.ExecutionContext) error {
	txs, err := json.Marshal(ec.Transactions)
	if err != nil {
		return fmt.Errorf("postgres: marshal transactions: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE executions SET
			plan_id = $2, status = $3, current_step = $4, total_steps = $5,
			completed_steps = $6, transactions = $7, total_gas_used = $8,
			total_moved = $9, started_at = $10, completed_at = $11, error_message = $12
		WHERE execution_id = $1`,
		ec.ExecutionID, ec.PlanID, string(ec.Status), ec.CurrentStep, ec.TotalSteps,
		ec.CompletedSteps, txs, int64(ec.TotalGasUsed), ec.TotalMoved.String(),
		ec.StartedAt, ec.CompletedAt, ec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("postgres: update execution %s: %w", ec.ExecutionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update execution %s: %w", ec.ExecutionID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns one execution context by id.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionContext, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE execution_id = $1`, id)
	ec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionContext{}, fmt.Errorf("postgres: execution %s: %w", id, domain.ErrNotFound)
		}
		return domain.ExecutionContext{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return ec, nil
}

// ListRecent returns the most recently started executions.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionContext, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionContext
	for rows.Next() {
		ec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		list = append(list, ec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return list, nil
}

func scanExecution(row pgx.Row) (domain.ExecutionContext, error) {
	var (
		ec                 domain.ExecutionContext
		status, totalMoved string
		txs                []byte
		totalGasUsed       int64
		completedAt        *time.Time
	)
	err := row.Scan(&ec.ExecutionID, &ec.PlanID, &status, &ec.CurrentStep, &ec.TotalSteps,
		&ec.CompletedSteps, &txs, &totalGasUsed, &totalMoved,
		&ec.StartedAt, &completedAt, &ec.ErrorMessage)
	if err != nil {
		return domain.ExecutionContext{}, err
	}

	ec.Status = domain.ExecStatus(status)
	ec.TotalGasUsed = uint64(totalGasUsed)
	ec.CompletedAt = completedAt
	if ec.TotalMoved, err = decimal.NewFromString(totalMoved); err != nil {
		return domain.ExecutionContext{}, fmt.Errorf("parse total_moved: %w", err)
	}
	if txs != nil {
		if err := json.Unmarshal(txs, &ec.Transactions); err != nil {
			return domain.ExecutionContext{}, fmt.Errorf("unmarshal transactions: %w", err)
		}
	}
	return ec, nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
