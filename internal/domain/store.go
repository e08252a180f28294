package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PlanStore persists rebalance plans. The strategy engine is the only
// writer; implementations do not need optimistic locking.
type PlanStore interface {
	Create(ctx context.Context, plan RebalancePlan) error
	Update(ctx context.Context, plan RebalancePlan) error
	GetByID(ctx context.Context, id string) (RebalancePlan, error)
	ListByStatus(ctx context.Context, status PlanStatus, opts ListOpts) ([]RebalancePlan, error)
	List(ctx context.Context, opts ListOpts) ([]RebalancePlan, error)
}

// ExecutionStore persists execution contexts. Contexts are engine-owned and
// keyed by execution id, independent of the plan records they execute.
type ExecutionStore interface {
	Create(ctx context.Context, ec ExecutionContext) error
	Update(ctx context.Context, ec ExecutionContext) error
	GetByID(ctx context.Context, id string) (ExecutionContext, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionContext, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of plan lifecycle and
// execution events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// UsageLedger tracks per-wallet-tier daily spend. Reserve must atomically
// check the limit and hold the amount so that two concurrent executions
// cannot both pass a daily-limit check before either commits; Commit
// converts a reservation to confirmed usage and Release returns it after a
// failed attempt. Usage reports confirmed spend only.
type UsageLedger interface {
	Reserve(ctx context.Context, tier WalletTier, amount, dailyLimit decimal.Decimal) error
	Commit(ctx context.Context, tier WalletTier, amount decimal.Decimal) error
	Release(ctx context.Context, tier WalletTier, amount decimal.Decimal) error
	Usage(ctx context.Context) (map[WalletTier]decimal.Decimal, error)
	Reset(ctx context.Context) error
}

// LockManager provides distributed locking for multi-instance deployments.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
