package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StepAction is the kind of movement a plan step performs.
type StepAction string

const (
	ActionSwap      StepAction = "swap"
	ActionLiquidate StepAction = "liquidate"
	ActionDeposit   StepAction = "deposit"
	ActionWithdraw  StepAction = "withdraw"
)

// PlanStep is one transfer in a rebalance plan. StepID is sequential and
// 1-based within its plan. Priority orders execution: lower runs first, and
// priority equals the liquidity rank of the destination tier so transfers
// replenishing L1 always run before the rest.
type PlanStep struct {
	StepID   int
	Action   StepAction
	FromTier Tier
	ToTier   Tier
	Amount   decimal.Decimal
	Priority int
	Notes    string
}

// PlanStatus tracks the rebalance plan lifecycle.
type PlanStatus string

const (
	PlanStatusDraft              PlanStatus = "draft"
	PlanStatusApproved           PlanStatus = "approved"
	PlanStatusExecuting          PlanStatus = "executing"
	PlanStatusCompleted          PlanStatus = "completed"
	PlanStatusPartiallyCompleted PlanStatus = "partially_completed"
	PlanStatusFailed             PlanStatus = "failed"
	PlanStatusCancelled          PlanStatus = "cancelled"
)

// RebalancePlan is an ordered set of transfer steps intended to correct tier
// deviations. Plans start in draft and must be approved before the executor
// will touch them.
type RebalancePlan struct {
	PlanID            string
	Status            PlanStatus
	TriggerReason     string
	InitialState      []TierState     // snapshot at generation time
	Deviations        []TierDeviation // snapshot at generation time
	Steps             []PlanStep      // priority-sorted
	TotalAmount       decimal.Decimal
	EstimatedGas      uint64
	EstimatedSlippage float64
	ExpectedFinal     []TierState
	CreatedAt         time.Time
	ApprovedAt        *time.Time
}

// WaterfallPlan is a cascading liquidation plan replenishing L1 from the
// less-constrained tiers. RemainingDeficit > 0 means the eligible tiers
// could not cover the full target amount; that is reported, not fatal.
type WaterfallPlan struct {
	TargetAmount     decimal.Decimal
	Steps            []PlanStep
	TotalLiquidated  decimal.Decimal
	RemainingDeficit decimal.Decimal
}

// PlanStats aggregates plan counts by status. TotalVolume accumulates the
// TotalAmount of completed plans only.
type PlanStats struct {
	Total       int
	ByStatus    map[PlanStatus]int
	TotalVolume decimal.Decimal
}
