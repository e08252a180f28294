package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TxStatus tracks a single transaction attempt through the submission
// pipeline.
type TxStatus string

const (
	TxStatusPending          TxStatus = "pending"
	TxStatusSimulating       TxStatus = "simulating"
	TxStatusSimulationFailed TxStatus = "simulation_failed"
	TxStatusBuilding         TxStatus = "building"
	TxStatusSigning          TxStatus = "signing"
	TxStatusSubmitted        TxStatus = "submitted"
	TxStatusConfirming       TxStatus = "confirming"
	TxStatusConfirmed        TxStatus = "confirmed"
	TxStatusReverted         TxStatus = "reverted"
	TxStatusTimeout          TxStatus = "timeout"
	TxStatusFailed           TxStatus = "failed"
)

// TransactionRecord is the auditable outcome of one plan step. Every
// terminal failure carries a populated ErrorMessage.
type TransactionRecord struct {
	TxID         string
	StepID       int
	Status       TxStatus
	WalletTier   WalletTier
	FromAddress  common.Address
	ToAddress    common.Address
	Value        decimal.Decimal
	RetryCount   int
	GasUsed      uint64
	BlockNumber  uint64
	TxHash       *common.Hash
	ErrorMessage string
	CreatedAt    time.Time
	SubmittedAt  *time.Time
	ConfirmedAt  *time.Time
}

// ExecStatus tracks one execution attempt of an approved plan.
type ExecStatus string

const (
	ExecStatusPending            ExecStatus = "pending"
	ExecStatusSimulating         ExecStatus = "simulating"
	ExecStatusExecuting          ExecStatus = "executing"
	ExecStatusCompleted          ExecStatus = "completed"
	ExecStatusPartiallyCompleted ExecStatus = "partially_completed"
	ExecStatusFailed             ExecStatus = "failed"
	ExecStatusCancelled          ExecStatus = "cancelled"
)

// Terminal reports whether no further step attempts can happen for this
// status.
func (s ExecStatus) Terminal() bool {
	switch s {
	case ExecStatusCompleted, ExecStatusPartiallyCompleted, ExecStatusFailed, ExecStatusCancelled:
		return true
	default:
		return false
	}
}

// ExecutionContext is the runtime record of one attempt to carry out an
// approved plan. Transactions is append-only: records are never rewritten
// once added.
type ExecutionContext struct {
	ExecutionID    string
	PlanID         string
	Status         ExecStatus
	CurrentStep    int
	TotalSteps     int
	CompletedSteps int
	Transactions   []TransactionRecord
	TotalGasUsed   uint64
	TotalMoved     decimal.Decimal
	StartedAt      time.Time
	CompletedAt    *time.Time
	ErrorMessage   string
}

// Duration returns the wall-clock execution time, zero while still running.
func (e ExecutionContext) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// ExecutionResult is the summary returned to the caller of ExecutePlan.
type ExecutionResult struct {
	ExecutionID    string
	PlanID         string
	Status         ExecStatus
	CompletedSteps int
	TotalSteps     int
	TotalGasUsed   uint64
	TotalMoved     decimal.Decimal
	Duration       time.Duration
	ErrorMessage   string
}
