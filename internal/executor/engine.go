package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// RetryPolicy controls how the engine retries failed step attempts.
type RetryPolicy struct {
	MaxRetries         int
	BaseDelay          time.Duration
	ExponentialBackoff bool
	MaxDelay           time.Duration
	RetryOn            []domain.TxStatus
}

// DefaultRetryPolicy retries transient failures up to three times with
// exponential backoff. Reverted transactions are not retried: a revert is a
// decision by the chain, not a transport hiccup.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         3,
		BaseDelay:          time.Second,
		ExponentialBackoff: true,
		MaxDelay:           30 * time.Second,
		RetryOn:            []domain.TxStatus{domain.TxStatusFailed, domain.TxStatusTimeout},
	}
}

// Retryable reports whether a terminal attempt status qualifies for another
// attempt.
func (p RetryPolicy) Retryable(status domain.TxStatus) bool {
	for _, s := range p.RetryOn {
		if s == status {
			return true
		}
	}
	return false
}

// Delay returns the wait before the given retry attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if !p.ExponentialBackoff || attempt <= 1 {
		return p.BaseDelay
	}
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Config holds execution engine settings.
type Config struct {
	// SimulationEnabled runs a dry-run before every submission. A failed
	// simulation aborts the attempt without touching the chain.
	SimulationEnabled bool
	// GasMultiplier pads the simulated gas estimate, e.g. 1.2 for 20%.
	GasMultiplier float64
	// Confirmations is the block depth required before a transaction counts
	// as confirmed.
	Confirmations int
	// ConfirmTimeout bounds the wait for confirmation of one submission.
	ConfirmTimeout time.Duration
	// ParallelSteps > 1 dispatches that many steps concurrently. Parallel
	// runs continue past individual step failures; sequential runs stop at
	// the first.
	ParallelSteps int
	// TierAddresses maps each portfolio tier to its custody account, the
	// destination of transfers into that tier.
	TierAddresses map[domain.Tier]common.Address
	Retry         RetryPolicy
}

// Engine executes approved rebalance plans step by step. Each step becomes
// one transaction driven through a simulate/sign/submit/confirm pipeline
// with wallet selection and per-tier daily limits enforced up front.
type Engine struct {
	cfg       Config
	selector  *Selector
	submitter Submitter
	signer    Signer
	ledger    domain.UsageLedger
	plans     domain.PlanStore
	execs     domain.ExecutionStore
	audit     domain.AuditStore
	logger    *slog.Logger

	mu        sync.Mutex
	cancelled map[string]struct{}
}

// NewEngine creates an execution engine. signer may be nil, in which case
// the signing stage is skipped and requests go out unsigned (simulation
// deployments only).
func NewEngine(
	cfg Config,
	selector *Selector,
	submitter Submitter,
	signer Signer,
	ledger domain.UsageLedger,
	plans domain.PlanStore,
	execs domain.ExecutionStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Engine {
	if cfg.GasMultiplier <= 0 {
		cfg.GasMultiplier = 1.0
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	return &Engine{
		cfg:       cfg,
		selector:  selector,
		submitter: submitter,
		signer:    signer,
		ledger:    ledger,
		plans:     plans,
		execs:     execs,
		audit:     audit,
		logger:    logger.With(slog.String("component", "executor")),
		cancelled: make(map[string]struct{}),
	}
}

// ExecutePlan runs every step of an approved plan and returns a summary.
// Plans in any other status are rejected with domain.ErrInvalidState before
// any side effect. Step failures surface in the result's status and
// transaction records, not as an error return.
func (e *Engine) ExecutePlan(ctx context.Context, planID string) (domain.ExecutionResult, error) {
	plan, err := e.plans.GetByID(ctx, planID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("executor: load plan %s: %w", planID, err)
	}
	if plan.Status != domain.PlanStatusApproved {
		return domain.ExecutionResult{}, fmt.Errorf("executor: plan %s is %s, want %s: %w",
			planID, plan.Status, domain.PlanStatusApproved, domain.ErrInvalidState)
	}

	ec := domain.ExecutionContext{
		ExecutionID: "exec_" + uuid.NewString(),
		PlanID:      planID,
		Status:      domain.ExecStatusExecuting,
		TotalSteps:  len(plan.Steps),
		TotalMoved:  decimal.Zero,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.execs.Create(ctx, ec); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("executor: create execution: %w", err)
	}
	plan.Status = domain.PlanStatusExecuting
	if err := e.plans.Update(ctx, plan); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("executor: mark plan executing: %w", err)
	}
	e.logger.Info("execution started",
		slog.String("execution_id", ec.ExecutionID),
		slog.String("plan_id", planID),
		slog.Int("steps", len(plan.Steps)),
		slog.Bool("parallel", e.cfg.ParallelSteps > 1))
	e.auditLog(ctx, "execution.started", map[string]any{
		"execution_id": ec.ExecutionID,
		"plan_id":      planID,
		"steps":        len(plan.Steps),
	})

	if e.cfg.ParallelSteps > 1 {
		e.runParallel(ctx, &ec, plan.Steps)
	} else {
		e.runSequential(ctx, &ec, plan.Steps)
	}

	now := time.Now().UTC()
	ec.CompletedAt = &now
	if ec.Status == domain.ExecStatusExecuting {
		ec.Status = finalStatus(ec.CompletedSteps, ec.TotalSteps)
	}
	if err := e.execs.Update(ctx, ec); err != nil {
		e.logger.Error("persist execution", slog.String("execution_id", ec.ExecutionID), slog.Any("error", err))
	}
	plan.Status = planStatusFor(ec.Status)
	if err := e.plans.Update(ctx, plan); err != nil {
		e.logger.Error("persist plan status", slog.String("plan_id", planID), slog.Any("error", err))
	}

	e.mu.Lock()
	delete(e.cancelled, ec.ExecutionID)
	e.mu.Unlock()

	e.logger.Info("execution finished",
		slog.String("execution_id", ec.ExecutionID),
		slog.String("status", string(ec.Status)),
		slog.Int("completed", ec.CompletedSteps),
		slog.Int("total", ec.TotalSteps),
		slog.Uint64("gas_used", ec.TotalGasUsed))
	e.auditLog(ctx, "execution.finished", map[string]any{
		"execution_id": ec.ExecutionID,
		"plan_id":      planID,
		"status":       string(ec.Status),
		"completed":    ec.CompletedSteps,
		"total":        ec.TotalSteps,
	})

	return domain.ExecutionResult{
		ExecutionID:    ec.ExecutionID,
		PlanID:         ec.PlanID,
		Status:         ec.Status,
		CompletedSteps: ec.CompletedSteps,
		TotalSteps:     ec.TotalSteps,
		TotalGasUsed:   ec.TotalGasUsed,
		TotalMoved:     ec.TotalMoved,
		Duration:       ec.Duration(),
		ErrorMessage:   ec.ErrorMessage,
	}, nil
}

// runSequential executes steps in order and stops at the first failure or
// cancellation.
func (e *Engine) runSequential(ctx context.Context, ec *domain.ExecutionContext, steps []domain.PlanStep) {
	for i, step := range steps {
		if e.isCancelled(ec.ExecutionID) {
			ec.Status = domain.ExecStatusCancelled
			ec.ErrorMessage = "cancelled before step " + fmt.Sprint(step.StepID)
			return
		}
		if err := ctx.Err(); err != nil {
			ec.Status = domain.ExecStatusCancelled
			ec.ErrorMessage = err.Error()
			return
		}
		ec.CurrentStep = i + 1
		rec := e.executeStep(ctx, ec.ExecutionID, step)
		e.applyRecord(ec, rec)
		if err := e.execs.Update(ctx, *ec); err != nil {
			e.logger.Error("persist step progress", slog.String("execution_id", ec.ExecutionID), slog.Any("error", err))
		}
		if rec.Status != domain.TxStatusConfirmed {
			ec.ErrorMessage = fmt.Sprintf("step %d: %s", step.StepID, rec.ErrorMessage)
			return
		}
	}
}

// runParallel dispatches up to ParallelSteps steps at a time. Unlike the
// sequential path it keeps going past failures; records are merged back in
// step order so the transaction log stays deterministic.
func (e *Engine) runParallel(ctx context.Context, ec *domain.ExecutionContext, steps []domain.PlanStep) {
	records := make([]domain.TransactionRecord, len(steps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ParallelSteps)
	for i, step := range steps {
		if e.isCancelled(ec.ExecutionID) {
			records[i] = skippedRecord(step, "cancelled")
			continue
		}
		g.Go(func() error {
			records[i] = e.executeStep(gctx, ec.ExecutionID, step)
			return nil
		})
	}
	// Goroutines never return errors; Wait only synchronizes.
	_ = g.Wait()

	var firstErr string
	for _, rec := range records {
		e.applyRecord(ec, rec)
		if rec.Status != domain.TxStatusConfirmed && firstErr == "" {
			firstErr = fmt.Sprintf("step %d: %s", rec.StepID, rec.ErrorMessage)
		}
	}
	ec.CurrentStep = len(steps)
	ec.ErrorMessage = firstErr
	if e.isCancelled(ec.ExecutionID) {
		ec.Status = domain.ExecStatusCancelled
	}
}

// applyRecord folds one transaction record into the execution totals.
func (e *Engine) applyRecord(ec *domain.ExecutionContext, rec domain.TransactionRecord) {
	ec.Transactions = append(ec.Transactions, rec)
	if rec.Status == domain.TxStatusConfirmed {
		ec.CompletedSteps++
		ec.TotalGasUsed += rec.GasUsed
		ec.TotalMoved = ec.TotalMoved.Add(rec.Value)
	}
}

// executeStep drives one step through the attempt pipeline, retrying per the
// policy. The returned record is the final attempt's; RetryCount reflects
// how many retries it took.
func (e *Engine) executeStep(ctx context.Context, executionID string, step domain.PlanStep) domain.TransactionRecord {
	policy := e.cfg.Retry
	var rec domain.TransactionRecord
	for attempt := 0; ; attempt++ {
		rec = e.attemptStep(ctx, step)
		rec.RetryCount = attempt
		if rec.Status == domain.TxStatusConfirmed {
			return rec
		}
		e.logger.Warn("step attempt failed",
			slog.String("execution_id", executionID),
			slog.Int("step_id", step.StepID),
			slog.Int("attempt", attempt),
			slog.String("status", string(rec.Status)),
			slog.String("error", rec.ErrorMessage))
		if attempt >= policy.MaxRetries || !policy.Retryable(rec.Status) {
			if attempt >= policy.MaxRetries && policy.Retryable(rec.Status) {
				rec.ErrorMessage = fmt.Sprintf("%s: %s", domain.ErrRetriesExhausted, rec.ErrorMessage)
			}
			return rec
		}
		if err := sleepCtx(ctx, policy.Delay(attempt+1)); err != nil {
			rec.ErrorMessage = fmt.Sprintf("%s: %s", err, rec.ErrorMessage)
			return rec
		}
	}
}

// attemptStep is one pass through the transaction pipeline: select wallet,
// simulate, build, sign, submit, await confirmation. The daily usage hold is
// committed only on confirmation and released on every other exit.
func (e *Engine) attemptStep(ctx context.Context, step domain.PlanStep) domain.TransactionRecord {
	rec := domain.TransactionRecord{
		TxID:      "tx_" + uuid.NewString(),
		StepID:    step.StepID,
		Status:    domain.TxStatusPending,
		ToAddress: e.cfg.TierAddresses[step.ToTier],
		Value:     step.Amount,
		CreatedAt: time.Now().UTC(),
	}

	wallet, err := e.selector.Select(ctx, step.Amount)
	if err != nil {
		rec.Status = domain.TxStatusFailed
		rec.ErrorMessage = err.Error()
		return rec
	}
	rec.WalletTier = wallet.Tier
	rec.FromAddress = wallet.Address

	release := func() {
		if rerr := e.selector.Release(ctx, wallet.Tier, step.Amount); rerr != nil {
			e.logger.Error("release reservation",
				slog.String("tx_id", rec.TxID),
				slog.String("tier", string(wallet.Tier)),
				slog.Any("error", rerr))
		}
	}

	req := TxRequest{
		TxID:   rec.TxID,
		StepID: step.StepID,
		From:   wallet.Address,
		To:     rec.ToAddress,
		Value:  step.Amount,
	}

	var gasEstimate uint64
	if e.cfg.SimulationEnabled {
		rec.Status = domain.TxStatusSimulating
		sim, err := e.submitter.Simulate(ctx, req)
		if err != nil {
			rec.Status = domain.TxStatusFailed
			rec.ErrorMessage = err.Error()
			release()
			return rec
		}
		if !sim.Success {
			rec.Status = domain.TxStatusSimulationFailed
			rec.ErrorMessage = fmt.Sprintf("%s: %s", domain.ErrSimulationFailed, sim.Error)
			release()
			return rec
		}
		gasEstimate = sim.GasEstimate
	}

	rec.Status = domain.TxStatusBuilding

	if e.signer != nil {
		rec.Status = domain.TxStatusSigning
		if err := e.signer.SignTransfer(&req); err != nil {
			rec.Status = domain.TxStatusFailed
			rec.ErrorMessage = fmt.Sprintf("%s: %s", domain.ErrSigningFailed, err)
			release()
			return rec
		}
	}

	hash, err := e.submitter.Submit(ctx, req, wallet.Tier)
	if err != nil {
		rec.Status = domain.TxStatusFailed
		rec.ErrorMessage = fmt.Sprintf("%s: %s", domain.ErrSubmissionFailed, err)
		release()
		return rec
	}
	now := time.Now().UTC()
	rec.Status = domain.TxStatusSubmitted
	rec.TxHash = &hash
	rec.SubmittedAt = &now

	rec.Status = domain.TxStatusConfirming
	cctx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	conf, err := e.submitter.AwaitConfirmation(cctx, hash, e.cfg.Confirmations)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			rec.Status = domain.TxStatusTimeout
			rec.ErrorMessage = domain.ErrConfirmTimeout.Error()
		} else {
			rec.Status = domain.TxStatusFailed
			rec.ErrorMessage = err.Error()
		}
		release()
		return rec
	}
	if !conf.Success {
		rec.Status = domain.TxStatusReverted
		rec.ErrorMessage = fmt.Sprintf("%s: %s", domain.ErrReverted, conf.Error)
		release()
		return rec
	}

	if err := e.selector.Commit(ctx, wallet.Tier, step.Amount); err != nil {
		e.logger.Error("commit usage",
			slog.String("tx_id", rec.TxID),
			slog.String("tier", string(wallet.Tier)),
			slog.Any("error", err))
	}
	confirmed := time.Now().UTC()
	rec.Status = domain.TxStatusConfirmed
	rec.BlockNumber = conf.BlockNumber
	rec.ConfirmedAt = &confirmed
	rec.GasUsed = conf.GasUsed
	if e.cfg.SimulationEnabled && gasEstimate > 0 {
		rec.GasUsed = uint64(float64(gasEstimate) * e.cfg.GasMultiplier)
	}
	return rec
}

// CancelExecution requests a running execution to stop. In-flight steps
// finish; the flag is consulted before each subsequent dispatch. Terminal
// executions are rejected with domain.ErrInvalidState.
func (e *Engine) CancelExecution(ctx context.Context, executionID string) error {
	ec, err := e.execs.GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("executor: load execution %s: %w", executionID, err)
	}
	if ec.Status.Terminal() {
		return fmt.Errorf("executor: execution %s already %s: %w", executionID, ec.Status, domain.ErrInvalidState)
	}
	e.mu.Lock()
	e.cancelled[executionID] = struct{}{}
	e.mu.Unlock()
	e.logger.Info("execution cancel requested", slog.String("execution_id", executionID))
	e.auditLog(ctx, "execution.cancel_requested", map[string]any{"execution_id": executionID})
	return nil
}

// GetExecution returns one execution context by id.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (domain.ExecutionContext, error) {
	return e.execs.GetByID(ctx, executionID)
}

// DailyUsage reports confirmed spend per wallet tier since the last reset.
func (e *Engine) DailyUsage(ctx context.Context) (map[domain.WalletTier]decimal.Decimal, error) {
	return e.ledger.Usage(ctx)
}

// ResetDailyUsage zeroes the usage ledger, typically from a midnight cron.
func (e *Engine) ResetDailyUsage(ctx context.Context) error {
	if err := e.ledger.Reset(ctx); err != nil {
		return fmt.Errorf("executor: reset usage: %w", err)
	}
	e.auditLog(ctx, "usage.reset", nil)
	return nil
}

func (e *Engine) isCancelled(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.cancelled[executionID]
	return ok
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.Warn("audit log", slog.String("event", event), slog.Any("error", err))
	}
}

// finalStatus applies the completion law: all steps confirmed means
// completed, none means failed, anything in between is partial.
func finalStatus(completed, total int) domain.ExecStatus {
	switch {
	case completed == total:
		return domain.ExecStatusCompleted
	case completed == 0:
		return domain.ExecStatusFailed
	default:
		return domain.ExecStatusPartiallyCompleted
	}
}

func planStatusFor(s domain.ExecStatus) domain.PlanStatus {
	switch s {
	case domain.ExecStatusCompleted:
		return domain.PlanStatusCompleted
	case domain.ExecStatusPartiallyCompleted:
		return domain.PlanStatusPartiallyCompleted
	case domain.ExecStatusCancelled:
		return domain.PlanStatusCancelled
	default:
		return domain.PlanStatusFailed
	}
}

func skippedRecord(step domain.PlanStep, reason string) domain.TransactionRecord {
	return domain.TransactionRecord{
		TxID:         "tx_" + uuid.NewString(),
		StepID:       step.StepID,
		Status:       domain.TxStatusFailed,
		Value:        step.Amount,
		ErrorMessage: reason,
		CreatedAt:    time.Now().UTC(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return domain.ErrContextDone
	case <-t.C:
		return nil
	}
}
