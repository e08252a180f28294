package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// targetSumTolerance is how far the configured target ratios may drift from
// summing to 1.0 before a warning is logged.
const targetSumTolerance = 0.001

// Engine owns the tier configuration and the lifecycle of every generated
// rebalance plan. Plans live in the injected PlanStore; the engine is the
// only writer and serialises approve/cancel/generate through its mutex.
// The engine never transitions a plan to executing or completed itself --
// those transitions belong to the execution engine, which works on its own
// copy of the plan.
type Engine struct {
	calc    *Calculator
	builder *PlanBuilder
	plans   domain.PlanStore
	audit   domain.AuditStore // optional
	logger  *slog.Logger

	mu sync.Mutex
}

// NewEngine creates a strategy Engine. The audit store may be nil, in which
// case lifecycle events are only logged.
func NewEngine(configs []domain.TierConfig, plans domain.PlanStore, audit domain.AuditStore, logger *slog.Logger) *Engine {
	e := &Engine{
		calc:    NewCalculator(configs),
		builder: NewPlanBuilder(),
		plans:   plans,
		audit:   audit,
		logger:  logger.With(slog.String("component", "strategy_engine")),
	}

	sum := 0.0
	for _, c := range configs {
		sum += c.TargetRatio
	}
	if math.Abs(sum-1.0) > targetSumTolerance {
		e.logger.Warn("tier target ratios do not sum to 1.0",
			slog.Float64("sum", sum),
		)
	}
	return e
}

// Calculator exposes the engine's deviation calculator for callers that
// only need the pure math (trigger evaluation, reporting).
func (e *Engine) Calculator() *Calculator {
	return e.calc
}

// CalculateDeviations computes the current deviation set for the supplied
// tier snapshots.
func (e *Engine) CalculateDeviations(states []domain.TierState, totalValue decimal.Decimal) []domain.TierDeviation {
	return e.calc.Calculate(states, totalValue)
}

// GenerateRebalancePlan builds a draft plan correcting the current
// deviations and stores it. A plan with zero steps is still a valid plan;
// it records that the fund was already on target when the trigger fired.
func (e *Engine) GenerateRebalancePlan(ctx context.Context, states []domain.TierState, totalValue decimal.Decimal, reason string) (domain.RebalancePlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	devs := e.calc.Calculate(states, totalValue)
	steps := e.builder.BuildSteps(devs, totalValue)

	totalAmount := decimal.Zero
	for _, s := range steps {
		totalAmount = totalAmount.Add(s.Amount)
	}

	initial := make([]domain.TierState, len(states))
	copy(initial, states)

	plan := domain.RebalancePlan{
		PlanID:            "plan_" + uuid.New().String(),
		Status:            domain.PlanStatusDraft,
		TriggerReason:     reason,
		InitialState:      initial,
		Deviations:        devs,
		Steps:             steps,
		TotalAmount:       totalAmount,
		EstimatedGas:      e.builder.EstimateGas(steps),
		EstimatedSlippage: e.builder.EstimateSlippage(steps, totalValue),
		ExpectedFinal:     e.builder.ExpectedFinalState(states, steps, totalValue),
		CreatedAt:         time.Now().UTC(),
	}

	if err := e.plans.Create(ctx, plan); err != nil {
		return domain.RebalancePlan{}, fmt.Errorf("strategy: store plan: %w", err)
	}

	e.logger.Info("rebalance plan generated",
		slog.String("plan_id", plan.PlanID),
		slog.String("reason", reason),
		slog.Int("steps", len(steps)),
		slog.String("total_amount", totalAmount.String()),
	)
	e.auditLog(ctx, "plan_generated", map[string]any{
		"plan_id": plan.PlanID,
		"reason":  reason,
		"steps":   len(steps),
	})
	return plan, nil
}

// ApprovePlan moves a draft plan to approved and timestamps the approval.
// It fails with domain.ErrNotFound for unknown ids and domain.ErrInvalidState
// for plans that have left draft.
func (e *Engine) ApprovePlan(ctx context.Context, planID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, err := e.plans.GetByID(ctx, planID)
	if err != nil {
		return fmt.Errorf("strategy: approve plan %s: %w", planID, err)
	}
	if plan.Status != domain.PlanStatusDraft {
		return fmt.Errorf("strategy: plan %s not in draft (status %s): %w",
			planID, plan.Status, domain.ErrInvalidState)
	}

	now := time.Now().UTC()
	plan.Status = domain.PlanStatusApproved
	plan.ApprovedAt = &now
	if err := e.plans.Update(ctx, plan); err != nil {
		return fmt.Errorf("strategy: approve plan %s: %w", planID, err)
	}

	e.logger.Info("plan approved", slog.String("plan_id", planID))
	e.auditLog(ctx, "plan_approved", map[string]any{"plan_id": planID})
	return nil
}

// CancelPlan cancels a draft or approved plan. Plans that are executing or
// already completed cannot be cancelled.
func (e *Engine) CancelPlan(ctx context.Context, planID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, err := e.plans.GetByID(ctx, planID)
	if err != nil {
		return fmt.Errorf("strategy: cancel plan %s: %w", planID, err)
	}
	switch plan.Status {
	case domain.PlanStatusCompleted, domain.PlanStatusExecuting:
		return fmt.Errorf("strategy: cannot cancel plan %s in status %s: %w",
			planID, plan.Status, domain.ErrInvalidState)
	}

	plan.Status = domain.PlanStatusCancelled
	if err := e.plans.Update(ctx, plan); err != nil {
		return fmt.Errorf("strategy: cancel plan %s: %w", planID, err)
	}

	e.logger.Info("plan cancelled", slog.String("plan_id", planID))
	e.auditLog(ctx, "plan_cancelled", map[string]any{"plan_id": planID})
	return nil
}

// GetPlan returns a stored plan by id.
func (e *Engine) GetPlan(ctx context.Context, planID string) (domain.RebalancePlan, error) {
	plan, err := e.plans.GetByID(ctx, planID)
	if err != nil {
		return domain.RebalancePlan{}, fmt.Errorf("strategy: get plan %s: %w", planID, err)
	}
	return plan, nil
}

// ListPlans returns stored plans, newest first.
func (e *Engine) ListPlans(ctx context.Context, opts domain.ListOpts) ([]domain.RebalancePlan, error) {
	plans, err := e.plans.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("strategy: list plans: %w", err)
	}
	return plans, nil
}

// GenerateWaterfallLiquidation builds a cascading liquidation plan that
// replenishes L1 by targetAmount from the less-constrained tiers.
func (e *Engine) GenerateWaterfallLiquidation(targetAmount decimal.Decimal, states []domain.TierState) domain.WaterfallPlan {
	liq := NewWaterfallLiquidator(e.calc)
	plan := liq.Build(targetAmount, states)
	if plan.RemainingDeficit.IsPositive() {
		e.logger.Warn("waterfall liquidation cannot cover target",
			slog.String("target", targetAmount.String()),
			slog.String("deficit", plan.RemainingDeficit.String()),
		)
	}
	return plan
}

// Stats aggregates plan counts by status and the total volume moved across
// completed plans.
func (e *Engine) Stats(ctx context.Context) (domain.PlanStats, error) {
	plans, err := e.plans.List(ctx, domain.ListOpts{})
	if err != nil {
		return domain.PlanStats{}, fmt.Errorf("strategy: stats: %w", err)
	}

	stats := domain.PlanStats{
		Total:       len(plans),
		ByStatus:    make(map[domain.PlanStatus]int),
		TotalVolume: decimal.Zero,
	}
	for _, p := range plans {
		stats.ByStatus[p.Status]++
		if p.Status == domain.PlanStatusCompleted {
			stats.TotalVolume = stats.TotalVolume.Add(p.TotalAmount)
		}
	}
	return stats, nil
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.Warn("audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
