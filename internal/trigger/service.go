// Package trigger decides when the fund should rebalance. It evaluates
// named trigger conditions against current tier state and asks the strategy
// engine for a plan when one fires, keeping a bounded history of every
// decision.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
	"github.com/meridianlabs/fundbot/internal/strategy"
)

// Config holds the independently toggleable trigger conditions.
type Config struct {
	// ThresholdEnabled turns on the max-deviation trigger.
	ThresholdEnabled bool
	// DeviationThreshold is the absolute deviation above which the
	// threshold trigger fires.
	DeviationThreshold float64

	// LiquidityEnabled turns on the L1 reserve-ratio trigger.
	LiquidityEnabled bool
	// L1MinRatio fires a high-severity trigger when breached.
	L1MinRatio float64
	// L1CriticalRatio fires a critical trigger when breached.
	L1CriticalRatio float64
}

// Service evaluates triggers and drives plan generation through the
// strategy engine.
type Service struct {
	cfg     Config
	engine  *strategy.Engine
	history *history
	logger  *slog.Logger
}

// NewService creates a trigger Service bound to the given strategy engine.
func NewService(cfg Config, engine *strategy.Engine, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		engine:  engine,
		history: newHistory(historyCap),
		logger:  logger.With(slog.String("component", "trigger_service")),
	}
}

// EvaluateAllTriggers runs every enabled trigger and returns all results,
// firing or not, so operators can see why a quiet trigger stayed quiet.
func (s *Service) EvaluateAllTriggers(states []domain.TierState, totalValue decimal.Decimal) []domain.TriggerResult {
	var results []domain.TriggerResult
	if s.cfg.ThresholdEnabled {
		results = append(results, s.evaluateThreshold(states, totalValue))
	}
	if s.cfg.LiquidityEnabled {
		results = append(results, s.evaluateLiquidity(states, totalValue))
	}
	return results
}

// evaluateThreshold compares the largest absolute deviation across tiers
// against the configured threshold.
func (s *Service) evaluateThreshold(states []domain.TierState, totalValue decimal.Decimal) domain.TriggerResult {
	res := domain.TriggerResult{
		Type:   domain.TriggerThreshold,
		EvalAt: time.Now().UTC(),
	}

	maxDev := 0.0
	worst := domain.Tier("")
	for _, d := range s.engine.CalculateDeviations(states, totalValue) {
		abs := d.Deviation
		if abs < 0 {
			abs = -abs
		}
		if abs > maxDev {
			maxDev = abs
			worst = d.Tier
		}
	}
	res.Metric = maxDev

	if maxDev > s.cfg.DeviationThreshold {
		res.Triggered = true
		res.Severity = domain.SeverityHigh
		res.Reason = fmt.Sprintf("max deviation %.4f on %s exceeds threshold %.4f",
			maxDev, worst, s.cfg.DeviationThreshold)
	} else {
		res.Severity = domain.SeverityNormal
		res.Reason = fmt.Sprintf("max deviation %.4f within threshold %.4f",
			maxDev, s.cfg.DeviationThreshold)
	}
	return res
}

// evaluateLiquidity checks the L1 reserve ratio against the minimum and
// critical floors. With no L1 state or an empty portfolio the trigger never
// fires.
func (s *Service) evaluateLiquidity(states []domain.TierState, totalValue decimal.Decimal) domain.TriggerResult {
	res := domain.TriggerResult{
		Type:   domain.TriggerLiquidity,
		EvalAt: time.Now().UTC(),
	}

	var l1 *domain.TierState
	for i := range states {
		if states[i].Tier == domain.TierL1 {
			l1 = &states[i]
			break
		}
	}
	if l1 == nil || !totalValue.IsPositive() {
		res.Reason = "no L1 state available"
		return res
	}

	ratio := l1.Ratio
	if ratio == 0 {
		ratio = l1.Value.Div(totalValue).InexactFloat64()
	}
	res.Metric = ratio

	switch {
	case ratio < s.cfg.L1CriticalRatio:
		res.Triggered = true
		res.Severity = domain.SeverityCritical
		res.Reason = fmt.Sprintf("L1 ratio %.4f below critical %.4f", ratio, s.cfg.L1CriticalRatio)
	case ratio < s.cfg.L1MinRatio:
		res.Triggered = true
		res.Severity = domain.SeverityHigh
		res.Reason = fmt.Sprintf("L1 ratio %.4f below minimum %.4f", ratio, s.cfg.L1MinRatio)
	default:
		res.Reason = fmt.Sprintf("L1 ratio %.4f healthy", ratio)
	}
	return res
}

// ShouldRebalance reduces the fired triggers to a single winner by severity:
// critical beats high beats any other fired trigger. The second return is
// the winning result; its zero value when no trigger fired.
func (s *Service) ShouldRebalance(states []domain.TierState, totalValue decimal.Decimal) (bool, domain.TriggerResult) {
	results := s.EvaluateAllTriggers(states, totalValue)

	var winner domain.TriggerResult
	fired := false
	for _, r := range results {
		if !r.Triggered {
			continue
		}
		if !fired || severityRank(r.Severity) > severityRank(winner.Severity) {
			winner = r
			fired = true
		}
	}
	return fired, winner
}

func severityRank(s domain.TriggerSeverity) int {
	switch s {
	case domain.SeverityCritical:
		return 3
	case domain.SeverityHigh:
		return 2
	default:
		return 1
	}
}

// TriggerManual always generates a plan with the supplied reason and records
// a manual history entry.
func (s *Service) TriggerManual(ctx context.Context, states []domain.TierState, totalValue decimal.Decimal, reason string) (domain.RebalancePlan, error) {
	plan, err := s.engine.GenerateRebalancePlan(ctx, states, totalValue, reason)
	if err != nil {
		return domain.RebalancePlan{}, fmt.Errorf("trigger: manual: %w", err)
	}

	s.history.add(domain.TriggerHistoryEntry{
		Type:      domain.TriggerManual,
		Triggered: true,
		Reason:    reason,
		PlanID:    plan.PlanID,
		At:        time.Now().UTC(),
	})
	s.logger.Info("manual rebalance triggered",
		slog.String("plan_id", plan.PlanID),
		slog.String("reason", reason),
	)
	return plan, nil
}

// TriggerAutomatic evaluates all triggers and generates a plan only when one
// fires. It returns nil without error when no trigger fired; the non-event
// is still recorded in history.
func (s *Service) TriggerAutomatic(ctx context.Context, states []domain.TierState, totalValue decimal.Decimal) (*domain.RebalancePlan, error) {
	fired, winner := s.ShouldRebalance(states, totalValue)
	if !fired {
		s.history.add(domain.TriggerHistoryEntry{
			Type:      domain.TriggerThreshold,
			Triggered: false,
			Reason:    "no trigger conditions met",
			At:        time.Now().UTC(),
		})
		s.logger.Debug("no trigger fired")
		return nil, nil
	}

	plan, err := s.engine.GenerateRebalancePlan(ctx, states, totalValue, winner.Reason)
	if err != nil {
		return nil, fmt.Errorf("trigger: automatic: %w", err)
	}

	s.history.add(domain.TriggerHistoryEntry{
		Type:      winner.Type,
		Triggered: true,
		Severity:  winner.Severity,
		Reason:    winner.Reason,
		PlanID:    plan.PlanID,
		At:        time.Now().UTC(),
	})
	s.logger.Info("automatic rebalance triggered",
		slog.String("plan_id", plan.PlanID),
		slog.String("trigger", string(winner.Type)),
		slog.String("severity", string(winner.Severity)),
		slog.String("reason", winner.Reason),
	)
	return &plan, nil
}

// HistoryQuery filters trigger history lookups.
type HistoryQuery struct {
	Type          *domain.TriggerType
	TriggeredOnly bool
	Limit         int
}

// History returns recorded trigger decisions, most recent first.
func (s *Service) History(q HistoryQuery) []domain.TriggerHistoryEntry {
	return s.history.query(q)
}
