package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
	"github.com/meridianlabs/fundbot/internal/store/memory"
	"github.com/meridianlabs/fundbot/internal/strategy"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	configs := []domain.TierConfig{
		{Tier: domain.TierL1, TargetRatio: 0.10, MinRatio: 0.05, MaxRatio: 0.20, RebalanceThreshold: 0.02},
		{Tier: domain.TierL2, TargetRatio: 0.30, MinRatio: 0.20, MaxRatio: 0.40, RebalanceThreshold: 0.03},
		{Tier: domain.TierL3, TargetRatio: 0.60, MinRatio: 0.40, MaxRatio: 0.70, RebalanceThreshold: 0.03},
	}
	eng := strategy.NewEngine(configs, memory.NewPlanStore(), nil, slog.Default())
	return NewService(cfg, eng, slog.Default())
}

func defaultConfig() Config {
	return Config{
		ThresholdEnabled:   true,
		DeviationThreshold: 0.05,
		LiquidityEnabled:   true,
		L1MinRatio:         0.08,
		L1CriticalRatio:    0.05,
	}
}

func TestLiquidityTriggerSeverity(t *testing.T) {
	svc := newTestService(t, defaultConfig())

	tests := []struct {
		name          string
		l1Value       int64
		wantTriggered bool
		wantSeverity  domain.TriggerSeverity
	}{
		{"critical below 5%", 3_000, true, domain.SeverityCritical},
		{"high below 8%", 7_000, true, domain.SeverityHigh},
		{"healthy at 10%", 10_000, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			states := []domain.TierState{
				{Tier: domain.TierL1, Value: dec(tt.l1Value)},
				{Tier: domain.TierL2, Value: dec(30_000)},
				{Tier: domain.TierL3, Value: dec(100_000 - 30_000 - tt.l1Value)},
			}
			res := svc.evaluateLiquidity(states, dec(100_000))
			if res.Triggered != tt.wantTriggered {
				t.Errorf("triggered = %v, want %v (%s)", res.Triggered, tt.wantTriggered, res.Reason)
			}
			if tt.wantTriggered && res.Severity != tt.wantSeverity {
				t.Errorf("severity = %s, want %s", res.Severity, tt.wantSeverity)
			}
		})
	}
}

func TestLiquidityTriggerEdgeCases(t *testing.T) {
	svc := newTestService(t, defaultConfig())

	// No L1 state at all.
	res := svc.evaluateLiquidity([]domain.TierState{
		{Tier: domain.TierL2, Value: dec(50_000)},
	}, dec(50_000))
	if res.Triggered {
		t.Error("trigger must not fire without an L1 state")
	}

	// Empty portfolio.
	res = svc.evaluateLiquidity([]domain.TierState{
		{Tier: domain.TierL1, Value: decimal.Zero},
	}, decimal.Zero)
	if res.Triggered {
		t.Error("trigger must not fire with zero total value")
	}
}

func TestEvaluateAllReturnsNonFiring(t *testing.T) {
	svc := newTestService(t, defaultConfig())

	results := svc.EvaluateAllTriggers([]domain.TierState{
		{Tier: domain.TierL1, Value: dec(10_000)},
		{Tier: domain.TierL2, Value: dec(30_000)},
		{Tier: domain.TierL3, Value: dec(60_000)},
	}, dec(100_000))

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Triggered {
			t.Errorf("%s should not fire at target allocation", r.Type)
		}
	}
}

func TestShouldRebalancePicksCritical(t *testing.T) {
	svc := newTestService(t, defaultConfig())

	// L1 critically starved: both the threshold and liquidity triggers
	// fire; critical must win.
	states := []domain.TierState{
		{Tier: domain.TierL1, Value: dec(3_000)},
		{Tier: domain.TierL2, Value: dec(37_000)},
		{Tier: domain.TierL3, Value: dec(60_000)},
	}
	fired, winner := svc.ShouldRebalance(states, dec(100_000))
	if !fired {
		t.Fatal("expected a fired trigger")
	}
	if winner.Severity != domain.SeverityCritical {
		t.Errorf("winner severity = %s, want critical", winner.Severity)
	}
	if winner.Type != domain.TriggerLiquidity {
		t.Errorf("winner type = %s, want liquidity", winner.Type)
	}
}

func TestTriggerAutomatic(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, defaultConfig())

	// Healthy portfolio: no plan, non-triggered history entry.
	plan, err := svc.TriggerAutomatic(ctx, []domain.TierState{
		{Tier: domain.TierL1, Value: dec(10_000)},
		{Tier: domain.TierL2, Value: dec(30_000)},
		{Tier: domain.TierL3, Value: dec(60_000)},
	}, dec(100_000))
	if err != nil {
		t.Fatalf("TriggerAutomatic: %v", err)
	}
	if plan != nil {
		t.Error("expected no plan for healthy portfolio")
	}

	// Starved L1: a plan is generated and recorded.
	plan, err = svc.TriggerAutomatic(ctx, []domain.TierState{
		{Tier: domain.TierL1, Value: dec(3_000)},
		{Tier: domain.TierL2, Value: dec(37_000)},
		{Tier: domain.TierL3, Value: dec(60_000)},
	}, dec(100_000))
	if err != nil {
		t.Fatalf("TriggerAutomatic: %v", err)
	}
	if plan == nil {
		t.Fatal("expected a plan for starved L1")
	}

	hist := svc.History(HistoryQuery{})
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	// Most recent first.
	if !hist[0].Triggered || hist[0].PlanID != plan.PlanID {
		t.Errorf("latest entry should be the triggered one, got %+v", hist[0])
	}
	if hist[1].Triggered {
		t.Error("older entry should be the non-triggered evaluation")
	}

	fired := svc.History(HistoryQuery{TriggeredOnly: true})
	if len(fired) != 1 {
		t.Errorf("triggered-only history length = %d, want 1", len(fired))
	}
}

func TestTriggerManual(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, defaultConfig())

	plan, err := svc.TriggerManual(ctx, []domain.TierState{
		{Tier: domain.TierL1, Value: dec(10_000)},
		{Tier: domain.TierL2, Value: dec(30_000)},
		{Tier: domain.TierL3, Value: dec(60_000)},
	}, dec(100_000), "operator request")
	if err != nil {
		t.Fatalf("TriggerManual: %v", err)
	}
	if plan.TriggerReason != "operator request" {
		t.Errorf("reason = %q", plan.TriggerReason)
	}

	manual := domain.TriggerManual
	hist := svc.History(HistoryQuery{Type: &manual})
	if len(hist) != 1 || !hist[0].Triggered {
		t.Fatalf("manual history = %+v", hist)
	}
}

func TestHistoryCap(t *testing.T) {
	h := newHistory(100)
	for i := 0; i < 150; i++ {
		h.add(domain.TriggerHistoryEntry{
			Type:   domain.TriggerThreshold,
			Reason: fmt.Sprintf("entry %d", i),
		})
	}
	all := h.query(HistoryQuery{})
	if len(all) != 100 {
		t.Fatalf("history length = %d, want 100", len(all))
	}
	// Oldest dropped first: the newest entry is 149, the oldest kept is 50.
	if all[0].Reason != "entry 149" {
		t.Errorf("newest = %q, want entry 149", all[0].Reason)
	}
	if all[len(all)-1].Reason != "entry 50" {
		t.Errorf("oldest kept = %q, want entry 50", all[len(all)-1].Reason)
	}
}
