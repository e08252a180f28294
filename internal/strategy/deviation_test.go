package strategy

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

func testConfigs() []domain.TierConfig {
	return []domain.TierConfig{
		{Tier: domain.TierL1, TargetRatio: 0.10, MinRatio: 0.05, MaxRatio: 0.20, RebalanceThreshold: 0.02},
		{Tier: domain.TierL2, TargetRatio: 0.30, MinRatio: 0.20, MaxRatio: 0.40, RebalanceThreshold: 0.03},
		{Tier: domain.TierL3, TargetRatio: 0.60, MinRatio: 0.40, MaxRatio: 0.70, RebalanceThreshold: 0.03},
	}
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func statesAtTarget() []domain.TierState {
	return []domain.TierState{
		{Tier: domain.TierL1, Value: dec(10_000)},
		{Tier: domain.TierL2, Value: dec(30_000)},
		{Tier: domain.TierL3, Value: dec(60_000)},
	}
}

func TestCalculateAtTarget(t *testing.T) {
	calc := NewCalculator(testConfigs())
	devs := calc.Calculate(statesAtTarget(), dec(100_000))

	if len(devs) != 3 {
		t.Fatalf("expected 3 deviations, got %d", len(devs))
	}
	for _, d := range devs {
		if d.NeedsRebalance {
			t.Errorf("tier %s at target should not need rebalance", d.Tier)
		}
		if !d.WithinBounds {
			t.Errorf("tier %s at target should be within bounds", d.Tier)
		}
		if math.Abs(d.Deviation) > 1e-9 {
			t.Errorf("tier %s deviation = %v, want 0", d.Tier, d.Deviation)
		}
	}
	if NeedsRebalancing(devs) {
		t.Error("NeedsRebalancing should be false at target")
	}
	if AnyOutOfBounds(devs) {
		t.Error("AnyOutOfBounds should be false at target")
	}
}

func TestCalculateSignLaw(t *testing.T) {
	calc := NewCalculator(testConfigs())
	states := []domain.TierState{
		{Tier: domain.TierL1, Value: dec(5_000)},
		{Tier: domain.TierL2, Value: dec(35_000)},
		{Tier: domain.TierL3, Value: dec(60_000)},
	}
	devs := calc.Calculate(states, dec(100_000))

	for _, d := range devs {
		switch {
		case d.Deviation > 0 && d.Direction != domain.DirectionDecrease:
			t.Errorf("tier %s: positive deviation must map to decrease", d.Tier)
		case d.Deviation < 0 && d.Direction != domain.DirectionIncrease:
			t.Errorf("tier %s: negative deviation must map to increase", d.Tier)
		}
		if d.AmountToAdjust.IsNegative() {
			t.Errorf("tier %s: amountToAdjust must be >= 0", d.Tier)
		}
	}
}

func TestCalculateDetails(t *testing.T) {
	calc := NewCalculator(testConfigs())

	tests := []struct {
		name           string
		states         []domain.TierState
		total          decimal.Decimal
		wantCount      int
		wantFirstRatio float64
	}{
		{
			name: "explicit ratio wins over derived",
			states: []domain.TierState{
				{Tier: domain.TierL1, Value: dec(5_000), Ratio: 0.5},
			},
			total:          dec(100_000),
			wantCount:      1,
			wantFirstRatio: 0.5,
		},
		{
			name: "zero total yields zero ratio",
			states: []domain.TierState{
				{Tier: domain.TierL1, Value: dec(5_000)},
			},
			total:          decimal.Zero,
			wantCount:      1,
			wantFirstRatio: 0,
		},
		{
			name: "unknown tier skipped",
			states: []domain.TierState{
				{Tier: domain.Tier("L9"), Value: dec(5_000)},
				{Tier: domain.TierL1, Value: dec(10_000)},
			},
			total:          dec(100_000),
			wantCount:      1,
			wantFirstRatio: 0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devs := calc.Calculate(tt.states, tt.total)
			if len(devs) != tt.wantCount {
				t.Fatalf("got %d deviations, want %d", len(devs), tt.wantCount)
			}
			if got := devs[0].CurrentRatio; math.Abs(got-tt.wantFirstRatio) > 1e-9 {
				t.Errorf("currentRatio = %v, want %v", got, tt.wantFirstRatio)
			}
		})
	}
}

func TestDeviationPercentZeroTarget(t *testing.T) {
	calc := NewCalculator([]domain.TierConfig{
		{Tier: domain.TierL1, TargetRatio: 0, MinRatio: 0, MaxRatio: 1, RebalanceThreshold: 0.02},
	})
	devs := calc.Calculate([]domain.TierState{
		{Tier: domain.TierL1, Value: dec(10_000)},
	}, dec(100_000))

	if len(devs) != 1 {
		t.Fatalf("got %d deviations, want 1", len(devs))
	}
	if devs[0].DeviationPercent != 0 {
		t.Errorf("deviationPercent with zero target = %v, want 0", devs[0].DeviationPercent)
	}
}
