package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

func TestWaterfallRespectsFloor(t *testing.T) {
	calc := NewCalculator(testConfigs())
	liq := NewWaterfallLiquidator(calc)

	states := []domain.TierState{
		{Tier: domain.TierL1, Value: dec(2_000)},
		{Tier: domain.TierL2, Value: dec(38_000)},
		{Tier: domain.TierL3, Value: dec(60_000)},
	}
	total := domain.TotalValue(states)
	plan := liq.Build(dec(10_000), states)

	if plan.RemainingDeficit.IsPositive() {
		t.Errorf("unexpected deficit %s", plan.RemainingDeficit)
	}
	if !plan.TotalLiquidated.Equal(dec(10_000)) {
		t.Errorf("totalLiquidated = %s, want 10000", plan.TotalLiquidated)
	}

	// Every source tier must stay at or above its minRatio floor after its
	// step.
	values := map[domain.Tier]decimal.Decimal{}
	for _, st := range states {
		values[st.Tier] = st.Value
	}
	for _, step := range plan.Steps {
		if step.Action != domain.ActionLiquidate {
			t.Errorf("step %d action = %s, want liquidate", step.StepID, step.Action)
		}
		if step.ToTier != domain.TierL1 {
			t.Errorf("step %d toTier = %s, want L1", step.StepID, step.ToTier)
		}
		values[step.FromTier] = values[step.FromTier].Sub(step.Amount)
		cfg, _ := calc.Config(step.FromTier)
		floor := total.Mul(decimal.NewFromFloat(cfg.MinRatio))
		if values[step.FromTier].LessThan(floor) {
			t.Errorf("tier %s dropped below floor: %s < %s",
				step.FromTier, values[step.FromTier], floor)
		}
	}
}

func TestWaterfallCascadesToL3(t *testing.T) {
	calc := NewCalculator(testConfigs())
	liq := NewWaterfallLiquidator(calc)

	// L2 has almost nothing above its floor, so the cascade must continue
	// into L3.
	states := []domain.TierState{
		{Tier: domain.TierL1, Value: dec(1_000)},
		{Tier: domain.TierL2, Value: dec(21_000)},
		{Tier: domain.TierL3, Value: dec(78_000)},
	}
	plan := liq.Build(dec(20_000), states)

	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	if plan.Steps[0].FromTier != domain.TierL2 || plan.Steps[1].FromTier != domain.TierL3 {
		t.Errorf("cascade order wrong: %s then %s",
			plan.Steps[0].FromTier, plan.Steps[1].FromTier)
	}
	if plan.RemainingDeficit.IsPositive() {
		t.Errorf("unexpected deficit %s", plan.RemainingDeficit)
	}
}

func TestWaterfallReportsDeficit(t *testing.T) {
	calc := NewCalculator(testConfigs())
	liq := NewWaterfallLiquidator(calc)

	// Both source tiers sit close to their floors; the cascade cannot
	// cover the full target.
	states := []domain.TierState{
		{Tier: domain.TierL1, Value: dec(5_000)},
		{Tier: domain.TierL2, Value: dec(20_000)},
		{Tier: domain.TierL3, Value: dec(40_000)},
	}
	target := dec(30_000)
	plan := liq.Build(target, states)

	if !plan.TotalLiquidated.Add(plan.RemainingDeficit).Equal(target) {
		t.Errorf("liquidated %s + deficit %s != target %s",
			plan.TotalLiquidated, plan.RemainingDeficit, target)
	}
	if !plan.RemainingDeficit.IsPositive() {
		t.Error("expected a reported deficit")
	}
}
