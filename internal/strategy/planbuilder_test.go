package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

func TestBuildStepsReplenishesL1First(t *testing.T) {
	calc := NewCalculator(testConfigs())
	builder := NewPlanBuilder()

	// L1 starved, L2 overweight; classic scenario where the reserve must
	// be refilled from DeFi positions.
	states := []domain.TierState{
		{Tier: domain.TierL1, Value: dec(5_000)},
		{Tier: domain.TierL2, Value: dec(35_000)},
		{Tier: domain.TierL3, Value: dec(60_000)},
	}
	total := dec(100_000)
	devs := calc.Calculate(states, total)
	steps := builder.BuildSteps(devs, total)

	if len(steps) == 0 {
		t.Fatal("expected at least one step")
	}
	if steps[0].ToTier != domain.TierL1 {
		t.Errorf("first step toTier = %s, want L1", steps[0].ToTier)
	}
	for _, s := range steps {
		if !s.Amount.IsPositive() {
			t.Errorf("step %d amount %s not positive", s.StepID, s.Amount)
		}
		if s.Action != domain.ActionSwap {
			t.Errorf("step %d action = %s, want swap", s.StepID, s.Action)
		}
	}
	// Priority ordering: non-decreasing priorities.
	for i := 1; i < len(steps); i++ {
		if steps[i].Priority < steps[i-1].Priority {
			t.Errorf("steps not priority-sorted at index %d", i)
		}
	}
}

func TestBuildStepsZeroAtTarget(t *testing.T) {
	calc := NewCalculator(testConfigs())
	builder := NewPlanBuilder()

	total := dec(100_000)
	devs := calc.Calculate(statesAtTarget(), total)
	steps := builder.BuildSteps(devs, total)

	if len(steps) != 0 {
		t.Fatalf("expected zero steps at target, got %d", len(steps))
	}
	if builder.EstimateGas(steps) != 0 {
		t.Error("gas estimate should be zero for empty plan")
	}
	if builder.EstimateSlippage(steps, total) != 0 {
		t.Error("slippage estimate should be zero for empty plan")
	}
}

func TestBuildStepsDrainsLeastLiquidFirst(t *testing.T) {
	calc := NewCalculator(testConfigs())
	builder := NewPlanBuilder()

	// Both L2 and L3 overweight; L1 short. The slice feeding L1 must come
	// from L3 before L2.
	states := []domain.TierState{
		{Tier: domain.TierL1, Value: dec(2_000)},
		{Tier: domain.TierL2, Value: dec(34_000)},
		{Tier: domain.TierL3, Value: dec(64_000)},
	}
	total := dec(100_000)
	devs := calc.Calculate(states, total)
	steps := builder.BuildSteps(devs, total)

	if len(steps) == 0 {
		t.Fatal("expected steps")
	}
	if steps[0].FromTier != domain.TierL3 {
		t.Errorf("first transfer fromTier = %s, want L3", steps[0].FromTier)
	}
}

func TestExpectedFinalStateConserved(t *testing.T) {
	calc := NewCalculator(testConfigs())
	builder := NewPlanBuilder()

	states := []domain.TierState{
		{Tier: domain.TierL1, Value: dec(5_000)},
		{Tier: domain.TierL2, Value: dec(35_000)},
		{Tier: domain.TierL3, Value: dec(60_000)},
	}
	total := dec(100_000)
	devs := calc.Calculate(states, total)
	steps := builder.BuildSteps(devs, total)
	final := builder.ExpectedFinalState(states, steps, total)

	sum := decimal.Zero
	for _, st := range final {
		sum = sum.Add(st.Value)
		if st.Value.IsNegative() {
			t.Errorf("tier %s final value negative: %s", st.Tier, st.Value)
		}
	}
	if !sum.Equal(total) {
		t.Errorf("value not conserved: sum %s, want %s", sum, total)
	}

	// The starved tier must end closer to target.
	for _, st := range final {
		if st.Tier == domain.TierL1 && st.Ratio < 0.09 {
			t.Errorf("L1 final ratio %v still far below target", st.Ratio)
		}
	}
}

func TestEstimates(t *testing.T) {
	builder := NewPlanBuilder()
	steps := []domain.PlanStep{
		{StepID: 1, Amount: dec(5_000)},
		{StepID: 2, Amount: dec(5_000)},
	}
	if got := builder.EstimateGas(steps); got != 400_000 {
		t.Errorf("gas = %d, want 400000", got)
	}
	got := builder.EstimateSlippage(steps, dec(100_000))
	want := 0.001 * 0.1
	if diff := got - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("slippage = %v, want %v", got, want)
	}
}
