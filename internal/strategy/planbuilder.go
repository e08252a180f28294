package strategy

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// gasPerStep is the fixed per-step gas heuristic used for plan estimates.
const gasPerStep = 200_000

// slippageFactor scales swap volume relative to portfolio size into an
// estimated slippage fraction.
const slippageFactor = 0.001

// PlanBuilder turns a deviation set into an ordered list of transfer steps.
type PlanBuilder struct{}

// NewPlanBuilder creates a PlanBuilder.
func NewPlanBuilder() *PlanBuilder {
	return &PlanBuilder{}
}

// BuildSteps matches over-allocated tiers against under-allocated ones and
// emits one swap step per non-zero transfer. Over-allocated tiers are
// drained least-liquid-first (L3 before L2 before L1) while under-allocated
// tiers are filled most-liquid-first, so the high-liquidity reserve is
// replenished before yield positions. Step ids are assigned in generation
// order; the returned slice is then stably sorted so steps targeting L1 run
// first.
func (b *PlanBuilder) BuildSteps(devs []domain.TierDeviation, totalValue decimal.Decimal) []domain.PlanStep {
	var toDecrease, toIncrease []domain.TierDeviation
	for _, d := range devs {
		if !d.NeedsRebalance {
			continue
		}
		switch d.Direction {
		case domain.DirectionDecrease:
			toDecrease = append(toDecrease, d)
		case domain.DirectionIncrease:
			toIncrease = append(toIncrease, d)
		}
	}

	// Sell order: least liquid first.
	sort.SliceStable(toDecrease, func(i, j int) bool {
		return toDecrease[i].Tier.LiquidityRank() > toDecrease[j].Tier.LiquidityRank()
	})
	// Buy order: most liquidity-critical first.
	sort.SliceStable(toIncrease, func(i, j int) bool {
		return toIncrease[i].Tier.LiquidityRank() < toIncrease[j].Tier.LiquidityRank()
	})

	remaining := make(map[domain.Tier]decimal.Decimal, len(toIncrease))
	for _, d := range toIncrease {
		remaining[d.Tier] = d.AmountToAdjust
	}

	var steps []domain.PlanStep
	stepID := 0
	for _, dec := range toDecrease {
		remDec := dec.AmountToAdjust
		for _, inc := range toIncrease {
			if !remDec.IsPositive() {
				break
			}
			remInc := remaining[inc.Tier]
			amount := decimal.Min(remDec, remInc)
			if !amount.IsPositive() {
				continue
			}
			stepID++
			steps = append(steps, domain.PlanStep{
				StepID:   stepID,
				Action:   domain.ActionSwap,
				FromTier: dec.Tier,
				ToTier:   inc.Tier,
				Amount:   amount,
				Priority: inc.Tier.LiquidityRank(),
				Notes:    fmt.Sprintf("rebalance %s -> %s", dec.Tier, inc.Tier),
			})
			remDec = remDec.Sub(amount)
			remaining[inc.Tier] = remInc.Sub(amount)
		}
	}

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Priority < steps[j].Priority
	})
	return steps
}

// ExpectedFinalState applies every step's debit and credit to a copy of the
// initial tier values and re-derives ratios against totalValue.
func (b *PlanBuilder) ExpectedFinalState(initial []domain.TierState, steps []domain.PlanStep, totalValue decimal.Decimal) []domain.TierState {
	values := make(map[domain.Tier]decimal.Decimal, len(initial))
	order := make([]domain.Tier, 0, len(initial))
	for _, st := range initial {
		values[st.Tier] = st.Value
		order = append(order, st.Tier)
	}

	for _, step := range steps {
		values[step.FromTier] = values[step.FromTier].Sub(step.Amount)
		values[step.ToTier] = values[step.ToTier].Add(step.Amount)
	}

	out := make([]domain.TierState, 0, len(order))
	for _, tier := range order {
		ratio := 0.0
		if totalValue.IsPositive() {
			ratio = values[tier].Div(totalValue).InexactFloat64()
		}
		out = append(out, domain.TierState{Tier: tier, Value: values[tier], Ratio: ratio})
	}
	return out
}

// EstimateGas returns the fixed per-step gas estimate for a step list.
func (b *PlanBuilder) EstimateGas(steps []domain.PlanStep) uint64 {
	return uint64(gasPerStep * len(steps))
}

// EstimateSlippage estimates total slippage as a fraction of swap volume
// over portfolio value. Returns 0 when the portfolio is empty.
func (b *PlanBuilder) EstimateSlippage(steps []domain.PlanStep, totalValue decimal.Decimal) float64 {
	if !totalValue.IsPositive() {
		return 0
	}
	volume := decimal.Zero
	for _, s := range steps {
		volume = volume.Add(s.Amount)
	}
	return slippageFactor * volume.Div(totalValue).InexactFloat64()
}
