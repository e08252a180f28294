package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// liquidationOrder is the cascade used to replenish L1: medium-liquidity
// positions are sold before long-horizon yield positions.
var liquidationOrder = []domain.Tier{domain.TierL2, domain.TierL3}

// WaterfallLiquidator produces cascading liquidation plans that pull value
// into the L1 reserve without breaching any source tier's minimum ratio
// floor.
type WaterfallLiquidator struct {
	calc *Calculator
}

// NewWaterfallLiquidator creates a liquidator using the same tier
// configuration as the calculator.
func NewWaterfallLiquidator(calc *Calculator) *WaterfallLiquidator {
	return &WaterfallLiquidator{calc: calc}
}

// Build walks the liquidation order and liquidates from each tier the
// lesser of what is still needed and what the tier can give up while
// staying at or above minRatio of the total portfolio. A remaining deficit
// after exhausting the order signals insufficient liquidity; it is reported
// in the plan, not returned as an error.
func (w *WaterfallLiquidator) Build(targetAmount decimal.Decimal, states []domain.TierState) domain.WaterfallPlan {
	plan := domain.WaterfallPlan{
		TargetAmount:    targetAmount,
		TotalLiquidated: decimal.Zero,
	}

	total := domain.TotalValue(states)
	byTier := make(map[domain.Tier]domain.TierState, len(states))
	for _, st := range states {
		byTier[st.Tier] = st
	}

	remaining := targetAmount
	stepID := 0
	for _, tier := range liquidationOrder {
		if !remaining.IsPositive() {
			break
		}
		st, ok := byTier[tier]
		if !ok {
			continue
		}

		floor := decimal.Zero
		if cfg, ok := w.calc.Config(tier); ok {
			floor = total.Mul(decimal.NewFromFloat(cfg.MinRatio))
		}
		available := st.Value.Sub(floor)
		if !available.IsPositive() {
			continue
		}

		amount := decimal.Min(remaining, available)
		stepID++
		plan.Steps = append(plan.Steps, domain.PlanStep{
			StepID:   stepID,
			Action:   domain.ActionLiquidate,
			FromTier: tier,
			ToTier:   domain.TierL1,
			Amount:   amount,
			Priority: 1,
			Notes:    fmt.Sprintf("waterfall liquidation %s -> L1", tier),
		})
		plan.TotalLiquidated = plan.TotalLiquidated.Add(amount)
		remaining = remaining.Sub(amount)
	}

	if remaining.IsPositive() {
		plan.RemainingDeficit = remaining
	} else {
		plan.RemainingDeficit = decimal.Zero
	}
	return plan
}
