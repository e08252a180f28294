package domain

import (
	"github.com/shopspring/decimal"
)

// Tier identifies one of the fund's three liquidity buckets. L1 is the
// high-liquidity reserve, L2 holds medium-liquidity DeFi positions, and L3
// holds long-horizon yield positions.
type Tier string

const (
	TierL1 Tier = "L1"
	TierL2 Tier = "L2"
	TierL3 Tier = "L3"
)

// AllTiers lists every tier in liquidity order (most liquid first).
var AllTiers = []Tier{TierL1, TierL2, TierL3}

// LiquidityRank returns the tier's position in the liquidity order: 1 for L1
// (most liquid) through 3 for L3. Unknown tiers rank last.
func (t Tier) LiquidityRank() int {
	switch t {
	case TierL1:
		return 1
	case TierL2:
		return 2
	case TierL3:
		return 3
	default:
		return 4
	}
}

// TierConfig holds the allocation targets and guard rails for one tier.
// All ratios are fractions in [0, 1].
type TierConfig struct {
	Tier               Tier
	TargetRatio        float64
	MinRatio           float64
	MaxRatio           float64
	RebalanceThreshold float64
}

// TierState is a caller-supplied snapshot of one tier's current holdings.
// Ratio is optional; when zero it is derived as Value / totalValue. The
// engine only reads TierState, it never mutates it.
type TierState struct {
	Tier  Tier
	Value decimal.Decimal
	Ratio float64
}

// AdjustDirection says which way a tier's allocation must move.
type AdjustDirection string

const (
	DirectionIncrease AdjustDirection = "increase"
	DirectionDecrease AdjustDirection = "decrease"
)

// TierDeviation is the computed drift of one tier from its target. It is
// derived and immutable: recomputed on every evaluation, never cached.
type TierDeviation struct {
	Tier             Tier
	CurrentRatio     float64
	TargetRatio      float64
	Deviation        float64 // signed: current - target
	DeviationPercent float64 // deviation relative to target, in percent
	Direction        AdjustDirection
	AmountToAdjust   decimal.Decimal // absolute notional to move, >= 0
	NeedsRebalance   bool
	WithinBounds     bool
}

// TotalValue sums the values of the given tier states.
func TotalValue(states []TierState) decimal.Decimal {
	total := decimal.Zero
	for _, s := range states {
		total = total.Add(s.Value)
	}
	return total
}
