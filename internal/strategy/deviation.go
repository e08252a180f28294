// Package strategy implements the rebalancing brain of the fund: deviation
// calculation, transfer-plan construction, waterfall liquidation, and the
// plan lifecycle engine that owns generated plans.
package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// Calculator computes per-tier allocation deviations. It is stateless apart
// from the tier configuration and safe for concurrent use.
type Calculator struct {
	configs map[domain.Tier]domain.TierConfig
}

// NewCalculator creates a Calculator for the given tier configurations.
func NewCalculator(configs []domain.TierConfig) *Calculator {
	m := make(map[domain.Tier]domain.TierConfig, len(configs))
	for _, c := range configs {
		m[c.Tier] = c
	}
	return &Calculator{configs: m}
}

// Config returns the configuration for a tier, if present.
func (c *Calculator) Config(tier domain.Tier) (domain.TierConfig, bool) {
	cfg, ok := c.configs[tier]
	return cfg, ok
}

// Calculate derives a deviation for every tier state that has a matching
// configuration; states without one are skipped. A zero totalValue yields
// ratio 0 for all tiers rather than an error. Caller-supplied states are
// only read, never mutated.
func (c *Calculator) Calculate(states []domain.TierState, totalValue decimal.Decimal) []domain.TierDeviation {
	out := make([]domain.TierDeviation, 0, len(states))
	for _, st := range states {
		cfg, ok := c.configs[st.Tier]
		if !ok {
			continue
		}

		current := st.Ratio
		if current == 0 && totalValue.IsPositive() {
			current = st.Value.Div(totalValue).InexactFloat64()
		}

		dev := current - cfg.TargetRatio
		devPct := 0.0
		if cfg.TargetRatio != 0 {
			devPct = dev / cfg.TargetRatio * 100
		}

		dir := domain.DirectionIncrease
		if dev > 0 {
			dir = domain.DirectionDecrease
		}

		out = append(out, domain.TierDeviation{
			Tier:             st.Tier,
			CurrentRatio:     current,
			TargetRatio:      cfg.TargetRatio,
			Deviation:        dev,
			DeviationPercent: devPct,
			Direction:        dir,
			AmountToAdjust:   totalValue.Mul(decimal.NewFromFloat(math.Abs(dev))),
			NeedsRebalance:   math.Abs(dev) > cfg.RebalanceThreshold,
			WithinBounds:     current >= cfg.MinRatio && current <= cfg.MaxRatio,
		})
	}
	return out
}

// NeedsRebalancing reports whether any deviation exceeds its tier's
// rebalance threshold.
func NeedsRebalancing(devs []domain.TierDeviation) bool {
	for _, d := range devs {
		if d.NeedsRebalance {
			return true
		}
	}
	return false
}

// AnyOutOfBounds reports whether any tier sits outside its min/max ratio
// band.
func AnyOutOfBounds(devs []domain.TierDeviation) bool {
	for _, d := range devs {
		if !d.WithinBounds {
			return true
		}
	}
	return false
}
