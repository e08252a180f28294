// Package valuation provides tier holding sources for the trigger and
// monitor loops.
package valuation

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// StaticSource is a ValuationSource holding a fixed snapshot. It backs
// deployments without a live valuation feed and is updated out of band via
// SetStates.
type StaticSource struct {
	mu     sync.RWMutex
	states []domain.TierState
}

// NewStaticSource creates a StaticSource with the given initial snapshot.
// Ratios are derived from values; any caller-supplied ratio is ignored.
func NewStaticSource(states []domain.TierState) *StaticSource {
	s := &StaticSource{}
	s.SetStates(states)
	return s
}

// SetStates replaces the snapshot.
func (s *StaticSource) SetStates(states []domain.TierState) {
	total := domain.TotalValue(states)
	normalized := make([]domain.TierState, len(states))
	for i, st := range states {
		ratio := 0.0
		if total.IsPositive() {
			ratio = st.Value.Div(total).InexactFloat64()
		}
		normalized[i] = domain.TierState{Tier: st.Tier, Value: st.Value, Ratio: ratio}
	}
	s.mu.Lock()
	s.states = normalized
	s.mu.Unlock()
}

// TierStates returns a copy of the current snapshot.
func (s *StaticSource) TierStates(_ context.Context) ([]domain.TierState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TierState, len(s.states))
	copy(out, s.states)
	return out, nil
}

// ApplyTransfer adjusts the snapshot for a confirmed movement between tiers,
// keeping a static deployment's view consistent with executed plans.
func (s *StaticSource) ApplyTransfer(from, to domain.Tier, amount decimal.Decimal) {
	s.mu.Lock()
	for i := range s.states {
		switch s.states[i].Tier {
		case from:
			s.states[i].Value = s.states[i].Value.Sub(amount)
		case to:
			s.states[i].Value = s.states[i].Value.Add(amount)
		}
	}
	states := make([]domain.TierState, len(s.states))
	copy(states, s.states)
	s.mu.Unlock()
	s.SetStates(states)
}

var _ domain.ValuationSource = (*StaticSource)(nil)
