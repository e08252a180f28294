package valuation

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

func states(l1, l2, l3 int64) []domain.TierState {
	return []domain.TierState{
		{Tier: domain.TierL1, Value: decimal.NewFromInt(l1)},
		{Tier: domain.TierL2, Value: decimal.NewFromInt(l2)},
		{Tier: domain.TierL3, Value: decimal.NewFromInt(l3)},
	}
}

func TestStaticSourceNormalizesRatios(t *testing.T) {
	src := NewStaticSource(states(100, 300, 600))

	got, err := src.TierStates(context.Background())
	if err != nil {
		t.Fatalf("TierStates: %v", err)
	}
	want := []float64{0.1, 0.3, 0.6}
	for i, st := range got {
		if math.Abs(st.Ratio-want[i]) > 1e-9 {
			t.Errorf("tier %s ratio = %v, want %v", st.Tier, st.Ratio, want[i])
		}
	}
}

func TestStaticSourceApplyTransfer(t *testing.T) {
	src := NewStaticSource(states(100, 400, 500))
	src.ApplyTransfer(domain.TierL2, domain.TierL1, decimal.NewFromInt(100))

	got, _ := src.TierStates(context.Background())
	if !got[0].Value.Equal(decimal.NewFromInt(200)) {
		t.Errorf("L1 value = %s, want 200", got[0].Value)
	}
	if !got[1].Value.Equal(decimal.NewFromInt(300)) {
		t.Errorf("L2 value = %s, want 300", got[1].Value)
	}
	if math.Abs(got[0].Ratio-0.2) > 1e-9 {
		t.Errorf("L1 ratio = %v, want 0.2", got[0].Ratio)
	}
}

type memCache struct {
	states []domain.TierState
	at     time.Time
}

func (m *memCache) SetStates(_ context.Context, states []domain.TierState) error {
	m.states = states
	m.at = time.Now()
	return nil
}

func (m *memCache) GetStates(_ context.Context) ([]domain.TierState, time.Time, error) {
	if m.states == nil {
		return nil, time.Time{}, domain.ErrNotFound
	}
	return m.states, m.at, nil
}

func TestCachedSourceWritesThrough(t *testing.T) {
	cache := &memCache{}
	src := NewCachedSource(NewStaticSource(states(100, 300, 600)), cache)

	got, err := src.TierStates(context.Background())
	if err != nil {
		t.Fatalf("TierStates: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d states, want 3", len(got))
	}
	cached, _, err := cache.GetStates(context.Background())
	if err != nil {
		t.Fatalf("GetStates: %v", err)
	}
	if len(cached) != 3 {
		t.Fatalf("cached %d states, want 3", len(cached))
	}
}
