package valuation

import (
	"context"
	"fmt"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// CachedSource decorates a ValuationSource with write-through snapshot
// caching so other processes (and restarts) can read the last observed
// tier states without hitting the underlying feed.
type CachedSource struct {
	src   domain.ValuationSource
	cache domain.TierStateCache
}

func NewCachedSource(src domain.ValuationSource, cache domain.TierStateCache) *CachedSource {
	return &CachedSource{src: src, cache: cache}
}

// TierStates fetches from the underlying source and persists the snapshot.
// A cache write failure does not fail the read; the caller still gets the
// fresh states.
func (c *CachedSource) TierStates(ctx context.Context) ([]domain.TierState, error) {
	states, err := c.src.TierStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("valuation: fetch tier states: %w", err)
	}
	_ = c.cache.SetStates(ctx, states)
	return states, nil
}

var _ domain.ValuationSource = (*CachedSource)(nil)
