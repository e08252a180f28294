package domain

import (
	"context"
	"time"
)

// TierStateCache caches the most recent portfolio snapshot so monitor loops
// and dashboards can read it without hitting the valuation source.
type TierStateCache interface {
	SetStates(ctx context.Context, states []TierState) error
	// GetStates returns the cached snapshot and when it was written. It
	// returns ErrNotFound when no snapshot has been cached yet.
	GetStates(ctx context.Context) ([]TierState, time.Time, error)
}
