package domain

import "context"

// ValuationSource reports the fund's current tier holdings. Pricing the
// underlying positions happens outside this service; implementations adapt
// whatever feed provides the numbers.
type ValuationSource interface {
	TierStates(ctx context.Context) ([]TierState, error)
}
