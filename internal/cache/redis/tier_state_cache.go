package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// TierStateCache implements domain.TierStateCache using Redis hashes. Each
// tier's snapshot is stored as a hash at key "tierstate:{tier}" with fields
// "value" and "ratio"; "tierstate:ts" carries the snapshot timestamp.
type TierStateCache struct {
	rdb *redis.Client
}

// NewTierStateCache creates a TierStateCache backed by the given Client.
func NewTierStateCache(c *Client) *TierStateCache {
	return &TierStateCache{rdb: c.Underlying()}
}

func tierStateKey(tier domain.Tier) string {
	return "tierstate:" + string(tier)
}

const tierStateTSKey = "tierstate:ts"

// SetStates stores one snapshot of all tiers in a single pipeline.
func (tc *TierStateCache) SetStates(ctx context.Context, states []domain.TierState) error {
	pipe := tc.rdb.Pipeline()
	for _, st := range states {
		pipe.HSet(ctx, tierStateKey(st.Tier), map[string]interface{}{
			"value": st.Value.String(),
			"ratio": strconv.FormatFloat(st.Ratio, 'f', -1, 64),
		})
	}
	pipe.Set(ctx, tierStateTSKey, strconv.FormatInt(time.Now().UnixNano(), 10), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set tier states: %w", err)
	}
	return nil
}

// GetStates retrieves the cached snapshot for all known tiers.
// It returns domain.ErrNotFound when no snapshot has been written.
func (tc *TierStateCache) GetStates(ctx context.Context) ([]domain.TierState, time.Time, error) {
	tsStr, err := tc.rdb.Get(ctx, tierStateTSKey).Result()
	if err == redis.Nil {
		return nil, time.Time{}, domain.ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get tier state ts: %w", err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse tier state ts: %w", err)
	}

	var states []domain.TierState
	for _, tier := range []domain.Tier{domain.TierL1, domain.TierL2, domain.TierL3} {
		vals, err := tc.rdb.HGetAll(ctx, tierStateKey(tier)).Result()
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("redis: get tier state %s: %w", tier, err)
		}
		if len(vals) == 0 {
			continue
		}
		value, err := decimal.NewFromString(vals["value"])
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("redis: parse tier %s value: %w", tier, err)
		}
		ratio, err := strconv.ParseFloat(vals["ratio"], 64)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("redis: parse tier %s ratio: %w", tier, err)
		}
		states = append(states, domain.TierState{Tier: tier, Value: value, Ratio: ratio})
	}
	return states, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.TierStateCache = (*TierStateCache)(nil)
