package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// reserveLua atomically checks committed + reserved + amount against the
// daily limit and records the hold. Returning 0 means the limit would be
// breached and nothing was written.
const reserveLua = `
local committed = tonumber(redis.call('GET', KEYS[1]) or '0')
local reserved = tonumber(redis.call('GET', KEYS[2]) or '0')
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if committed + reserved + amount > limit then
    return 0
end
redis.call('INCRBYFLOAT', KEYS[2], ARGV[1])
return 1
`

// settleLua moves a hold out of the reserved bucket, flooring at zero, and
// optionally credits the committed bucket (ARGV[2] == '1').
const settleLua = `
local reserved = tonumber(redis.call('GET', KEYS[2]) or '0')
local amount = tonumber(ARGV[1])
local remaining = reserved - amount
if remaining < 0 then
    remaining = 0
end
redis.call('SET', KEYS[2], tostring(remaining))
if ARGV[2] == '1' then
    redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
end
return 1
`

// UsageLedger implements domain.UsageLedger on Redis so the per-tier daily
// spend survives restarts and is shared across instances. Committed and
// reserved amounts live in separate keys; the reserve script is the only
// place the limit is checked.
type UsageLedger struct {
	rdb       *redis.Client
	reserveSc *redis.Script
	settleSc  *redis.Script
}

// NewUsageLedger creates a UsageLedger backed by the given Client.
func NewUsageLedger(c *Client) *UsageLedger {
	return &UsageLedger{
		rdb:       c.Underlying(),
		reserveSc: redis.NewScript(reserveLua),
		settleSc:  redis.NewScript(settleLua),
	}
}

func committedKey(tier domain.WalletTier) string {
	return "usage:committed:" + string(tier)
}

func reservedKey(tier domain.WalletTier) string {
	return "usage:reserved:" + string(tier)
}

// Reserve holds amount against the tier's daily limit, rejecting with
// domain.ErrDailyLimit when committed plus outstanding holds would exceed it.
func (l *UsageLedger) Reserve(ctx context.Context, tier domain.WalletTier, amount, dailyLimit decimal.Decimal) error {
	ok, err := l.reserveSc.Run(ctx, l.rdb,
		[]string{committedKey(tier), reservedKey(tier)},
		amount.String(), dailyLimit.String(),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis: reserve usage %s: %w", tier, err)
	}
	if ok == 0 {
		return fmt.Errorf("redis: tier %s amount %s: %w", tier, amount, domain.ErrDailyLimit)
	}
	return nil
}

// Commit converts a hold into confirmed spend.
func (l *UsageLedger) Commit(ctx context.Context, tier domain.WalletTier, amount decimal.Decimal) error {
	err := l.settleSc.Run(ctx, l.rdb,
		[]string{committedKey(tier), reservedKey(tier)},
		amount.String(), "1",
	).Err()
	if err != nil {
		return fmt.Errorf("redis: commit usage %s: %w", tier, err)
	}
	return nil
}

// Release drops a hold without committing it.
func (l *UsageLedger) Release(ctx context.Context, tier domain.WalletTier, amount decimal.Decimal) error {
	err := l.settleSc.Run(ctx, l.rdb,
		[]string{committedKey(tier), reservedKey(tier)},
		amount.String(), "0",
	).Err()
	if err != nil {
		return fmt.Errorf("redis: release usage %s: %w", tier, err)
	}
	return nil
}

// Usage returns confirmed spend per tier. Outstanding holds are not
// included.
func (l *UsageLedger) Usage(ctx context.Context) (map[domain.WalletTier]decimal.Decimal, error) {
	out := make(map[domain.WalletTier]decimal.Decimal, len(domain.WalletSelectionOrder))
	for _, tier := range domain.WalletSelectionOrder {
		val, err := l.rdb.Get(ctx, committedKey(tier)).Result()
		if errors.Is(err, redis.Nil) {
			out[tier] = decimal.Zero
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: read usage %s: %w", tier, err)
		}
		d, err := decimal.NewFromString(val)
		if err != nil {
			return nil, fmt.Errorf("redis: parse usage %s: %w", tier, err)
		}
		out[tier] = d
	}
	return out, nil
}

// Reset clears all committed and reserved amounts.
func (l *UsageLedger) Reset(ctx context.Context) error {
	keys := make([]string, 0, 2*len(domain.WalletSelectionOrder))
	for _, tier := range domain.WalletSelectionOrder {
		keys = append(keys, committedKey(tier), reservedKey(tier))
	}
	if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: reset usage: %w", err)
	}
	return nil
}

var _ domain.UsageLedger = (*UsageLedger)(nil)
