package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// MemoryLedger is the in-process domain.UsageLedger. Reserve holds the
// amount under the same lock as the limit check, so two concurrent
// executions cannot both pass a daily-limit check before either commits.
type MemoryLedger struct {
	mu        sync.Mutex
	committed map[domain.WalletTier]decimal.Decimal
	reserved  map[domain.WalletTier]decimal.Decimal
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		committed: make(map[domain.WalletTier]decimal.Decimal),
		reserved:  make(map[domain.WalletTier]decimal.Decimal),
	}
}

// Reserve checks confirmed plus reserved spend against the daily limit and
// holds the amount when it fits. It returns domain.ErrDailyLimit when the
// reservation would breach the limit.
func (l *MemoryLedger) Reserve(_ context.Context, tier domain.WalletTier, amount, dailyLimit decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	inFlight := l.committed[tier].Add(l.reserved[tier])
	if inFlight.Add(amount).GreaterThan(dailyLimit) {
		return fmt.Errorf("executor: tier %s usage %s + %s exceeds limit %s: %w",
			tier, inFlight, amount, dailyLimit, domain.ErrDailyLimit)
	}
	l.reserved[tier] = l.reserved[tier].Add(amount)
	return nil
}

// Commit converts a reservation into confirmed usage.
func (l *MemoryLedger) Commit(_ context.Context, tier domain.WalletTier, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved[tier] = decimal.Max(decimal.Zero, l.reserved[tier].Sub(amount))
	l.committed[tier] = l.committed[tier].Add(amount)
	return nil
}

// Release returns a reservation after a failed attempt.
func (l *MemoryLedger) Release(_ context.Context, tier domain.WalletTier, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved[tier] = decimal.Max(decimal.Zero, l.reserved[tier].Sub(amount))
	return nil
}

// Usage returns a snapshot copy of confirmed spend per tier. Mutating the
// returned map does not affect the ledger.
func (l *MemoryLedger) Usage(_ context.Context) (map[domain.WalletTier]decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.WalletTier]decimal.Decimal, len(l.committed))
	for tier, v := range l.committed {
		out[tier] = v
	}
	return out, nil
}

// Reset zeroes all confirmed and reserved spend. This is an administrative
// action, typically run at the daily rollover.
func (l *MemoryLedger) Reset(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed = make(map[domain.WalletTier]decimal.Decimal)
	l.reserved = make(map[domain.WalletTier]decimal.Decimal)
	return nil
}

var _ domain.UsageLedger = (*MemoryLedger)(nil)
