package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// Selector picks a funding wallet for a transfer. Wallets are considered in
// the fixed hot -> warm -> cold order; the first active wallet whose single
// transaction and daily limits both accommodate the amount wins. The daily
// limit check and the usage hold are one atomic operation on the ledger.
type Selector struct {
	mu      sync.RWMutex
	wallets map[domain.WalletTier]domain.WalletConfig
	ledger  domain.UsageLedger
}

// NewSelector creates a Selector over the given wallets. Multiple wallets
// on the same tier are not supported; the last one configured wins.
func NewSelector(wallets []domain.WalletConfig, ledger domain.UsageLedger) *Selector {
	m := make(map[domain.WalletTier]domain.WalletConfig, len(wallets))
	for _, w := range wallets {
		m[w.Tier] = w
	}
	return &Selector{wallets: m, ledger: ledger}
}

// Select returns the first eligible wallet and reserves the amount against
// its tier's daily limit. Callers must later Commit or Release the
// reservation. It returns domain.ErrNoWallet when no tier can fund the
// amount; a retried step re-runs selection from scratch.
func (s *Selector) Select(ctx context.Context, amount decimal.Decimal) (domain.WalletConfig, error) {
	for _, tier := range domain.WalletSelectionOrder {
		s.mu.RLock()
		w, ok := s.wallets[tier]
		s.mu.RUnlock()
		if !ok || !w.IsActive {
			continue
		}
		if amount.GreaterThan(w.MaxSingleTx) {
			continue
		}
		err := s.ledger.Reserve(ctx, tier, amount, w.DailyLimit)
		if err == nil {
			return w, nil
		}
		if errors.Is(err, domain.ErrDailyLimit) {
			continue
		}
		return domain.WalletConfig{}, fmt.Errorf("executor: reserve on %s: %w", tier, err)
	}
	return domain.WalletConfig{}, fmt.Errorf("executor: amount %s: %w", amount, domain.ErrNoWallet)
}

// Release returns a reservation made by Select.
func (s *Selector) Release(ctx context.Context, tier domain.WalletTier, amount decimal.Decimal) error {
	return s.ledger.Release(ctx, tier, amount)
}

// Commit confirms a reservation made by Select.
func (s *Selector) Commit(ctx context.Context, tier domain.WalletTier, amount decimal.Decimal) error {
	return s.ledger.Commit(ctx, tier, amount)
}

// SetActive flips a wallet's active flag, e.g. when custody takes a wallet
// offline.
func (s *Selector) SetActive(tier domain.WalletTier, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[tier]; ok {
		w.IsActive = active
		s.wallets[tier] = w
	}
}
