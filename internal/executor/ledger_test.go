package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestLedgerReserveCommitRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	limit := dec(100)

	if err := l.Reserve(ctx, domain.WalletHot, dec(60), limit); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	// 60 held, only 40 headroom left.
	if err := l.Reserve(ctx, domain.WalletHot, dec(50), limit); !errors.Is(err, domain.ErrDailyLimit) {
		t.Fatalf("over-limit reserve: got %v, want ErrDailyLimit", err)
	}
	if err := l.Reserve(ctx, domain.WalletHot, dec(40), limit); err != nil {
		t.Fatalf("reserve up to limit: %v", err)
	}

	if err := l.Commit(ctx, domain.WalletHot, dec(60)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := l.Release(ctx, domain.WalletHot, dec(40)); err != nil {
		t.Fatalf("release: %v", err)
	}

	usage, err := l.Usage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if !usage[domain.WalletHot].Equal(dec(60)) {
		t.Fatalf("usage = %s, want 60", usage[domain.WalletHot])
	}

	// The released 40 is spendable again.
	if err := l.Reserve(ctx, domain.WalletHot, dec(40), limit); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestLedgerUsageExcludesReservations(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if err := l.Reserve(ctx, domain.WalletWarm, dec(25), dec(100)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	usage, _ := l.Usage(ctx)
	if !usage[domain.WalletWarm].IsZero() {
		t.Fatalf("usage of uncommitted reservation = %s, want 0", usage[domain.WalletWarm])
	}
}

func TestLedgerReset(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	_ = l.Reserve(ctx, domain.WalletHot, dec(30), dec(100))
	_ = l.Commit(ctx, domain.WalletHot, dec(30))
	if err := l.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	usage, _ := l.Usage(ctx)
	if !usage[domain.WalletHot].IsZero() {
		t.Fatalf("usage after reset = %s, want 0", usage[domain.WalletHot])
	}
	if err := l.Reserve(ctx, domain.WalletHot, dec(100), dec(100)); err != nil {
		t.Fatalf("reserve after reset: %v", err)
	}
}

// Hammer the check-and-hold path from many goroutines. The total held must
// never exceed the limit, no matter the interleaving.
func TestLedgerConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	limit := dec(100)

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Reserve(ctx, domain.WalletCold, dec(10), limit); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Fatalf("granted %d reservations of 10 against limit 100, want exactly 10", granted)
	}
}
