package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/meridianlabs/fundbot/internal/domain"
	"github.com/meridianlabs/fundbot/internal/store/memory"
)

// scriptedSubmitter fails on demand per step so tests can drive every branch
// of the pipeline.
type scriptedSubmitter struct {
	mu          sync.Mutex
	simFail     map[int]bool
	submitFails map[int]int // remaining submit errors per step
	revertAll   bool
	block       uint64
}

func newScriptedSubmitter() *scriptedSubmitter {
	return &scriptedSubmitter{
		simFail:     make(map[int]bool),
		submitFails: make(map[int]int),
	}
}

func (s *scriptedSubmitter) Simulate(_ context.Context, req TxRequest) (SimulationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.simFail[req.StepID] {
		return SimulationResult{Success: false, Error: "insufficient balance"}, nil
	}
	return SimulationResult{Success: true, GasEstimate: baseTransferGas}, nil
}

func (s *scriptedSubmitter) Submit(_ context.Context, req TxRequest, _ domain.WalletTier) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.submitFails[req.StepID]; n > 0 {
		s.submitFails[req.StepID] = n - 1
		return common.Hash{}, errors.New("nonce too low")
	}
	return crypto.Keccak256Hash([]byte(req.TxID)), nil
}

func (s *scriptedSubmitter) AwaitConfirmation(_ context.Context, _ common.Hash, _ int) (ConfirmationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block++
	if s.revertAll {
		return ConfirmationResult{Success: false, Error: "execution reverted"}, nil
	}
	return ConfirmationResult{Success: true, BlockNumber: s.block, GasUsed: baseTransferGas}, nil
}

type testEnv struct {
	engine *Engine
	plans  *memory.PlanStore
	execs  *memory.ExecutionStore
	ledger *MemoryLedger
	sub    *scriptedSubmitter
}

func newTestEnv(t *testing.T, parallel int) *testEnv {
	t.Helper()
	plans := memory.NewPlanStore()
	execs := memory.NewExecutionStore()
	ledger := NewMemoryLedger()
	sub := newScriptedSubmitter()
	cfg := Config{
		SimulationEnabled: true,
		GasMultiplier:     1.2,
		Confirmations:     2,
		ConfirmTimeout:    time.Second,
		ParallelSteps:     parallel,
		TierAddresses: map[domain.Tier]common.Address{
			domain.TierL1: common.HexToAddress("0xaaa0000000000000000000000000000000000001"),
			domain.TierL2: common.HexToAddress("0xaaa0000000000000000000000000000000000002"),
			domain.TierL3: common.HexToAddress("0xaaa0000000000000000000000000000000000003"),
		},
		Retry: RetryPolicy{
			MaxRetries:         2,
			BaseDelay:          time.Millisecond,
			ExponentialBackoff: true,
			MaxDelay:           5 * time.Millisecond,
			RetryOn:            []domain.TxStatus{domain.TxStatusFailed, domain.TxStatusTimeout},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(cfg, NewSelector(testWallets(), ledger), sub, nil, ledger,
		plans, execs, memory.NewAuditStore(), logger)
	return &testEnv{engine: engine, plans: plans, execs: execs, ledger: ledger, sub: sub}
}

func storedPlan(t *testing.T, env *testEnv, status domain.PlanStatus, amounts ...int64) domain.RebalancePlan {
	t.Helper()
	plan := domain.RebalancePlan{
		PlanID:      fmt.Sprintf("plan_test_%s_%d", status, len(amounts)),
		Status:      status,
		TotalAmount: decimal.Zero,
		CreatedAt:   time.Now().UTC(),
	}
	for i, a := range amounts {
		plan.Steps = append(plan.Steps, domain.PlanStep{
			StepID:   i + 1,
			Action:   domain.ActionSwap,
			FromTier: domain.TierL2,
			ToTier:   domain.TierL1,
			Amount:   dec(a),
			Priority: domain.TierL1.LiquidityRank(),
		})
		plan.TotalAmount = plan.TotalAmount.Add(dec(a))
	}
	if err := env.plans.Create(context.Background(), plan); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return plan
}

func TestExecuteRequiresApprovedPlan(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, status := range []domain.PlanStatus{
		domain.PlanStatusDraft,
		domain.PlanStatusCompleted,
		domain.PlanStatusCancelled,
	} {
		plan := storedPlan(t, env, status, 5_000)
		_, err := env.engine.ExecutePlan(context.Background(), plan.PlanID)
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("ExecutePlan(%s plan): got %v, want ErrInvalidState", status, err)
		}
		got, _ := env.plans.GetByID(context.Background(), plan.PlanID)
		if got.Status != status {
			t.Fatalf("plan status mutated to %s after rejected execution", got.Status)
		}
	}
}

func TestExecuteCompletesAllSteps(t *testing.T) {
	env := newTestEnv(t, 0)
	plan := storedPlan(t, env, domain.PlanStatusApproved, 5_000, 2_000, 1_000)

	res, err := env.engine.ExecutePlan(context.Background(), plan.PlanID)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if res.Status != domain.ExecStatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if res.CompletedSteps != 3 || res.TotalSteps != 3 {
		t.Fatalf("completed %d/%d, want 3/3", res.CompletedSteps, res.TotalSteps)
	}
	if !res.TotalMoved.Equal(dec(8_000)) {
		t.Fatalf("TotalMoved = %s, want 8000", res.TotalMoved)
	}
	// Padded estimate: 65000 * 1.2 per step.
	if want := uint64(78_000 * 3); res.TotalGasUsed != want {
		t.Fatalf("TotalGasUsed = %d, want %d", res.TotalGasUsed, want)
	}

	ec, err := env.engine.GetExecution(context.Background(), res.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	for i, rec := range ec.Transactions {
		if rec.StepID != i+1 {
			t.Fatalf("transaction %d has step id %d, want %d", i, rec.StepID, i+1)
		}
		if rec.Status != domain.TxStatusConfirmed {
			t.Fatalf("step %d status = %s, want confirmed", rec.StepID, rec.Status)
		}
		if rec.TxHash == nil || rec.ConfirmedAt == nil {
			t.Fatalf("step %d missing hash or confirmation time", rec.StepID)
		}
	}

	got, _ := env.plans.GetByID(context.Background(), plan.PlanID)
	if got.Status != domain.PlanStatusCompleted {
		t.Fatalf("plan status = %s, want completed", got.Status)
	}

	// All three transfers fit the hot wallet and are committed spend.
	usage, _ := env.engine.DailyUsage(context.Background())
	if !usage[domain.WalletHot].Equal(dec(8_000)) {
		t.Fatalf("hot usage = %s, want 8000", usage[domain.WalletHot])
	}
}

func TestSequentialStopsAtFirstFailure(t *testing.T) {
	env := newTestEnv(t, 0)
	plan := storedPlan(t, env, domain.PlanStatusApproved, 5_000, 2_000, 1_000)
	env.sub.simFail[2] = true

	res, err := env.engine.ExecutePlan(context.Background(), plan.PlanID)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if res.Status != domain.ExecStatusPartiallyCompleted {
		t.Fatalf("status = %s, want partially_completed", res.Status)
	}
	if res.CompletedSteps != 1 {
		t.Fatalf("completed = %d, want 1", res.CompletedSteps)
	}

	ec, _ := env.engine.GetExecution(context.Background(), res.ExecutionID)
	if len(ec.Transactions) != 2 {
		t.Fatalf("attempted %d steps, want 2 (step 3 never dispatched)", len(ec.Transactions))
	}
	last := ec.Transactions[1]
	if last.Status != domain.TxStatusSimulationFailed {
		t.Fatalf("step 2 status = %s, want simulation_failed", last.Status)
	}
	if last.ErrorMessage == "" {
		t.Fatal("terminal failure must carry an error message")
	}

	// Step 2's reservation was released; only step 1's spend committed.
	usage, _ := env.engine.DailyUsage(context.Background())
	if !usage[domain.WalletHot].Equal(dec(5_000)) {
		t.Fatalf("hot usage = %s, want 5000", usage[domain.WalletHot])
	}
}

func TestExecuteAllStepsFail(t *testing.T) {
	env := newTestEnv(t, 0)
	plan := storedPlan(t, env, domain.PlanStatusApproved, 5_000)
	env.sub.simFail[1] = true

	res, err := env.engine.ExecutePlan(context.Background(), plan.PlanID)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if res.Status != domain.ExecStatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	got, _ := env.plans.GetByID(context.Background(), plan.PlanID)
	if got.Status != domain.PlanStatusFailed {
		t.Fatalf("plan status = %s, want failed", got.Status)
	}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	env := newTestEnv(t, 0)
	plan := storedPlan(t, env, domain.PlanStatusApproved, 5_000)
	env.sub.submitFails[1] = 2 // fail twice, succeed on the third try

	res, err := env.engine.ExecutePlan(context.Background(), plan.PlanID)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if res.Status != domain.ExecStatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	ec, _ := env.engine.GetExecution(context.Background(), res.ExecutionID)
	rec := ec.Transactions[0]
	if rec.RetryCount != 2 {
		t.Fatalf("RetryCount = %d, want 2", rec.RetryCount)
	}
	// Exactly one committed spend despite the failed attempts.
	usage, _ := env.engine.DailyUsage(context.Background())
	if !usage[domain.WalletHot].Equal(dec(5_000)) {
		t.Fatalf("hot usage = %s, want 5000", usage[domain.WalletHot])
	}
}

func TestRetryBound(t *testing.T) {
	env := newTestEnv(t, 0)
	plan := storedPlan(t, env, domain.PlanStatusApproved, 5_000)
	env.sub.submitFails[1] = 100 // never recovers

	res, err := env.engine.ExecutePlan(context.Background(), plan.PlanID)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if res.Status != domain.ExecStatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	ec, _ := env.engine.GetExecution(context.Background(), res.ExecutionID)
	rec := ec.Transactions[0]
	if rec.RetryCount != 2 {
		t.Fatalf("RetryCount = %d, want MaxRetries (2)", rec.RetryCount)
	}
	if !strings.Contains(rec.ErrorMessage, domain.ErrRetriesExhausted.Error()) {
		t.Fatalf("error %q does not report exhausted retries", rec.ErrorMessage)
	}
	// Every attempt released its hold.
	usage, _ := env.engine.DailyUsage(context.Background())
	if !usage[domain.WalletHot].IsZero() {
		t.Fatalf("hot usage = %s, want 0", usage[domain.WalletHot])
	}
}

func TestNonRetryableStatusStops(t *testing.T) {
	env := newTestEnv(t, 0)
	plan := storedPlan(t, env, domain.PlanStatusApproved, 5_000)
	env.sub.simFail[1] = true // simulation_failed is not in RetryOn

	res, err := env.engine.ExecutePlan(context.Background(), plan.PlanID)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	ec, _ := env.engine.GetExecution(context.Background(), res.ExecutionID)
	if rc := ec.Transactions[0].RetryCount; rc != 0 {
		t.Fatalf("RetryCount = %d, want 0 for non-retryable status", rc)
	}
}

func TestRevertedIsNotRetried(t *testing.T) {
	env := newTestEnv(t, 0)
	plan := storedPlan(t, env, domain.PlanStatusApproved, 5_000)
	env.sub.revertAll = true

	res, err := env.engine.ExecutePlan(context.Background(), plan.PlanID)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if res.Status != domain.ExecStatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	ec, _ := env.engine.GetExecution(context.Background(), res.ExecutionID)
	rec := ec.Transactions[0]
	if rec.Status != domain.TxStatusReverted {
		t.Fatalf("status = %s, want reverted", rec.Status)
	}
	if rec.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0: a revert is final", rec.RetryCount)
	}
	usage, _ := env.engine.DailyUsage(context.Background())
	if !usage[domain.WalletHot].IsZero() {
		t.Fatalf("hot usage = %s, want 0 after revert", usage[domain.WalletHot])
	}
}

func TestParallelMergesRecordsInStepOrder(t *testing.T) {
	env := newTestEnv(t, 3)
	plan := storedPlan(t, env, domain.PlanStatusApproved, 5_000, 4_000, 3_000, 2_000)
	env.sub.simFail[3] = true

	res, err := env.engine.ExecutePlan(context.Background(), plan.PlanID)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	// Parallel mode keeps going past the failed step.
	if res.Status != domain.ExecStatusPartiallyCompleted {
		t.Fatalf("status = %s, want partially_completed", res.Status)
	}
	if res.CompletedSteps != 3 {
		t.Fatalf("completed = %d, want 3", res.CompletedSteps)
	}

	ec, _ := env.engine.GetExecution(context.Background(), res.ExecutionID)
	if len(ec.Transactions) != 4 {
		t.Fatalf("recorded %d transactions, want 4", len(ec.Transactions))
	}
	for i, rec := range ec.Transactions {
		if rec.StepID != i+1 {
			t.Fatalf("transaction %d has step id %d, want %d", i, rec.StepID, i+1)
		}
	}
	if ec.Transactions[2].Status != domain.TxStatusSimulationFailed {
		t.Fatalf("step 3 status = %s, want simulation_failed", ec.Transactions[2].Status)
	}
}

func TestCancelTerminalExecution(t *testing.T) {
	env := newTestEnv(t, 0)
	plan := storedPlan(t, env, domain.PlanStatusApproved, 5_000)
	res, err := env.engine.ExecutePlan(context.Background(), plan.PlanID)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	err = env.engine.CancelExecution(context.Background(), res.ExecutionID)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("cancel terminal execution: got %v, want ErrInvalidState", err)
	}
}

func TestCancelUnknownExecution(t *testing.T) {
	env := newTestEnv(t, 0)
	err := env.engine.CancelExecution(context.Background(), "exec_missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestResetDailyUsage(t *testing.T) {
	env := newTestEnv(t, 0)
	plan := storedPlan(t, env, domain.PlanStatusApproved, 5_000)
	if _, err := env.engine.ExecutePlan(context.Background(), plan.PlanID); err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if err := env.engine.ResetDailyUsage(context.Background()); err != nil {
		t.Fatalf("ResetDailyUsage: %v", err)
	}
	usage, _ := env.engine.DailyUsage(context.Background())
	if !usage[domain.WalletHot].IsZero() {
		t.Fatalf("usage after reset = %s, want 0", usage[domain.WalletHot])
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, ExponentialBackoff: true, MaxDelay: 30 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 30 * time.Second}, // capped
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Fatalf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
	flat := RetryPolicy{BaseDelay: time.Second}
	if got := flat.Delay(5); got != time.Second {
		t.Fatalf("flat Delay(5) = %s, want 1s", got)
	}
}
