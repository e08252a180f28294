package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/meridianlabs/fundbot/internal/config"
	"github.com/meridianlabs/fundbot/internal/domain"
	"github.com/meridianlabs/fundbot/internal/executor"
	"github.com/meridianlabs/fundbot/internal/notify"
	"github.com/meridianlabs/fundbot/internal/signing"
	"github.com/meridianlabs/fundbot/internal/strategy"
	"github.com/meridianlabs/fundbot/internal/trigger"
	"github.com/meridianlabs/fundbot/internal/valuation"
)

// runtime bundles the domain services built on top of the wired
// dependencies: the valuation source, strategy engine, trigger service, and
// execution engine.
type runtime struct {
	valuation domain.ValuationSource
	// static is non-nil when the valuation source is the config-seeded
	// snapshot; confirmed transfers are applied back to it so repeated
	// evaluations converge instead of re-triggering forever.
	static   *valuation.StaticSource
	strategy *strategy.Engine
	trigger  *trigger.Service
	executor *executor.Engine
}

// buildRuntime constructs the strategy, trigger, and execution services from
// config and the wired dependencies.
func (a *App) buildRuntime(deps *Dependencies) (*runtime, error) {
	tiers := a.tierConfigs()

	static := valuation.NewStaticSource(a.initialStates())
	var source domain.ValuationSource = static
	if deps.StateCache != nil {
		source = valuation.NewCachedSource(static, deps.StateCache)
	}

	stratEngine := strategy.NewEngine(tiers, deps.PlanStore, deps.AuditStore, a.logger)

	trigSvc := trigger.NewService(trigger.Config{
		ThresholdEnabled:   a.cfg.Trigger.ThresholdEnabled,
		DeviationThreshold: a.cfg.Trigger.DeviationThreshold,
		LiquidityEnabled:   a.cfg.Trigger.LiquidityEnabled,
		L1MinRatio:         a.cfg.Trigger.L1MinRatio,
		L1CriticalRatio:    a.cfg.Trigger.L1CriticalRatio,
	}, stratEngine, a.logger)

	wallets, err := a.walletConfigs()
	if err != nil {
		return nil, err
	}
	selector := executor.NewSelector(wallets, deps.UsageLedger)

	retry := executor.DefaultRetryPolicy()
	retry.MaxRetries = a.cfg.Executor.Retry.MaxRetries
	if a.cfg.Executor.Retry.BaseDelay.Duration > 0 {
		retry.BaseDelay = a.cfg.Executor.Retry.BaseDelay.Duration
	}
	retry.ExponentialBackoff = a.cfg.Executor.Retry.ExponentialBackoff
	if a.cfg.Executor.Retry.MaxDelay.Duration > 0 {
		retry.MaxDelay = a.cfg.Executor.Retry.MaxDelay.Duration
	}

	execEngine := executor.NewEngine(
		executor.Config{
			SimulationEnabled: a.cfg.Executor.SimulationEnabled,
			GasMultiplier:     a.cfg.Executor.GasMultiplier,
			Confirmations:     a.cfg.Executor.Confirmations,
			ConfirmTimeout:    a.cfg.Executor.ConfirmTimeout.Duration,
			ParallelSteps:     a.cfg.Executor.ParallelSteps,
			TierAddresses: map[domain.Tier]common.Address{
				domain.TierL1: common.HexToAddress(a.cfg.Fund.L1.Address),
				domain.TierL2: common.HexToAddress(a.cfg.Fund.L2.Address),
				domain.TierL3: common.HexToAddress(a.cfg.Fund.L3.Address),
			},
			Retry: retry,
		},
		selector,
		executor.NewSimulatedSubmitter(1),
		a.buildSigner(),
		deps.UsageLedger,
		deps.PlanStore,
		deps.ExecutionStore,
		deps.AuditStore,
		a.logger,
	)

	return &runtime{
		valuation: source,
		static:    static,
		strategy:  stratEngine,
		trigger:   trigSvc,
		executor:  execEngine,
	}, nil
}

// MonitorMode evaluates triggers on an interval and sends alerts. No plans
// are generated and nothing is executed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies, rt *runtime) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runTriggerLoop(ctx, deps, rt, nil)
	})
	return g.Wait()
}

// ExecuteMode polls for approved plans and runs them through the execution
// engine. Plan generation happens elsewhere (an operator, or another
// instance in auto mode).
func (a *App) ExecuteMode(ctx context.Context, deps *Dependencies, rt *runtime) error {
	a.logger.InfoContext(ctx, "starting execute mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runExecuteLoop(ctx, deps, rt)
	})
	return g.Wait()
}

// AutoMode runs the full loop: evaluate triggers, generate and approve plans
// when one fires, and execute approved plans.
func (a *App) AutoMode(ctx context.Context, deps *Dependencies, rt *runtime) error {
	a.logger.InfoContext(ctx, "starting auto mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runTriggerLoop(ctx, deps, rt, a.generateAndApprove)
	})
	g.Go(func() error {
		return a.runExecuteLoop(ctx, deps, rt)
	})
	return g.Wait()
}

// onFire is called from the trigger loop after each evaluation cycle with
// the current snapshot. Nil in monitor mode.
type onFire func(ctx context.Context, deps *Dependencies, rt *runtime, states []domain.TierState, total decimal.Decimal)

// runTriggerLoop evaluates all triggers once per interval, notifies on every
// fired trigger, and hands the snapshot to fire when set.
func (a *App) runTriggerLoop(ctx context.Context, deps *Dependencies, rt *runtime, fire onFire) error {
	interval := a.cfg.Trigger.Interval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	runOnce := func() {
		states, err := rt.valuation.TierStates(ctx)
		if err != nil {
			a.logger.ErrorContext(ctx, "trigger loop: read tier states",
				slog.String("error", err.Error()))
			return
		}
		total := domain.TotalValue(states)
		results := rt.trigger.EvaluateAllTriggers(states, total)
		for _, res := range results {
			a.logger.DebugContext(ctx, "trigger evaluated",
				slog.String("type", string(res.Type)),
				slog.Bool("triggered", res.Triggered),
				slog.Float64("metric", res.Metric),
			)
			if res.Triggered {
				a.notifyTrigger(ctx, deps, res)
			}
		}
		if fire != nil {
			fire(ctx, deps, rt, states, total)
		}
	}

	runOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runOnce()
		}
	}
}

// generateAndApprove asks the trigger service for a plan and approves it so
// the execute loop picks it up. A nil plan means no trigger fired.
func (a *App) generateAndApprove(ctx context.Context, deps *Dependencies, rt *runtime, states []domain.TierState, total decimal.Decimal) {
	plan, err := rt.trigger.TriggerAutomatic(ctx, states, total)
	if err != nil {
		a.logger.ErrorContext(ctx, "auto mode: plan generation failed",
			slog.String("error", err.Error()))
		return
	}
	if plan == nil {
		return
	}

	title, msg := notify.FormatPlan(*plan)
	if err := deps.Notifier.Notify(ctx, notify.EventPlanGenerated, title, msg); err != nil {
		a.logger.WarnContext(ctx, "auto mode: plan notification failed",
			slog.String("error", err.Error()))
	}

	if err := rt.strategy.ApprovePlan(ctx, plan.PlanID); err != nil {
		a.logger.ErrorContext(ctx, "auto mode: plan approval failed",
			slog.String("plan_id", plan.PlanID),
			slog.String("error", err.Error()))
	}
}

// runExecuteLoop polls for approved plans and executes each one.
func (a *App) runExecuteLoop(ctx context.Context, deps *Dependencies, rt *runtime) error {
	interval := a.cfg.Executor.PollInterval.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}

	runOnce := func() {
		plans, err := deps.PlanStore.ListByStatus(ctx, domain.PlanStatusApproved, domain.ListOpts{Limit: 10})
		if err != nil {
			a.logger.ErrorContext(ctx, "execute loop: list approved plans",
				slog.String("error", err.Error()))
			return
		}
		for _, plan := range plans {
			if ctx.Err() != nil {
				return
			}
			a.executePlan(ctx, deps, rt, plan.PlanID)
		}
	}

	runOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runOnce()
		}
	}
}

// executePlan runs one approved plan through the execution engine, guarded
// by a distributed lock when one is configured so that two instances never
// execute the same plan concurrently.
func (a *App) executePlan(ctx context.Context, deps *Dependencies, rt *runtime, planID string) {
	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, "execute:"+planID, 10*time.Minute)
		if err != nil {
			a.logger.DebugContext(ctx, "execute loop: plan locked by another instance",
				slog.String("plan_id", planID),
				slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	res, err := rt.executor.ExecutePlan(ctx, planID)
	if err != nil {
		a.logger.ErrorContext(ctx, "execute loop: plan execution failed",
			slog.String("plan_id", planID),
			slog.String("error", err.Error()))
		return
	}

	a.logger.InfoContext(ctx, "plan executed",
		slog.String("plan_id", planID),
		slog.String("execution_id", res.ExecutionID),
		slog.String("status", string(res.Status)),
		slog.Int("completed_steps", res.CompletedSteps),
		slog.Int("total_steps", res.TotalSteps),
		slog.String("total_moved", res.TotalMoved.String()),
	)

	title, msg := notify.FormatExecution(res)
	if err := deps.Notifier.Notify(ctx, notify.EventExecutionFinished, title, msg); err != nil {
		a.logger.WarnContext(ctx, "execute loop: execution notification failed",
			slog.String("error", err.Error()))
	}

	a.applyConfirmedTransfers(ctx, deps, rt, res.ExecutionID)

	if deps.Archiver != nil {
		ec, err := rt.executor.GetExecution(ctx, res.ExecutionID)
		if err == nil && ec.Status.Terminal() {
			if path, err := deps.Archiver.ArchiveExecution(ctx, ec); err != nil {
				a.logger.WarnContext(ctx, "execute loop: archive failed",
					slog.String("execution_id", res.ExecutionID),
					slog.String("error", err.Error()))
			} else {
				a.logger.InfoContext(ctx, "execution archived",
					slog.String("execution_id", res.ExecutionID),
					slog.String("path", path))
			}
		}
	}
}

// applyConfirmedTransfers folds an execution's confirmed transfers back into
// the static valuation snapshot. Without a live feed the snapshot is the
// only view of the portfolio; leaving it stale would re-fire the same
// trigger every cycle.
func (a *App) applyConfirmedTransfers(ctx context.Context, deps *Dependencies, rt *runtime, executionID string) {
	if rt.static == nil {
		return
	}
	ec, err := rt.executor.GetExecution(ctx, executionID)
	if err != nil {
		return
	}
	plan, err := deps.PlanStore.GetByID(ctx, ec.PlanID)
	if err != nil {
		return
	}
	steps := make(map[int]domain.PlanStep, len(plan.Steps))
	for _, s := range plan.Steps {
		steps[s.StepID] = s
	}
	for _, tx := range ec.Transactions {
		if tx.Status != domain.TxStatusConfirmed {
			continue
		}
		if step, ok := steps[tx.StepID]; ok {
			rt.static.ApplyTransfer(step.FromTier, step.ToTier, tx.Value)
		}
	}
}

// notifyTrigger sends the trigger alert, escalating critical liquidity
// breaches to their own event type so operators can route them separately.
func (a *App) notifyTrigger(ctx context.Context, deps *Dependencies, res domain.TriggerResult) {
	title, msg := notify.FormatTrigger(res)
	event := notify.EventTriggerFired
	if res.Severity == domain.SeverityCritical {
		event = notify.EventLiquidityCritical
	}
	if err := deps.Notifier.Notify(ctx, event, title, msg); err != nil {
		a.logger.WarnContext(ctx, "trigger notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

// tierConfigs converts fund configuration to domain tier configs.
func (a *App) tierConfigs() []domain.TierConfig {
	return []domain.TierConfig{
		{
			Tier:               domain.TierL1,
			TargetRatio:        a.cfg.Fund.L1.TargetRatio,
			MinRatio:           a.cfg.Fund.L1.MinRatio,
			MaxRatio:           a.cfg.Fund.L1.MaxRatio,
			RebalanceThreshold: a.cfg.Fund.L1.RebalanceThreshold,
		},
		{
			Tier:               domain.TierL2,
			TargetRatio:        a.cfg.Fund.L2.TargetRatio,
			MinRatio:           a.cfg.Fund.L2.MinRatio,
			MaxRatio:           a.cfg.Fund.L2.MaxRatio,
			RebalanceThreshold: a.cfg.Fund.L2.RebalanceThreshold,
		},
		{
			Tier:               domain.TierL3,
			TargetRatio:        a.cfg.Fund.L3.TargetRatio,
			MinRatio:           a.cfg.Fund.L3.MinRatio,
			MaxRatio:           a.cfg.Fund.L3.MaxRatio,
			RebalanceThreshold: a.cfg.Fund.L3.RebalanceThreshold,
		},
	}
}

// initialStates seeds the static valuation source from config. Unparseable
// values fall back to zero; config validation already rejects them.
func (a *App) initialStates() []domain.TierState {
	value := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return []domain.TierState{
		{Tier: domain.TierL1, Value: value(a.cfg.Fund.L1.InitialValue)},
		{Tier: domain.TierL2, Value: value(a.cfg.Fund.L2.InitialValue)},
		{Tier: domain.TierL3, Value: value(a.cfg.Fund.L3.InitialValue)},
	}
}

// walletConfigs converts the configured funding wallets to domain configs.
func (a *App) walletConfigs() ([]domain.WalletConfig, error) {
	type entry struct {
		tier domain.WalletTier
		cfg  config.WalletConfig
	}
	entries := []entry{
		{domain.WalletHot, a.cfg.Wallets.Hot},
		{domain.WalletWarm, a.cfg.Wallets.Warm},
		{domain.WalletCold, a.cfg.Wallets.Cold},
	}
	out := make([]domain.WalletConfig, 0, len(entries))
	for _, e := range entries {
		maxTx, err := decimal.NewFromString(e.cfg.MaxSingleTx)
		if err != nil {
			return nil, fmt.Errorf("wallets.%s: parse max_single_tx %q: %w", e.tier, e.cfg.MaxSingleTx, err)
		}
		limit, err := decimal.NewFromString(e.cfg.DailyLimit)
		if err != nil {
			return nil, fmt.Errorf("wallets.%s: parse daily_limit %q: %w", e.tier, e.cfg.DailyLimit, err)
		}
		out = append(out, domain.WalletConfig{
			Address:     common.HexToAddress(e.cfg.Address),
			Tier:        e.tier,
			MaxSingleTx: maxTx,
			DailyLimit:  limit,
			IsActive:    e.cfg.Active,
		})
	}
	return out, nil
}

// buildSigner loads every configured wallet key into one keyring. It returns
// nil when no wallet has key material; the execution engine then runs
// unsigned (simulation deployments).
func (a *App) buildSigner() executor.Signer {
	ring := signing.NewKeyring()
	loaded := 0
	wallets := map[string]config.WalletConfig{
		"hot":  a.cfg.Wallets.Hot,
		"warm": a.cfg.Wallets.Warm,
		"cold": a.cfg.Wallets.Cold,
	}
	for name, w := range wallets {
		if w.PrivateKey == "" && w.EncryptedKeyPath == "" {
			continue
		}
		addr, err := ring.AddKeyFromConfig(signing.KeyConfig{
			RawPrivateKey:    w.PrivateKey,
			EncryptedKeyPath: w.EncryptedKeyPath,
			KeyPassword:      w.KeyPassword,
		})
		if err != nil {
			a.logger.Warn("wallet key load failed",
				slog.String("wallet", name),
				slog.String("error", err.Error()))
			continue
		}
		if w.Address != "" && common.HexToAddress(w.Address) != addr {
			a.logger.Warn("wallet key does not match configured address",
				slog.String("wallet", name),
				slog.String("configured", w.Address),
				slog.String("derived", addr.Hex()))
		}
		loaded++
	}
	if loaded == 0 {
		a.logger.Info("no wallet keys configured, transfers go out unsigned")
		return nil
	}
	return ring
}
