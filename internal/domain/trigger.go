package domain

import "time"

// TriggerType names a rebalance trigger source.
type TriggerType string

const (
	TriggerThreshold TriggerType = "threshold"
	TriggerLiquidity TriggerType = "liquidity"
	TriggerManual    TriggerType = "manual"
)

// TriggerSeverity grades how urgently a fired trigger should be acted on.
type TriggerSeverity string

const (
	SeverityNormal   TriggerSeverity = "normal"
	SeverityHigh     TriggerSeverity = "high"
	SeverityCritical TriggerSeverity = "critical"
)

// TriggerResult is the outcome of evaluating one trigger condition.
// Non-firing evaluations are still returned so operators can see why a
// trigger stayed quiet.
type TriggerResult struct {
	Type      TriggerType
	Triggered bool
	Severity  TriggerSeverity
	Reason    string
	Metric    float64 // the observed value the trigger compared
	EvalAt    time.Time
}

// TriggerHistoryEntry records one trigger-service decision, whether or not
// it produced a plan.
type TriggerHistoryEntry struct {
	Type      TriggerType
	Triggered bool
	Severity  TriggerSeverity
	Reason    string
	PlanID    string
	At        time.Time
}
