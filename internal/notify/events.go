package notify

import (
	"fmt"
	"strings"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// Event types dispatched by the runtime. Operators list these in config to
// choose which alerts they receive.
const (
	EventTriggerFired      = "trigger.fired"
	EventPlanGenerated     = "plan.generated"
	EventExecutionFinished = "execution.finished"
	EventLiquidityCritical = "liquidity.critical"
)

// FormatTrigger renders a trigger alert body.
func FormatTrigger(res domain.TriggerResult) (title, message string) {
	title = fmt.Sprintf("Rebalance trigger: %s (%s)", res.Type, res.Severity)
	message = fmt.Sprintf("%s\nmetric: %.4f", res.Reason, res.Metric)
	return title, message
}

// FormatPlan renders a plan summary for operator review.
func FormatPlan(plan domain.RebalancePlan) (title, message string) {
	title = fmt.Sprintf("Plan %s generated (%d steps)", plan.PlanID, len(plan.Steps))
	var b strings.Builder
	fmt.Fprintf(&b, "trigger: %s\ntotal: %s\nest. gas: %d\n", plan.TriggerReason, plan.TotalAmount, plan.EstimatedGas)
	for _, step := range plan.Steps {
		fmt.Fprintf(&b, "  %d. %s %s -> %s: %s\n", step.StepID, step.Action, step.FromTier, step.ToTier, step.Amount)
	}
	return title, b.String()
}

// FormatExecution renders an execution outcome summary.
func FormatExecution(res domain.ExecutionResult) (title, message string) {
	title = fmt.Sprintf("Execution %s: %s", res.ExecutionID, res.Status)
	message = fmt.Sprintf("plan: %s\nsteps: %d/%d\ngas: %d\nmoved: %s\nduration: %s",
		res.PlanID, res.CompletedSteps, res.TotalSteps, res.TotalGasUsed, res.TotalMoved, res.Duration)
	if res.ErrorMessage != "" {
		message += "\nerror: " + res.ErrorMessage
	}
	return title, message
}
