package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "helmsman"

// Metrics holds all Helmsman metric instruments. Denials carry a "reason"
// attribute (policy, budget, emergency_stop, approval).
type Metrics struct {
	TasksAdmitted     metric.Int64Counter
	TasksDenied       metric.Int64Counter
	PhasesDispatched  metric.Int64Counter
	PhasesFailed      metric.Int64Counter
	ApprovalsRequests metric.Int64Counter
	ApprovalsResolved metric.Int64Counter
	TokensRecorded    metric.Int64Counter
	PhaseDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksAdmitted, err = meter.Int64Counter("helmsman.tasks.admitted",
		metric.WithDescription("Number of tasks admitted by the coordinator"))
	if err != nil {
		return nil, err
	}

	m.TasksDenied, err = meter.Int64Counter("helmsman.tasks.denied",
		metric.WithDescription("Number of tasks denied admission"))
	if err != nil {
		return nil, err
	}

	m.PhasesDispatched, err = meter.Int64Counter("helmsman.phases.dispatched",
		metric.WithDescription("Number of workflow phases dispatched"))
	if err != nil {
		return nil, err
	}

	m.PhasesFailed, err = meter.Int64Counter("helmsman.phases.failed",
		metric.WithDescription("Number of workflow phases that failed"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsRequests, err = meter.Int64Counter("helmsman.approvals.requested",
		metric.WithDescription("Number of approval requests created"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsResolved, err = meter.Int64Counter("helmsman.approvals.resolved",
		metric.WithDescription("Number of approval requests resolved"))
	if err != nil {
		return nil, err
	}

	m.TokensRecorded, err = meter.Int64Counter("helmsman.budget.tokens_recorded",
		metric.WithDescription("Token usage recorded against budgets"))
	if err != nil {
		return nil, err
	}

	m.PhaseDuration, err = meter.Float64Histogram("helmsman.phase.duration_seconds",
		metric.WithDescription("Phase duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
