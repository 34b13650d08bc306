package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "talentgrid/backend/internal/workflow"

type instruments struct {
	stepAttempts metric.Int64Counter
	stepFailures metric.Int64Counter
	stepDuration metric.Float64Histogram
	executions   metric.Int64Counter
	active       metric.Int64UpDownCounter
}

// newInstruments creates the workflow instruments on meter, falling back to
// the global meter provider when meter is nil. Instruments that fail to
// register are replaced by no-ops.
func newInstruments(meter metric.Meter) *instruments {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	ins := &instruments{}

	var err error
	if ins.stepAttempts, err = meter.Int64Counter("workflow.step.attempts",
		metric.WithDescription("Step handler invocations, retries included")); err != nil {
		ins.stepAttempts = noop.Int64Counter{}
	}
	if ins.stepFailures, err = meter.Int64Counter("workflow.step.failures",
		metric.WithDescription("Steps recorded as failed")); err != nil {
		ins.stepFailures = noop.Int64Counter{}
	}
	if ins.stepDuration, err = meter.Float64Histogram("workflow.step.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Step wall time including retries")); err != nil {
		ins.stepDuration = noop.Float64Histogram{}
	}
	if ins.executions, err = meter.Int64Counter("workflow.executions",
		metric.WithDescription("Executions by terminal status")); err != nil {
		ins.executions = noop.Int64Counter{}
	}
	if ins.active, err = meter.Int64UpDownCounter("workflow.executions.active",
		metric.WithDescription("Executions currently running")); err != nil {
		ins.active = noop.Int64UpDownCounter{}
	}
	return ins
}

func (i *instruments) stepAttempted(ctx context.Context, workflowID, stepID string) {
	i.stepAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("step_id", stepID),
	))
}

func (i *instruments) stepFailed(ctx context.Context, workflowID, stepID string, code ErrorCode) {
	i.stepFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("step_id", stepID),
		attribute.String("code", string(code)),
	))
}

func (i *instruments) stepFinished(ctx context.Context, workflowID, stepID string, d time.Duration) {
	i.stepDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("step_id", stepID),
	))
}

func (i *instruments) executionStarted(ctx context.Context, workflowID string) {
	i.active.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_id", workflowID)))
}

func (i *instruments) executionFinished(ctx context.Context, workflowID, tenantID string, status ExecutionStatus) {
	i.active.Add(ctx, -1, metric.WithAttributes(attribute.String("workflow_id", workflowID)))
	i.executions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("tenant_id", tenantID),
		attribute.String("status", string(status)),
	))
}
