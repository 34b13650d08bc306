package workflow

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
)

// ExecutionStatus is the lifecycle state of a WorkflowExecution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transition is expected, retry aside.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type executionTrigger string

const (
	triggerStart    executionTrigger = "start"
	triggerComplete executionTrigger = "complete"
	triggerFail     executionTrigger = "fail"
	triggerCancel   executionTrigger = "cancel"
	triggerRetry    executionTrigger = "retry"
)

// WorkflowExecution is the Manager's record of one run.
type WorkflowExecution struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id"`
	WorkflowKey string           `json:"workflow_key"`
	TenantID    string           `json:"tenant_id"`
	UserID      string           `json:"user_id,omitempty"`
	Status      ExecutionStatus  `json:"status"`
	StartTime   time.Time        `json:"start_time"`
	EndTime     *time.Time       `json:"end_time,omitempty"`
	CurrentStep string           `json:"current_step,omitempty"`
	StepResults []*StepResult    `json:"step_results"`
	Errors      []*WorkflowError `json:"errors,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

func newExecution(w Workflow, ec *ExecutionContext, now time.Time) *WorkflowExecution {
	exec := &WorkflowExecution{
		ID:          uuid.NewString(),
		WorkflowID:  w.Definition().ID,
		WorkflowKey: w.Key(),
		TenantID:    ec.Tenant.ID,
		Status:      StatusPending,
		StartTime:   now,
		Metadata: map[string]any{
			"workflow_version": w.Definition().Version,
			"retries":          0,
		},
	}
	if ec.User != nil {
		exec.UserID = ec.User.ID
	}
	if ec.CrossTenantAccess {
		exec.Metadata["target_tenant_id"] = ec.TargetTenantID
	}
	return exec
}

// Clone returns a copy that shares no mutable state with e. Recorded step
// results and errors are immutable and are shared.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	c := *e
	if e.EndTime != nil {
		end := *e.EndTime
		c.EndTime = &end
	}
	c.StepResults = append([]*StepResult(nil), e.StepResults...)
	c.Errors = append([]*WorkflowError(nil), e.Errors...)
	c.Metadata = maps.Clone(e.Metadata)
	return &c
}

// Retries returns how many times the execution was restarted.
func (e *WorkflowExecution) Retries() int {
	switch v := e.Metadata["retries"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// transition moves the record through the status machine. Only
// pending->running, running->{completed,failed,cancelled} and
// failed->running (retry) are permitted.
func (e *WorkflowExecution) transition(trigger executionTrigger) error {
	from := e.Status
	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return e.Status, nil
		},
		func(_ context.Context, state stateless.State) error {
			e.Status = state.(ExecutionStatus)
			return nil
		},
		stateless.FiringImmediate,
	)
	sm.Configure(StatusPending).
		Permit(triggerStart, StatusRunning)
	sm.Configure(StatusRunning).
		Permit(triggerComplete, StatusCompleted).
		Permit(triggerFail, StatusFailed).
		Permit(triggerCancel, StatusCancelled)
	sm.Configure(StatusFailed).
		Permit(triggerRetry, StatusRunning)
	sm.Configure(StatusCompleted)
	sm.Configure(StatusCancelled)

	if err := sm.Fire(trigger); err != nil {
		return fmt.Errorf("%w: cannot %s execution %s in status %s", ErrInvalidTransition, trigger, e.ID, from)
	}
	return nil
}
