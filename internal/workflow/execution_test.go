package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionTransitions(t *testing.T) {
	tests := []struct {
		from    ExecutionStatus
		trigger executionTrigger
		to      ExecutionStatus
		ok      bool
	}{
		{StatusPending, triggerStart, StatusRunning, true},
		{StatusRunning, triggerComplete, StatusCompleted, true},
		{StatusRunning, triggerFail, StatusFailed, true},
		{StatusRunning, triggerCancel, StatusCancelled, true},
		{StatusFailed, triggerRetry, StatusRunning, true},
		{StatusPending, triggerComplete, StatusPending, false},
		{StatusCompleted, triggerRetry, StatusCompleted, false},
		{StatusCompleted, triggerCancel, StatusCompleted, false},
		{StatusCancelled, triggerRetry, StatusCancelled, false},
		{StatusFailed, triggerCancel, StatusFailed, false},
		{StatusRunning, triggerStart, StatusRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.trigger), func(t *testing.T) {
			exec := &WorkflowExecution{ID: "e1", Status: tt.from}
			err := exec.transition(tt.trigger)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
			assert.Equal(t, tt.to, exec.Status)
		})
	}
}

func TestExecutionStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestWorkflowExecution_Clone(t *testing.T) {
	end := time.Now()
	exec := &WorkflowExecution{
		ID:          "e1",
		EndTime:     &end,
		StepResults: []*StepResult{{StepID: "a"}},
		Metadata:    map[string]any{"retries": 1},
	}

	c := exec.Clone()
	c.Metadata["retries"] = 2
	c.StepResults = append(c.StepResults, &StepResult{StepID: "b"})
	*c.EndTime = end.Add(time.Hour)

	assert.Equal(t, 1, exec.Retries())
	assert.Len(t, exec.StepResults, 1)
	assert.Equal(t, end, *exec.EndTime)
}

func TestWorkflowExecution_RetriesFromJSONNumber(t *testing.T) {
	exec := &WorkflowExecution{Metadata: map[string]any{"retries": float64(3)}}
	assert.Equal(t, 3, exec.Retries())
	assert.Equal(t, 0, (&WorkflowExecution{}).Retries())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.SaveExecution(ctx, &WorkflowExecution{ID: "2", TenantID: "a", StartTime: now}))
	require.NoError(t, store.SaveExecution(ctx, &WorkflowExecution{ID: "1", TenantID: "a", StartTime: now.Add(-time.Minute)}))
	require.NoError(t, store.SaveExecution(ctx, &WorkflowExecution{ID: "3", TenantID: "b", StartTime: now}))

	got, err := store.ListExecutions(ctx, "a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)

	all, err := store.ListExecutions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got[0].Status = StatusFailed
	stored, err := store.GetExecution(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, stored.Status)

	require.NoError(t, store.DeleteExecution(ctx, "1"))
	require.NoError(t, store.DeleteExecution(ctx, "1"))
	_, err = store.GetExecution(ctx, "1")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}
