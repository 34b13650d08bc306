package workflow

import (
	"net/http"
	"time"
)

// StepResult is the recorded outcome of one step within one run.
type StepResult struct {
	StepID     string           `json:"step_id"`
	StepName   string           `json:"step_name"`
	Success    bool             `json:"success"`
	StartTime  time.Time        `json:"start_time"`
	EndTime    time.Time        `json:"end_time"`
	Duration   time.Duration    `json:"-"`
	DurationMs int64            `json:"duration_ms"`
	Data       any              `json:"data,omitempty"`
	Errors     []*WorkflowError `json:"errors,omitempty"`
	RetryCount int              `json:"retry_count"`
}

func newStepResult(step *Step) *StepResult {
	return &StepResult{
		StepID:    step.ID,
		StepName:  step.Name,
		StartTime: time.Now(),
	}
}

func (r *StepResult) fail(err *WorkflowError) {
	r.Success = false
	r.Errors = append(r.Errors, err)
}

func (r *StepResult) finish() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	r.DurationMs = r.Duration.Milliseconds()
}

// PerformanceSnapshot is a copy of a context's counters at the end of a run.
type PerformanceSnapshot struct {
	StepsExecuted int                      `json:"steps_executed"`
	StepsFailed   int                      `json:"steps_failed"`
	StepsSkipped  int                      `json:"steps_skipped"`
	RetryAttempts int                      `json:"retry_attempts"`
	DataAccessOps int                      `json:"data_access_ops"`
	StepDurations map[string]time.Duration `json:"step_durations,omitempty"`
}

// WorkflowMetadata describes how a run went.
type WorkflowMetadata struct {
	ExecutionID string              `json:"execution_id"`
	WorkflowID  string              `json:"workflow_id"`
	StartTime   time.Time           `json:"start_time"`
	EndTime     time.Time           `json:"end_time"`
	Duration    time.Duration       `json:"-"`
	DurationMs  int64               `json:"duration_ms"`
	Steps       []*StepResult       `json:"steps"`
	Performance PerformanceSnapshot `json:"performance"`
	AuditTrail  []AuditEntry        `json:"audit_trail,omitempty"`
	Tenant      TenantInfo          `json:"tenant"`
}

// WorkflowResult is the outcome of a unit of work: a step handler call or a
// whole run.
type WorkflowResult struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message"`
	Data       any               `json:"data,omitempty"`
	Errors     []*WorkflowError  `json:"errors,omitempty"`
	StatusCode int               `json:"status_code"`
	Metadata   *WorkflowMetadata `json:"metadata,omitempty"`
}

// Success creates a successful result carrying data.
func Success(data any, message string) *WorkflowResult {
	return &WorkflowResult{
		Success:    true,
		Message:    message,
		Data:       data,
		StatusCode: http.StatusOK,
	}
}

// Created is Success with a 201 status.
func Created(data any, message string) *WorkflowResult {
	res := Success(data, message)
	res.StatusCode = http.StatusCreated
	return res
}

// Fail creates a failed result from one or more errors. The status code and
// message are taken from the first error.
func Fail(errs ...*WorkflowError) *WorkflowResult {
	res := &WorkflowResult{
		StatusCode: http.StatusInternalServerError,
		Message:    "workflow failed",
		Errors:     errs,
	}
	if len(errs) > 0 {
		res.StatusCode = StatusFor(errs[0].Code)
		res.Message = errs[0].Message
	}
	return res
}

// FailWithStatus is Fail with an explicit status code and message.
func FailWithStatus(status int, message string, errs ...*WorkflowError) *WorkflowResult {
	res := Fail(errs...)
	res.StatusCode = status
	res.Message = message
	return res
}

// FirstError returns the first recorded error, or nil.
func (r *WorkflowResult) FirstError() *WorkflowError {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// HasError reports whether an error with code was recorded.
func (r *WorkflowResult) HasError(code ErrorCode) bool {
	if r == nil {
		return false
	}
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// StepResult returns the recorded result for stepID, if any.
func (r *WorkflowResult) StepResult(stepID string) (*StepResult, bool) {
	if r == nil || r.Metadata == nil {
		return nil, false
	}
	for _, s := range r.Metadata.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return nil, false
}
