package workflow

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorCode is the string taxonomy carried by every WorkflowError.
type ErrorCode string

const (
	CodeMissingFields          ErrorCode = "MISSING_FIELDS"
	CodeInvalidContext         ErrorCode = "INVALID_CONTEXT"
	CodeInsufficientPerms      ErrorCode = "INSUFFICIENT_PERMISSIONS"
	CodeMissingPermission      ErrorCode = "MISSING_PERMISSION"
	CodeCrossTenantDenied      ErrorCode = "CROSS_TENANT_ACCESS_DENIED"
	CodeTenantMismatch         ErrorCode = "TENANT_MISMATCH"
	CodeDependencyNotMet       ErrorCode = "DEPENDENCY_NOT_MET"
	CodeStepExecution          ErrorCode = "STEP_EXECUTION_ERROR"
	CodeStepTimeout            ErrorCode = "STEP_TIMEOUT"
	CodeWorkflowExecution      ErrorCode = "WORKFLOW_EXECUTION_ERROR"
	CodeWorkflowCancelled      ErrorCode = "WORKFLOW_CANCELLED"
	CodeWorkflowNotFound       ErrorCode = "WORKFLOW_NOT_FOUND"
	CodeExecutionNotFound      ErrorCode = "EXECUTION_NOT_FOUND"
	CodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
)

var (
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrInvalidTransition  = errors.New("invalid execution status transition")
	ErrInvalidDefinition  = errors.New("invalid workflow definition")
	ErrManagerNotRunning  = errors.New("workflow manager is not running")
	ErrDuplicateStepID    = errors.New("duplicate step id")
	ErrUnknownDependency  = errors.New("dependency does not reference an earlier step")
	ErrMissingStepHandler = errors.New("step has no handler")
)

// WorkflowError is a structured failure recorded against a run or a step.
type WorkflowError struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	StepID    string         `json:"step_id,omitempty"`
	Retryable bool           `json:"retryable"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewError creates a WorkflowError with the default retryability for code.
func NewError(code ErrorCode, message string) *WorkflowError {
	return &WorkflowError{
		Code:      code,
		Message:   message,
		Retryable: DefaultRetryable(code),
		Timestamp: time.Now(),
	}
}

// Errorf is NewError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *WorkflowError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ForStep returns a copy of e owned by stepID.
func (e *WorkflowError) ForStep(stepID string) *WorkflowError {
	c := *e
	c.StepID = stepID
	return &c
}

// WithDetail returns e with key set in its details.
func (e *WorkflowError) WithDetail(key string, value any) *WorkflowError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// DefaultRetryable reports whether errors of code may succeed when retried
// without the caller changing anything.
func DefaultRetryable(code ErrorCode) bool {
	switch code {
	case CodeStepExecution, CodeStepTimeout, CodeWorkflowExecution:
		return true
	}
	return false
}

// StatusFor maps an error code to the status code surfaced to callers.
func StatusFor(code ErrorCode) int {
	switch code {
	case CodeMissingFields, CodeInvalidContext:
		return http.StatusBadRequest
	case CodeInsufficientPerms, CodeMissingPermission, CodeCrossTenantDenied, CodeTenantMismatch:
		return http.StatusForbidden
	case CodeWorkflowNotFound, CodeExecutionNotFound:
		return http.StatusNotFound
	case CodeWorkflowCancelled, CodeInvalidStateTransition:
		return http.StatusConflict
	case CodeStepTimeout:
		return http.StatusGatewayTimeout
	case CodeDependencyNotMet:
		return http.StatusFailedDependency
	}
	if isInvalidCode(code) {
		return http.StatusBadRequest
	}
	if isLimitCode(code) {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func isInvalidCode(code ErrorCode) bool {
	return strings.HasPrefix(string(code), "INVALID_")
}

func isLimitCode(code ErrorCode) bool {
	return strings.HasSuffix(string(code), "_LIMIT_EXCEEDED")
}

// AsWorkflowError converts err into a WorkflowError, wrapping foreign errors
// with fallback.
func AsWorkflowError(err error, fallback ErrorCode) *WorkflowError {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we
	}
	return NewError(fallback, err.Error())
}
