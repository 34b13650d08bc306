package workflow

import (
	"context"
	"fmt"
	"time"
)

// StepType tags what kind of work a step performs.
type StepType string

const (
	StepValidation     StepType = "validation"
	StepTransformation StepType = "transformation"
	StepBusinessLogic  StepType = "business-logic"
	StepDataAccess     StepType = "data-access"
	StepNotification   StepType = "notification"
)

// Handler performs one step. A returned error is a thrown failure and may be
// retried; a result with Success=false is a business failure and is not.
//
// Each attempt gets its own view of the ExecutionContext. Its writes are
// applied when the handler returns; an attempt that outlives its deadline or
// the run's cancellation is abandoned and its writes are discarded.
type Handler func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error)

// Step is one named unit of work inside a Definition.
type Step struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Type      StepType      `json:"type"`
	DependsOn []string      `json:"depends_on,omitempty"`
	Timeout   time.Duration `json:"timeout"`
	Retryable bool          `json:"retryable"`
	Critical  bool          `json:"critical"`
	Handler   Handler       `json:"-"`
}

// Trigger describes what starts a workflow.
type Trigger struct {
	Type  string `json:"type"` // api, event, schedule
	Event string `json:"event,omitempty"`
}

// Condition is a precondition descriptor published with a definition.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// ErrorHandling is the failure policy of a workflow.
type ErrorHandling struct {
	MaxRetries      int           `json:"max_retries"`
	RetryDelay      time.Duration `json:"retry_delay"`
	Fallback        string        `json:"fallback,omitempty"`
	NotifyOnFailure []string      `json:"notify_on_failure,omitempty"`
}

// SuccessPolicy decides which recorded errors make a run unsuccessful.
type SuccessPolicy string

const (
	// SuccessPolicyAllSteps fails the run on any recorded error, including
	// errors of non-critical steps that execution continued past.
	SuccessPolicyAllSteps SuccessPolicy = "all-steps"
	// SuccessPolicyCriticalOnly fails the run only when a critical step
	// failed. Non-critical errors are still attached to the result.
	SuccessPolicyCriticalOnly SuccessPolicy = "critical-only"
)

// Definition is the static description of a workflow. It must not be
// modified after registration.
type Definition struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Version            string        `json:"version"`
	Steps              []*Step       `json:"steps"`
	Triggers           []Trigger     `json:"triggers,omitempty"`
	Conditions         []Condition   `json:"conditions,omitempty"`
	ErrorHandling      ErrorHandling `json:"error_handling"`
	TenantSpecific     bool          `json:"tenant_specific"`
	CrossTenantAllowed bool          `json:"cross_tenant_allowed"`
	SuccessPolicy      SuccessPolicy `json:"success_policy,omitempty"`
}

// Validate checks step ids are unique, every dependency names an earlier
// step and every step has a handler.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDefinition)
	}
	if d.ErrorHandling.MaxRetries < 0 || d.ErrorHandling.RetryDelay < 0 {
		return fmt.Errorf("%w: %s: negative retry policy", ErrInvalidDefinition, d.ID)
	}
	seen := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if seen[s.ID] {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateStepID, d.ID, s.ID)
		}
		if s.Handler == nil {
			return fmt.Errorf("%w: %s/%s", ErrMissingStepHandler, d.ID, s.ID)
		}
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("%w: %s/%s -> %s", ErrUnknownDependency, d.ID, s.ID, dep)
			}
		}
		seen[s.ID] = true
	}
	return nil
}

// Step returns the step with id, or nil.
func (d *Definition) Step(id string) *Step {
	for _, s := range d.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// StepIDs returns the step ids in declared order.
func (d *Definition) StepIDs() []string {
	ids := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		ids[i] = s.ID
	}
	return ids
}

func (d *Definition) successPolicy() SuccessPolicy {
	if d.SuccessPolicy == "" {
		return SuccessPolicyAllSteps
	}
	return d.SuccessPolicy
}

func (d *Definition) maxRetriesFor(s *Step) int {
	if !s.Retryable {
		return 0
	}
	return d.ErrorHandling.MaxRetries
}
