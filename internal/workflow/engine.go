package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/metric"

	"talentgrid/backend/internal/logging"
	"talentgrid/backend/pkg/models"
)

var (
	errStepPanic    = errors.New("step handler panicked")
	errRunTimeout   = errors.New("workflow run timeout exceeded")
	errRunCancelled = errors.New("workflow run cancelled")
	errStepTimedOut = errors.New("step timed out")
)

// Engine runs the steps of a Definition sequentially against one
// ExecutionContext. An Engine holds no per-run state and may be shared.
type Engine struct {
	logger             *logging.Logger
	metrics            *instruments
	defaultStepTimeout time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the engine logger.
func WithEngineLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithDefaultStepTimeout bounds steps that declare no timeout of their own.
func WithDefaultStepTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.defaultStepTimeout = d
	}
}

// WithEngineMeter records step metrics on meter.
func WithEngineMeter(meter metric.Meter) EngineOption {
	return func(e *Engine) {
		e.metrics = newInstruments(meter)
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.metrics == nil {
		e.metrics = newInstruments(nil)
	}
	return e
}

type run struct {
	def       *Definition
	ec        *ExecutionContext
	steps     []*StepResult
	succeeded map[string]bool
	runErrs   []*WorkflowError

	criticalFailed bool
	interrupted    bool
	failedStep     string
	failedStatus   int
}

// Run executes def against ec and returns the aggregated result. Steps run
// in declared order. A step whose dependencies have not all succeeded is
// not invoked. A critical step failure ends the run.
func (e *Engine) Run(ctx context.Context, def *Definition, ec *ExecutionContext) *WorkflowResult {
	if ec.ExecutionID == "" {
		ec.ExecutionID = uuid.NewString()
	}
	ec.WorkflowID = def.ID

	r := &run{
		def:       def,
		ec:        ec,
		succeeded: make(map[string]bool, len(def.Steps)),
	}
	log := e.logger.With("workflow_id", def.ID, "execution_id", ec.ExecutionID, "tenant_id", ec.Tenant.ID)

	if werr := ec.Validate(); werr != nil {
		log.Warn("Execution context rejected", "error", werr.Message)
		r.runErrs = append(r.runErrs, werr)
		return e.finish(r)
	}
	if werr := CheckTenantPermission(def, ec); werr != nil {
		log.Warn("Tenant permission denied", "error", werr.Message)
		r.runErrs = append(r.runErrs, werr)
		return e.finish(r)
	}

	if ec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, ec.Timeout, errRunTimeout)
		defer cancel()
	}

	ec.AddAudit("workflow.started", map[string]any{"workflow_id": def.ID, "version": def.Version})
	log.Debug("Workflow started", "steps", len(def.Steps))

	for _, step := range def.Steps {
		if ctx.Err() != nil {
			r.runErrs = append(r.runErrs, interruption(ctx).ForStep(step.ID))
			r.interrupted = true
			break
		}
		res, interrupted := e.runStep(ctx, r, step, log)
		r.steps = append(r.steps, res)
		if res.Success {
			r.succeeded[step.ID] = true
			continue
		}
		if interrupted {
			r.interrupted = true
			break
		}
		if step.Critical {
			r.criticalFailed = true
			log.Warn("Critical step failed, aborting workflow", "step_id", step.ID)
			break
		}
	}

	return e.finish(r)
}

func (e *Engine) runStep(ctx context.Context, r *run, step *Step, log *logging.Logger) (*StepResult, bool) {
	ec := r.ec
	res := newStepResult(step)
	ec.enterStep(step)

	for _, dep := range step.DependsOn {
		if r.succeeded[dep] {
			continue
		}
		werr := Errorf(CodeDependencyNotMet, "step %s requires %s to have succeeded", step.ID, dep).
			WithDetail("dependency", dep).
			ForStep(step.ID)
		res.fail(werr)
		res.finish()
		r.markFailed(step, werr, 0)
		ec.leaveStep(res, true)
		log.Info("Step skipped, dependency not met", "step_id", step.ID, "dependency", dep)
		return res, false
	}

	out, err := e.invokeWithRetry(ctx, r.def, step, ec, res)
	interrupted := false
	switch {
	case err != nil:
		werr := e.stepError(ctx, step, err, res.RetryCount)
		interrupted = werr.Code == CodeWorkflowCancelled || errors.Is(context.Cause(ctx), errRunTimeout)
		res.fail(werr)
		r.markFailed(step, werr, 0)
		e.metrics.stepFailed(ctx, r.def.ID, step.ID, werr.Code)
	case !out.Success:
		res.Data = out.Data
		errs := out.Errors
		if len(errs) == 0 {
			errs = []*WorkflowError{NewError(CodeStepExecution, out.Message)}
		}
		for _, werr := range errs {
			res.fail(werr.ForStep(step.ID))
		}
		r.markFailed(step, res.Errors[0], out.StatusCode)
		e.metrics.stepFailed(ctx, r.def.ID, step.ID, res.Errors[0].Code)
	default:
		res.Success = true
		res.Data = out.Data
		if data, ok := out.Data.(map[string]any); ok {
			ec.ReplaceData(data)
		}
	}
	res.finish()
	e.metrics.stepFinished(ctx, r.def.ID, step.ID, res.Duration)

	if res.Success {
		ec.AddAudit("step.completed", map[string]any{"retries": res.RetryCount})
		log.Debug("Step completed", "step_id", step.ID, "duration", res.Duration, "retries", res.RetryCount)
	} else {
		ec.AddAudit("step.failed", map[string]any{"retries": res.RetryCount, "code": string(res.Errors[0].Code)})
		log.Info("Step failed", "step_id", step.ID, "critical", step.Critical, "code", res.Errors[0].Code, "retries", res.RetryCount)
	}
	ec.leaveStep(res, false)
	return res, interrupted
}

// invokeWithRetry calls the step handler, retrying thrown failures with the
// workflow's fixed delay until the retry budget is spent.
func (e *Engine) invokeWithRetry(
	ctx context.Context, def *Definition, step *Step, ec *ExecutionContext, res *StepResult,
) (*WorkflowResult, error) {
	delay := def.ErrorHandling.RetryDelay
	backoff := retry.WithMaxRetries(
		uint64(def.maxRetriesFor(step)),
		retry.BackoffFunc(func() (time.Duration, bool) {
			return delay, false
		}),
	)

	attempts := 0
	var out *WorkflowResult
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempts > 0 {
			ec.countRetry()
		}
		attempts++
		e.metrics.stepAttempted(ctx, def.ID, step.ID)

		r, err := e.invoke(ctx, step, ec)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		out = r
		return nil
	})
	res.RetryCount = max(attempts-1, 0)
	return out, err
}

type outcome struct {
	res *WorkflowResult
	err error
}

// invoke runs one attempt of the handler under the step deadline. The engine
// stops waiting when the deadline passes even if the handler ignores its
// context; the attempt's writes are then dropped.
func (e *Engine) invoke(ctx context.Context, step *Step, ec *ExecutionContext) (*WorkflowResult, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.defaultStepTimeout
	}
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeoutCause(ctx, timeout, errStepTimedOut)
		defer cancel()
	}

	attempt := ec.fork()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", errStepPanic, p)}
			}
		}()
		res, err := step.Handler(attemptCtx, attempt)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		ec.commit(attempt)
		if o.err != nil {
			if ctx.Err() == nil && errors.Is(context.Cause(attemptCtx), errStepTimedOut) {
				return nil, fmt.Errorf("%w after %s: %w", errStepTimedOut, timeout, o.err)
			}
			return nil, o.err
		}
		if o.res == nil {
			return Success(nil, ""), nil
		}
		return o.res, nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("%w after %s", errStepTimedOut, timeout)
	}
}

func (e *Engine) stepError(ctx context.Context, step *Step, err error, retries int) *WorkflowError {
	var werr *WorkflowError
	switch {
	case ctx.Err() != nil:
		werr = interruption(ctx)
	case errors.Is(err, errStepTimedOut):
		werr = Errorf(CodeStepTimeout, "step %s: %v", step.ID, err)
	default:
		werr = Errorf(CodeStepExecution, "step %s failed after %d retries: %v", step.ID, retries, err)
	}
	return werr.WithDetail("retries", retries).ForStep(step.ID)
}

func interruption(ctx context.Context) *WorkflowError {
	if errors.Is(context.Cause(ctx), errRunTimeout) {
		return NewError(CodeStepTimeout, errRunTimeout.Error())
	}
	return NewError(CodeWorkflowCancelled, errRunCancelled.Error())
}

func (r *run) markFailed(step *Step, werr *WorkflowError, status int) {
	if r.failedStep != "" && !step.Critical {
		return
	}
	r.failedStep = step.ID
	if status == 0 || status < http.StatusBadRequest {
		status = StatusFor(werr.Code)
	}
	r.failedStatus = status
}

func (e *Engine) finish(r *run) *WorkflowResult {
	ec := r.ec
	var errs []*WorkflowError
	for _, s := range r.steps {
		errs = append(errs, s.Errors...)
	}
	errs = append(errs, r.runErrs...)

	var success bool
	switch r.def.successPolicy() {
	case SuccessPolicyCriticalOnly:
		success = !r.criticalFailed && !r.interrupted && len(r.runErrs) == 0
	default:
		success = len(errs) == 0
	}

	end := time.Now()
	res := &WorkflowResult{
		Success: success,
		Data:    ec.Data(),
		Errors:  errs,
		Metadata: &WorkflowMetadata{
			ExecutionID: ec.ExecutionID,
			WorkflowID:  r.def.ID,
			StartTime:   ec.StartTime,
			EndTime:     end,
			Duration:    end.Sub(ec.StartTime),
			DurationMs:  end.Sub(ec.StartTime).Milliseconds(),
			Steps:       r.steps,
			Performance: ec.Performance(),
			Tenant:      ec.tenantSnapshot(),
		},
	}

	switch {
	case success && len(errs) == 0:
		res.StatusCode = http.StatusOK
		res.Message = fmt.Sprintf("workflow %s completed successfully", r.def.ID)
	case success:
		res.StatusCode = http.StatusOK
		res.Message = fmt.Sprintf("workflow %s completed with %d non-critical errors", r.def.ID, len(errs))
	case len(r.runErrs) > 0 && len(r.steps) == 0:
		res.StatusCode = StatusFor(r.runErrs[0].Code)
		res.Message = r.runErrs[0].Message
	default:
		res.StatusCode = r.failedStatus
		if res.StatusCode == 0 {
			res.StatusCode = StatusFor(errs[0].Code)
		}
		res.Message = fmt.Sprintf("workflow %s failed at step %s: %s", r.def.ID, r.failedStepOr(errs[0]), errs[0].Message)
	}

	ec.AddAudit("workflow.finished", map[string]any{"success": success, "errors": len(errs)})
	res.Metadata.AuditTrail = ec.AuditTrail()
	e.logger.Info("Workflow finished",
		"workflow_id", r.def.ID,
		"execution_id", ec.ExecutionID,
		"tenant_id", ec.Tenant.ID,
		"success", success,
		"steps", len(r.steps),
		"errors", len(errs),
		"duration", res.Metadata.Duration,
	)
	return res
}

func (r *run) failedStepOr(first *WorkflowError) string {
	if r.failedStep != "" {
		return r.failedStep
	}
	return first.StepID
}

// CheckTenantPermission enforces the tenant-scoping rules of def against ec:
// tenant-specific workflows need a tenant, and cross-tenant access must be
// both allowed by the workflow and granted to the user.
func CheckTenantPermission(def *Definition, ec *ExecutionContext) *WorkflowError {
	if def.TenantSpecific && ec.Tenant.ID == "" {
		return Errorf(CodeTenantMismatch, "workflow %s is tenant-specific and requires a tenant", def.ID)
	}
	if !ec.CrossTenantAccess {
		return nil
	}
	if !def.CrossTenantAllowed {
		return Errorf(CodeCrossTenantDenied, "workflow %s does not allow cross-tenant access", def.ID)
	}
	if !ec.HasPermission(models.PermissionCrossTenant) {
		return Errorf(CodeCrossTenantDenied, "user lacks the %s permission", models.PermissionCrossTenant)
	}
	return nil
}
