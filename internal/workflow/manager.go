package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"talentgrid/backend/internal/logging"
)

// FailureHandler is told about executions that ended failed when their
// workflow lists recipients in ErrorHandling.NotifyOnFailure.
type FailureHandler func(ctx context.Context, exec *WorkflowExecution, recipients []string)

// Statistics summarizes the executions of one tenant, or of all tenants.
type Statistics struct {
	TenantID    string         `json:"tenant_id,omitempty"`
	Total       int            `json:"total"`
	Pending     int            `json:"pending"`
	Running     int            `json:"running"`
	Completed   int            `json:"completed"`
	Failed      int            `json:"failed"`
	Cancelled   int            `json:"cancelled"`
	SuccessRate float64        `json:"success_rate"`
	ByWorkflow  map[string]int `json:"by_workflow"`
}

// Manager registers workflows, dispatches runs and keeps their execution
// records.
type Manager struct {
	registry *Registry
	engine   *Engine
	store    ExecutionStore
	logger   *logging.Logger
	metrics  *instruments
	onFail   FailureHandler
	now      func() time.Time

	cleanupInterval time.Duration
	retentionDays   int

	// mu serializes read-modify-write cycles on execution records.
	mu sync.Mutex

	lifeMu  sync.Mutex
	active  map[string]context.CancelFunc
	closed  bool
	stop    chan struct{}
	stopped chan struct{}
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithStore sets the execution store. The default keeps records in memory.
func WithStore(s ExecutionStore) ManagerOption {
	return func(m *Manager) {
		m.store = s
	}
}

// WithEngine sets the engine used for registered workflows.
func WithEngine(e *Engine) ManagerOption {
	return func(m *Manager) {
		m.engine = e
	}
}

// WithLogger sets the manager logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMeter records execution metrics on meter.
func WithMeter(meter metric.Meter) ManagerOption {
	return func(m *Manager) {
		m.metrics = newInstruments(meter)
	}
}

// WithCleanup makes Init start a background loop deleting records older
// than retentionDays every interval.
func WithCleanup(interval time.Duration, retentionDays int) ManagerOption {
	return func(m *Manager) {
		m.cleanupInterval = interval
		m.retentionDays = retentionDays
	}
}

// WithFailureHandler sets the hook called for failed executions.
func WithFailureHandler(h FailureHandler) ManagerOption {
	return func(m *Manager) {
		m.onFail = h
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager with an empty registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: NewRegistry(),
		active:   make(map[string]context.CancelFunc),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	if m.engine == nil {
		m.engine = NewEngine(WithEngineLogger(m.logger))
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.metrics == nil {
		m.metrics = newInstruments(nil)
	}
	return m
}

// Registry returns the workflow registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Engine returns the engine registered workflows run on.
func (m *Manager) Engine() *Engine { return m.engine }

// Init starts background maintenance. It is safe to execute workflows
// without calling Init.
func (m *Manager) Init(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.closed {
		return ErrManagerNotRunning
	}
	if m.stop != nil || m.cleanupInterval <= 0 {
		return nil
	}
	m.stop = make(chan struct{})
	m.stopped = make(chan struct{})
	go m.cleanupLoop(context.WithoutCancel(ctx), m.stop, m.stopped)
	m.logger.Info("Workflow manager started",
		"cleanup_interval", m.cleanupInterval,
		"retention_days", m.retentionDays,
		"workflows", m.registry.Len(),
	)
	return nil
}

func (m *Manager) cleanupLoop(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := m.CleanupExecutions(ctx, m.retentionDays)
			if err != nil {
				m.logger.Error("Execution cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Info("Old executions removed", "count", n, "retention_days", m.retentionDays)
			}
		}
	}
}

// Shutdown stops background maintenance and cancels every in-flight run.
// New runs are refused afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lifeMu.Lock()
	if m.closed {
		m.lifeMu.Unlock()
		return nil
	}
	m.closed = true
	stop, stopped := m.stop, m.stopped
	for id, cancel := range m.active {
		m.logger.Info("Cancelling in-flight execution", "execution_id", id)
		cancel()
	}
	m.lifeMu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterWorkflow validates def and registers it globally.
func (m *Manager) RegisterWorkflow(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	m.registry.Register(NewWorkflow(def, m.engine))
	m.logger.Debug("Workflow registered", "workflow_id", def.ID, "steps", len(def.Steps))
	return nil
}

// RegisterTenantWorkflow validates def and registers it bound to one tenant.
func (m *Manager) RegisterTenantWorkflow(def *Definition, tenantID, tenantSlug string) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if tenantID == "" {
		return fmt.Errorf("%w: %s: tenant-scoped registration without tenant", ErrInvalidDefinition, def.ID)
	}
	w := NewTenantWorkflow(def, m.engine, tenantID, tenantSlug)
	m.registry.Register(w)
	m.logger.Debug("Tenant workflow registered", "workflow_id", def.ID, "key", w.Key())
	return nil
}

// ListWorkflows returns the workflows available to tenantID.
func (m *Manager) ListWorkflows(tenantID string) []Workflow {
	return m.registry.ListForTenant(tenantID)
}

// ExecuteWorkflow runs workflow id for ec and records the execution. The
// returned result is never nil.
func (m *Manager) ExecuteWorkflow(ctx context.Context, id string, ec *ExecutionContext) *WorkflowResult {
	if m.isClosed() {
		return FailWithStatus(http.StatusServiceUnavailable, ErrManagerNotRunning.Error(),
			NewError(CodeWorkflowExecution, ErrManagerNotRunning.Error()))
	}

	w, err := m.registry.Resolve(ec.Tenant.ID, id)
	if err != nil {
		return FailWithStatus(http.StatusNotFound, fmt.Sprintf("workflow %s not found", id),
			Errorf(CodeWorkflowNotFound, "workflow %s not found", id))
	}
	if werr := checkWorkflowAccess(w, ec); werr != nil {
		m.logger.Warn("Workflow access denied",
			"workflow_id", id,
			"tenant_id", ec.Tenant.ID,
			"code", werr.Code,
		)
		return Fail(werr)
	}

	exec := newExecution(w, ec, m.now())
	runCtx, release, err := m.track(ctx, exec.ID)
	if err != nil {
		return FailWithStatus(http.StatusServiceUnavailable, err.Error(), NewError(CodeWorkflowExecution, err.Error()))
	}
	defer release()

	if err := m.store.SaveExecution(ctx, exec); err != nil {
		return m.storeFailure(exec.ID, err)
	}
	if err := m.update(ctx, exec.ID, func(e *WorkflowExecution) error {
		return e.transition(triggerStart)
	}); err != nil {
		return m.storeFailure(exec.ID, err)
	}
	return m.dispatch(ctx, runCtx, w, exec.ID, ec)
}

func (m *Manager) storeFailure(executionID string, err error) *WorkflowResult {
	m.logger.Error("Failed to record execution", "execution_id", executionID, "error", err)
	return Fail(Errorf(CodeWorkflowExecution, "failed to record execution: %v", err))
}

// checkWorkflowAccess enforces tenant binding and the cross-tenant rules
// before an execution record is created.
func checkWorkflowAccess(w Workflow, ec *ExecutionContext) *WorkflowError {
	if bound := w.TenantID(); bound != "" && bound != ec.Tenant.ID {
		return Errorf(CodeTenantMismatch, "workflow %s belongs to another tenant", w.Definition().ID)
	}
	return CheckTenantPermission(w.Definition(), ec)
}

// dispatch runs w for the record executionID, which must be running. runCtx
// is the context registered by track; cancelling the execution cancels it.
func (m *Manager) dispatch(ctx, runCtx context.Context, w Workflow, executionID string, ec *ExecutionContext) *WorkflowResult {
	def := w.Definition()

	// Record writes must outlive the caller's cancellation.
	storeCtx := context.WithoutCancel(ctx)
	ec.ExecutionID = executionID
	ec.setObserver(&recordObserver{m: m, ctx: storeCtx, executionID: executionID})
	defer ec.setObserver(nil)

	m.metrics.executionStarted(storeCtx, def.ID)
	result := m.safeExecute(runCtx, w, ec)
	status := m.finalize(storeCtx, executionID, result)
	m.metrics.executionFinished(storeCtx, def.ID, ec.Tenant.ID, status)

	if status == StatusFailed && m.onFail != nil && len(def.ErrorHandling.NotifyOnFailure) > 0 {
		if exec, err := m.store.GetExecution(storeCtx, executionID); err == nil {
			m.onFail(storeCtx, exec, def.ErrorHandling.NotifyOnFailure)
		}
	}
	return result
}

func (m *Manager) safeExecute(ctx context.Context, w Workflow, ec *ExecutionContext) (res *WorkflowResult) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("Workflow panicked", "workflow_id", w.Definition().ID, "execution_id", ec.ExecutionID, "panic", p)
			res = Fail(Errorf(CodeWorkflowExecution, "workflow %s aborted: %v", w.Definition().ID, p))
		}
	}()
	res = w.Execute(ctx, ec)
	if res == nil {
		res = Fail(Errorf(CodeWorkflowExecution, "workflow %s returned no result", w.Definition().ID))
	}
	return res
}

// finalize writes the run outcome onto the record and returns its terminal
// status. A record cancelled while the run was in flight stays cancelled.
func (m *Manager) finalize(ctx context.Context, executionID string, result *WorkflowResult) ExecutionStatus {
	status := StatusFailed
	err := m.update(ctx, executionID, func(e *WorkflowExecution) error {
		if result.Metadata != nil {
			e.StepResults = append([]*StepResult(nil), result.Metadata.Steps...)
		}
		e.Errors = append(e.Errors, result.Errors...)
		e.CurrentStep = ""
		e.Metadata["status_code"] = result.StatusCode
		e.Metadata["message"] = result.Message

		if e.Status == StatusRunning {
			trigger := triggerFail
			if result.Success {
				trigger = triggerComplete
			}
			if err := e.transition(trigger); err != nil {
				return err
			}
			end := m.now()
			e.EndTime = &end
		}
		status = e.Status
		return nil
	})
	if err != nil {
		m.logger.Error("Failed to finalize execution", "execution_id", executionID, "error", err)
	}
	return status
}

// update applies fn to the stored record under the manager lock and saves
// the result. Nothing is saved when fn fails.
func (m *Manager) update(ctx context.Context, executionID string, fn func(*WorkflowExecution) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if err := fn(exec); err != nil {
		return err
	}
	return m.store.SaveExecution(ctx, exec)
}

func (m *Manager) isClosed() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.closed
}

// track registers a cancellable run context for executionID. It must be
// called before the record turns running so that a cancel arriving at any
// point afterwards reaches the run. release unregisters it.
func (m *Manager) track(ctx context.Context, executionID string) (context.Context, func(), error) {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.closed {
		return nil, nil, ErrManagerNotRunning
	}
	if _, busy := m.active[executionID]; busy {
		return nil, nil, fmt.Errorf("%w: execution %s is already running", ErrInvalidTransition, executionID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.active[executionID] = cancel
	release := func() {
		cancel()
		m.lifeMu.Lock()
		delete(m.active, executionID)
		m.lifeMu.Unlock()
	}
	return runCtx, release, nil
}

func (m *Manager) cancelActive(executionID string) bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	cancel, ok := m.active[executionID]
	if ok {
		cancel()
	}
	return ok
}

// GetExecutionStatus returns the execution record.
func (m *Manager) GetExecutionStatus(ctx context.Context, executionID string) (*WorkflowExecution, error) {
	return m.store.GetExecution(ctx, executionID)
}

// GetTenantExecutions returns the execution records of tenantID.
func (m *Manager) GetTenantExecutions(ctx context.Context, tenantID string) ([]*WorkflowExecution, error) {
	return m.store.ListExecutions(ctx, tenantID)
}

// CancelExecution marks a running execution cancelled and interrupts its
// run. The interrupted step and any later ones record WORKFLOW_CANCELLED.
func (m *Manager) CancelExecution(ctx context.Context, executionID string) error {
	err := m.update(ctx, executionID, func(e *WorkflowExecution) error {
		if e.Status != StatusRunning {
			return fmt.Errorf("%w: execution %s is %s", ErrInvalidTransition, executionID, e.Status)
		}
		if err := e.transition(triggerCancel); err != nil {
			return err
		}
		end := m.now()
		e.EndTime = &end
		return nil
	})
	if err != nil {
		return err
	}
	interrupted := m.cancelActive(executionID)
	m.logger.Info("Execution cancelled", "execution_id", executionID, "interrupted", interrupted)
	return nil
}

// RetryExecution restarts a failed execution from its first step, reusing
// the record. Prior step results and errors are discarded.
func (m *Manager) RetryExecution(ctx context.Context, executionID string, ec *ExecutionContext) (*WorkflowResult, error) {
	runCtx, release, err := m.track(ctx, executionID)
	if err != nil {
		return nil, err
	}
	defer release()

	var w Workflow
	err = m.update(ctx, executionID, func(e *WorkflowExecution) error {
		if e.Status != StatusFailed {
			return fmt.Errorf("%w: execution %s is %s", ErrInvalidTransition, executionID, e.Status)
		}
		if e.TenantID != ec.Tenant.ID {
			return Errorf(CodeTenantMismatch, "execution %s belongs to another tenant", executionID)
		}
		found, err := m.registry.Get(e.WorkflowKey)
		if err != nil {
			return err
		}
		if werr := checkWorkflowAccess(found, ec); werr != nil {
			return werr
		}
		if err := e.transition(triggerRetry); err != nil {
			return err
		}
		w = found
		e.EndTime = nil
		e.Errors = nil
		e.StepResults = nil
		e.CurrentStep = ""
		e.Metadata["retries"] = e.Retries() + 1
		e.Metadata["last_retry_at"] = m.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Retrying execution", "execution_id", executionID, "workflow_id", w.Definition().ID)
	return m.dispatch(ctx, runCtx, w, executionID, ec), nil
}

// GetWorkflowStatistics counts executions by status over tenantID's records,
// or over all records when tenantID is empty. SuccessRate is the percentage
// of completed executions, rounded to two decimals.
func (m *Manager) GetWorkflowStatistics(ctx context.Context, tenantID string) (*Statistics, error) {
	execs, err := m.store.ListExecutions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{TenantID: tenantID, ByWorkflow: map[string]int{}}
	for _, e := range execs {
		stats.Total++
		stats.ByWorkflow[e.WorkflowID]++
		switch e.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	if stats.Total > 0 {
		rate := float64(stats.Completed) / float64(stats.Total) * 100
		stats.SuccessRate = math.Round(rate*100) / 100
	}
	return stats, nil
}

// CleanupExecutions deletes records that ended before the cutoff of
// olderThanDays days ago and returns how many were removed. Records that
// have not ended, running ones included, are kept.
func (m *Manager) CleanupExecutions(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("olderThanDays must not be negative, got %d", olderThanDays)
	}
	cutoff := m.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()

	execs, err := m.store.ListExecutions(ctx, "")
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, e := range execs {
		if e.Status == StatusRunning || e.Status == StatusPending || e.EndTime == nil {
			continue
		}
		if !e.EndTime.Before(cutoff) {
			continue
		}
		if err := m.store.DeleteExecution(ctx, e.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", e.ID, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// recordObserver mirrors step progress onto the execution record.
type recordObserver struct {
	m           *Manager
	ctx         context.Context
	executionID string
}

func (o *recordObserver) stepStarted(_ *ExecutionContext, step *Step) {
	err := o.m.update(o.ctx, o.executionID, func(e *WorkflowExecution) error {
		e.CurrentStep = step.ID
		return nil
	})
	if err != nil {
		o.m.logger.Warn("Failed to record step start", "execution_id", o.executionID, "step_id", step.ID, "error", err)
	}
}

func (o *recordObserver) stepFinished(_ *ExecutionContext, res *StepResult) {
	err := o.m.update(o.ctx, o.executionID, func(e *WorkflowExecution) error {
		e.StepResults = append(e.StepResults, res)
		return nil
	})
	if err != nil {
		o.m.logger.Warn("Failed to record step result", "execution_id", o.executionID, "step_id", res.StepID, "error", err)
	}
}
