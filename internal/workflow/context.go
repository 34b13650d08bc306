package workflow

import (
	"maps"
	"sync"
	"time"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/jinzhu/copier"

	"talentgrid/backend/pkg/models"
)

// TenantInfo identifies the tenant a run is bound to.
type TenantInfo struct {
	ID     string              `json:"id"`
	Slug   string              `json:"slug"`
	Config models.TenantConfig `json:"config"`
}

// TenantFromModel builds a TenantInfo from a stored tenant.
func TenantFromModel(t *models.Tenant) TenantInfo {
	return TenantInfo{ID: t.ID, Slug: t.Slug, Config: t.Config}
}

// UserInfo identifies the user on whose behalf a run executes.
type UserInfo struct {
	ID          string   `json:"id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// AuditEntry is one append-only record in a run's audit trail.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	StepID    string         `json:"step_id,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	TenantID  string         `json:"tenant_id"`
	Details   map[string]any `json:"details,omitempty"`
}

type performanceCounters struct {
	stepsExecuted int
	stepsFailed   int
	stepsSkipped  int
	retryAttempts int
	dataAccessOps int
	stepDurations map[string]time.Duration
}

type stepObserver interface {
	stepStarted(ec *ExecutionContext, step *Step)
	stepFinished(ec *ExecutionContext, res *StepResult)
}

// ExecutionContext is the per-run state handed to every step. One context
// belongs to exactly one run; it must not be reused across triggers.
//
// Identity and isolation fields are set at construction and only read
// afterwards. The data payload, metadata, counters and audit trail are
// guarded so that a handler still running past its deadline cannot race the
// engine.
type ExecutionContext struct {
	ExecutionID    string
	WorkflowID     string
	Tenant         TenantInfo
	User           *UserInfo
	StartTime      time.Time
	Timeout        time.Duration
	TargetTenantID string

	TenantIsolated    bool
	CrossTenantAccess bool
	DataEncryption    bool

	mu          sync.RWMutex
	data        map[string]any
	metadata    map[string]any
	currentStep string
	retryCount  int
	perf        performanceCounters
	audit       []AuditEntry
	observer    stepObserver
}

// ContextOption customizes a new ExecutionContext.
type ContextOption func(*ExecutionContext)

// WithUser attaches the acting user.
func WithUser(id, role string, permissions ...string) ContextOption {
	return func(ec *ExecutionContext) {
		ec.User = &UserInfo{ID: id, Role: role, Permissions: permissions}
	}
}

// WithData seeds the data payload.
func WithData(data map[string]any) ContextOption {
	return func(ec *ExecutionContext) {
		ec.data = maps.Clone(data)
		if ec.data == nil {
			ec.data = map[string]any{}
		}
	}
}

// WithMetadata seeds the metadata map.
func WithMetadata(md map[string]any) ContextOption {
	return func(ec *ExecutionContext) {
		maps.Copy(ec.metadata, md)
	}
}

// WithCrossTenantAccess requests access to targetTenantID's data.
func WithCrossTenantAccess(targetTenantID string) ContextOption {
	return func(ec *ExecutionContext) {
		ec.CrossTenantAccess = true
		ec.TargetTenantID = targetTenantID
	}
}

// WithEncryption requests encrypted data handling.
func WithEncryption() ContextOption {
	return func(ec *ExecutionContext) {
		ec.DataEncryption = true
	}
}

// WithoutTenantIsolation disables the tenant id requirement.
func WithoutTenantIsolation() ContextOption {
	return func(ec *ExecutionContext) {
		ec.TenantIsolated = false
	}
}

// WithTimeout bounds the whole run.
func WithTimeout(d time.Duration) ContextOption {
	return func(ec *ExecutionContext) {
		ec.Timeout = d
	}
}

// NewContext creates a tenant-isolated ExecutionContext.
func NewContext(tenant TenantInfo, opts ...ContextOption) *ExecutionContext {
	ec := &ExecutionContext{
		Tenant:         tenant,
		StartTime:      time.Now(),
		TenantIsolated: true,
		data:           map[string]any{},
		metadata:       map[string]any{},
		perf: performanceCounters{
			stepDurations: map[string]time.Duration{},
		},
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// Data returns a shallow copy of the data payload.
func (ec *ExecutionContext) Data() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return maps.Clone(ec.data)
}

// Get returns the payload value stored under key.
func (ec *ExecutionContext) Get(key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.data[key]
	return v, ok
}

// GetString returns the payload value under key if it is a string.
func (ec *ExecutionContext) GetString(key string) string {
	v, _ := ec.Get(key)
	s, _ := v.(string)
	return s
}

// Set stores value under key in the payload.
func (ec *ExecutionContext) Set(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.data[key] = value
}

// ReplaceData swaps the whole payload for data.
func (ec *ExecutionContext) ReplaceData(data map[string]any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.data = maps.Clone(data)
	if ec.data == nil {
		ec.data = map[string]any{}
	}
}

// Metadata returns a copy of the metadata map.
func (ec *ExecutionContext) Metadata() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return maps.Clone(ec.metadata)
}

// SetMetadata stores value under key in the metadata map.
func (ec *ExecutionContext) SetMetadata(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.metadata[key] = value
}

// CurrentStep returns the id of the step being executed.
func (ec *ExecutionContext) CurrentStep() string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.currentStep
}

// RetryCount returns the number of retries consumed by the current step.
func (ec *ExecutionContext) RetryCount() int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.retryCount
}

// HasPermission reports whether the acting user holds permission.
func (ec *ExecutionContext) HasPermission(permission string) bool {
	if ec.User == nil {
		return false
	}
	return slice.Contains(ec.User.Permissions, permission)
}

// AddAudit appends an entry to the audit trail.
func (ec *ExecutionContext) AddAudit(action string, details map[string]any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	entry := AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		StepID:    ec.currentStep,
		TenantID:  ec.Tenant.ID,
		Details:   details,
	}
	if ec.User != nil {
		entry.Actor = ec.User.ID
	}
	ec.audit = append(ec.audit, entry)
}

// AuditTrail returns a copy of the audit trail.
func (ec *ExecutionContext) AuditTrail() []AuditEntry {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return append([]AuditEntry(nil), ec.audit...)
}

// RecordDataAccess counts one data-store operation performed by a step.
func (ec *ExecutionContext) RecordDataAccess() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.perf.dataAccessOps++
}

// Performance returns a snapshot of the run's counters.
func (ec *ExecutionContext) Performance() PerformanceSnapshot {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return PerformanceSnapshot{
		StepsExecuted: ec.perf.stepsExecuted,
		StepsFailed:   ec.perf.stepsFailed,
		StepsSkipped:  ec.perf.stepsSkipped,
		RetryAttempts: ec.perf.retryAttempts,
		DataAccessOps: ec.perf.dataAccessOps,
		StepDurations: maps.Clone(ec.perf.stepDurations),
	}
}

// Validate checks the identity and isolation invariants required before
// any step may run.
func (ec *ExecutionContext) Validate() *WorkflowError {
	if ec.TenantIsolated && ec.Tenant.ID == "" {
		return NewError(CodeInvalidContext, "tenant id is required for tenant-isolated execution")
	}
	if ec.User != nil && ec.User.ID != "" && ec.User.Role == "" {
		return NewError(CodeInvalidContext, "user role is required when a user id is present")
	}
	if ec.DataEncryption && !ec.Tenant.Config.EncryptionEnabled {
		return NewError(CodeInvalidContext, "tenant does not support data encryption")
	}
	return nil
}

func (ec *ExecutionContext) tenantSnapshot() TenantInfo {
	var snap TenantInfo
	if err := copier.CopyWithOption(&snap, &ec.Tenant, copier.Option{DeepCopy: true}); err != nil {
		return ec.Tenant
	}
	return snap
}

// fork returns a copy of ec for a single handler attempt. Writes made
// through the copy reach ec only when commit is called, so an attempt the
// engine stopped waiting for cannot change the run.
func (ec *ExecutionContext) fork() *ExecutionContext {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return &ExecutionContext{
		ExecutionID:       ec.ExecutionID,
		WorkflowID:        ec.WorkflowID,
		Tenant:            ec.Tenant,
		User:              ec.User,
		StartTime:         ec.StartTime,
		Timeout:           ec.Timeout,
		TargetTenantID:    ec.TargetTenantID,
		TenantIsolated:    ec.TenantIsolated,
		CrossTenantAccess: ec.CrossTenantAccess,
		DataEncryption:    ec.DataEncryption,
		data:              maps.Clone(ec.data),
		metadata:          maps.Clone(ec.metadata),
		currentStep:       ec.currentStep,
		retryCount:        ec.retryCount,
		perf: performanceCounters{
			stepDurations: map[string]time.Duration{},
		},
	}
}

// commit applies the payload, metadata, audit entries and data-access count
// written through attempt.
func (ec *ExecutionContext) commit(attempt *ExecutionContext) {
	attempt.mu.RLock()
	data := maps.Clone(attempt.data)
	metadata := maps.Clone(attempt.metadata)
	audit := append([]AuditEntry(nil), attempt.audit...)
	ops := attempt.perf.dataAccessOps
	attempt.mu.RUnlock()

	ec.mu.Lock()
	defer ec.mu.Unlock()
	if data == nil {
		data = map[string]any{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	ec.data = data
	ec.metadata = metadata
	ec.audit = append(ec.audit, audit...)
	ec.perf.dataAccessOps += ops
}

func (ec *ExecutionContext) enterStep(step *Step) {
	ec.mu.Lock()
	ec.currentStep = step.ID
	ec.retryCount = 0
	obs := ec.observer
	ec.mu.Unlock()
	if obs != nil {
		obs.stepStarted(ec, step)
	}
}

func (ec *ExecutionContext) leaveStep(res *StepResult, skipped bool) {
	ec.mu.Lock()
	switch {
	case skipped:
		ec.perf.stepsSkipped++
	case !res.Success:
		ec.perf.stepsExecuted++
		ec.perf.stepsFailed++
	default:
		ec.perf.stepsExecuted++
	}
	ec.perf.stepDurations[res.StepID] = res.Duration
	obs := ec.observer
	ec.mu.Unlock()
	if obs != nil {
		obs.stepFinished(ec, res)
	}
}

func (ec *ExecutionContext) countRetry() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.retryCount++
	ec.perf.retryAttempts++
}

func (ec *ExecutionContext) setObserver(o stepObserver) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.observer = o
}
