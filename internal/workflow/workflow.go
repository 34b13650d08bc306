package workflow

import (
	"context"
	"fmt"
	"net/http"
)

// Workflow is a registered, runnable workflow.
type Workflow interface {
	// Key is the registry key. It equals the definition id for global
	// workflows and is derived from the tenant for tenant-scoped ones.
	Key() string
	Definition() *Definition
	// TenantID is the bound tenant, empty for global workflows.
	TenantID() string
	Execute(ctx context.Context, ec *ExecutionContext) *WorkflowResult
}

type engineWorkflow struct {
	def    *Definition
	engine *Engine
}

// NewWorkflow binds def to engine.
func NewWorkflow(def *Definition, engine *Engine) Workflow {
	return &engineWorkflow{def: def, engine: engine}
}

func (w *engineWorkflow) Key() string             { return w.def.ID }
func (w *engineWorkflow) Definition() *Definition { return w.def }
func (w *engineWorkflow) TenantID() string        { return "" }

func (w *engineWorkflow) Execute(ctx context.Context, ec *ExecutionContext) *WorkflowResult {
	return w.engine.Run(ctx, w.def, ec)
}

// TenantWorkflow is a Definition bound to a single tenant. It refuses to run
// for any other tenant.
type TenantWorkflow struct {
	def        *Definition
	engine     *Engine
	tenantID   string
	tenantSlug string
}

// NewTenantWorkflow binds def to engine and to the given tenant.
func NewTenantWorkflow(def *Definition, engine *Engine, tenantID, tenantSlug string) *TenantWorkflow {
	return &TenantWorkflow{
		def:        def,
		engine:     engine,
		tenantID:   tenantID,
		tenantSlug: tenantSlug,
	}
}

// TenantKey derives the registry key of a tenant-scoped workflow.
func TenantKey(tenantID, workflowID string) string {
	return fmt.Sprintf("tenant:%s:%s", tenantID, workflowID)
}

func (w *TenantWorkflow) Key() string             { return TenantKey(w.tenantID, w.def.ID) }
func (w *TenantWorkflow) Definition() *Definition { return w.def }
func (w *TenantWorkflow) TenantID() string        { return w.tenantID }
func (w *TenantWorkflow) TenantSlug() string      { return w.tenantSlug }

// Execute runs the workflow when ec belongs to the bound tenant. Otherwise
// it fails with a forbidden status without running any step.
func (w *TenantWorkflow) Execute(ctx context.Context, ec *ExecutionContext) *WorkflowResult {
	if ec.Tenant.ID != w.tenantID {
		werr := Errorf(CodeTenantMismatch, "workflow %s is bound to tenant %s", w.def.ID, w.tenantSlug).
			WithDetail("tenant_id", ec.Tenant.ID)
		ec.AddAudit("workflow.tenant_rejected", map[string]any{"bound_tenant": w.tenantID})
		return FailWithStatus(http.StatusForbidden, "access denied: workflow belongs to another tenant", werr)
	}

	ec.SetMetadata("tenant_id", w.tenantID)
	ec.SetMetadata("tenant_slug", w.tenantSlug)
	ec.SetMetadata("workflow_type", "tenant-specific")
	return w.engine.Run(ctx, w.def, ec)
}
