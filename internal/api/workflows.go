// Package api contains the HTTP handlers of the workflow service
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"talentgrid/backend/internal/auth"
	"talentgrid/backend/internal/logging"
	"talentgrid/backend/internal/services"
	"talentgrid/backend/internal/workflow"
	"talentgrid/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	mgr    *workflow.Manager
	logger *logging.Logger
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates a new Server.
func NewServer(mgr *workflow.Manager, logger *logging.Logger) *Server {
	return &Server{mgr: mgr, logger: logger}
}

func identity(c echo.Context) (*auth.Identity, error) {
	id, ok := auth.FromContext(c.Request().Context())
	if !ok || id.Tenant == nil || id.Tenant.ID == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found in context")
	}
	return id, nil
}

// executionContext builds the per-run context of a trigger from the caller
// identity and the request.
func executionContext(c echo.Context, id *auth.Identity, req models.ExecuteWorkflowRequest) *workflow.ExecutionContext {
	opts := []workflow.ContextOption{
		workflow.WithUser(id.UserID, string(id.Role), id.Permissions...),
		workflow.WithData(req.Data),
		workflow.WithMetadata(req.Metadata),
		workflow.WithMetadata(map[string]any{
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			"remote_ip":  c.RealIP(),
		}),
	}
	if req.CrossTenant || req.TargetTenant != "" {
		opts = append(opts, workflow.WithCrossTenantAccess(req.TargetTenant))
	}
	if req.Encrypt {
		opts = append(opts, workflow.WithEncryption())
	}
	if req.TimeoutMs > 0 {
		opts = append(opts, workflow.WithTimeout(time.Duration(req.TimeoutMs)*time.Millisecond))
	}
	return workflow.NewContext(workflow.TenantFromModel(id.Tenant), opts...)
}

// ListWorkflows returns the workflows available to the caller's tenant
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	workflows := s.mgr.ListWorkflows(id.Tenant.ID)
	res := make([]models.WorkflowSummary, 0, len(workflows))
	for _, w := range workflows {
		def := w.Definition()
		res = append(res, models.WorkflowSummary{
			ID:                 def.ID,
			Name:               def.Name,
			Version:            def.Version,
			Steps:              def.StepIDs(),
			TenantSpecific:     def.TenantSpecific,
			CrossTenantAllowed: def.CrossTenantAllowed,
		})
	}
	return c.JSON(http.StatusOK, res)
}

// GetWorkflowStatistics summarizes the caller's tenant executions
// (GET /api/v1/workflows/statistics)
func (s *Server) GetWorkflowStatistics(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	stats, err := s.mgr.GetWorkflowStatistics(c.Request().Context(), id.Tenant.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// ExecuteWorkflow runs a workflow and returns its result with the result's
// status code (POST /api/v1/workflows/{id}/execute)
func (s *Server) ExecuteWorkflow(c echo.Context, workflowID string) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req models.ExecuteWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	res := s.mgr.ExecuteWorkflow(c.Request().Context(), workflowID, executionContext(c, id, req))
	return c.JSON(res.StatusCode, res)
}

// ListExecutions returns the caller's tenant executions, oldest first
// (GET /api/v1/executions)
func (s *Server) ListExecutions(c echo.Context, params ListExecutionsParams) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	execs, err := s.mgr.GetTenantExecutions(c.Request().Context(), id.Tenant.ID)
	if err != nil {
		return err
	}
	res := make([]*workflow.WorkflowExecution, 0, len(execs))
	for _, e := range execs {
		if params.Status != nil && string(e.Status) != *params.Status {
			continue
		}
		res = append(res, e)
	}
	return c.JSON(http.StatusOK, res)
}

// CleanupExecutions deletes finished executions of every tenant
// (DELETE /api/v1/executions)
func (s *Server) CleanupExecutions(c echo.Context, params CleanupExecutionsParams) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	if !id.HasPermission(models.PermissionAdmin) {
		return echo.NewHTTPError(http.StatusForbidden, "admin permission required")
	}
	days := 30
	if params.OlderThanDays != nil {
		days = *params.OlderThanDays
	}
	if days < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "olderThanDays must not be negative")
	}
	removed, err := s.mgr.CleanupExecutions(c.Request().Context(), days)
	if err != nil {
		return err
	}
	s.logger.Info("Executions cleaned up", "removed", removed, "older_than_days", days, "user_id", id.UserID)
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

// tenantExecution loads an execution owned by the caller's tenant. Records
// of other tenants are reported as missing.
func (s *Server) tenantExecution(c echo.Context, id *auth.Identity, executionID string) (*workflow.WorkflowExecution, error) {
	exec, err := s.mgr.GetExecutionStatus(c.Request().Context(), executionID)
	if err != nil {
		if errors.Is(err, workflow.ErrExecutionNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "execution "+executionID+" not found")
		}
		return nil, err
	}
	if exec.TenantID != id.Tenant.ID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "execution "+executionID+" not found")
	}
	return exec, nil
}

// GetExecution returns one execution record
// (GET /api/v1/executions/{id})
func (s *Server) GetExecution(c echo.Context, executionID string) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	exec, err := s.tenantExecution(c, id, executionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}

// CancelExecution cancels a running execution
// (POST /api/v1/executions/{id}/cancel)
func (s *Server) CancelExecution(c echo.Context, executionID string) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	if _, err := s.tenantExecution(c, id, executionID); err != nil {
		return err
	}
	if err := s.mgr.CancelExecution(c.Request().Context(), executionID); err != nil {
		return err
	}
	exec, err := s.mgr.GetExecutionStatus(c.Request().Context(), executionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}

// RetryExecution restarts a failed execution from its first step
// (POST /api/v1/executions/{id}/retry)
func (s *Server) RetryExecution(c echo.Context, executionID string) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	if _, err := s.tenantExecution(c, id, executionID); err != nil {
		return err
	}
	var req models.ExecuteWorkflowRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
		}
	}
	res, err := s.mgr.RetryExecution(c.Request().Context(), executionID, executionContext(c, id, req))
	if err != nil {
		return err
	}
	return c.JSON(res.StatusCode, res)
}

// CreateUser runs the user-creation workflow on the request body
// (POST /api/v1/users)
func (s *Server) CreateUser(c echo.Context) error {
	return s.runBusiness(c, services.WorkflowUserCreation)
}

// CreateJobPost runs the job-post-publication workflow on the request body
// (POST /api/v1/jobs)
func (s *Server) CreateJobPost(c echo.Context) error {
	return s.runBusiness(c, services.WorkflowJobPublication)
}

// CreateFeedPost runs the feed-publication workflow on the request body
// (POST /api/v1/posts)
func (s *Server) CreateFeedPost(c echo.Context) error {
	return s.runBusiness(c, services.WorkflowFeedPublication)
}

// runBusiness dispatches workflowID with the body as its data payload. A
// successful run answers 201.
func (s *Server) runBusiness(c echo.Context, workflowID string) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var data map[string]any
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	res := s.mgr.ExecuteWorkflow(c.Request().Context(), workflowID,
		executionContext(c, id, models.ExecuteWorkflowRequest{Data: data}))
	status := res.StatusCode
	if res.Success {
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}
