package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ListExecutionsParams defines parameters for ListExecutions.
type ListExecutionsParams struct {
	// Status filters executions by status.
	Status *string `form:"status,omitempty" json:"status,omitempty"`
}

// CleanupExecutionsParams defines parameters for CleanupExecutions.
type CleanupExecutionsParams struct {
	// OlderThanDays removes executions that ended more than this many days ago.
	OlderThanDays *int `form:"olderThanDays,omitempty" json:"olderThanDays,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /workflows)
	ListWorkflows(ctx echo.Context) error
	// (GET /workflows/statistics)
	GetWorkflowStatistics(ctx echo.Context) error
	// (POST /workflows/{id}/execute)
	ExecuteWorkflow(ctx echo.Context, id string) error
	// (GET /executions)
	ListExecutions(ctx echo.Context, params ListExecutionsParams) error
	// (DELETE /executions)
	CleanupExecutions(ctx echo.Context, params CleanupExecutionsParams) error
	// (GET /executions/{id})
	GetExecution(ctx echo.Context, id string) error
	// (POST /executions/{id}/cancel)
	CancelExecution(ctx echo.Context, id string) error
	// (POST /executions/{id}/retry)
	RetryExecution(ctx echo.Context, id string) error
	// (POST /users)
	CreateUser(ctx echo.Context) error
	// (POST /jobs)
	CreateJobPost(ctx echo.Context) error
	// (POST /posts)
	CreateFeedPost(ctx echo.Context) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) ListWorkflows(ctx echo.Context) error {
	return w.Handler.ListWorkflows(ctx)
}

func (w *ServerInterfaceWrapper) GetWorkflowStatistics(ctx echo.Context) error {
	return w.Handler.GetWorkflowStatistics(ctx)
}

func (w *ServerInterfaceWrapper) ExecuteWorkflow(ctx echo.Context) error {
	id, err := bindPathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.ExecuteWorkflow(ctx, id)
}

func (w *ServerInterfaceWrapper) ListExecutions(ctx echo.Context) error {
	var params ListExecutionsParams
	err := runtime.BindQueryParameter("form", true, false, "status", ctx.QueryParams(), &params.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter status: %s", err))
	}
	return w.Handler.ListExecutions(ctx, params)
}

func (w *ServerInterfaceWrapper) CleanupExecutions(ctx echo.Context) error {
	var params CleanupExecutionsParams
	err := runtime.BindQueryParameter("form", true, false, "olderThanDays", ctx.QueryParams(), &params.OlderThanDays)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter olderThanDays: %s", err))
	}
	return w.Handler.CleanupExecutions(ctx, params)
}

func (w *ServerInterfaceWrapper) GetExecution(ctx echo.Context) error {
	id, err := bindPathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetExecution(ctx, id)
}

func (w *ServerInterfaceWrapper) CancelExecution(ctx echo.Context) error {
	id, err := bindPathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.CancelExecution(ctx, id)
}

func (w *ServerInterfaceWrapper) RetryExecution(ctx echo.Context) error {
	id, err := bindPathID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.RetryExecution(ctx, id)
}

func (w *ServerInterfaceWrapper) CreateUser(ctx echo.Context) error {
	return w.Handler.CreateUser(ctx)
}

func (w *ServerInterfaceWrapper) CreateJobPost(ctx echo.Context) error {
	return w.Handler.CreateJobPost(ctx)
}

func (w *ServerInterfaceWrapper) CreateFeedPost(ctx echo.Context) error {
	return w.Handler.CreateFeedPost(ctx)
}

func bindPathID(ctx echo.Context) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", ctx.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter id: %s", err))
	}
	return id, nil
}

// EchoRouter is the subset of echo.Echo and echo.Group used for routing.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "")
}

// RegisterHandlersWithBaseURL registers the routes under baseURL.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	wrapper := ServerInterfaceWrapper{Handler: si}

	router.GET(baseURL+"/workflows", wrapper.ListWorkflows)
	router.GET(baseURL+"/workflows/statistics", wrapper.GetWorkflowStatistics)
	router.POST(baseURL+"/workflows/:id/execute", wrapper.ExecuteWorkflow)
	router.GET(baseURL+"/executions", wrapper.ListExecutions)
	router.DELETE(baseURL+"/executions", wrapper.CleanupExecutions)
	router.GET(baseURL+"/executions/:id", wrapper.GetExecution)
	router.POST(baseURL+"/executions/:id/cancel", wrapper.CancelExecution)
	router.POST(baseURL+"/executions/:id/retry", wrapper.RetryExecution)
	router.POST(baseURL+"/users", wrapper.CreateUser)
	router.POST(baseURL+"/jobs", wrapper.CreateJobPost)
	router.POST(baseURL+"/posts", wrapper.CreateFeedPost)
}
