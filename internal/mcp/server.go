package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"talentgrid/backend/internal/auth"
	"talentgrid/backend/internal/logging"
	"talentgrid/backend/internal/workflow"
	"talentgrid/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	mgr       *workflow.Manager
	logger    *logging.Logger
}

func NewServer(mgr *workflow.Manager, logger *logging.Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"TalentGrid Workflows",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		mgr:    mgr,
		logger: logger,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the workflows available to your tenant"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"execute_workflow",
			mcp.WithDescription("Run a workflow and return its result"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The id of the workflow")),
			mcp.WithObject("data", mcp.Description("The data payload handed to the first step")),
			mcp.WithString("target_tenant", mcp.Description("Tenant id to act upon, for cross-tenant workflows")),
		),
		s.handleExecuteWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"execution_status",
			mcp.WithDescription("Get the record of a workflow execution"),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The id of the execution")),
		),
		s.handleExecutionStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_execution",
			mcp.WithDescription("Cancel a running workflow execution"),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The id of the execution")),
		),
		s.handleCancelExecution,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_statistics",
			mcp.WithDescription("Summarize the workflow executions of your tenant"),
		),
		s.handleStatistics,
	)
}

var errNoIdentity = errors.New("request is not authenticated")

func callerIdentity(ctx context.Context) (*auth.Identity, error) {
	id, ok := auth.FromContext(ctx)
	if !ok || id.Tenant == nil {
		return nil, errNoIdentity
	}
	return id, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := callerIdentity(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var summaries []models.WorkflowSummary
	for _, w := range s.mgr.ListWorkflows(id.Tenant.ID) {
		def := w.Definition()
		summaries = append(summaries, models.WorkflowSummary{
			ID:                 def.ID,
			Name:               def.Name,
			Version:            def.Version,
			Steps:              def.StepIDs(),
			TenantSpecific:     def.TenantSpecific,
			CrossTenantAllowed: def.CrossTenantAllowed,
		})
	}
	return jsonResult(summaries)
}

func (s *Server) handleExecuteWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := callerIdentity(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	workflowID, err := request.RequireString("workflow_id")
	if err != nil || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	args := request.GetArguments()
	var data map[string]any
	if raw, ok := args["data"]; ok && raw != nil {
		if data, ok = raw.(map[string]any); !ok {
			return mcp.NewToolResultError("Parameter data must be an object"), nil
		}
	}

	opts := []workflow.ContextOption{
		workflow.WithUser(id.UserID, string(id.Role), id.Permissions...),
		workflow.WithData(data),
		workflow.WithMetadata(map[string]any{"trigger": "mcp"}),
	}
	if target := request.GetString("target_tenant", ""); target != "" {
		opts = append(opts, workflow.WithCrossTenantAccess(target))
	}
	ec := workflow.NewContext(workflow.TenantFromModel(id.Tenant), opts...)

	res := s.mgr.ExecuteWorkflow(ctx, workflowID, ec)
	s.logger.Debug("Workflow executed over MCP", "workflow_id", workflowID, "success", res.Success)
	if !res.Success {
		jsonBytes, _ := json.Marshal(res)
		return mcp.NewToolResultError(string(jsonBytes)), nil
	}
	return jsonResult(res)
}

// tenantExecution loads an execution visible to the caller.
func (s *Server) tenantExecution(ctx context.Context, id *auth.Identity, request mcp.CallToolRequest) (*workflow.WorkflowExecution, *mcp.CallToolResult) {
	executionID, err := request.RequireString("execution_id")
	if err != nil || executionID == "" {
		return nil, mcp.NewToolResultError("Missing required parameter: execution_id")
	}
	exec, err := s.mgr.GetExecutionStatus(ctx, executionID)
	if err != nil || exec.TenantID != id.Tenant.ID {
		return nil, mcp.NewToolResultError(fmt.Sprintf("Execution %s not found", executionID))
	}
	return exec, nil
}

func (s *Server) handleExecutionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := callerIdentity(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	exec, errResult := s.tenantExecution(ctx, id, request)
	if errResult != nil {
		return errResult, nil
	}
	return jsonResult(exec)
}

func (s *Server) handleCancelExecution(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := callerIdentity(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	exec, errResult := s.tenantExecution(ctx, id, request)
	if errResult != nil {
		return errResult, nil
	}
	if err := s.mgr.CancelExecution(ctx, exec.ID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel: %v", err)), nil
	}
	return mcp.NewToolResultText("Execution cancelled"), nil
}

func (s *Server) handleStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := callerIdentity(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stats, err := s.mgr.GetWorkflowStatistics(ctx, id.Tenant.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to compute statistics: %v", err)), nil
	}
	return jsonResult(stats)
}

// MountHTTPHandlers serves the SSE transport under /mcp. The caller identity
// resolved by the HTTP middleware is handed on to the tool handlers.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if id, ok := auth.FromContext(r.Context()); ok {
				return auth.WithIdentity(ctx, id)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
