package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"talentgrid/backend/internal/logging"
	"talentgrid/backend/internal/workflow"
	"talentgrid/backend/pkg/models"
)

const (
	serviceName    = "talentgrid"
	serviceVersion = "1.0.0"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains the unauthenticated HTTP handlers.
type Handler struct {
	checks map[string]Pinger
}

// NewHandler creates a new Handler. checks are probed by the health endpoint.
func NewHandler(checks map[string]Pinger) *Handler {
	return &Handler{checks: checks}
}

// HandleHealth returns the service health. Any failing check turns the
// response into 503.
func (h *Handler) HandleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := models.HealthStatus{
		Status:    "ok",
		Service:   serviceName,
		Version:   serviceVersion,
		Timestamp: time.Now(),
		Checks:    map[string]string{},
	}
	code := http.StatusOK
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			status.Checks[name] = err.Error()
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[name] = "ok"
	}
	return c.JSON(code, status)
}

// problem writes an RFC 7807 Problem Details JSON error response.
func problem(c echo.Context, status int, title, detail string) error {
	p := models.ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
		TraceID:  c.Response().Header().Get(echo.HeaderXRequestID),
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, p)
}

// errorStatus maps Go-level errors returned by the workflow manager to HTTP
// statuses.
func errorStatus(err error) int {
	var werr *workflow.WorkflowError
	switch {
	case errors.As(err, &werr):
		return workflow.StatusFor(werr.Code)
	case errors.Is(err, workflow.ErrExecutionNotFound), errors.Is(err, workflow.ErrWorkflowNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrManagerNotRunning):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders every error escaping a handler as problem details.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := errorStatus(err)
		detail := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			detail = he.Error()
			if msg, ok := he.Message.(string); ok {
				detail = msg
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("Request failed", "path", c.Request().URL.Path, "status", status, "error", err)
			if he == nil {
				detail = http.StatusText(status)
			}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = problem(c, status, http.StatusText(status), detail)
		}
		if err != nil {
			logger.Warn("Failed to write error response", "error", err)
		}
	}
}
