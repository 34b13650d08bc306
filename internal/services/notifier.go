package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"talentgrid/backend/internal/logging"
	"talentgrid/backend/internal/workflow"
)

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs n.
func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.logger.Info("Notification",
		"kind", msg.Kind,
		"tenant_id", msg.TenantID,
		"recipients", msg.Recipients,
		"subject", msg.Subject,
	)
	return nil
}

// WebhookNotifier posts notifications as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

// Notify posts msg to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, msg Notification) error {
	requestBody, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("failed to deliver notification: status code %d", resp.StatusCode)
	}
	return nil
}

// NewNotifier returns a WebhookNotifier when url is set and a LogNotifier
// otherwise.
func NewNotifier(url string, timeout time.Duration, logger *logging.Logger) Notifier {
	if url == "" {
		return NewLogNotifier(logger)
	}
	return NewWebhookNotifier(url, timeout)
}

// FailureHandler adapts a Notifier to the workflow manager's failure hook.
func FailureHandler(n Notifier, logger *logging.Logger) workflow.FailureHandler {
	return func(ctx context.Context, exec *workflow.WorkflowExecution, recipients []string) {
		msg := Notification{
			Kind:       "workflow.failed",
			TenantID:   exec.TenantID,
			Recipients: recipients,
			Subject:    fmt.Sprintf("Workflow %s failed", exec.WorkflowID),
			Data: map[string]any{
				"execution_id": exec.ID,
				"workflow_id":  exec.WorkflowID,
				"errors":       len(exec.Errors),
			},
		}
		if len(exec.Errors) > 0 {
			msg.Data["first_error"] = exec.Errors[0].Code
		}
		if err := n.Notify(ctx, msg); err != nil {
			logger.Warn("Failure notification not delivered", "execution_id", exec.ID, "error", err)
		}
	}
}
