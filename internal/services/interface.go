package services

import "context"

// Notification is a message produced by a business workflow.
type Notification struct {
	Kind       string         `json:"kind"`
	TenantID   string         `json:"tenant_id"`
	Recipients []string       `json:"recipients,omitempty"`
	Subject    string         `json:"subject"`
	Data       map[string]any `json:"data,omitempty"`
}

// Notifier delivers notifications. Delivery itself (email, chat) happens
// outside this service.
type Notifier interface {
	// Notify delivers n.
	Notify(ctx context.Context, n Notification) error
}
