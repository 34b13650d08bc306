package models

// ExecuteWorkflowRequest is the body accepted by the workflow trigger endpoints.
type ExecuteWorkflowRequest struct {
	Data         map[string]interface{} `json:"data"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CrossTenant  bool                   `json:"cross_tenant,omitempty"`
	TargetTenant string                 `json:"target_tenant,omitempty"` // Id of the tenant acted upon
	Encrypt      bool                   `json:"encrypt,omitempty"`
	TimeoutMs    int64                  `json:"timeout_ms,omitempty"`
}

// WorkflowSummary describes a registered workflow definition to API clients.
type WorkflowSummary struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Version            string   `json:"version"`
	Steps              []string `json:"steps"`
	TenantSpecific     bool     `json:"tenant_specific"`
	CrossTenantAllowed bool     `json:"cross_tenant_allowed"`
}
