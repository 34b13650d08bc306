package models

import (
	"time"
)

// Tenant limit keys understood by the business workflows.
const (
	LimitMaxUsers    = "max_users"
	LimitMaxJobPosts = "max_job_posts"
	LimitMaxPosts    = "max_posts"
)

// TenantConfig carries per-tenant switches read by the workflow engine and steps.
type TenantConfig struct {
	EncryptionEnabled bool            `json:"encryption_enabled"`
	RequireApproval   bool            `json:"require_approval"`
	Features          map[string]bool `json:"features,omitempty"`
	Limits            map[string]int  `json:"limits,omitempty"`
	BannedWords       []string        `json:"banned_words,omitempty"`
}

// Limit returns the configured limit for key and whether one is set.
func (c TenantConfig) Limit(key string) (int, bool) {
	v, ok := c.Limits[key]
	return v, ok && v > 0
}

type Tenant struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Slug      string       `json:"slug"`
	Domain    string       `json:"domain"`
	Config    TenantConfig `json:"config"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
