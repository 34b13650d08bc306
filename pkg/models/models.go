// Package models defines the domain models for the platform service
package models

import (
	"time"
)

// Role is the coarse role assigned to a platform user
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleRecruiter Role = "recruiter"
	RoleTrainer   Role = "trainer"
	RoleMember    Role = "member"
)

// Roles lists every role accepted by user creation
var Roles = []Role{RoleAdmin, RoleManager, RoleRecruiter, RoleTrainer, RoleMember}

// Permission names checked by the business workflows
const (
	PermissionUserCreate  = "user-create"
	PermissionJobCreate   = "job-create"
	PermissionPostCreate  = "post-create"
	PermissionCrossTenant = "cross-tenant"
	PermissionAdmin       = "admin"
)

// User represents a platform account scoped to one tenant
type User struct {
	ID           string    `json:"id" db:"id"`
	TenantID     string    `json:"tenant_id" db:"tenant_id"`
	Email        string    `json:"email" db:"email"`
	Name         string    `json:"name" db:"name"`
	Role         Role      `json:"role" db:"role"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedBy    *string   `json:"created_by,omitempty" db:"created_by"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// PublicationStatus is shared by job posts and feed posts
type PublicationStatus string

const (
	StatusDraft     PublicationStatus = "draft"
	StatusPending   PublicationStatus = "pending_review"
	StatusPublished PublicationStatus = "published"
	StatusRejected  PublicationStatus = "rejected"
)

// JobPost represents a hiring announcement published by a tenant
type JobPost struct {
	ID          string            `json:"id" db:"id"`
	TenantID    string            `json:"tenant_id" db:"tenant_id"`
	Title       string            `json:"title" db:"title"`
	Description string            `json:"description" db:"description"`
	Location    string            `json:"location,omitempty" db:"location"`
	SalaryMin   *int              `json:"salary_min,omitempty" db:"salary_min"`
	SalaryMax   *int              `json:"salary_max,omitempty" db:"salary_max"`
	Tags        []string          `json:"tags,omitempty" db:"tags"`
	Status      PublicationStatus `json:"status" db:"status"`
	CreatedBy   string            `json:"created_by" db:"created_by"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// Visibility of a feed post
type Visibility string

const (
	VisibilityTenant Visibility = "tenant"
	VisibilityPublic Visibility = "public"
)

// FeedPost is a social feed entry
type FeedPost struct {
	ID         string            `json:"id" db:"id"`
	TenantID   string            `json:"tenant_id" db:"tenant_id"`
	AuthorID   string            `json:"author_id" db:"author_id"`
	Content    string            `json:"content" db:"content"`
	Visibility Visibility        `json:"visibility" db:"visibility"`
	Status     PublicationStatus `json:"status" db:"status"`
	Flags      []string          `json:"flags,omitempty" db:"flags"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}
