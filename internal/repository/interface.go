package repository

import (
	"context"
	"errors"

	"talentgrid/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("already exists")
)

// TenantStore persists tenants.
type TenantStore interface {
	// GetTenant retrieves a tenant by id.
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	// GetTenantByDomain retrieves the tenant owning an email domain.
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	// CreateTenant stores a new tenant, assigning an id when empty.
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	// ListTenants returns every tenant ordered by slug.
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
}

// UserStore persists users.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, tenantID, email string) (*models.User, error)
	CountUsers(ctx context.Context, tenantID string) (int, error)
}

// JobPostStore persists job posts.
type JobPostStore interface {
	CreateJobPost(ctx context.Context, post *models.JobPost) error
	CountJobPosts(ctx context.Context, tenantID string) (int, error)
	ListJobPosts(ctx context.Context, tenantID string) ([]*models.JobPost, error)
}

// FeedPostStore persists feed posts.
type FeedPostStore interface {
	CreateFeedPost(ctx context.Context, post *models.FeedPost) error
	CountFeedPosts(ctx context.Context, tenantID string) (int, error)
	ListFeedPosts(ctx context.Context, tenantID string) ([]*models.FeedPost, error)
}

// Repository is the data access layer used by the business workflows and
// the auth middleware.
type Repository interface {
	TenantStore
	UserStore
	JobPostStore
	FeedPostStore
	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error
}
