package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"talentgrid/backend/pkg/models"
)

// MemoryRepository keeps every entity in process memory. It backs tests and
// single-process development runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	tenants map[string]*models.Tenant
	users   map[string]*models.User
	jobs    map[string]*models.JobPost
	posts   map[string]*models.FeedPost
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tenants: make(map[string]*models.Tenant),
		users:   make(map[string]*models.User),
		jobs:    make(map[string]*models.JobPost),
		posts:   make(map[string]*models.FeedPost),
	}
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) GetTenant(_ context.Context, id string) (*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, fmt.Errorf("get tenant %s: %w", id, ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (r *MemoryRepository) GetTenantByDomain(_ context.Context, domain string) (*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	domain = strings.ToLower(domain)
	for _, t := range r.tenants {
		if t.Domain == domain {
			c := *t
			return &c, nil
		}
	}
	return nil, fmt.Errorf("get tenant by domain %s: %w", domain, ErrNotFound)
}

func (r *MemoryRepository) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenant.Domain = strings.ToLower(tenant.Domain)
	if tenant.Slug == "" {
		tenant.Slug = Slugify(tenant.Domain)
	}
	for _, t := range r.tenants {
		if t.Slug == tenant.Slug || t.Domain == tenant.Domain {
			return fmt.Errorf("create tenant %s: %w", tenant.Slug, ErrConflict)
		}
	}
	stamp(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	c := *tenant
	r.tenants[tenant.ID] = &c
	return nil
}

func (r *MemoryRepository) ListTenants(context.Context) ([]*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		c := *t
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Slug < res[j].Slug })
	return res, nil
}

func (r *MemoryRepository) CreateUser(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.Email = strings.ToLower(u.Email)
	for _, existing := range r.users {
		if existing.TenantID == u.TenantID && existing.Email == u.Email {
			return fmt.Errorf("create user %s: %w", u.Email, ErrConflict)
		}
	}
	stamp(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	c := *u
	r.users[u.ID] = &c
	return nil
}

func (r *MemoryRepository) GetUserByEmail(_ context.Context, tenantID, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = strings.ToLower(email)
	for _, u := range r.users {
		if u.TenantID == tenantID && u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, fmt.Errorf("get user %s: %w", email, ErrNotFound)
}

func (r *MemoryRepository) CountUsers(_ context.Context, tenantID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, u := range r.users {
		if u.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CreateJobPost(_ context.Context, p *models.JobPost) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stamp(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	c := *p
	c.Tags = append([]string(nil), p.Tags...)
	r.jobs[p.ID] = &c
	return nil
}

func (r *MemoryRepository) CountJobPosts(ctx context.Context, tenantID string) (int, error) {
	posts, err := r.ListJobPosts(ctx, tenantID)
	return len(posts), err
}

func (r *MemoryRepository) ListJobPosts(_ context.Context, tenantID string) ([]*models.JobPost, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*models.JobPost
	for _, p := range r.jobs {
		if p.TenantID == tenantID {
			c := *p
			res = append(res, &c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (r *MemoryRepository) CreateFeedPost(_ context.Context, p *models.FeedPost) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stamp(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	c := *p
	c.Flags = append([]string(nil), p.Flags...)
	r.posts[p.ID] = &c
	return nil
}

func (r *MemoryRepository) CountFeedPosts(ctx context.Context, tenantID string) (int, error) {
	posts, err := r.ListFeedPosts(ctx, tenantID)
	return len(posts), err
}

func (r *MemoryRepository) ListFeedPosts(_ context.Context, tenantID string) ([]*models.FeedPost, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*models.FeedPost
	for _, p := range r.posts {
		if p.TenantID == tenantID {
			c := *p
			res = append(res, &c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}
