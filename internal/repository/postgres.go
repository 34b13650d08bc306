package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/duke-git/lancet/v2/strutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"talentgrid/backend/internal/logging"
	"talentgrid/backend/pkg/models"
)

const pgUniqueViolation = "23505"

// PostgresRepository is a PostgreSQL implementation of the Repository interface.
type PostgresRepository struct {
	db     *pgxpool.Pool
	logger *logging.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool, logger *logging.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger}
}

// Ping checks the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func translate(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w", what, ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func stamp(id *string, created, updated *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

const tenantColumns = "id, name, slug, domain, config, created_at, updated_at"

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Domain, &t.Config, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTenant retrieves a tenant by id.
func (r *PostgresRepository) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	t, err := scanTenant(r.db.QueryRow(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE id = $1", id))
	if err != nil {
		return nil, translate(err, "get tenant "+id)
	}
	return t, nil
}

// GetTenantByDomain retrieves the tenant owning domain.
func (r *PostgresRepository) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	domain = strings.ToLower(domain)
	t, err := scanTenant(r.db.QueryRow(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE domain = $1", domain))
	if err != nil {
		return nil, translate(err, "get tenant by domain "+domain)
	}
	return t, nil
}

// CreateTenant inserts a tenant.
func (r *PostgresRepository) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	stamp(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	tenant.Domain = strings.ToLower(tenant.Domain)
	if tenant.Slug == "" {
		tenant.Slug = Slugify(tenant.Domain)
	}
	_, err := r.db.Exec(ctx,
		"INSERT INTO tenants ("+tenantColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		tenant.ID, tenant.Name, tenant.Slug, tenant.Domain, tenant.Config, tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		return translate(err, "create tenant "+tenant.Slug)
	}
	r.logger.Info("Tenant created", "tenant_id", tenant.ID, "slug", tenant.Slug)
	return nil
}

// ListTenants returns all tenants.
func (r *PostgresRepository) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := r.db.Query(ctx, "SELECT "+tenantColumns+" FROM tenants ORDER BY slug")
	if err != nil {
		return nil, translate(err, "list tenants")
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, translate(err, "scan tenant")
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// CreateUser inserts a user. A duplicate email within the tenant yields ErrConflict.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *models.User) error {
	stamp(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	u.Email = strings.ToLower(u.Email)
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, tenant_id, email, name, role, password_hash, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.TenantID, u.Email, u.Name, string(u.Role), u.PasswordHash, u.CreatedBy, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return translate(err, "create user "+u.Email)
	}
	return nil
}

// GetUserByEmail retrieves a user of tenantID by email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, tenantID, email string) (*models.User, error) {
	var u models.User
	var role string
	err := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, email, name, role, password_hash, created_by, created_at, updated_at
		 FROM users WHERE tenant_id = $1 AND email = $2`,
		tenantID, strings.ToLower(email)).
		Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &role, &u.PasswordHash, &u.CreatedBy, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, translate(err, "get user "+email)
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (r *PostgresRepository) count(ctx context.Context, table, tenantID string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, "SELECT count(*) FROM "+table+" WHERE tenant_id = $1", tenantID).Scan(&n); err != nil {
		return 0, translate(err, "count "+table)
	}
	return n, nil
}

// CountUsers returns the number of users in tenantID.
func (r *PostgresRepository) CountUsers(ctx context.Context, tenantID string) (int, error) {
	return r.count(ctx, "users", tenantID)
}

// CreateJobPost inserts a job post.
func (r *PostgresRepository) CreateJobPost(ctx context.Context, p *models.JobPost) error {
	stamp(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO job_posts (id, tenant_id, title, description, location, salary_min, salary_max, tags, status, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.TenantID, p.Title, p.Description, p.Location, p.SalaryMin, p.SalaryMax, tags,
		string(p.Status), p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return translate(err, "create job post")
	}
	return nil
}

// CountJobPosts returns the number of job posts in tenantID.
func (r *PostgresRepository) CountJobPosts(ctx context.Context, tenantID string) (int, error) {
	return r.count(ctx, "job_posts", tenantID)
}

// ListJobPosts returns the job posts of tenantID, newest first.
func (r *PostgresRepository) ListJobPosts(ctx context.Context, tenantID string) ([]*models.JobPost, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, title, description, location, salary_min, salary_max, tags, status, created_by, created_at, updated_at
		 FROM job_posts WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, translate(err, "list job posts")
	}
	defer rows.Close()

	var posts []*models.JobPost
	for rows.Next() {
		var p models.JobPost
		var status string
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Title, &p.Description, &p.Location, &p.SalaryMin, &p.SalaryMax,
			&p.Tags, &status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, translate(err, "scan job post")
		}
		p.Status = models.PublicationStatus(status)
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}

// CreateFeedPost inserts a feed post.
func (r *PostgresRepository) CreateFeedPost(ctx context.Context, p *models.FeedPost) error {
	stamp(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	flags := p.Flags
	if flags == nil {
		flags = []string{}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO feed_posts (id, tenant_id, author_id, content, visibility, status, flags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.TenantID, p.AuthorID, p.Content, string(p.Visibility), string(p.Status), flags, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return translate(err, "create feed post")
	}
	return nil
}

// CountFeedPosts returns the number of feed posts in tenantID.
func (r *PostgresRepository) CountFeedPosts(ctx context.Context, tenantID string) (int, error) {
	return r.count(ctx, "feed_posts", tenantID)
}

// ListFeedPosts returns the feed posts of tenantID, newest first.
func (r *PostgresRepository) ListFeedPosts(ctx context.Context, tenantID string) ([]*models.FeedPost, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, author_id, content, visibility, status, flags, created_at, updated_at
		 FROM feed_posts WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, translate(err, "list feed posts")
	}
	defer rows.Close()

	var posts []*models.FeedPost
	for rows.Next() {
		var p models.FeedPost
		var visibility, status string
		if err := rows.Scan(&p.ID, &p.TenantID, &p.AuthorID, &p.Content, &visibility, &status, &p.Flags,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, translate(err, "scan feed post")
		}
		p.Visibility = models.Visibility(visibility)
		p.Status = models.PublicationStatus(status)
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}

// Slugify derives a tenant slug from a name or domain.
func Slugify(s string) string {
	return strutil.KebabCase(s)
}
