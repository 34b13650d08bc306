package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"talentgrid/backend/internal/logging"
	"talentgrid/backend/internal/workflow"
	"talentgrid/backend/pkg/models"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}
	return pool
}

func TestPostgresRepository(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	repo := NewPostgresRepository(pool, logging.NewNop())

	require.NoError(t, repo.Ping(ctx))

	tenant := &models.Tenant{
		Name:   "Acme",
		Domain: "Acme.io",
		Config: models.TenantConfig{
			EncryptionEnabled: true,
			Limits:            map[string]int{models.LimitMaxUsers: 10},
			BannedWords:       []string{"spam"},
		},
	}

	t.Run("Tenants", func(t *testing.T) {
		require.NoError(t, repo.CreateTenant(ctx, tenant))
		assert.NotEmpty(t, tenant.ID)
		assert.Equal(t, "acme-io", tenant.Slug)

		got, err := repo.GetTenantByDomain(ctx, "acme.io")
		require.NoError(t, err)
		assert.Equal(t, tenant.ID, got.ID)
		assert.True(t, got.Config.EncryptionEnabled)
		assert.Equal(t, 10, got.Config.Limits[models.LimitMaxUsers])
		assert.Equal(t, []string{"spam"}, got.Config.BannedWords)

		_, err = repo.GetTenant(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, ErrNotFound)

		err = repo.CreateTenant(ctx, &models.Tenant{Name: "Dup", Domain: "acme.io"})
		assert.ErrorIs(t, err, ErrConflict)

		tenants, err := repo.ListTenants(ctx)
		require.NoError(t, err)
		assert.Len(t, tenants, 1)
	})

	t.Run("Users", func(t *testing.T) {
		creator := "seed"
		u := &models.User{TenantID: tenant.ID, Email: "Ada@Acme.io", Name: "Ada", Role: models.RoleAdmin, PasswordHash: "hash", CreatedBy: &creator}
		require.NoError(t, repo.CreateUser(ctx, u))

		got, err := repo.GetUserByEmail(ctx, tenant.ID, "ada@acme.io")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, models.RoleAdmin, got.Role)
		require.NotNil(t, got.CreatedBy)
		assert.Equal(t, "seed", *got.CreatedBy)

		err = repo.CreateUser(ctx, &models.User{TenantID: tenant.ID, Email: "ada@acme.io", Name: "Ada", Role: models.RoleMember})
		assert.ErrorIs(t, err, ErrConflict)

		n, err := repo.CountUsers(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Posts", func(t *testing.T) {
		lo, hi := 50000, 70000
		require.NoError(t, repo.CreateJobPost(ctx, &models.JobPost{
			TenantID: tenant.ID, Title: "Go engineer", Description: "Build services",
			SalaryMin: &lo, SalaryMax: &hi, Tags: []string{"go"}, Status: models.StatusPublished, CreatedBy: "u1",
		}))
		require.NoError(t, repo.CreateFeedPost(ctx, &models.FeedPost{
			TenantID: tenant.ID, AuthorID: "u1", Content: "hello", Visibility: models.VisibilityPublic, Status: models.StatusPublished,
		}))

		jobs, err := repo.ListJobPosts(ctx, tenant.ID)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, 70000, *jobs[0].SalaryMax)
		assert.Equal(t, []string{"go"}, jobs[0].Tags)

		posts, err := repo.ListFeedPosts(ctx, tenant.ID)
		require.NoError(t, err)
		require.Len(t, posts, 1)
		assert.Equal(t, models.VisibilityPublic, posts[0].Visibility)

		n, err := repo.CountFeedPosts(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = repo.CountJobPosts(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestPostgresExecutionStore(t *testing.T) {
	pool := startPostgres(t)
	testExecutionStore(t, NewPostgresExecutionStore(pool))
}

// testExecutionStore exercises the ExecutionStore contract shared by every
// backend.
func testExecutionStore(t *testing.T, store workflow.ExecutionStore) {
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Millisecond)
	end := start.Add(time.Second)

	exec := &workflow.WorkflowExecution{
		ID:          "exec-1",
		WorkflowID:  "user-creation",
		WorkflowKey: "user-creation",
		TenantID:    "tenant-a",
		UserID:      "u1",
		Status:      workflow.StatusRunning,
		StartTime:   start,
		CurrentStep: "validate",
		Metadata:    map[string]any{"retries": 0},
	}
	require.NoError(t, store.SaveExecution(ctx, exec))

	exec.Status = workflow.StatusFailed
	exec.EndTime = &end
	exec.CurrentStep = ""
	exec.StepResults = []*workflow.StepResult{{StepID: "validate", Success: false, DurationMs: 3}}
	exec.Errors = []*workflow.WorkflowError{workflow.NewError(workflow.CodeMissingFields, "email is required").ForStep("validate")}
	require.NoError(t, store.SaveExecution(ctx, exec))

	require.NoError(t, store.SaveExecution(ctx, &workflow.WorkflowExecution{
		ID: "exec-2", WorkflowID: "feed-publication", WorkflowKey: "feed-publication",
		TenantID: "tenant-b", Status: workflow.StatusCompleted, StartTime: start.Add(time.Minute),
	}))

	got, err := store.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, got.Status)
	require.NotNil(t, got.EndTime)
	assert.WithinDuration(t, end, *got.EndTime, time.Millisecond)
	assert.WithinDuration(t, start, got.StartTime, time.Millisecond)
	require.Len(t, got.StepResults, 1)
	assert.Equal(t, "validate", got.StepResults[0].StepID)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, workflow.CodeMissingFields, got.Errors[0].Code)
	assert.Equal(t, "validate", got.Errors[0].StepID)
	assert.Equal(t, 0, got.Retries())

	tenantA, err := store.ListExecutions(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, tenantA, 1)
	assert.Equal(t, "exec-1", tenantA[0].ID)

	all, err := store.ListExecutions(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "exec-1", all[0].ID)

	require.NoError(t, store.DeleteExecution(ctx, "exec-1"))
	require.NoError(t, store.DeleteExecution(ctx, "exec-1"))
	_, err = store.GetExecution(ctx, "exec-1")
	assert.ErrorIs(t, err, workflow.ErrExecutionNotFound)

	tenantA, err = store.ListExecutions(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, tenantA)
}
