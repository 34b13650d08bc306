package services

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"talentgrid/backend/internal/logging"
	"talentgrid/backend/internal/repository"
	"talentgrid/backend/internal/workflow"
	"talentgrid/backend/pkg/models"
)

// recordingNotifier captures notifications and optionally fails delivery.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		out = append(out, m.Kind)
	}
	return out
}

type fixture struct {
	mgr      *workflow.Manager
	repo     *repository.MemoryRepository
	notifier *recordingNotifier
	wf       *Workflows
	acme     *models.Tenant
	globex   *models.Tenant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo := repository.NewMemoryRepository()
	acme := &models.Tenant{Name: "Acme", Domain: "acme.test", Config: models.TenantConfig{
		Limits: map[string]int{models.LimitMaxUsers: 2, models.LimitMaxJobPosts: 1},
	}}
	globex := &models.Tenant{Name: "Globex", Domain: "globex.test", Config: models.TenantConfig{
		RequireApproval: true,
		BannedWords:     []string{"crypto"},
	}}
	require.NoError(t, repo.CreateTenant(ctx, acme))
	require.NoError(t, repo.CreateTenant(ctx, globex))

	mgr := workflow.NewManager()
	require.NoError(t, mgr.Init(ctx))
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	notifier := &recordingNotifier{}
	wf := New(mgr, repo, notifier, logging.NewNop(),
		WithBcryptCost(bcrypt.MinCost),
		WithRetryPolicy(1, time.Millisecond),
		WithStepTimeout(time.Second),
	)
	require.NoError(t, wf.Register(ctx))

	return &fixture{mgr: mgr, repo: repo, notifier: notifier, wf: wf, acme: acme, globex: globex}
}

func (f *fixture) context(tenant *models.Tenant, data map[string]any, role string, perms ...string) *workflow.ExecutionContext {
	return workflow.NewContext(workflow.TenantFromModel(tenant),
		workflow.WithUser("actor-1", role, perms...),
		workflow.WithData(data),
	)
}

func newUser(email string) map[string]any {
	return map[string]any{
		"email":    email,
		"name":     "Ada Lovelace",
		"role":     "recruiter",
		"password": "s3cret-pass",
	}
}

func TestRegister_ExposesWorkflowsPerTenant(t *testing.T) {
	f := newFixture(t)

	keys := func(tenantID string) []string {
		var out []string
		for _, w := range f.mgr.ListWorkflows(tenantID) {
			out = append(out, w.Key())
		}
		return out
	}

	assert.ElementsMatch(t, []string{
		WorkflowFeedPublication,
		WorkflowUserCreation,
		workflow.TenantKey(f.acme.ID, WorkflowJobPublication),
	}, keys(f.acme.ID))
	assert.NotContains(t, keys(f.globex.ID), workflow.TenantKey(f.acme.ID, WorkflowJobPublication))
}

func TestUserCreation_Succeeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ec := f.context(f.acme, newUser("Ada@Acme.test"), "admin", models.PermissionUserCreate)

	res := f.mgr.ExecuteWorkflow(ctx, WorkflowUserCreation, ec)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, res.Metadata.Steps, 5)

	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, data, "password")
	assert.Equal(t, "ada@acme.test", data["email"])
	assert.NotEmpty(t, data["user_id"])

	user, err := f.repo.GetUserByEmail(ctx, f.acme.ID, "ada@acme.test")
	require.NoError(t, err)
	assert.Equal(t, models.RoleRecruiter, user.Role)
	require.NotNil(t, user.CreatedBy)
	assert.Equal(t, "actor-1", *user.CreatedBy)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret-pass")))

	assert.Equal(t, []string{"user.welcome"}, f.notifier.kinds())
}

func TestUserCreation_MissingPermissionStopsBeforeSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ec := f.context(f.acme, newUser("ada@acme.test"), "member")

	res := f.mgr.ExecuteWorkflow(ctx, WorkflowUserCreation, ec)

	assert.False(t, res.Success)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, workflow.CodeInsufficientPerms, res.Errors[0].Code)
	assert.Equal(t, "checkPermission", res.Errors[0].StepID)
	assert.Len(t, res.Metadata.Steps, 2)

	n, err := f.repo.CountUsers(ctx, f.acme.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUserCreation_ValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]any
		perms []string
		code  workflow.ErrorCode
	}{
		{
			name: "missing fields",
			data: map[string]any{"email": "ada@acme.test"},
			code: workflow.CodeMissingFields,
		},
		{
			name: "invalid email",
			data: map[string]any{"email": "not-an-email", "name": "Ada", "role": "member"},
			code: CodeInvalidEmail,
		},
		{
			name: "unknown role",
			data: map[string]any{"email": "ada@acme.test", "name": "Ada", "role": "overlord"},
			code: CodeInvalidRole,
		},
		{
			name:  "admin requires admin permission",
			data:  map[string]any{"email": "ada@acme.test", "name": "Ada", "role": "admin"},
			perms: []string{models.PermissionUserCreate},
			code:  workflow.CodeMissingPermission,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			perms := tt.perms
			if perms == nil {
				perms = []string{models.PermissionUserCreate}
			}
			data := maps.Clone(tt.data)
			data["password"] = "s3cret-pass"
			res := f.mgr.ExecuteWorkflow(context.Background(), WorkflowUserCreation,
				f.context(f.acme, data, "manager", perms...))

			assert.False(t, res.Success)
			assert.True(t, res.HasError(tt.code), "expected %s, got %v", tt.code, res.Errors)
			assert.Empty(t, f.notifier.kinds())

			body, err := json.Marshal(res)
			require.NoError(t, err)
			assert.NotContains(t, string(body), "s3cret-pass")
		})
	}
}

func TestUserCreation_DuplicateAndLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := func(email string) *workflow.WorkflowResult {
		return f.mgr.ExecuteWorkflow(ctx, WorkflowUserCreation,
			f.context(f.acme, newUser(email), "admin", models.PermissionUserCreate))
	}

	require.True(t, run("a@acme.test").Success)

	dup := run("a@acme.test")
	assert.False(t, dup.Success)
	assert.Equal(t, http.StatusConflict, dup.StatusCode)
	assert.True(t, dup.HasError(CodeDuplicateUser))

	require.True(t, run("b@acme.test").Success)

	limited := run("c@acme.test")
	assert.False(t, limited.Success)
	assert.True(t, limited.HasError(CodeUserLimitExceeded))
	step, ok := limited.StepResult("checkLimits")
	require.True(t, ok)
	assert.False(t, step.Success)
}

func TestUserCreation_CrossTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ec := workflow.NewContext(workflow.TenantFromModel(f.acme),
		workflow.WithUser("actor-1", "admin", models.PermissionUserCreate, models.PermissionCrossTenant),
		workflow.WithData(newUser("ada@globex.test")),
		workflow.WithCrossTenantAccess(f.globex.ID),
	)
	res := f.mgr.ExecuteWorkflow(ctx, WorkflowUserCreation, ec)
	require.True(t, res.Success, res.Message)

	_, err := f.repo.GetUserByEmail(ctx, f.globex.ID, "ada@globex.test")
	assert.NoError(t, err)
	_, err = f.repo.GetUserByEmail(ctx, f.acme.ID, "ada@globex.test")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	t.Run("denied without permission", func(t *testing.T) {
		ec := workflow.NewContext(workflow.TenantFromModel(f.acme),
			workflow.WithUser("actor-1", "admin", models.PermissionUserCreate),
			workflow.WithData(newUser("bob@globex.test")),
			workflow.WithCrossTenantAccess(f.globex.ID),
		)
		res := f.mgr.ExecuteWorkflow(ctx, WorkflowUserCreation, ec)
		assert.False(t, res.Success)
		assert.True(t, res.HasError(workflow.CodeCrossTenantDenied))
	})

	t.Run("unknown target tenant", func(t *testing.T) {
		ec := workflow.NewContext(workflow.TenantFromModel(f.acme),
			workflow.WithUser("actor-1", "admin", models.PermissionUserCreate, models.PermissionCrossTenant),
			workflow.WithData(newUser("bob@nowhere.test")),
			workflow.WithCrossTenantAccess("missing-tenant"),
		)
		res := f.mgr.ExecuteWorkflow(ctx, WorkflowUserCreation, ec)
		assert.False(t, res.Success)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		assert.True(t, res.HasError(CodeTenantNotFound))
	})
}

func TestUserCreation_FailedWelcomeFailsRun(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp unavailable")

	res := f.mgr.ExecuteWorkflow(context.Background(), WorkflowUserCreation,
		f.context(f.acme, newUser("ada@acme.test"), "admin", models.PermissionUserCreate))

	assert.False(t, res.Success)
	step, ok := res.StepResult("sendWelcome")
	require.True(t, ok)
	assert.False(t, step.Success)
	assert.Equal(t, 1, step.RetryCount)

	n, err := f.repo.CountUsers(context.Background(), f.acme.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func newJob() map[string]any {
	return map[string]any{
		"title":       "Backend engineer",
		"description": "Build the hiring platform",
		"location":    "Remote",
		"salary_min":  float64(90000),
		"salary_max":  float64(120000),
		"tags":        []any{"go", " postgres ", ""},
	}
}

func TestJobPublication_PublishesForBoundTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.mgr.ExecuteWorkflow(ctx, WorkflowJobPublication,
		f.context(f.acme, newJob(), "recruiter", models.PermissionJobCreate))

	require.True(t, res.Success, res.Message)
	posts, err := f.repo.ListJobPosts(ctx, f.acme.ID)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, models.StatusPublished, posts[0].Status)
	assert.Equal(t, []string{"go", "postgres"}, posts[0].Tags)
	require.NotNil(t, posts[0].SalaryMin)
	assert.Equal(t, 90000, *posts[0].SalaryMin)
	assert.Equal(t, "actor-1", posts[0].CreatedBy)
	assert.Equal(t, []string{"job.published"}, f.notifier.kinds())

	again := f.mgr.ExecuteWorkflow(ctx, WorkflowJobPublication,
		f.context(f.acme, newJob(), "recruiter", models.PermissionJobCreate))
	assert.False(t, again.Success)
	assert.True(t, again.HasError(CodeJobLimitExceeded))
}

func TestJobPublication_RequiresApprovalAndModeration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.mgr.ExecuteWorkflow(ctx, WorkflowJobPublication,
		f.context(f.globex, newJob(), "recruiter", models.PermissionJobCreate))
	require.True(t, res.Success, res.Message)
	posts, err := f.repo.ListJobPosts(ctx, f.globex.ID)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, models.StatusPending, posts[0].Status)

	job := newJob()
	job["description"] = "Get paid in Crypto"
	rejected := f.mgr.ExecuteWorkflow(ctx, WorkflowJobPublication,
		f.context(f.globex, job, "recruiter", models.PermissionJobCreate))
	assert.False(t, rejected.Success)
	assert.Equal(t, http.StatusUnprocessableEntity, rejected.StatusCode)
	assert.True(t, rejected.HasError(CodeContentRejected))
}

func TestJobPublication_InvalidSalary(t *testing.T) {
	f := newFixture(t)
	job := newJob()
	job["salary_min"] = float64(200000)

	res := f.mgr.ExecuteWorkflow(context.Background(), WorkflowJobPublication,
		f.context(f.acme, job, "recruiter", models.PermissionJobCreate))

	assert.False(t, res.Success)
	assert.True(t, res.HasError(CodeInvalidSalaryRange))
	assert.Len(t, res.Metadata.Steps, 1)
}

func TestJobPublication_OtherTenantCannotUseBoundWorkflow(t *testing.T) {
	f := newFixture(t)
	wf, err := f.mgr.Registry().Get(workflow.TenantKey(f.acme.ID, WorkflowJobPublication))
	require.NoError(t, err)

	res := wf.Execute(context.Background(), f.context(f.globex, newJob(), "recruiter", models.PermissionJobCreate))

	assert.False(t, res.Success)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.True(t, res.HasError(workflow.CodeTenantMismatch))
}

func TestRegisterTenant_AddsJobPublication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	initech := &models.Tenant{Name: "Initech", Domain: "initech.test"}
	require.NoError(t, f.repo.CreateTenant(ctx, initech))

	res := f.mgr.ExecuteWorkflow(ctx, WorkflowJobPublication,
		f.context(initech, newJob(), "recruiter", models.PermissionJobCreate))
	assert.False(t, res.Success)
	assert.True(t, res.HasError(workflow.CodeWorkflowNotFound))

	require.NoError(t, f.wf.RegisterTenant(initech))
	res = f.mgr.ExecuteWorkflow(ctx, WorkflowJobPublication,
		f.context(initech, newJob(), "recruiter", models.PermissionJobCreate))
	assert.True(t, res.Success, res.Message)
}

func TestFeedPublication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("defaults to tenant visibility", func(t *testing.T) {
		res := f.mgr.ExecuteWorkflow(ctx, WorkflowFeedPublication,
			f.context(f.acme, map[string]any{"content": "  We are hiring!  "}, "member", models.PermissionPostCreate))
		require.True(t, res.Success, res.Message)

		posts, err := f.repo.ListFeedPosts(ctx, f.acme.ID)
		require.NoError(t, err)
		require.Len(t, posts, 1)
		assert.Equal(t, "We are hiring!", posts[0].Content)
		assert.Equal(t, models.VisibilityTenant, posts[0].Visibility)
		assert.Equal(t, "actor-1", posts[0].AuthorID)
	})

	t.Run("failed notification keeps the post published", func(t *testing.T) {
		f.notifier.err = errors.New("queue down")
		defer func() { f.notifier.err = nil }()

		res := f.mgr.ExecuteWorkflow(ctx, WorkflowFeedPublication,
			f.context(f.acme, map[string]any{"content": "Second post", "visibility": "public"}, "member", models.PermissionPostCreate))
		assert.True(t, res.Success)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		require.NotEmpty(t, res.Errors)
		assert.Equal(t, "notify", res.Errors[0].StepID)
	})

	t.Run("rejections", func(t *testing.T) {
		tests := []struct {
			name string
			data map[string]any
			code workflow.ErrorCode
		}{
			{"missing content", map[string]any{}, workflow.CodeMissingFields},
			{"bad visibility", map[string]any{"content": "hi", "visibility": "secret"}, CodeInvalidVisibility},
			{"spam", map[string]any{"content": "totally not a SCAM"}, CodeContentRejected},
		}
		for _, tt := range tests {
			res := f.mgr.ExecuteWorkflow(ctx, WorkflowFeedPublication,
				f.context(f.acme, tt.data, "member", models.PermissionPostCreate))
			assert.False(t, res.Success, tt.name)
			assert.True(t, res.HasError(tt.code), tt.name)
		}
	})
}

func TestFailureHandler_NotifiesOnFailedExecution(t *testing.T) {
	notifier := &recordingNotifier{}
	mgr := workflow.NewManager(workflow.WithFailureHandler(FailureHandler(notifier, logging.NewNop())))
	require.NoError(t, mgr.Init(context.Background()))
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	wf := New(mgr, repository.NewMemoryRepository(), &recordingNotifier{}, logging.NewNop())
	require.NoError(t, mgr.RegisterWorkflow(wf.FeedPublication()))

	ec := workflow.NewContext(workflow.TenantInfo{ID: "t1", Slug: "t1"},
		workflow.WithUser("u1", "member"),
		workflow.WithData(map[string]any{"content": "hello"}),
	)
	res := mgr.ExecuteWorkflow(context.Background(), WorkflowFeedPublication, ec)
	require.False(t, res.Success)

	require.Len(t, notifier.sent, 1)
	msg := notifier.sent[0]
	assert.Equal(t, "workflow.failed", msg.Kind)
	assert.Equal(t, "t1", msg.TenantID)
	assert.Equal(t, []string{models.PermissionAdmin}, msg.Recipients)
	assert.Equal(t, workflow.CodeInsufficientPerms, msg.Data["first_error"])
}
