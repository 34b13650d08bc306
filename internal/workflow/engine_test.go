package workflow

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentgrid/backend/pkg/models"
)

func testTenant() TenantInfo {
	return TenantInfo{ID: "tenant-a", Slug: "acme"}
}

// callLog records handler invocations in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, id)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func okStep(log *callLog, id string, critical bool, deps ...string) *Step {
	return &Step{
		ID:        id,
		Name:      id,
		Type:      StepBusinessLogic,
		Critical:  critical,
		DependsOn: deps,
		Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
			log.add(id)
			return Success(nil, id+" done"), nil
		},
	}
}

func failStep(log *callLog, id string, critical bool, werr *WorkflowError, deps ...string) *Step {
	return &Step{
		ID:        id,
		Name:      id,
		Type:      StepBusinessLogic,
		Critical:  critical,
		DependsOn: deps,
		Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
			log.add(id)
			return Fail(werr), nil
		},
	}
}

func TestEngine_AllStepsSucceed(t *testing.T) {
	log := &callLog{}
	def := &Definition{
		ID:      "onboarding",
		Version: "1.0.0",
		Steps: []*Step{
			okStep(log, "a", true),
			okStep(log, "b", true, "a"),
			okStep(log, "c", false, "b"),
		},
	}

	res := NewEngine().Run(context.Background(), def, NewContext(testTenant()))

	assert.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"a", "b", "c"}, log.list())
	require.NotNil(t, res.Metadata)
	assert.Len(t, res.Metadata.Steps, 3)
	assert.Equal(t, 3, res.Metadata.Performance.StepsExecuted)
	assert.NotEmpty(t, res.Metadata.ExecutionID)
	assert.Equal(t, "onboarding", res.Metadata.WorkflowID)
	assert.Equal(t, "tenant-a", res.Metadata.Tenant.ID)
	assert.NotEmpty(t, res.Metadata.AuditTrail)
}

func TestEngine_MissingPermissionStopsAtCriticalStep(t *testing.T) {
	log := &callLog{}
	checkPermission := &Step{
		ID:       "checkPermission",
		Name:     "Check permission",
		Type:     StepValidation,
		Critical: true,
		Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
			log.add("checkPermission")
			if !ec.HasPermission(models.PermissionUserCreate) {
				return Fail(NewError(CodeInsufficientPerms, "user-create permission required")), nil
			}
			return Success(nil, ""), nil
		},
	}
	def := &Definition{
		ID: "user-creation",
		Steps: []*Step{
			okStep(log, "validate", true),
			checkPermission,
			okStep(log, "save", true),
		},
	}
	ec := NewContext(testTenant(), WithUser("u1", "member"))

	res := NewEngine().Run(context.Background(), def, ec)

	assert.False(t, res.Success)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeInsufficientPerms, res.Errors[0].Code)
	assert.Equal(t, "checkPermission", res.Errors[0].StepID)
	assert.Equal(t, []string{"validate", "checkPermission"}, log.list())
	assert.Len(t, res.Metadata.Steps, 2)
	_, ran := res.StepResult("save")
	assert.False(t, ran)
	assert.Contains(t, res.Message, "checkPermission")
}

func TestEngine_ThrowingNonCriticalStepFailsDependentCriticalStep(t *testing.T) {
	log := &callLog{}
	var attempts atomic.Int32
	b := &Step{
		ID:        "b",
		Name:      "b",
		Retryable: true,
		DependsOn: []string{"a"},
		Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
			attempts.Add(1)
			return nil, errors.New("upstream unavailable")
		},
	}
	cRan := false
	c := &Step{
		ID:        "c",
		Name:      "c",
		Critical:  true,
		DependsOn: []string{"b"},
		Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
			cRan = true
			return Success(nil, ""), nil
		},
	}
	def := &Definition{
		ID:            "chain",
		Steps:         []*Step{okStep(log, "a", true), b, c},
		ErrorHandling: ErrorHandling{MaxRetries: 2},
	}
	ec := NewContext(testTenant())

	res := NewEngine().Run(context.Background(), def, ec)

	assert.False(t, res.Success)
	assert.False(t, cRan)
	assert.EqualValues(t, 3, attempts.Load())
	require.Len(t, res.Metadata.Steps, 3)

	bRes, _ := res.StepResult("b")
	assert.False(t, bRes.Success)
	assert.Equal(t, 2, bRes.RetryCount)
	require.Len(t, bRes.Errors, 1)
	assert.Equal(t, CodeStepExecution, bRes.Errors[0].Code)

	cRes, _ := res.StepResult("c")
	require.Len(t, cRes.Errors, 1)
	assert.Equal(t, CodeDependencyNotMet, cRes.Errors[0].Code)
	assert.Equal(t, http.StatusFailedDependency, res.StatusCode)

	perf := res.Metadata.Performance
	assert.Equal(t, 2, perf.RetryAttempts)
	assert.Equal(t, 1, perf.StepsSkipped)
}

func TestEngine_NonRetryableStepGetsOneAttempt(t *testing.T) {
	var attempts atomic.Int32
	def := &Definition{
		ID: "once",
		Steps: []*Step{{
			ID:       "flaky",
			Critical: true,
			Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
				attempts.Add(1)
				return nil, errors.New("boom")
			},
		}},
		ErrorHandling: ErrorHandling{MaxRetries: 5},
	}

	res := NewEngine().Run(context.Background(), def, NewContext(testTenant()))

	assert.False(t, res.Success)
	assert.EqualValues(t, 1, attempts.Load())
	assert.True(t, res.HasError(CodeStepExecution))
}

func TestEngine_RetrySucceedsEventually(t *testing.T) {
	var attempts atomic.Int32
	def := &Definition{
		ID: "flaky",
		Steps: []*Step{{
			ID:        "send",
			Retryable: true,
			Critical:  true,
			Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
				if attempts.Add(1) < 3 {
					return nil, errors.New("try again")
				}
				return Success(nil, "sent"), nil
			},
		}},
		ErrorHandling: ErrorHandling{MaxRetries: 3, RetryDelay: time.Millisecond},
	}

	res := NewEngine().Run(context.Background(), def, NewContext(testTenant()))

	assert.True(t, res.Success)
	sr, ok := res.StepResult("send")
	require.True(t, ok)
	assert.Equal(t, 2, sr.RetryCount)
	assert.True(t, sr.Success)
}

func TestEngine_BusinessFailureIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	def := &Definition{
		ID: "business",
		Steps: []*Step{{
			ID:        "limits",
			Retryable: true,
			Critical:  true,
			Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
				attempts.Add(1)
				return Fail(NewError("USER_LIMIT_EXCEEDED", "tenant user limit reached")), nil
			},
		}},
		ErrorHandling: ErrorHandling{MaxRetries: 3},
	}

	res := NewEngine().Run(context.Background(), def, NewContext(testTenant()))

	assert.False(t, res.Success)
	assert.EqualValues(t, 1, attempts.Load())
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
}

func TestEngine_SuccessPolicies(t *testing.T) {
	build := func(policy SuccessPolicy, log *callLog) *Definition {
		return &Definition{
			ID:            "policy",
			SuccessPolicy: policy,
			Steps: []*Step{
				okStep(log, "a", true),
				failStep(log, "b", false, NewError(CodeStepExecution, "notification failed")),
				okStep(log, "c", true, "a"),
			},
		}
	}

	t.Run("all steps", func(t *testing.T) {
		log := &callLog{}
		res := NewEngine().Run(context.Background(), build(SuccessPolicyAllSteps, log), NewContext(testTenant()))

		assert.False(t, res.Success)
		assert.Equal(t, []string{"a", "b", "c"}, log.list())
		assert.Len(t, res.Metadata.Steps, 3)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "b", res.Errors[0].StepID)
	})

	t.Run("critical only", func(t *testing.T) {
		log := &callLog{}
		res := NewEngine().Run(context.Background(), build(SuccessPolicyCriticalOnly, log), NewContext(testTenant()))

		assert.True(t, res.Success)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, []string{"a", "b", "c"}, log.list())
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Message, "1 non-critical errors")
	})

	t.Run("critical only still fails on critical step", func(t *testing.T) {
		log := &callLog{}
		def := build(SuccessPolicyCriticalOnly, log)
		def.Steps[2] = failStep(log, "c", true, NewError(CodeStepExecution, "save failed"))

		res := NewEngine().Run(context.Background(), def, NewContext(testTenant()))

		assert.False(t, res.Success)
		assert.Len(t, res.Errors, 2)
	})
}

func TestEngine_StepTimeout(t *testing.T) {
	def := &Definition{
		ID: "slow",
		Steps: []*Step{{
			ID:       "wait",
			Critical: true,
			Timeout:  20 * time.Millisecond,
			Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}},
	}

	res := NewEngine().Run(context.Background(), def, NewContext(testTenant()))

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeStepTimeout, res.Errors[0].Code)
	assert.Equal(t, http.StatusGatewayTimeout, res.StatusCode)
}

func TestEngine_StepTimeoutDoesNotWaitForStuckHandler(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	def := &Definition{
		ID: "stuck",
		Steps: []*Step{{
			ID:       "ignore-ctx",
			Critical: true,
			Timeout:  20 * time.Millisecond,
			Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
				<-release
				return Success(nil, ""), nil
			},
		}},
	}

	start := time.Now()
	res := NewEngine().Run(context.Background(), def, NewContext(testTenant()))

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, res.HasError(CodeStepTimeout))
}

func TestEngine_TimedOutAttemptIsRetried(t *testing.T) {
	var attempts atomic.Int32
	def := &Definition{
		ID: "retry-timeout",
		Steps: []*Step{{
			ID:        "call",
			Critical:  true,
			Retryable: true,
			Timeout:   20 * time.Millisecond,
			Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
				if attempts.Add(1) == 1 {
					<-ctx.Done()
					return nil, ctx.Err()
				}
				return Success(nil, ""), nil
			},
		}},
		ErrorHandling: ErrorHandling{MaxRetries: 1},
	}

	res := NewEngine().Run(context.Background(), def, NewContext(testTenant()))

	assert.True(t, res.Success)
	sr, _ := res.StepResult("call")
	assert.Equal(t, 1, sr.RetryCount)
}

func TestEngine_TimedOutAttemptCannotWriteToRun(t *testing.T) {
	release := make(chan struct{})
	wrote := make(chan struct{})
	var sawLate atomic.Bool
	def := &Definition{
		ID: "late-write",
		Steps: []*Step{
			{
				ID:      "ignore-ctx",
				Timeout: 20 * time.Millisecond,
				Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
					<-release
					ec.Set("late", true)
					ec.SetMetadata("late", true)
					ec.AddAudit("late.write", nil)
					close(wrote)
					return Success(nil, ""), nil
				},
			},
			{
				ID: "next",
				Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
					close(release)
					<-wrote
					_, late := ec.Get("late")
					sawLate.Store(late)
					return Success(nil, ""), nil
				},
			},
		},
	}
	ec := NewContext(testTenant(), WithData(map[string]any{"title": "x"}))

	res := NewEngine().Run(context.Background(), def, ec)

	assert.True(t, res.HasError(CodeStepTimeout))
	assert.False(t, sawLate.Load())
	assert.Equal(t, map[string]any{"title": "x"}, res.Data)
	assert.NotContains(t, ec.Metadata(), "late")
	for _, entry := range res.Metadata.AuditTrail {
		assert.NotEqual(t, "late.write", entry.Action)
	}
}

func TestEngine_ReturnedAttemptWritesAreKept(t *testing.T) {
	def := &Definition{
		ID: "writes",
		Steps: []*Step{
			{
				ID: "set",
				Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
					ec.Set("slug", "acme")
					ec.SetMetadata("source", "import")
					ec.RecordDataAccess()
					ec.AddAudit("slug.set", nil)
					return Success(nil, ""), nil
				},
			},
			{
				ID:        "read",
				DependsOn: []string{"set"},
				Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
					if ec.GetString("slug") != "acme" {
						return Fail(NewError(CodeStepExecution, "slug missing")), nil
					}
					return Success(nil, ""), nil
				},
			},
		},
	}
	ec := NewContext(testTenant())

	res := NewEngine().Run(context.Background(), def, ec)

	require.True(t, res.Success, "%v", res.Errors)
	assert.Equal(t, "acme", ec.GetString("slug"))
	assert.Equal(t, "import", ec.Metadata()["source"])
	assert.Equal(t, 1, res.Metadata.Performance.DataAccessOps)
	var actions []string
	for _, entry := range res.Metadata.AuditTrail {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "slug.set")
}

func TestEngine_DefaultStepTimeout(t *testing.T) {
	def := &Definition{
		ID: "default-timeout",
		Steps: []*Step{{
			ID:       "wait",
			Critical: true,
			Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}},
	}

	res := NewEngine(WithDefaultStepTimeout(20*time.Millisecond)).Run(context.Background(), def, NewContext(testTenant()))

	assert.True(t, res.HasError(CodeStepTimeout))
}

func TestEngine_RunTimeout(t *testing.T) {
	log := &callLog{}
	def := &Definition{
		ID: "bounded",
		Steps: []*Step{
			{
				ID:       "wait",
				Critical: true,
				Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				},
			},
			okStep(log, "after", true),
		},
	}

	res := NewEngine().Run(context.Background(), def, NewContext(testTenant(), WithTimeout(30*time.Millisecond)))

	assert.False(t, res.Success)
	assert.True(t, res.HasError(CodeStepTimeout))
	assert.Empty(t, log.list())
}

func TestEngine_CancelledContextRunsNoSteps(t *testing.T) {
	log := &callLog{}
	def := &Definition{ID: "cancelled", Steps: []*Step{okStep(log, "a", true)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewEngine().Run(ctx, def, NewContext(testTenant()))

	assert.False(t, res.Success)
	assert.Empty(t, log.list())
	assert.True(t, res.HasError(CodeWorkflowCancelled))
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Empty(t, res.Metadata.Steps)
}

func TestEngine_PanicIsAThrownFailure(t *testing.T) {
	def := &Definition{
		ID: "panics",
		Steps: []*Step{{
			ID:       "explode",
			Critical: true,
			Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
				panic("nil map write")
			},
		}},
	}

	res := NewEngine().Run(context.Background(), def, NewContext(testTenant()))

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeStepExecution, res.Errors[0].Code)
	assert.Contains(t, res.Errors[0].Message, "nil map write")
}

func TestEngine_SuccessfulMapResultReplacesPayload(t *testing.T) {
	var seen any
	def := &Definition{
		ID: "pipeline",
		Steps: []*Step{
			{
				ID: "transform",
				Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
					return Success(map[string]any{"email": "ada@example.com", "normalized": true}, ""), nil
				},
			},
			{
				ID: "read",
				Handler: func(ctx context.Context, ec *ExecutionContext) (*WorkflowResult, error) {
					seen, _ = ec.Get("normalized")
					return Success("not a map", ""), nil
				},
			},
		},
	}
	ec := NewContext(testTenant(), WithData(map[string]any{"email": "ADA@example.com"}))

	res := NewEngine().Run(context.Background(), def, ec)

	assert.True(t, res.Success)
	assert.Equal(t, true, seen)
	assert.Equal(t, "ada@example.com", ec.GetString("email"))
	assert.Equal(t, ec.Data(), res.Data)
}

func TestEngine_RejectsInvalidContext(t *testing.T) {
	log := &callLog{}
	def := &Definition{ID: "strict", Steps: []*Step{okStep(log, "a", true)}}

	res := NewEngine().Run(context.Background(), def, NewContext(TenantInfo{}))

	assert.False(t, res.Success)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.True(t, res.HasError(CodeInvalidContext))
	assert.Empty(t, log.list())
}

func TestCheckTenantPermission(t *testing.T) {
	tests := []struct {
		name string
		def  *Definition
		ec   *ExecutionContext
		code ErrorCode
	}{
		{
			name: "same tenant",
			def:  &Definition{ID: "w"},
			ec:   NewContext(testTenant()),
		},
		{
			name: "tenant-specific without tenant",
			def:  &Definition{ID: "w", TenantSpecific: true},
			ec:   NewContext(TenantInfo{}, WithoutTenantIsolation()),
			code: CodeTenantMismatch,
		},
		{
			name: "cross tenant not allowed by workflow",
			def:  &Definition{ID: "w"},
			ec: NewContext(testTenant(),
				WithUser("u1", "admin", models.PermissionCrossTenant),
				WithCrossTenantAccess("tenant-b")),
			code: CodeCrossTenantDenied,
		},
		{
			name: "cross tenant without grant",
			def:  &Definition{ID: "w", CrossTenantAllowed: true},
			ec:   NewContext(testTenant(), WithUser("u1", "admin"), WithCrossTenantAccess("tenant-b")),
			code: CodeCrossTenantDenied,
		},
		{
			name: "cross tenant granted",
			def:  &Definition{ID: "w", CrossTenantAllowed: true},
			ec: NewContext(testTenant(),
				WithUser("u1", "admin", models.PermissionCrossTenant),
				WithCrossTenantAccess("tenant-b")),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			werr := CheckTenantPermission(tt.def, tt.ec)
			if tt.code == "" {
				assert.Nil(t, werr)
				return
			}
			require.NotNil(t, werr)
			assert.Equal(t, tt.code, werr.Code)
		})
	}
}
