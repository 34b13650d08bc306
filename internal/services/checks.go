package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/duke-git/lancet/v2/slice"

	"talentgrid/backend/internal/repository"
	"talentgrid/backend/internal/workflow"
	"talentgrid/backend/pkg/models"
)

// Business error codes raised by the workflow steps.
const (
	CodeInvalidEmail       workflow.ErrorCode = "INVALID_EMAIL"
	CodeInvalidRole        workflow.ErrorCode = "INVALID_ROLE"
	CodeInvalidSalaryRange workflow.ErrorCode = "INVALID_SALARY_RANGE"
	CodeInvalidVisibility  workflow.ErrorCode = "INVALID_VISIBILITY"
	CodeInvalidContent     workflow.ErrorCode = "INVALID_CONTENT_LENGTH"
	CodeUserLimitExceeded  workflow.ErrorCode = "USER_LIMIT_EXCEEDED"
	CodeJobLimitExceeded   workflow.ErrorCode = "JOB_LIMIT_EXCEEDED"
	CodePostLimitExceeded  workflow.ErrorCode = "POST_LIMIT_EXCEEDED"
	CodeDuplicateUser      workflow.ErrorCode = "DUPLICATE_USER"
	CodeContentRejected    workflow.ErrorCode = "CONTENT_REJECTED"
	CodeTenantNotFound     workflow.ErrorCode = "TENANT_NOT_FOUND"
)

// requireFields fails with MISSING_FIELDS naming every blank field.
func requireFields(ec *workflow.ExecutionContext, fields ...string) *workflow.WorkflowError {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(ec.GetString(f)) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return workflow.Errorf(workflow.CodeMissingFields, "missing required fields: %s", strings.Join(missing, ", ")).
		WithDetail("fields", missing)
}

// requirePermission builds a step handler that fails with
// INSUFFICIENT_PERMISSIONS unless the user holds permission.
func requirePermission(permission string) workflow.Handler {
	return func(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
		if !ec.HasPermission(permission) {
			werr := workflow.Errorf(workflow.CodeInsufficientPerms, "permission %s is required", permission).
				WithDetail("permission", permission)
			return workflow.Fail(werr), nil
		}
		return workflow.Success(nil, "permission granted"), nil
	}
}

// counter counts the entities of one kind owned by a tenant.
type counter func(ctx context.Context, tenantID string) (int, error)

// enforceLimit fails with code when the tenant already holds limitKey
// entities. Tenants without the limit are unbounded.
func enforceLimit(ctx context.Context, ec *workflow.ExecutionContext, tenantID string, cfg models.TenantConfig,
	limitKey string, code workflow.ErrorCode, count counter,
) (*workflow.WorkflowResult, error) {
	limit, ok := cfg.Limit(limitKey)
	if !ok {
		return workflow.Success(nil, "no limit configured"), nil
	}
	n, err := count(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	ec.RecordDataAccess()
	if n >= limit {
		werr := workflow.Errorf(code, "tenant limit of %d reached for %s", limit, limitKey).
			WithDetail("limit", limit).
			WithDetail("current", n)
		return workflow.Fail(werr), nil
	}
	return workflow.Success(nil, fmt.Sprintf("%d of %d used", n, limit)), nil
}

// targetTenant returns the tenant a run writes to: the cross-tenant target
// when one was granted, the caller's tenant otherwise.
func targetTenant(ctx context.Context, repo repository.TenantStore, ec *workflow.ExecutionContext) (string, models.TenantConfig, *workflow.WorkflowResult, error) {
	if !ec.CrossTenantAccess || ec.TargetTenantID == "" || ec.TargetTenantID == ec.Tenant.ID {
		return ec.Tenant.ID, ec.Tenant.Config, nil, nil
	}
	t, err := repo.GetTenant(ctx, ec.TargetTenantID)
	if errors.Is(err, repository.ErrNotFound) {
		werr := workflow.Errorf(CodeTenantNotFound, "target tenant %s does not exist", ec.TargetTenantID)
		return "", models.TenantConfig{}, workflow.FailWithStatus(http.StatusNotFound, werr.Message, werr), nil
	}
	if err != nil {
		return "", models.TenantConfig{}, nil, err
	}
	ec.RecordDataAccess()
	return t.ID, t.Config, nil, nil
}

// intField reads an optional integer from the payload. JSON numbers arrive
// as float64.
func intField(ec *workflow.ExecutionContext, key string) (*int, error) {
	v, ok := ec.Get(key)
	if !ok || v == nil {
		return nil, nil
	}
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case int64:
		n = int(x)
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("%s must be a whole number", key)
		}
		n = int(x)
	default:
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &n, nil
}

// stringsField reads an optional list of strings from the payload.
func stringsField(ec *workflow.ExecutionContext, key string) []string {
	v, _ := ec.Get(key)
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...)
	case []any:
		var out []string
		for _, item := range x {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

var defaultBannedWords = []string{"scam", "spam", "phishing"}

// Moderator flags content containing banned words. Tenant-configured words
// are checked in addition to the defaults.
type Moderator struct {
	words []string
}

// NewModerator creates a Moderator. Without words the default list is used.
func NewModerator(words ...string) *Moderator {
	if len(words) == 0 {
		words = defaultBannedWords
	}
	return &Moderator{words: words}
}

// Review returns the banned words found in texts.
func (m *Moderator) Review(cfg models.TenantConfig, texts ...string) []string {
	content := strings.ToLower(strings.Join(texts, " "))
	var flags []string
	for _, w := range slice.Union(m.words, cfg.BannedWords) {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(content, w) {
			flags = append(flags, w)
		}
	}
	return flags
}

func rejectContent(flags []string) *workflow.WorkflowResult {
	werr := workflow.Errorf(CodeContentRejected, "content rejected by moderation: %s", strings.Join(flags, ", ")).
		WithDetail("flags", flags)
	return workflow.FailWithStatus(http.StatusUnprocessableEntity, werr.Message, werr)
}
