package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/duke-git/lancet/v2/validator"
	"golang.org/x/crypto/bcrypt"

	"talentgrid/backend/internal/repository"
	"talentgrid/backend/internal/workflow"
	"talentgrid/backend/pkg/models"
)

// passwordKey keeps the plain password out of the payload returned to callers.
const passwordKey = "password"

// UserCreation defines the user-creation workflow. It may run cross-tenant
// for callers holding the cross-tenant permission.
func (w *Workflows) UserCreation() *workflow.Definition {
	return &workflow.Definition{
		ID:      WorkflowUserCreation,
		Name:    "User creation",
		Version: "1.0.0",
		Steps: []*workflow.Step{
			{ID: "validate", Name: "Validate user data", Type: workflow.StepValidation, Critical: true, Timeout: w.stepTimeout, Handler: w.validateUser},
			{ID: "checkPermission", Name: "Check user-create permission", Type: workflow.StepValidation, Critical: true, DependsOn: []string{"validate"}, Timeout: w.stepTimeout, Handler: w.checkUserPermission},
			{ID: "checkLimits", Name: "Check tenant user limit", Type: workflow.StepBusinessLogic, Critical: true, DependsOn: []string{"checkPermission"}, Timeout: w.stepTimeout, Retryable: true, Handler: w.checkUserLimits},
			{ID: "save", Name: "Save user", Type: workflow.StepDataAccess, Critical: true, DependsOn: []string{"checkLimits"}, Timeout: w.stepTimeout, Retryable: true, Handler: w.saveUser},
			{ID: "sendWelcome", Name: "Send welcome message", Type: workflow.StepNotification, DependsOn: []string{"save"}, Timeout: w.stepTimeout, Retryable: true, Handler: w.sendWelcome},
		},
		Triggers:           []workflow.Trigger{{Type: "api", Event: "user.create"}},
		Conditions:         []workflow.Condition{{Field: "user.permissions", Operator: "contains", Value: models.PermissionUserCreate}},
		ErrorHandling:      w.errorHandling(),
		CrossTenantAllowed: true,
	}
}

func (w *Workflows) validateUser(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	// The password leaves the payload before any check can fail, so no
	// result ever carries it.
	data := ec.Data()
	if pw, ok := data[passwordKey].(string); ok {
		ec.SetMetadata(passwordKey, pw)
	}
	delete(data, passwordKey)
	ec.ReplaceData(data)

	if werr := requireFields(ec, "email", "name", "role"); werr != nil {
		return workflow.Fail(werr), nil
	}
	email := strings.ToLower(strings.TrimSpace(ec.GetString("email")))
	if !validator.IsEmail(email) {
		return workflow.Fail(workflow.Errorf(CodeInvalidEmail, "%q is not a valid email address", email)), nil
	}
	role := models.Role(strings.ToLower(ec.GetString("role")))
	if !slice.Contains(models.Roles, role) {
		return workflow.Fail(workflow.Errorf(CodeInvalidRole, "unknown role %q", role).WithDetail("allowed", models.Roles)), nil
	}

	data["email"] = email
	data["name"] = strings.TrimSpace(ec.GetString("name"))
	data["role"] = string(role)
	return workflow.Success(data, "user data valid"), nil
}

func (w *Workflows) checkUserPermission(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	res, err := requirePermission(models.PermissionUserCreate)(ctx, ec)
	if err != nil || !res.Success {
		return res, err
	}
	if models.Role(ec.GetString("role")) == models.RoleAdmin && !ec.HasPermission(models.PermissionAdmin) {
		werr := workflow.NewError(workflow.CodeMissingPermission, "creating an admin requires the admin permission").
			WithDetail("permission", models.PermissionAdmin)
		return workflow.Fail(werr), nil
	}
	return res, nil
}

func (w *Workflows) checkUserLimits(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	tenantID, cfg, res, err := targetTenant(ctx, w.repo, ec)
	if res != nil || err != nil {
		return res, err
	}
	return enforceLimit(ctx, ec, tenantID, cfg, models.LimitMaxUsers, CodeUserLimitExceeded, w.repo.CountUsers)
}

func (w *Workflows) saveUser(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	tenantID, _, res, err := targetTenant(ctx, w.repo, ec)
	if res != nil || err != nil {
		return res, err
	}

	user := &models.User{
		TenantID: tenantID,
		Email:    ec.GetString("email"),
		Name:     ec.GetString("name"),
		Role:     models.Role(ec.GetString("role")),
	}
	if ec.User != nil {
		creator := ec.User.ID
		user.CreatedBy = &creator
	}
	if pw, _ := ec.Metadata()[passwordKey].(string); pw != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), w.bcryptCost)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = string(hash)
	}

	err = w.repo.CreateUser(ctx, user)
	if errors.Is(err, repository.ErrConflict) {
		werr := workflow.Errorf(CodeDuplicateUser, "user %s already exists", user.Email)
		return workflow.FailWithStatus(http.StatusConflict, werr.Message, werr), nil
	}
	if err != nil {
		return nil, err
	}
	ec.RecordDataAccess()
	ec.AddAudit("user.created", map[string]any{"user_id": user.ID, "tenant_id": tenantID})

	data := ec.Data()
	data["user_id"] = user.ID
	data["tenant_id"] = tenantID
	return workflow.Success(data, "user saved"), nil
}

func (w *Workflows) sendWelcome(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	return w.notify(ctx, ec, Notification{
		Kind:       "user.welcome",
		TenantID:   ec.GetString("tenant_id"),
		Recipients: []string{ec.GetString("email")},
		Subject:    "Welcome to " + ec.Tenant.Slug,
		Data:       map[string]any{"name": ec.GetString("name"), "user_id": ec.GetString("user_id")},
	})
}
