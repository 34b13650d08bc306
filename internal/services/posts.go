package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"talentgrid/backend/internal/workflow"
	"talentgrid/backend/pkg/models"
)

// MaxPostLength bounds feed post content, in characters.
const MaxPostLength = 5000

// FeedPublication defines the feed-publication workflow. Only critical
// failures fail a run, so an undelivered notification still publishes.
func (w *Workflows) FeedPublication() *workflow.Definition {
	return &workflow.Definition{
		ID:      WorkflowFeedPublication,
		Name:    "Feed publication",
		Version: "1.0.0",
		Steps: []*workflow.Step{
			{ID: "validate", Name: "Validate post", Type: workflow.StepValidation, Critical: true, Timeout: w.stepTimeout, Handler: w.validatePost},
			{ID: "checkPermission", Name: "Check post-create permission", Type: workflow.StepValidation, Critical: true, Timeout: w.stepTimeout, Handler: requirePermission(models.PermissionPostCreate)},
			{ID: "checkLimits", Name: "Check tenant post limit", Type: workflow.StepBusinessLogic, Critical: true, DependsOn: []string{"checkPermission"}, Timeout: w.stepTimeout, Retryable: true, Handler: w.checkPostLimits},
			{ID: "moderate", Name: "Moderate post", Type: workflow.StepTransformation, Critical: true, DependsOn: []string{"validate"}, Timeout: w.stepTimeout, Handler: w.moderatePost},
			{ID: "save", Name: "Save post", Type: workflow.StepDataAccess, Critical: true, DependsOn: []string{"moderate", "checkLimits"}, Timeout: w.stepTimeout, Retryable: true, Handler: w.savePost},
			{ID: "notify", Name: "Notify followers", Type: workflow.StepNotification, DependsOn: []string{"save"}, Timeout: w.stepTimeout, Retryable: true, Handler: w.notifyPost},
		},
		Triggers:      []workflow.Trigger{{Type: "api", Event: "post.publish"}},
		ErrorHandling: w.errorHandling(),
		SuccessPolicy: workflow.SuccessPolicyCriticalOnly,
	}
}

func (w *Workflows) validatePost(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	if werr := requireFields(ec, "content"); werr != nil {
		return workflow.Fail(werr), nil
	}
	content := strings.TrimSpace(ec.GetString("content"))
	if n := utf8.RuneCountInString(content); n > MaxPostLength {
		return workflow.Fail(workflow.Errorf(CodeInvalidContent, "content has %d characters, at most %d allowed", n, MaxPostLength)), nil
	}
	visibility := models.Visibility(ec.GetString("visibility"))
	switch visibility {
	case "":
		visibility = models.VisibilityTenant
	case models.VisibilityTenant, models.VisibilityPublic:
	default:
		return workflow.Fail(workflow.Errorf(CodeInvalidVisibility, "unknown visibility %q", visibility)), nil
	}

	data := ec.Data()
	data["content"] = content
	data["visibility"] = string(visibility)
	return workflow.Success(data, "post valid"), nil
}

func (w *Workflows) checkPostLimits(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	return enforceLimit(ctx, ec, ec.Tenant.ID, ec.Tenant.Config, models.LimitMaxPosts, CodePostLimitExceeded, w.repo.CountFeedPosts)
}

func (w *Workflows) moderatePost(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	if flags := w.moderator.Review(ec.Tenant.Config, ec.GetString("content")); len(flags) > 0 {
		return rejectContent(flags), nil
	}
	status := models.StatusPublished
	if ec.Tenant.Config.RequireApproval {
		status = models.StatusPending
	}
	data := ec.Data()
	data["status"] = string(status)
	return workflow.Success(data, "post approved"), nil
}

func (w *Workflows) savePost(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	post := &models.FeedPost{
		TenantID:   ec.Tenant.ID,
		Content:    ec.GetString("content"),
		Visibility: models.Visibility(ec.GetString("visibility")),
		Status:     models.PublicationStatus(ec.GetString("status")),
	}
	if ec.User != nil {
		post.AuthorID = ec.User.ID
	}
	if err := w.repo.CreateFeedPost(ctx, post); err != nil {
		return nil, err
	}
	ec.RecordDataAccess()
	ec.AddAudit("feed_post.created", map[string]any{"feed_post_id": post.ID})

	data := ec.Data()
	data["feed_post_id"] = post.ID
	return workflow.Success(data, "post saved"), nil
}

func (w *Workflows) notifyPost(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	return w.notify(ctx, ec, Notification{
		Kind:     "post.published",
		TenantID: ec.Tenant.ID,
		Subject:  "New post",
		Data:     map[string]any{"feed_post_id": ec.GetString("feed_post_id"), "visibility": ec.GetString("visibility")},
	})
}
