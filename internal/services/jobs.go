package services

import (
	"context"
	"strings"

	"talentgrid/backend/internal/workflow"
	"talentgrid/backend/pkg/models"
)

// JobPostPublication defines the job-post-publication workflow. It is
// registered once per tenant.
func (w *Workflows) JobPostPublication() *workflow.Definition {
	return &workflow.Definition{
		ID:      WorkflowJobPublication,
		Name:    "Job post publication",
		Version: "1.0.0",
		Steps: []*workflow.Step{
			{ID: "validate", Name: "Validate job post", Type: workflow.StepValidation, Critical: true, Timeout: w.stepTimeout, Handler: w.validateJob},
			{ID: "checkPermission", Name: "Check job-create permission", Type: workflow.StepValidation, Critical: true, Timeout: w.stepTimeout, Handler: requirePermission(models.PermissionJobCreate)},
			{ID: "checkLimits", Name: "Check tenant job limit", Type: workflow.StepBusinessLogic, Critical: true, DependsOn: []string{"checkPermission"}, Timeout: w.stepTimeout, Retryable: true, Handler: w.checkJobLimits},
			{ID: "moderate", Name: "Moderate job post", Type: workflow.StepTransformation, Critical: true, DependsOn: []string{"validate"}, Timeout: w.stepTimeout, Handler: w.moderateJob},
			{ID: "save", Name: "Save job post", Type: workflow.StepDataAccess, Critical: true, DependsOn: []string{"checkLimits", "moderate"}, Timeout: w.stepTimeout, Retryable: true, Handler: w.saveJob},
			{ID: "notify", Name: "Announce job post", Type: workflow.StepNotification, DependsOn: []string{"save"}, Timeout: w.stepTimeout, Retryable: true, Handler: w.notifyJob},
		},
		Triggers:       []workflow.Trigger{{Type: "api", Event: "job.publish"}},
		ErrorHandling:  w.errorHandling(),
		TenantSpecific: true,
	}
}

func (w *Workflows) validateJob(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	if werr := requireFields(ec, "title", "description"); werr != nil {
		return workflow.Fail(werr), nil
	}
	lo, err := intField(ec, "salary_min")
	if err != nil {
		return workflow.Fail(workflow.NewError(CodeInvalidSalaryRange, err.Error())), nil
	}
	hi, err := intField(ec, "salary_max")
	if err != nil {
		return workflow.Fail(workflow.NewError(CodeInvalidSalaryRange, err.Error())), nil
	}
	if (lo != nil && *lo < 0) || (hi != nil && *hi < 0) {
		return workflow.Fail(workflow.NewError(CodeInvalidSalaryRange, "salary cannot be negative")), nil
	}
	if lo != nil && hi != nil && *lo > *hi {
		return workflow.Fail(workflow.Errorf(CodeInvalidSalaryRange, "salary_min %d exceeds salary_max %d", *lo, *hi)), nil
	}

	data := ec.Data()
	data["title"] = strings.TrimSpace(ec.GetString("title"))
	data["description"] = strings.TrimSpace(ec.GetString("description"))
	data["tags"] = stringsField(ec, "tags")
	return workflow.Success(data, "job post valid"), nil
}

func (w *Workflows) checkJobLimits(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	return enforceLimit(ctx, ec, ec.Tenant.ID, ec.Tenant.Config, models.LimitMaxJobPosts, CodeJobLimitExceeded, w.repo.CountJobPosts)
}

func (w *Workflows) moderateJob(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	if flags := w.moderator.Review(ec.Tenant.Config, ec.GetString("title"), ec.GetString("description")); len(flags) > 0 {
		return rejectContent(flags), nil
	}
	status := models.StatusPublished
	if ec.Tenant.Config.RequireApproval {
		status = models.StatusPending
	}
	data := ec.Data()
	data["status"] = string(status)
	return workflow.Success(data, "job post approved"), nil
}

func (w *Workflows) saveJob(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	lo, _ := intField(ec, "salary_min")
	hi, _ := intField(ec, "salary_max")
	post := &models.JobPost{
		TenantID:    ec.Tenant.ID,
		Title:       ec.GetString("title"),
		Description: ec.GetString("description"),
		Location:    ec.GetString("location"),
		SalaryMin:   lo,
		SalaryMax:   hi,
		Tags:        stringsField(ec, "tags"),
		Status:      models.PublicationStatus(ec.GetString("status")),
	}
	if ec.User != nil {
		post.CreatedBy = ec.User.ID
	}
	if err := w.repo.CreateJobPost(ctx, post); err != nil {
		return nil, err
	}
	ec.RecordDataAccess()
	ec.AddAudit("job_post.created", map[string]any{"job_post_id": post.ID})

	data := ec.Data()
	data["job_post_id"] = post.ID
	return workflow.Success(data, "job post saved"), nil
}

func (w *Workflows) notifyJob(ctx context.Context, ec *workflow.ExecutionContext) (*workflow.WorkflowResult, error) {
	return w.notify(ctx, ec, Notification{
		Kind:     "job.published",
		TenantID: ec.Tenant.ID,
		Subject:  "New job: " + ec.GetString("title"),
		Data:     map[string]any{"job_post_id": ec.GetString("job_post_id"), "status": ec.GetString("status")},
	})
}
