package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"talentgrid/backend/internal/logging"
	"talentgrid/backend/internal/repository"
	"talentgrid/backend/internal/workflow"
	"talentgrid/backend/pkg/models"
)

// Workflow ids of the business workflows.
const (
	WorkflowUserCreation    = "user-creation"
	WorkflowJobPublication  = "job-post-publication"
	WorkflowFeedPublication = "feed-publication"
)

const defaultStepTimeout = 10 * time.Second

// Workflows builds the business workflow definitions and registers them
// with a Manager.
type Workflows struct {
	mgr       *workflow.Manager
	repo      repository.Repository
	notifier  Notifier
	moderator *Moderator
	logger    *logging.Logger

	maxRetries  int
	retryDelay  time.Duration
	stepTimeout time.Duration
	bcryptCost  int
}

// Option customizes Workflows.
type Option func(*Workflows)

// WithRetryPolicy sets the retry budget and delay of every workflow.
func WithRetryPolicy(maxRetries int, delay time.Duration) Option {
	return func(w *Workflows) {
		w.maxRetries = maxRetries
		w.retryDelay = delay
	}
}

// WithStepTimeout bounds every step.
func WithStepTimeout(d time.Duration) Option {
	return func(w *Workflows) {
		w.stepTimeout = d
	}
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(w *Workflows) {
		w.bcryptCost = cost
	}
}

// WithModerator replaces the default content moderator.
func WithModerator(m *Moderator) Option {
	return func(w *Workflows) {
		w.moderator = m
	}
}

// New creates Workflows.
func New(mgr *workflow.Manager, repo repository.Repository, notifier Notifier, logger *logging.Logger, opts ...Option) *Workflows {
	w := &Workflows{
		mgr:         mgr,
		repo:        repo,
		notifier:    notifier,
		logger:      logger,
		moderator:   NewModerator(),
		maxRetries:  2,
		retryDelay:  200 * time.Millisecond,
		stepTimeout: defaultStepTimeout,
		bcryptCost:  bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workflows) errorHandling() workflow.ErrorHandling {
	return workflow.ErrorHandling{
		MaxRetries:      w.maxRetries,
		RetryDelay:      w.retryDelay,
		Fallback:        "none",
		NotifyOnFailure: []string{models.PermissionAdmin},
	}
}

// Register registers the global workflows and one job publication workflow
// per stored tenant.
func (w *Workflows) Register(ctx context.Context) error {
	if err := w.mgr.RegisterWorkflow(w.UserCreation()); err != nil {
		return fmt.Errorf("register %s: %w", WorkflowUserCreation, err)
	}
	if err := w.mgr.RegisterWorkflow(w.FeedPublication()); err != nil {
		return fmt.Errorf("register %s: %w", WorkflowFeedPublication, err)
	}

	tenants, err := w.repo.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	for _, t := range tenants {
		if err := w.RegisterTenant(t); err != nil {
			return err
		}
	}
	w.logger.Info("Business workflows registered", "tenants", len(tenants))
	return nil
}

// RegisterTenant registers the tenant-specific workflows of t. It is called
// at start-up and whenever a tenant is provisioned.
func (w *Workflows) RegisterTenant(t *models.Tenant) error {
	if err := w.mgr.RegisterTenantWorkflow(w.JobPostPublication(), t.ID, t.Slug); err != nil {
		return fmt.Errorf("register %s for %s: %w", WorkflowJobPublication, t.Slug, err)
	}
	return nil
}

func (w *Workflows) notify(ctx context.Context, ec *workflow.ExecutionContext, n Notification) (*workflow.WorkflowResult, error) {
	if err := w.notifier.Notify(ctx, n); err != nil {
		return nil, err
	}
	ec.AddAudit("notification.sent", map[string]any{"kind": n.Kind})
	return workflow.Success(nil, "notification sent"), nil
}
