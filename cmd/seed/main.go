package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"talentgrid/backend/internal/config"
	"talentgrid/backend/internal/logging"
	"talentgrid/backend/internal/repository"
	"talentgrid/backend/internal/services"
	"talentgrid/backend/internal/workflow"
	"talentgrid/backend/pkg/models"
)

var (
	cfgFile       string
	domain        string
	tenantName    string
	adminEmail    string
	adminName     string
	adminPassword string
	maxUsers      int
	maxJobPosts   int
)

var rootCmd = &cobra.Command{
	Use:           "seed",
	Short:         "Create a development tenant and its admin user",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfgFile, "config", "", "path to config.yaml")
	f.StringVar(&domain, "domain", "localhost", "email domain of the tenant")
	f.StringVar(&tenantName, "name", "Local Dev Tenant", "tenant display name")
	f.StringVar(&adminEmail, "admin-email", "admin@localhost.dev", "email of the admin user")
	f.StringVar(&adminName, "admin-name", "Local Admin", "name of the admin user")
	f.StringVar(&adminPassword, "admin-password", "", "initial password of the admin user")
	f.IntVar(&maxUsers, "max-users", 50, "tenant user limit (0 for none)")
	f.IntVar(&maxJobPosts, "max-job-posts", 100, "tenant job post limit (0 for none)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	logger := logging.NewLogger()
	defer logger.Sync()

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var repo repository.Repository
	if cfg.Repository.Backend == config.StorePostgres {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN())
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		defer pool.Close()
		if err := repository.Migrate(ctx, pool); err != nil {
			return err
		}
		repo = repository.NewPostgresRepository(pool, logger)
	} else {
		logger.Warn("Repository backend is in-memory; seeded data lives only for this run", "backend", cfg.Repository.Backend)
		repo = repository.NewMemoryRepository()
	}

	tenant, err := ensureTenant(ctx, repo, logger)
	if err != nil {
		return err
	}
	return ensureAdmin(ctx, cfg, repo, tenant, logger)
}

func ensureTenant(ctx context.Context, repo repository.Repository, logger *logging.Logger) (*models.Tenant, error) {
	tenant, err := repo.GetTenantByDomain(ctx, domain)
	if err == nil {
		logger.Info("Found existing tenant", "id", tenant.ID, "domain", domain)
		return tenant, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	logger.Info("Creating tenant", "domain", domain)
	tenant = &models.Tenant{
		Name:   tenantName,
		Slug:   repository.Slugify(tenantName),
		Domain: domain,
		Config: models.TenantConfig{
			Limits: map[string]int{
				models.LimitMaxUsers:    maxUsers,
				models.LimitMaxJobPosts: maxJobPosts,
			},
		},
	}
	if err := repo.CreateTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	return tenant, nil
}

// ensureAdmin creates the admin user through the user-creation workflow so
// seeded users pass the same validation and hashing as API-created ones.
func ensureAdmin(ctx context.Context, cfg *config.Config, repo repository.Repository, tenant *models.Tenant, logger *logging.Logger) error {
	mgr := workflow.NewManager(workflow.WithLogger(logger))
	wf := services.New(mgr, repo, services.NewLogNotifier(logger), logger,
		services.WithRetryPolicy(cfg.Workflow.MaxRetries, cfg.Workflow.RetryDelay))
	if err := wf.Register(ctx); err != nil {
		return err
	}

	data := map[string]any{
		"email": adminEmail,
		"name":  adminName,
		"role":  string(models.RoleAdmin),
	}
	if adminPassword != "" {
		data["password"] = adminPassword
	}
	ec := workflow.NewContext(workflow.TenantFromModel(tenant),
		workflow.WithUser("seed", string(models.RoleAdmin), models.PermissionAdmin, models.PermissionUserCreate),
		workflow.WithData(data),
		workflow.WithMetadata(map[string]any{"source": "seed"}),
	)

	res := mgr.ExecuteWorkflow(ctx, services.WorkflowUserCreation, ec)
	switch {
	case res.Success:
		logger.Info("Created admin user", "email", adminEmail, "tenant", tenant.Slug)
	case res.StatusCode == http.StatusConflict:
		logger.Info("Admin user already exists", "email", adminEmail, "tenant", tenant.Slug)
	default:
		return fmt.Errorf("failed to create admin user: %s", res.Message)
	}
	return nil
}
