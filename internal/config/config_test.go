package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "environment: DEV\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, StoreMemory, cfg.Workflow.Store)
	assert.Equal(t, DefaultMaxRetries, cfg.Workflow.MaxRetries)
	assert.Equal(t, DefaultRetryDelay, cfg.Workflow.RetryDelay)
	assert.Equal(t, DefaultRetentionDays, cfg.Workflow.RetentionDays)
	assert.Equal(t, path, cfg.ConfigFileUsed)
	assert.True(t, cfg.IsDev())
}

func TestLoadConfigFileValues(t *testing.T) {
	path := writeConfig(t, `
auth:
  okta_domain: "https://example.okta.com/oauth2/default/"
workflow:
  store: redis
  max_retries: 4
  retry_delay: 250ms
  step_timeout: 5s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.okta.com/oauth2/default", cfg.Auth.OktaDomain)
	assert.Equal(t, StoreRedis, cfg.Workflow.Store)
	assert.Equal(t, 4, cfg.Workflow.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Workflow.RetryDelay)
	assert.Equal(t, 5*time.Second, cfg.Workflow.StepTimeout)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "workflow:\n  max_retries: 1\n")
	t.Setenv("APP_WORKFLOW_MAX_RETRIES", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workflow.MaxRetries)
}

func TestValidate(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "workflow:\n  store: cassandra\n"))
	assert.ErrorIs(t, err, ErrInvalidStore)

	_, err = LoadConfig(writeConfig(t, "workflow:\n  max_retries: -1\n"))
	assert.ErrorIs(t, err, ErrInvalidMaxRetries)

	_, err = LoadConfig(writeConfig(t, "server:\n  port: 70000\n"))
	assert.ErrorIs(t, err, ErrInvalidPort)

	_, err = LoadConfig(writeConfig(t, "workflow:\n  retention_days: 0\n"))
	assert.ErrorIs(t, err, ErrInvalidRetentionDays)
}

func TestAddr(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = DefaultPort
	assert.Equal(t, ":8080", cfg.Addr())

	cfg.TLS.Enable = true
	assert.Equal(t, ":8443", cfg.Addr())

	cfg.Server.Port = 9000
	assert.Equal(t, ":9000", cfg.Addr())
}

func TestLoadConfigEnvOverrideWithoutFileValue(t *testing.T) {
	path := writeConfig(t, "environment: DEV\n")
	t.Setenv("APP_AUTH_CLIENT_SECRET", "from-env")
	t.Setenv("APP_NOTIFY_WEBHOOK_URL", "http://hooks.local/workflows")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.ClientSecret)
	assert.Equal(t, "http://hooks.local/workflows", cfg.Notify.WebhookURL)
}
