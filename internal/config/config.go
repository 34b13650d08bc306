package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends for workflow execution records and domain data.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const (
	DefaultPort            = 8080
	DefaultTLSPort         = 8443
	DefaultMaxRetries      = 2
	DefaultRetryDelay      = 500 * time.Millisecond
	DefaultStepTimeout     = 30 * time.Second
	DefaultRetentionDays   = 30
	DefaultShutdownTimeout = 30 * time.Second
	MaxRetries             = 100
)

var (
	ErrInvalidPort          = errors.New("invalid server port")
	ErrInvalidStore         = errors.New("invalid store backend")
	ErrInvalidMaxRetries    = errors.New("workflow max retries out of range")
	ErrInvalidRetryDelay    = errors.New("workflow retry delay cannot be negative")
	ErrInvalidStepTimeout   = errors.New("workflow step timeout cannot be negative")
	ErrInvalidRetentionDays = errors.New("workflow retention days must be positive")
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	Server struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Log struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		Output     string `mapstructure:"output"`
		FilePath   string `mapstructure:"file_path"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`
	Repository struct {
		Backend string `mapstructure:"backend"`
	} `mapstructure:"repository"`
	Workflow struct {
		Store           string        `mapstructure:"store"`
		MaxRetries      int           `mapstructure:"max_retries"`
		RetryDelay      time.Duration `mapstructure:"retry_delay"`
		StepTimeout     time.Duration `mapstructure:"step_timeout"`
		CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
		RetentionDays   int           `mapstructure:"retention_days"`
	} `mapstructure:"workflow"`
	Notify struct {
		WebhookURL string        `mapstructure:"webhook_url"`
		Timeout    time.Duration `mapstructure:"timeout"`
	} `mapstructure:"notify"`

	// ConfigFileUsed is the path of the file the values were read from, if any.
	ConfigFileUsed string `mapstructure:"-"`
}

// LoadConfig loads the configuration from a file and the environment.
// When path is empty config.yaml is searched for in . and ./config; a
// missing file is not an error in that case.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	config.ConfigFileUsed = v.ConfigFileUsed()

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "DEV")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "talentgrid")
	v.SetDefault("redis.password", "")
	// empty defaults make these keys visible to AutomaticEnv
	for _, key := range []string{"auth.okta_domain", "auth.client_id", "auth.client_secret", "auth.redirect_url", "auth.swagger_client_id", "db.user", "db.password", "db.name", "notify.webhook_url"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("repository.backend", StoreMemory)
	v.SetDefault("workflow.store", StoreMemory)
	v.SetDefault("workflow.max_retries", DefaultMaxRetries)
	v.SetDefault("workflow.retry_delay", DefaultRetryDelay)
	v.SetDefault("workflow.step_timeout", DefaultStepTimeout)
	v.SetDefault("workflow.cleanup_interval", time.Hour)
	v.SetDefault("workflow.retention_days", DefaultRetentionDays)
	v.SetDefault("notify.timeout", 5*time.Second)
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
	}
	switch c.Repository.Backend {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("%w: repository %q", ErrInvalidStore, c.Repository.Backend)
	}
	switch c.Workflow.Store {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("%w: workflow %q", ErrInvalidStore, c.Workflow.Store)
	}
	if c.Workflow.MaxRetries < 0 || c.Workflow.MaxRetries > MaxRetries {
		return fmt.Errorf("%w: %d", ErrInvalidMaxRetries, c.Workflow.MaxRetries)
	}
	if c.Workflow.RetryDelay < 0 {
		return ErrInvalidRetryDelay
	}
	if c.Workflow.StepTimeout < 0 {
		return ErrInvalidStepTimeout
	}
	if c.Workflow.RetentionDays <= 0 {
		return ErrInvalidRetentionDays
	}
	return nil
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// Addr returns the listen address, switching to the TLS port when TLS is on
// and no explicit port was configured.
func (c *Config) Addr() string {
	port := c.Server.Port
	if c.TLS.Enable && port == DefaultPort {
		port = DefaultTLSPort
	}
	return fmt.Sprintf(":%d", port)
}

// PostgresDSN builds a pgx connection string from the DB section.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
