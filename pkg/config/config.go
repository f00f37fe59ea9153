package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for dbscribe.
// Configuration can come from a YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values.
// Secrets (database password, wiki API token) must only come from
// environment variables.
type Config struct {
	// Database is the documented database connection.
	Database DatabaseConfig `yaml:"database"`

	// Confluence is the target wiki connection.
	Confluence ConfluenceConfig `yaml:"confluence"`

	// Sync controls diffing and execution behavior.
	Sync SyncConfig `yaml:"sync"`

	Version string `yaml:"-"` // Set at load time, not from config
}

// DatabaseConfig holds the connection settings for the database being
// documented. Type selects the metadata adapter ("mssql" or "postgres").
type DatabaseConfig struct {
	Type     string `yaml:"type" env:"DBSCRIBE_DB_TYPE" env-default:"mssql"`
	Host     string `yaml:"host" env:"DBSCRIBE_DB_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DBSCRIBE_DB_PORT" env-default:"0"` // 0 = adapter default
	Database string `yaml:"database" env:"DBSCRIBE_DB_NAME"`
	Username string `yaml:"username" env:"DBSCRIBE_DB_USER"`
	Password string `yaml:"-" env:"DBSCRIBE_DB_PASSWORD"` // Secret - not in YAML

	// Encrypt applies to SQL Server connections; SSLMode to PostgreSQL.
	Encrypt bool   `yaml:"encrypt" env:"DBSCRIBE_DB_ENCRYPT" env-default:"true"`
	SSLMode string `yaml:"ssl_mode" env:"DBSCRIBE_DB_SSLMODE" env-default:"prefer"`

	// DefaultSchema is assumed for partially-qualified dependency
	// references that omit a schema name.
	DefaultSchema string `yaml:"default_schema" env:"DBSCRIBE_DB_DEFAULT_SCHEMA" env-default:"dbo"`

	// Schemas restricts documentation to the named schemas.
	// Empty means all non-system schemas.
	Schemas []string `yaml:"schemas" env:"DBSCRIBE_DB_SCHEMAS"`

	// DependencyDatabases are additional databases searched when
	// resolving cross-database object references.
	DependencyDatabases []string `yaml:"dependency_databases" env:"DBSCRIBE_DEPENDENCY_DATABASES"`
}

// ConfluenceConfig holds the target wiki settings.
type ConfluenceConfig struct {
	BaseURL  string `yaml:"base_url" env:"DBSCRIBE_CONFLUENCE_URL"`
	SpaceKey string `yaml:"space_key" env:"DBSCRIBE_CONFLUENCE_SPACE"`

	// AnchorTitle is the title of the pre-existing page under which the
	// managed subtree lives.
	AnchorTitle string `yaml:"anchor_title" env:"DBSCRIBE_CONFLUENCE_ANCHOR"`

	Username string `yaml:"username" env:"DBSCRIBE_CONFLUENCE_USER"`
	APIToken string `yaml:"-" env:"DBSCRIBE_CONFLUENCE_TOKEN"` // Secret - not in YAML
}

// SyncConfig holds diff and executor settings.
type SyncConfig struct {
	// MaxInFlight bounds concurrent remote operations.
	MaxInFlight int `yaml:"max_in_flight" env:"DBSCRIBE_SYNC_MAX_IN_FLIGHT" env-default:"8"`

	// Prune enables deletion of managed pages whose database object no
	// longer exists. Off by default: orphans are only reported.
	Prune bool `yaml:"prune" env:"DBSCRIBE_SYNC_PRUNE" env-default:"false"`

	// MaxRetries is the per-operation retry ceiling for transient
	// remote failures.
	MaxRetries int `yaml:"max_retries" env:"DBSCRIBE_SYNC_MAX_RETRIES" env-default:"3"`

	// RateLimitPerSec caps the request rate shared by all remote calls.
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" env:"DBSCRIBE_SYNC_RATE_LIMIT" env-default:"5"`

	// PlanFile, when set, writes the computed operation plan as YAML
	// before applying it. Combined with DryRun it acts as a preview.
	PlanFile string `yaml:"plan_file" env:"DBSCRIBE_SYNC_PLAN_FILE" env-default:""`

	// DryRun computes and reports the plan without touching the wiki.
	DryRun bool `yaml:"dry_run" env:"DBSCRIBE_SYNC_DRY_RUN" env-default:"false"`
}

// Load reads configuration from the given YAML file with environment
// variable overrides. The version parameter is injected at build time.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// The adapter registry matches the type string verbatim.
	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case "mssql", "postgres":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if c.Confluence.BaseURL == "" {
		return fmt.Errorf("confluence.base_url is required")
	}
	if c.Confluence.SpaceKey == "" {
		return fmt.Errorf("confluence.space_key is required")
	}
	if c.Confluence.AnchorTitle == "" {
		return fmt.Errorf("confluence.anchor_title is required")
	}
	if c.Sync.MaxInFlight < 1 {
		return fmt.Errorf("sync.max_in_flight must be at least 1")
	}
	if c.Sync.RateLimitPerSec <= 0 {
		return fmt.Errorf("sync.rate_limit_per_sec must be positive")
	}
	return nil
}
