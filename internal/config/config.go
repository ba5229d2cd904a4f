package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the searchsync service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Search     SearchConfig     `yaml:"search"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: by env)
}

// HTTPConfig holds admin HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	// APIKeys protect the admin endpoints. Empty disables auth.
	APIKeys []string `yaml:"api_keys"`
}

// DatabaseConfig holds the CMS database connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// OpenSearchConfig holds the search cluster connection settings. An empty
// Hosts list leaves the client unconfigured; every component then
// short-circuits to its failure value instead of erroring.
type OpenSearchConfig struct {
	Hosts     []string `yaml:"hosts"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	IgnoreSSL bool     `yaml:"ignore_ssl"`

	// IndexPrefix names the managed index family; the physical index is
	// "<prefix>" or "<prefix>_<unix>". The active index carries the
	// prefix itself as write alias plus the search alias for reads.
	IndexPrefix string `yaml:"index_prefix"`
	// SearchAlias overrides the alias used for queries. Defaults to
	// "<prefix>_search".
	SearchAlias string `yaml:"search_alias"`
}

// IndexingConfig holds bulk sync settings.
type IndexingConfig struct {
	// SyncEnabled gates all cron-driven indexing.
	SyncEnabled bool `yaml:"sync_enabled"`
	// CronValidate enables the daily reconciliation scans.
	CronValidate bool `yaml:"cron_validate"`
	// MaxRunTimeSec is the wall-clock budget of one cron indexing pass.
	MaxRunTimeSec int `yaml:"max_run_time_sec"`
	// ScanBatchSize is the source-of-truth scan page size.
	ScanBatchSize int `yaml:"scan_batch_size"`
	// IndexBatchSize is the bulk-write sub-batch size.
	IndexBatchSize int `yaml:"index_batch_size"`
	// Types lists the searchable type/subtype pairs ("type" or
	// "type.subtype").
	Types []string `yaml:"types"`
	// RelationshipNames lists relationship names exported with entities.
	RelationshipNames []string `yaml:"relationship_names"`
}

// SearchConfig holds query construction settings.
type SearchConfig struct {
	// TypeBoosts maps indexed_type values to static score multipliers.
	// Weights <= 0 or == 1 are skipped.
	TypeBoosts map[string]float64 `yaml:"type_boosts"`
	// Decay configures the Gaussian time-decay score function. All of
	// Scale, Decay and TimeField must be set or decay is skipped.
	Decay DecayConfig `yaml:"decay"`
}

// DecayConfig holds the Gaussian decay parameters (days for offset/scale).
type DecayConfig struct {
	OffsetDays int     `yaml:"offset_days"`
	ScaleDays  int     `yaml:"scale_days"`
	Decay      float64 `yaml:"decay"`
	TimeField  string  `yaml:"time_field"`
}

// Load reads configuration from a YAML file by environment name
// (local, dev, prod) and applies ${VAR} substitution from the environment.
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
	}

	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from ENV, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8840
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Indexing.MaxRunTimeSec <= 0 {
		c.Indexing.MaxRunTimeSec = 30
	}
	if c.Indexing.ScanBatchSize <= 0 {
		c.Indexing.ScanBatchSize = 100
	}
	if c.Indexing.IndexBatchSize <= 0 {
		c.Indexing.IndexBatchSize = 25
	}
	if c.OpenSearch.IndexPrefix == "" {
		c.OpenSearch.IndexPrefix = "lagoon"
	}
	if c.OpenSearch.SearchAlias == "" {
		c.OpenSearch.SearchAlias = c.OpenSearch.IndexPrefix + "_search"
	}
	for i, h := range c.OpenSearch.Hosts {
		c.OpenSearch.Hosts[i] = strings.TrimRight(strings.TrimSpace(h), "/")
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if (c.OpenSearch.Username == "") != (c.OpenSearch.Password == "") {
		return fmt.Errorf("opensearch.username and opensearch.password must be set together")
	}
	for _, t := range c.Indexing.Types {
		if t == "" || strings.Count(t, ".") > 1 {
			return fmt.Errorf("indexing.types entry %q must be \"type\" or \"type.subtype\"", t)
		}
	}
	d := c.Search.Decay
	if d.TimeField != "" && (d.ScaleDays <= 0 || d.Decay <= 0 || d.Decay >= 1) {
		return fmt.Errorf("search.decay requires scale_days > 0 and 0 < decay < 1")
	}
	return nil
}

// findConfigPath locates the config file: CONFIG_PATH, ./config/<env>.yaml,
// or /etc/searchsync/<env>.yaml.
func findConfigPath(env string) string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}

	filename := fmt.Sprintf("%s.yaml", env)
	local := filepath.Join("config", filename)
	if _, err := os.Stat(local); err == nil {
		return local
	}

	return filepath.Join("/etc/searchsync", filename)
}

var envVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnvVars substitutes ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}
