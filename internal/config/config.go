package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegistryConfig configures retrieval from ClinicalTrials.gov.
type RegistryConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	SearchURL        string `yaml:"search_url" mapstructure:"search_url"`
	ArchiveURL       string `yaml:"archive_url" mapstructure:"archive_url"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int    `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	TempDir          string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// IngestConfig configures the batch coordinator.
type IngestConfig struct {
	// UpdatePolicy is "on_change" or "on_reconcile".
	UpdatePolicy string `yaml:"update_policy" mapstructure:"update_policy"`
	// FieldPolicy is an optional YAML file restricting updatable fields.
	FieldPolicy string `yaml:"field_policy" mapstructure:"field_policy"`
	// TreatmentDuration enables the treatment_days extension column.
	TreatmentDuration bool `yaml:"treatment_duration" mapstructure:"treatment_duration"`
}

// NotifyConfig configures delivery of new-trial notifications.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MetricsConfig configures the Prometheus pushgateway used after each run.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRIALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "trialsync.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("registry.base_url", "https://classic.clinicaltrials.gov/api/query/full_studies")
	v.SetDefault("registry.search_url", "https://classic.clinicaltrials.gov/ct2/results/download_fields")
	v.SetDefault("registry.archive_url", "https://classic.clinicaltrials.gov/AllPublicXML.zip")
	v.SetDefault("registry.user_agent", "trialsync/1.0")
	v.SetDefault("registry.concurrency", 20)
	v.SetDefault("registry.timeout_secs", 30)
	v.SetDefault("registry.max_attempts", 5)
	v.SetDefault("registry.initial_backoff_ms", 500)
	v.SetDefault("registry.max_backoff_ms", 30000)
	v.SetDefault("registry.temp_dir", "/tmp/trialsync")
	v.SetDefault("ingest.update_policy", "on_change")
	v.SetDefault("ingest.treatment_duration", true)
	v.SetDefault("ingest.field_policy", "")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "trialsync")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	switch c.Ingest.UpdatePolicy {
	case "on_change", "on_reconcile":
	default:
		return eris.Errorf("config: unsupported update policy %q", c.Ingest.UpdatePolicy)
	}
	if c.Registry.Concurrency <= 0 {
		return eris.Errorf("config: registry.concurrency must be positive, got %d", c.Registry.Concurrency)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
