package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultStandardTemperature = 26.0
	DefaultCapacitySource      = "auto"
	DefaultProject             = "AquariumAdventures"
	DefaultBufferSize          = 1000
	DefaultAlertCooldown       = 15 * time.Minute
	DefaultPostgresTable       = "aquarium_results"
)

// Capacity source names accepted by pipeline.capacity_source.
const (
	CapacityAuto     = "auto"
	CapacityQuantity = "quantity"
	CapacityTank     = "capacity"
)

// Sink types accepted by tracking.sinks[].type.
const (
	SinkMemory   = "memory"
	SinkInflux   = "influx"
	SinkTextfile = "textfile"
	SinkStore    = "store"
)

// Config is the top-level configuration. Fields map 1:1 to aquarium.example.yaml.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Tracking TrackingConfig `yaml:"tracking"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Output   OutputConfig   `yaml:"output"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PipelineConfig holds inputs, outputs and tuning for one pipeline run.
type PipelineConfig struct {
	// Sensors is the path or http(s) URL of the sensor readings file.
	Sensors string `yaml:"sensors"`

	// TankInfo is the optional path or URL of the tank metadata file.
	// When set, readings are joined with it and exploded per fish species.
	TankInfo string `yaml:"tank_info"`

	// Output is the result file. The extension selects the format:
	// .csv, .tsv (optionally .gz or .zst) or .xlsx.
	Output string `yaml:"output"`

	// StandardTemperature is the reference temperature for deviations.
	StandardTemperature float64 `yaml:"standard_temperature"`

	// Workers bounds how many tanks are scored concurrently. 0 means NumCPU.
	Workers int `yaml:"workers"`

	// CapacitySource selects the stress kernel's capacity column:
	// auto | quantity | capacity. auto uses capacity_liters when tank info is
	// configured and quantity_liters otherwise.
	CapacitySource string `yaml:"capacity_source"`

	// TokenEnv names the environment variable holding a bearer token for
	// http(s) inputs.
	TokenEnv string `yaml:"token_env"`
}

// Token returns the input bearer token resolved from the environment.
func (p PipelineConfig) Token() string {
	if p.TokenEnv == "" {
		return ""
	}
	return os.Getenv(p.TokenEnv)
}

// TrackingConfig configures the experiment-tracking run.
type TrackingConfig struct {
	// Enabled turns result logging on. Defaults to true.
	Enabled bool `yaml:"enabled"`

	// Project names the run; it becomes the Influx measurement and a label
	// on the textfile gauges.
	Project string `yaml:"project"`

	// BufferSize is the maximum number of entries held while sinks are
	// unreachable. The oldest entry is evicted when full.
	BufferSize int `yaml:"buffer_size"`

	// Sinks lists the tracking destinations. Empty means an in-memory sink.
	Sinks []SinkConfig `yaml:"sinks"`
}

// SinkConfig describes one tracking destination.
type SinkConfig struct {
	// Type is one of: memory | influx | textfile | store.
	Type string `yaml:"type"`

	// URL, Org and Bucket address an InfluxDB v2 server (type influx).
	URL    string `yaml:"url"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`

	// TokenEnv is the name of the environment variable holding the InfluxDB
	// token.
	TokenEnv string `yaml:"token_env"`

	// Path is the .prom file (type textfile) or the badger directory
	// (type store; empty keeps the store in memory).
	Path string `yaml:"path"`

	// TTL expires stored entries (type store). 0 keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

// Token returns the sink token resolved from the environment.
func (s SinkConfig) Token() string {
	if s.TokenEnv == "" {
		return ""
	}
	return os.Getenv(s.TokenEnv)
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition evaluated per tank.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "stress_score > 5",
	// "valid_readings < 10", "dropped_readings >= 1".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// OutputConfig holds optional result destinations besides the output file.
type OutputConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig enables copying results into a PostgreSQL table.
type PostgresConfig struct {
	// DSNEnv is the name of the environment variable holding the connection
	// string. Postgres output is disabled when empty.
	DSNEnv string `yaml:"dsn_env"`

	// Table is the destination table, created when missing.
	Table string `yaml:"table"`
}

// DSN returns the connection string resolved from the environment.
func (p PostgresConfig) DSN() string {
	if p.DSNEnv == "" {
		return ""
	}
	return os.Getenv(p.DSNEnv)
}

// Enabled reports whether Postgres output is configured.
func (p PostgresConfig) Enabled() bool { return p.DSNEnv != "" }

// MetricsConfig controls the Prometheus textfile export of run metrics.
type MetricsConfig struct {
	// Textfile is the .prom file written after every run. Empty disables it.
	Textfile string `yaml:"textfile"`
}

// Override adjusts a decoded Config before it is validated. The CLI uses it
// to apply flags on top of the file.
type Override func(*Config)

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string, overrides ...Override) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data, overrides...)
}

// Parse decodes YAML config bytes, applying defaults, overrides and
// validation in that order.
func Parse(data []byte, overrides ...Override) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with default values. It has no
// sensors path, so it only validates once one is set.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			StandardTemperature: DefaultStandardTemperature,
			CapacitySource:      DefaultCapacitySource,
		},
		Tracking: TrackingConfig{
			Enabled:    true,
			Project:    DefaultProject,
			BufferSize: DefaultBufferSize,
		},
		Output: OutputConfig{
			Postgres: PostgresConfig{Table: DefaultPostgresTable},
		},
	}
}

// Validate checks required fields and structural constraints.
func (cfg *Config) Validate() error {
	p := cfg.Pipeline
	if p.Sensors == "" {
		return fmt.Errorf("pipeline.sensors is required")
	}
	if p.Workers < 0 {
		return fmt.Errorf("pipeline.workers must not be negative")
	}
	switch p.CapacitySource {
	case CapacityAuto, CapacityQuantity, CapacityTank:
	default:
		return fmt.Errorf("pipeline.capacity_source %q unknown: want auto|quantity|capacity", p.CapacitySource)
	}
	if p.CapacitySource == CapacityTank && p.TankInfo == "" {
		return fmt.Errorf("pipeline.capacity_source capacity requires pipeline.tank_info")
	}

	if cfg.Tracking.Project == "" {
		return fmt.Errorf("tracking.project is required")
	}
	if cfg.Tracking.BufferSize <= 0 {
		return fmt.Errorf("tracking.buffer_size must be positive")
	}
	for i, s := range cfg.Tracking.Sinks {
		switch s.Type {
		case SinkMemory, SinkStore:
		case SinkInflux:
			if s.URL == "" || s.Org == "" || s.Bucket == "" {
				return fmt.Errorf("tracking.sinks[%d]: influx requires url, org and bucket", i)
			}
		case SinkTextfile:
			if s.Path == "" {
				return fmt.Errorf("tracking.sinks[%d]: textfile requires path", i)
			}
		default:
			return fmt.Errorf("tracking.sinks[%d]: unknown type %q", i, s.Type)
		}
		if s.TTL < 0 {
			return fmt.Errorf("tracking.sinks[%d]: ttl must not be negative", i)
		}
	}

	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("alerts.rules[%d] %q: condition is required", i, r.Name)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("alerts.rules[%d] %q: unknown severity %q", i, r.Name, r.Severity)
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}

	if cfg.Output.Postgres.Enabled() && cfg.Output.Postgres.Table == "" {
		return fmt.Errorf("output.postgres.table is required when dsn_env is set")
	}
	return nil
}
