// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host     string `envconfig:"RICE_HOST" yaml:"host"`
	Port     int    `envconfig:"RICE_PORT" yaml:"port"`
	GRPCPort int    `envconfig:"RICE_GRPC_PORT" yaml:"grpc_port"` // 0 = disabled

	// Evaluation configuration
	Evaluation EvaluationConfig `yaml:"evaluation"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Security configuration
	Security SecurityConfig `yaml:"security"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// EvaluationConfig holds hit-rate evaluator settings.
type EvaluationConfig struct {
	// Cutoffs are tracked in addition to the built-in 1, 3 and 5.
	Cutoffs   []int  `envconfig:"RICE_EVAL_CUTOFFS" yaml:"cutoffs"`
	Alignment string `envconfig:"RICE_EVAL_ALIGNMENT" yaml:"alignment"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"RICE_BUS_TYPE" yaml:"type"`
	Topic        string `envconfig:"RICE_BUS_TOPIC" yaml:"topic"`
	KafkaBrokers string `envconfig:"RICE_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"RICE_KAFKA_GROUP" yaml:"kafka_group"`
	RedisURL     string `envconfig:"RICE_BUS_REDIS_URL" yaml:"redis_url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RICE_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RICE_LOG_FORMAT" yaml:"format"`
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	RateLimit int `envconfig:"RICE_RATE_LIMIT" yaml:"rate_limit"` // 0 = disabled
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"RICE_METRICS_ENABLED" yaml:"metrics_enabled"`
	MetricsPath    string `envconfig:"RICE_METRICS_PATH" yaml:"metrics_path"`
}

// ReservedPaths are the API routes served alongside the metrics endpoint.
var ReservedPaths = []string{
	"/healthz",
	"/v1/version",
	"/v1/evaluation/hit-rate",
	"/v1/evaluation/history",
	"/v1/evaluation/cutoffs",
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080
	cfg.GRPCPort = 50051

	cfg.Evaluation = EvaluationConfig{
		Cutoffs:   []int{1, 3, 5},
		Alignment: "strict",
	}

	cfg.Bus = BusConfig{
		Type:       "memory",
		Topic:      "evaluation.snapshot.recorded",
		KafkaGroup: "rice-eval",
		RedisURL:   "redis://localhost:6379",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Security = SecurityConfig{
		RateLimit: 0,
	}

	cfg.Observability = ObservabilityConfig{
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, "grpc_port must be between 0 and 65535")
	}
	if c.GRPCPort != 0 && c.GRPCPort == c.Port {
		errs = append(errs, "grpc_port must differ from port")
	}

	// Evaluation validation
	for _, k := range c.Evaluation.Cutoffs {
		if k < 1 {
			errs = append(errs, fmt.Sprintf("invalid cutoff: %d (must be positive)", k))
		}
	}
	validAlignments := map[string]bool{"strict": true, "truncate": true}
	if !validAlignments[strings.ToLower(c.Evaluation.Alignment)] {
		errs = append(errs, fmt.Sprintf("invalid alignment: %s (must be strict or truncate)", c.Evaluation.Alignment))
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true, "redis": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory, kafka, or redis)", c.Bus.Type))
	}
	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "kafka_brokers is required for the kafka bus")
	}
	if c.Bus.Type == "redis" && c.Bus.RedisURL == "" {
		errs = append(errs, "redis_url is required for the redis bus")
	}
	if c.Bus.Topic == "" {
		errs = append(errs, "bus topic must not be empty")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if c.Security.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}

	if c.Observability.MetricsEnabled {
		path := c.Observability.MetricsPath
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, "metrics_path must start with /")
		} else if slices.Contains(ReservedPaths, path) {
			errs = append(errs, fmt.Sprintf("metrics_path %s is already served by the API", path))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the HTTP server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddress returns the gRPC server address, or "" when gRPC is disabled.
func (c *Config) GRPCAddress() string {
	if c.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}
