// Package config loads the control plane configuration from YAML and
// provides the persistent key-value settings store used for cross-cutting
// settings such as the active provider name.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/homesteadops/homestead/pkg/telemetry"
)

// Config is the top-level configuration for the control plane.
type Config struct {
	// DataDir holds the state database, the settings file, and the vault.
	DataDir string `yaml:"data_dir" validate:"required"`

	// CatalogPath is the application catalog file or directory.
	CatalogPath string `yaml:"catalog_path" validate:"required"`

	// Provider selects the active cloud provider.
	Provider string `yaml:"provider"`

	// Jobs configures the job manager.
	Jobs JobsConfig `yaml:"jobs"`

	// SSH configures host connectivity.
	SSH SSHConfig `yaml:"ssh"`

	// Telemetry configures logging, tracing, and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// JobsConfig configures the job manager.
type JobsConfig struct {
	Workers    int           `yaml:"workers" validate:"omitempty,min=1,max=64"`
	QueueSize  int           `yaml:"queue_size" validate:"omitempty,min=1"`
	JobTimeout time.Duration `yaml:"job_timeout"`

	// RetentionDays bounds how long terminal jobs are kept before cleanup.
	RetentionDays int `yaml:"retention_days" validate:"omitempty,min=1"`
}

// SSHConfig configures host connectivity defaults.
type SSHConfig struct {
	User           string        `yaml:"user"`
	KeyPath        string        `yaml:"key_path"`
	Port           int           `yaml:"port" validate:"omitempty,min=1,max=65535"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:     "/var/lib/homestead",
		CatalogPath: "/etc/homestead/catalog",
		Provider:    "dev",
		Jobs: JobsConfig{
			Workers:       4,
			QueueSize:     64,
			JobTimeout:    30 * time.Minute,
			RetentionDays: 30,
		},
		SSH: SSHConfig{
			User:           "root",
			Port:           22,
			ConnectTimeout: 30 * time.Second,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads the configuration file at path, layered over defaults. A
// missing file returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return c.Telemetry.Validate()
}
