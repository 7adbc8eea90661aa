// Package config provides configuration management for mcpilot.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StepTimeout returns the configured per-step timeout as a duration.
func (c *Config) StepTimeout() time.Duration {
	if c.StepTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// DefaultConfigDir returns the default config directory (~/.mcpilot).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".mcpilot"), nil
}

// DefaultConfigPath returns the default config file path (~/.mcpilot/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// BackupSchedule is a cron-driven automatic backup for one server.
type BackupSchedule struct {
	Server      string `yaml:"server"`
	Cron        string `yaml:"cron"`
	Type        string `yaml:"type,omitempty"` // full, config, data
	IncludeLogs bool   `yaml:"include_logs,omitempty"`
}

// ReplicationConfig describes the optional offsite archive backend for
// completed backups.
type ReplicationConfig struct {
	Backend string `yaml:"backend,omitempty"` // "", "local", "s3"

	// local backend
	Dir string `yaml:"dir,omitempty"`

	// s3 backend
	Endpoint        string `yaml:"endpoint,omitempty"`
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	Region          string `yaml:"region,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	UseSSL          bool   `yaml:"use_ssl,omitempty"`
}

// APIConfig configures the read-only HTTP surface for the UI.
type APIConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// NotifyConfig configures outbound webhook notifications for terminal
// events. An empty URL disables dispatch.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url,omitempty"`
	// Secret signs each delivery with HMAC-SHA256 when set.
	Secret string `yaml:"secret,omitempty"`
}

// Config holds mcpilot's configuration.
type Config struct {
	LogLevel      string `yaml:"log_level,omitempty"`
	RuntimeBinary string `yaml:"runtime_binary,omitempty"` // container runtime CLI
	GitBinary     string `yaml:"git_binary,omitempty"`
	InstallRoot   string `yaml:"install_root,omitempty"`
	BackupRoot    string `yaml:"backup_root,omitempty"`

	// ClientConfigPath overrides the per-OS default location of the desktop
	// assistant's config file.
	ClientConfigPath string `yaml:"client_config_path,omitempty"`

	// StepTimeoutSeconds bounds a single plan step. Zero means the 10 minute
	// default.
	StepTimeoutSeconds int `yaml:"step_timeout_seconds,omitempty"`

	Schedules   []BackupSchedule  `yaml:"schedules,omitempty"`
	Replication ReplicationConfig `yaml:"replication,omitempty"`
	API         APIConfig         `yaml:"api,omitempty"`
	Notify      NotifyConfig      `yaml:"notify,omitempty"`
}

// ApplyDefaults fills zero-valued fields with their defaults. Path defaults
// are anchored under the config directory.
func (c *Config) ApplyDefaults(configDir string) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RuntimeBinary == "" {
		c.RuntimeBinary = "docker"
	}
	if c.GitBinary == "" {
		c.GitBinary = "git"
	}
	if c.InstallRoot == "" {
		c.InstallRoot = filepath.Join(configDir, "servers")
	}
	if c.BackupRoot == "" {
		c.BackupRoot = filepath.Join(configDir, "backups")
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:7431"
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Replication.Backend {
	case "", "local", "s3":
	default:
		return fmt.Errorf("unknown replication backend %q", c.Replication.Backend)
	}
	if c.Replication.Backend == "local" && c.Replication.Dir == "" {
		return errors.New("replication.dir is required for the local backend")
	}
	if c.Replication.Backend == "s3" && c.Replication.Bucket == "" {
		return errors.New("replication.bucket is required for the s3 backend")
	}
	if c.StepTimeoutSeconds < 0 {
		return errors.New("step_timeout_seconds must not be negative")
	}
	for i, s := range c.Schedules {
		if s.Server == "" {
			return fmt.Errorf("schedules[%d]: server is required", i)
		}
		if s.Cron == "" {
			return fmt.Errorf("schedules[%d]: cron is required", i)
		}
		switch s.Type {
		case "", "full", "config", "data":
		default:
			return fmt.Errorf("schedules[%d]: unknown backup type %q", i, s.Type)
		}
	}
	return nil
}

// Load reads the configuration from the given path. A missing file yields a
// default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ApplyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories as
// needed. Written with user-only permissions: replication credentials may be
// present.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
