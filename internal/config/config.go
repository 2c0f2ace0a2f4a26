package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the foreman daemon.
// It is immutable after creation via Load().
type Config struct {
	// MaxConcurrentJobs is the maximum number of jobs executing at once.
	// Zero disables dispatch but leaves the queue readable.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// ReposDir is the directory holding bare repository clones.
	ReposDir string `yaml:"repos_dir"`

	// WorktreesDir is the base directory for per-job worktrees.
	WorktreesDir string `yaml:"worktrees_dir"`

	// DatabasePath is the SQLite database file path.
	DatabasePath string `yaml:"database_path"`

	// Coder contains coder CLI invocation settings.
	Coder CoderConfig `yaml:"coder"`

	// API contains HTTP ingress settings.
	API APIConfig `yaml:"api"`

	// Feedback contains feedback command execution settings.
	Feedback FeedbackConfig `yaml:"feedback"`

	// LogLevel controls log verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// CoderConfig controls how the coder CLI is invoked.
type CoderConfig struct {
	// Command is the path or name of the coder CLI binary.
	Command string `yaml:"command"`

	// Model is an optional model tag passed as --model.
	Model string `yaml:"model,omitempty"`
}

// APIConfig holds HTTP ingress settings.
type APIConfig struct {
	// Addr is the listen address, e.g. ":8713".
	Addr string `yaml:"addr"`

	// BearerSecret authenticates write endpoints. Empty disables auth
	// (intended for tests only).
	BearerSecret string `yaml:"bearer_secret,omitempty"`
}

// FeedbackConfig controls post-iteration feedback commands.
type FeedbackConfig struct {
	// CommandTimeout is the per-command timeout.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// MaxOutputBytes caps captured output per command.
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

const (
	DefaultMaxConcurrentJobs = 2
	DefaultDatabaseFile      = "foreman.db"
	DefaultCoderCommand      = "claude"
	DefaultAPIAddr           = ":8713"
	DefaultCommandTimeout    = 5 * time.Minute
	DefaultMaxOutputBytes    = 10 * 1024 * 1024
	DefaultLogLevel          = "info"
)

// Default returns a Config with all default values applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		MaxConcurrentJobs: DefaultMaxConcurrentJobs,
		ReposDir:          filepath.Join(home, "repos"),
		WorktreesDir:      filepath.Join(home, "worktrees"),
		DatabasePath:      filepath.Join(home, ".foreman", DefaultDatabaseFile),
		Coder: CoderConfig{
			Command: DefaultCoderCommand,
		},
		API: APIConfig{
			Addr: DefaultAPIAddr,
		},
		Feedback: FeedbackConfig{
			CommandTimeout: DefaultCommandTimeout,
			MaxOutputBytes: DefaultMaxOutputBytes,
		},
		LogLevel: DefaultLogLevel,
	}
}

// Load builds configuration by applying defaults, then an optional YAML
// file, then environment overrides, then validating.
//
// The config file is looked up at path when non-empty; a missing file is
// not an error (defaults apply).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the Config is internally consistent.
func (c *Config) Validate() error {
	if c.MaxConcurrentJobs < 0 {
		return fmt.Errorf("max_concurrent_jobs cannot be negative: %d", c.MaxConcurrentJobs)
	}
	if c.ReposDir == "" {
		return fmt.Errorf("repos_dir cannot be empty")
	}
	if c.WorktreesDir == "" {
		return fmt.Errorf("worktrees_dir cannot be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path cannot be empty")
	}
	if c.Coder.Command == "" {
		return fmt.Errorf("coder command cannot be empty")
	}
	if c.Feedback.CommandTimeout <= 0 {
		return fmt.Errorf("feedback command_timeout must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}
	return nil
}
