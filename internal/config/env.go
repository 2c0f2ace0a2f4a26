package config

import (
	"os"
	"strconv"
	"time"
)

// envOverrides maps environment variables to config field setters.
var envOverrides = []struct {
	envVar string
	apply  func(*Config, string)
}{
	{
		envVar: "MAX_CONCURRENT_JOBS",
		apply: func(c *Config, v string) {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.MaxConcurrentJobs = n
			}
		},
	},
	{
		envVar: "REPOS_DIR",
		apply: func(c *Config, v string) {
			c.ReposDir = v
		},
	},
	{
		envVar: "WORKTREES_DIR",
		apply: func(c *Config, v string) {
			c.WorktreesDir = v
		},
	},
	{
		envVar: "FOREMAN_DB",
		apply: func(c *Config, v string) {
			c.DatabasePath = v
		},
	},
	{
		envVar: "CODER_CLI_BIN",
		apply: func(c *Config, v string) {
			c.Coder.Command = v
		},
	},
	{
		envVar: "CODER_MODEL",
		apply: func(c *Config, v string) {
			c.Coder.Model = v
		},
	},
	{
		envVar: "FOREMAN_API_ADDR",
		apply: func(c *Config, v string) {
			c.API.Addr = v
		},
	},
	{
		envVar: "FOREMAN_API_SECRET",
		apply: func(c *Config, v string) {
			c.API.BearerSecret = v
		},
	},
	{
		envVar: "FEEDBACK_TIMEOUT",
		apply: func(c *Config, v string) {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.Feedback.CommandTimeout = d
			}
		},
	},
	{
		envVar: "FOREMAN_LOG_LEVEL",
		apply: func(c *Config, v string) {
			c.LogLevel = v
		},
	},
}

// applyEnvOverrides modifies config in place with environment variable values.
func applyEnvOverrides(cfg *Config) {
	for _, override := range envOverrides {
		if val := os.Getenv(override.envVar); val != "" {
			override.apply(cfg, val)
		}
	}
}
