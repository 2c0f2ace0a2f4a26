// Package cli wires the foreman commands.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/forgeline/foreman/internal/config"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "foreman",
		Short:         "Autonomous coding agent orchestrator",
		Long:          "foreman dispatches coding-agent jobs against isolated git worktrees,\ndrives iterative and PRD-based execution loops, and runs the spec\nauthoring pipeline.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newStatusCmd(&configPath),
		newJobsCmd(&configPath),
		newWatchCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func loadConfig(path *string) (*config.Config, error) {
	p := ""
	if path != nil {
		p = *path
	}
	return config.Load(p)
}

func newLogger(cfg *config.Config) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "foreman",
	})
	switch cfg.LogLevel {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the foreman version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "foreman", Version)
		},
	}
}
