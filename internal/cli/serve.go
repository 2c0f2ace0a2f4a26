package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/forgeline/foreman/internal/api"
	"github.com/forgeline/foreman/internal/coder"
	"github.com/forgeline/foreman/internal/config"
	"github.com/forgeline/foreman/internal/events"
	"github.com/forgeline/foreman/internal/feedback"
	"github.com/forgeline/foreman/internal/hosting"
	"github.com/forgeline/foreman/internal/runner"
	"github.com/forgeline/foreman/internal/scheduler"
	"github.com/forgeline/foreman/internal/store"
	"github.com/forgeline/foreman/internal/workspace"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the foreman daemon (scheduler + HTTP ingress)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := events.NewBus()
	defer bus.Close()
	bus.Subscribe(func(e events.Event) {
		if e.IsFailure() {
			logger.Warn("event", "detail", e.String())
			return
		}
		logger.Debug("event", "detail", e.String())
	})

	deps := &runner.Dependencies{
		Store:     st,
		Workspace: workspace.NewManager(cfg.ReposDir, cfg.WorktreesDir, logger),
		Hosting:   hosting.NewClient(),
		Coder:     coder.NewCLIClient(cfg.Coder.Command, cfg.Coder.Model),
		Feedback:  feedback.NewRunner(cfg.Feedback.CommandTimeout, cfg.Feedback.MaxOutputBytes),
		Events:    bus,
		Logger:    logger,
	}

	sched := scheduler.New(st, deps, cfg.MaxConcurrentJobs, bus, logger)
	srv := api.NewServer(st, sched, cfg, logger)

	logger.Info("daemon starting",
		"addr", cfg.API.Addr,
		"max_concurrent", cfg.MaxConcurrentJobs,
		"db", cfg.DatabasePath)
	bus.Emit(events.New(events.DaemonStarted, ""))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		sched.Wait()
		return nil
	})
	g.Go(func() error {
		return srv.Serve(gctx, cfg.API.Addr)
	})

	err = g.Wait()
	logger.Info("daemon stopped")
	return err
}
