package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgeline/foreman/internal/store"
)

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth and running jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			running, err := st.CountRunning()
			if err != nil {
				return err
			}
			queued, err := st.CountQueued()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "running: %d/%d\n", running, cfg.MaxConcurrentJobs)
			fmt.Fprintf(out, "queued:  %d\n", queued)

			jobs, err := st.ListRunningJobs()
			if err != nil {
				return err
			}
			for _, job := range jobs {
				line := fmt.Sprintf("  %s  %s", job.ID, job.Type)
				if job.CurrentIteration != nil && job.TotalIterations != nil {
					line += fmt.Sprintf("  iter %d/%d", *job.CurrentIteration, *job.TotalIterations)
				}
				if job.SpecPhase != "" {
					line += fmt.Sprintf("  phase=%s", job.SpecPhase)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
