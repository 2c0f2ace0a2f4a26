package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/forgeline/foreman/internal/store"
)

var statusStyles = map[store.JobStatus]lipgloss.Style{
	store.StatusQueued:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	store.StatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	store.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	store.StatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	store.StatusCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
}

func renderStatus(s store.JobStatus) string {
	if style, ok := statusStyles[s]; ok {
		return style.Render(string(s))
	}
	return string(s)
}

func newJobsCmd(configPath *string) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs, newest first",
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

			jobs, err := st.ListJobs(store.JobStatus(status), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tCREATED\tRESULT")
			for _, job := range jobs {
				result := ""
				switch {
				case job.PRURL != nil:
					result = *job.PRURL
				case job.Error != nil:
					result = *job.Error
				case job.CompletionReason != nil:
					result = *job.CompletionReason
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					job.ID, job.Type, renderStatus(job.Status),
					job.CreatedAt.Format("2006-01-02 15:04"), result)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (queued, running, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 30, "maximum jobs to show")
	return cmd
}
