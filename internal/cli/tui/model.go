// Package tui renders a live job dashboard for the watch command.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/forgeline/foreman/internal/store"
)

const pollInterval = time.Second

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	statusColors = map[store.JobStatus]lipgloss.Style{
		store.StatusQueued:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		store.StatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		store.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		store.StatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		store.StatusCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	}
)

// snapshot is one poll of the store.
type snapshot struct {
	running int
	queued  int
	jobs    []*store.Job
	err     error
}

type tickMsg time.Time

// Model is the bubbletea model behind `foreman watch`.
type Model struct {
	store         *store.Store
	maxConcurrent int
	limit         int

	snap snapshot
}

// New creates a watch model over an open store.
func New(s *store.Store, maxConcurrent int) Model {
	return Model{store: s, maxConcurrent: maxConcurrent, limit: 15}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.poll, tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// poll reads the current queue state.
func (m Model) poll() tea.Msg {
	var snap snapshot
	var err error
	if snap.running, err = m.store.CountRunning(); err != nil {
		snap.err = err
		return snap
	}
	if snap.queued, err = m.store.CountQueued(); err != nil {
		snap.err = err
		return snap
	}
	if snap.jobs, err = m.store.ListJobs("", m.limit); err != nil {
		snap.err = err
	}
	return snap
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.poll, tick())
	case snapshot:
		m.snap = msg
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("foreman"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  running %d/%d  queued %d",
		m.snap.running, m.maxConcurrent, m.snap.queued)))
	b.WriteString("\n\n")

	if m.snap.err != nil {
		b.WriteString(errorStyle.Render("error: " + m.snap.err.Error()))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-28s %-16s %-10s %s", "ID", "TYPE", "STATUS", "DETAIL")))
	b.WriteString("\n")
	for _, job := range m.snap.jobs {
		b.WriteString(fmt.Sprintf("%-28s %-16s %-10s %s\n",
			job.ID, job.Type, renderStatus(job.Status), jobDetail(job)))
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

func renderStatus(s store.JobStatus) string {
	if style, ok := statusColors[s]; ok {
		return style.Render(string(s))
	}
	return string(s)
}

// jobDetail picks the most informative single field for the row.
func jobDetail(job *store.Job) string {
	switch {
	case job.Status == store.StatusRunning && job.CurrentIteration != nil && job.TotalIterations != nil:
		return fmt.Sprintf("iteration %d/%d", *job.CurrentIteration, *job.TotalIterations)
	case job.Type == store.TypeSpec && job.SpecPhase != "":
		return "phase " + string(job.SpecPhase)
	case job.PRURL != nil:
		return *job.PRURL
	case job.Error != nil:
		return errorStyle.Render(*job.Error)
	case job.CompletionReason != nil:
		return *job.CompletionReason
	}
	return ""
}
