package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/foreman/internal/store"
)

func TestViewRendersSnapshot(t *testing.T) {
	m := New(nil, 3)

	url := "https://github.com/acme/shop/pull/7"
	updated, _ := m.Update(snapshot{
		running: 1,
		queued:  2,
		jobs: []*store.Job{
			{ID: "job-1", Type: store.TypeRalph, Status: store.StatusRunning},
			{ID: "job-2", Type: store.TypeCode, Status: store.StatusCompleted, PRURL: &url},
		},
	})
	m = updated.(Model)

	view := m.View()
	assert.Contains(t, view, "running 1/3")
	assert.Contains(t, view, "queued 2")
	assert.Contains(t, view, "job-1")
	assert.Contains(t, view, url)
}

func TestQuitKeys(t *testing.T) {
	m := New(nil, 1)
	for _, key := range []string{"q", "ctrl+c", "esc"} {
		var msg tea.KeyMsg
		switch key {
		case "q":
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
		case "ctrl+c":
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		}
		_, cmd := m.Update(msg)
		require.NotNil(t, cmd, "key %s should quit", key)
	}
}

func TestJobDetailPriorities(t *testing.T) {
	cur, total := 2, 5
	assert.Equal(t, "iteration 2/5", jobDetail(&store.Job{
		Status: store.StatusRunning, CurrentIteration: &cur, TotalIterations: &total,
	}))

	assert.Equal(t, "phase plan", jobDetail(&store.Job{
		Type: store.TypeSpec, SpecPhase: "plan",
	}))

	reason := "promise_detected"
	assert.Equal(t, reason, jobDetail(&store.Job{CompletionReason: &reason}))

	assert.Equal(t, "", jobDetail(&store.Job{}))
}
