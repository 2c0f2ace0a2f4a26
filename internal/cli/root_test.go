package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/foreman/internal/store"
)

// writeConfig writes a minimal config file pointing at a temp database.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "repos_dir: " + filepath.Join(dir, "repos") + "\n" +
		"worktrees_dir: " + filepath.Join(dir, "worktrees") + "\n" +
		"database_path: " + filepath.Join(dir, "foreman.db") + "\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "foreman")
	assert.Contains(t, out, Version)
}

func TestStatusCommand(t *testing.T) {
	cfgPath := writeConfig(t)

	st, err := store.Open(filepath.Join(filepath.Dir(cfgPath), "foreman.db"))
	require.NoError(t, err)
	require.NoError(t, st.CreateJob(&store.Job{ID: "a", ClientID: "c", Type: store.TypeCode, Prompt: "p"}))
	require.NoError(t, st.Close())

	out, err := run(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "queued:  1")
	assert.Contains(t, out, "running: 0/2")
}

func TestJobsCommand(t *testing.T) {
	cfgPath := writeConfig(t)

	st, err := store.Open(filepath.Join(filepath.Dir(cfgPath), "foreman.db"))
	require.NoError(t, err)
	require.NoError(t, st.CreateJob(&store.Job{ID: "job-abc", ClientID: "c", Type: store.TypeRalph, Prompt: "p"}))
	require.NoError(t, st.Close())

	out, err := run(t, "--config", cfgPath, "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "job-abc")
	assert.Contains(t, out, "ralph")
}

func TestJobsCommandStatusFilter(t *testing.T) {
	cfgPath := writeConfig(t)

	st, err := store.Open(filepath.Join(filepath.Dir(cfgPath), "foreman.db"))
	require.NoError(t, err)
	require.NoError(t, st.CreateJob(&store.Job{ID: "queued-job", ClientID: "c", Type: store.TypeCode, Prompt: "p"}))
	require.NoError(t, st.CreateJob(&store.Job{ID: "running-job", ClientID: "c", Type: store.TypeCode, Prompt: "p"}))
	_, err = st.ClaimQueued("running-job")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := run(t, "--config", cfgPath, "jobs", "--status", "running")
	require.NoError(t, err)
	assert.Contains(t, out, "running-job")
	assert.NotContains(t, out, "queued-job")
}
