package feedback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
}

func TestDetect_GoProject(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "go.mod")

	cmds := Detect(dir)
	require.Len(t, cmds, 2)
	assert.Equal(t, CategoryTests, cmds[0].Category)
	assert.Equal(t, "go test ./...", cmds[0].Command)
	assert.Equal(t, CategoryTypeCheck, cmds[1].Category)
	assert.Equal(t, "go vet ./...", cmds[1].Command)
}

func TestDetect_NodeLockfilePriority(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "package.json")
	touch(t, dir, "pnpm-lock.yaml")
	touch(t, dir, "tsconfig.json")
	touch(t, dir, "biome.json")

	cmds := Detect(dir)
	require.Len(t, cmds, 3)
	assert.Equal(t, "pnpm test", cmds[0].Command, "lockfile beats package.json")
	assert.Equal(t, "npx tsc --noEmit", cmds[1].Command)
	assert.Equal(t, "npx biome check .", cmds[2].Command)
}

func TestDetect_OnePerCategory(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Cargo.toml")
	touch(t, dir, "go.mod")

	cmds := Detect(dir)
	counts := map[Category]int{}
	for _, c := range cmds {
		counts[c.Category]++
	}
	assert.Equal(t, 1, counts[CategoryTests])
	assert.Equal(t, 1, counts[CategoryTypeCheck])
}

func TestDetect_Empty(t *testing.T) {
	assert.Empty(t, Detect(t.TempDir()))
}

// fakeCommandRunner returns scripted results per command string.
type fakeCommandRunner struct {
	results map[string]struct {
		output string
		code   int
	}
	block time.Duration
}

func (f *fakeCommandRunner) Run(ctx context.Context, dir, command string) (string, int, error) {
	if f.block > 0 {
		select {
		case <-ctx.Done():
			return "", -1, ctx.Err()
		case <-time.After(f.block):
		}
	}
	if r, ok := f.results[command]; ok {
		return r.output, r.code, nil
	}
	return "", 0, nil
}

func TestRun_CustomBeforeDetected(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "go.mod")

	r := NewRunner(time.Minute, 1024)
	r.SetCommandRunner(&fakeCommandRunner{})

	res := r.Run(context.Background(), dir, []string{"make check", ""})
	require.GreaterOrEqual(t, len(res.Results), 3)
	assert.Equal(t, CategoryCustom, res.Results[0].Category)
	assert.Equal(t, "make check", res.Results[0].Command)
	assert.True(t, res.Passed)
}

func TestRun_FailureAggregation(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "go.mod")

	fake := &fakeCommandRunner{results: map[string]struct {
		output string
		code   int
	}{
		"go test ./...": {output: "--- FAIL: TestThing (0.01s)\nFAIL\tpkg/x\t0.5s", code: 1},
	}}
	r := NewRunner(time.Minute, 1024)
	r.SetCommandRunner(fake)

	res := r.Run(context.Background(), dir, nil)
	assert.False(t, res.Passed)
	assert.NotEmpty(t, res.FailedTests)
	assert.Contains(t, res.Summary, "failed")
}

func TestRun_Timeout(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "go.mod")

	r := NewRunner(10*time.Millisecond, 1024)
	r.SetCommandRunner(&fakeCommandRunner{block: time.Second})

	res := r.Run(context.Background(), dir, nil)
	assert.False(t, res.Passed)
	require.NotEmpty(t, res.Results)
	assert.True(t, res.Results[0].TimedOut)
}

func TestRun_NoCommands(t *testing.T) {
	r := NewRunner(time.Minute, 1024)
	res := r.Run(context.Background(), t.TempDir(), nil)
	assert.True(t, res.Passed)
	assert.Equal(t, "no feedback commands detected", res.Summary)
}

func TestLimitWriter(t *testing.T) {
	fake := &fakeCommandRunner{results: map[string]struct {
		output string
		code   int
	}{}}
	_ = fake

	r := shellRunner{maxOutput: 8}
	out, code, err := r.Run(context.Background(), t.TempDir(), fmt.Sprintf("printf '%s'", "0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "01234567", out)
}
