package feedback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// CommandResult is the outcome of one feedback command.
type CommandResult struct {
	Category Category      `json:"category"`
	Command  string        `json:"command"`
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exitCode"`
	Output   string        `json:"output,omitempty"`
	TimedOut bool          `json:"timedOut,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result aggregates a full feedback pass. A Result is always produced;
// command failures are reflected in Passed, never in an error.
type Result struct {
	Passed      bool            `json:"passed"`
	Results     []CommandResult `json:"results"`
	Summary     string          `json:"summary"`
	FailedTests []string        `json:"failedTests,omitempty"`
}

// CommandRunner executes a shell command in a directory. Abstracted so
// tests can substitute a fake.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) (output string, exitCode int, err error)
}

type shellRunner struct {
	maxOutput int
}

func (r shellRunner) Run(ctx context.Context, dir, command string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var buf bytes.Buffer
	limit := &limitWriter{w: &buf, max: r.maxOutput}
	cmd.Stdout = limit
	cmd.Stderr = limit

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return buf.String(), -1, err
		}
	}
	return buf.String(), exitCode, nil
}

// limitWriter discards everything past max bytes.
type limitWriter struct {
	w   *bytes.Buffer
	max int
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.max > 0 && l.w.Len() < l.max {
		remaining := l.max - l.w.Len()
		if len(p) > remaining {
			l.w.Write(p[:remaining])
		} else {
			l.w.Write(p)
		}
	}
	return len(p), nil
}

// Runner executes feedback commands with per-command timeouts and output
// caps.
type Runner struct {
	Timeout   time.Duration
	MaxOutput int

	runner CommandRunner
	logger *log.Logger
}

// NewRunner creates a feedback runner with the given limits.
func NewRunner(timeout time.Duration, maxOutput int) *Runner {
	r := &Runner{
		Timeout:   timeout,
		MaxOutput: maxOutput,
		logger:    log.With("component", "feedback"),
	}
	r.runner = shellRunner{maxOutput: maxOutput}
	return r
}

// SetCommandRunner replaces the command runner. Intended for tests.
func (r *Runner) SetCommandRunner(cr CommandRunner) {
	r.runner = cr
}

// Run executes custom commands first, then auto-detected ones, and
// aggregates the results. It never returns an error; failures surface as
// Passed=false.
func (r *Runner) Run(ctx context.Context, worktree string, custom []string) *Result {
	var commands []Command
	for _, c := range custom {
		if strings.TrimSpace(c) == "" {
			continue
		}
		commands = append(commands, Command{Category: CategoryCustom, Command: c})
	}
	commands = append(commands, Detect(worktree)...)

	result := &Result{Passed: true}
	if len(commands) == 0 {
		result.Summary = "no feedback commands detected"
		return result
	}

	for _, cmd := range commands {
		cr := r.runOne(ctx, worktree, cmd)
		result.Results = append(result.Results, cr)
		if !cr.Passed {
			result.Passed = false
			if cr.Category == CategoryTests || cr.Category == CategoryCustom {
				result.FailedTests = append(result.FailedTests, extractFailures(cr.Output)...)
			}
		}
	}

	result.Summary = summarize(result)
	return result
}

func (r *Runner) runOne(ctx context.Context, worktree string, cmd Command) CommandResult {
	runCtx := ctx
	var cancel context.CancelFunc
	if r.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	output, exitCode, err := r.runner.Run(runCtx, worktree, cmd.Command)
	elapsed := time.Since(start)

	cr := CommandResult{
		Category: cmd.Category,
		Command:  cmd.Command,
		ExitCode: exitCode,
		Output:   output,
		Duration: elapsed,
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		cr.TimedOut = true
		cr.Passed = false
	case err != nil:
		cr.Passed = false
		cr.Output = appendLine(cr.Output, err.Error())
	default:
		cr.Passed = exitCode == 0
	}

	r.logger.Debug("feedback command finished",
		"category", cmd.Category, "command", cmd.Command,
		"passed", cr.Passed, "duration", elapsed)
	return cr
}

func summarize(res *Result) string {
	passed, failed := 0, 0
	var failedCats []string
	for _, cr := range res.Results {
		if cr.Passed {
			passed++
		} else {
			failed++
			failedCats = append(failedCats, fmt.Sprintf("%s (%s)", cr.Category, cr.Command))
		}
	}
	if failed == 0 {
		return fmt.Sprintf("all %d feedback commands passed", passed)
	}
	return fmt.Sprintf("%d/%d feedback commands failed: %s",
		failed, passed+failed, strings.Join(failedCats, ", "))
}

// extractFailures pulls likely test-failure lines from command output,
// capped at 20 lines.
func extractFailures(output string) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "FAIL") ||
			strings.HasPrefix(trimmed, "--- FAIL") ||
			strings.Contains(trimmed, "✗") ||
			strings.Contains(trimmed, "✖") ||
			strings.HasPrefix(trimmed, "AssertionError") {
			out = append(out, trimmed)
			if len(out) >= 20 {
				break
			}
		}
	}
	return out
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return s + "\n" + line
}
