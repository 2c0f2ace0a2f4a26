// Package coder invokes the coding-agent CLI as a subprocess and
// streams its output line by line.
package coder

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// scanner line buffer; agent output lines can run long.
const maxLineBytes = 1024 * 1024

// ExecuteOptions configures one agent invocation.
type ExecuteOptions struct {
	// Prompt is the instruction sent to the agent.
	Prompt string

	// WorkDir is the working directory for the subprocess.
	WorkDir string

	// OnStart receives the subprocess pid once it is running. May be nil.
	OnStart func(pid int)

	// OnStdout and OnStderr receive each output line as it arrives.
	// Either may be nil.
	OnStdout func(line string)
	OnStderr func(line string)
}

// ExecuteResult holds the outcome of one agent invocation. Output is
// the full captured stdout regardless of streaming callbacks.
type ExecuteResult struct {
	Output   string
	ExitCode int
	Success  bool
}

// Client is the interface runners use to invoke the agent.
type Client interface {
	Execute(ctx context.Context, opts ExecuteOptions) (*ExecuteResult, error)
}

// CLIClient implements Client by running the agent CLI binary.
type CLIClient struct {
	binary string
	model  string
}

// NewCLIClient creates a client for the given binary. model may be
// empty to use the CLI's default.
func NewCLIClient(binary, model string) *CLIClient {
	if binary == "" {
		binary = "claude"
	}
	return &CLIClient{binary: binary, model: model}
}

// Execute runs the agent in non-interactive print mode and streams its
// output. A non-zero exit returns the captured result alongside an
// ExecutionError so callers can still parse partial output.
func (c *CLIClient) Execute(ctx context.Context, opts ExecuteOptions) (*ExecuteResult, error) {
	if opts.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if opts.WorkDir == "" {
		return nil, ErrEmptyWorkDir
	}

	args := []string{"--print", "--dangerously-skip-permissions", "--output-format", "text"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	args = append(args, opts.Prompt)

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = opts.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	if opts.OnStart != nil {
		opts.OnStart(cmd.Process.Pid)
	}

	var out strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := scanLines(stdout, func(line string) {
			out.WriteString(line)
			out.WriteByte('\n')
			if opts.OnStdout != nil {
				opts.OnStdout(line)
			}
		})
		if err != nil && opts.OnStderr != nil {
			opts.OnStderr("stdout truncated: " + err.Error())
		}
	}()
	go func() {
		defer wg.Done()
		err := scanLines(stderr, opts.OnStderr)
		if err != nil && opts.OnStderr != nil {
			opts.OnStderr("stderr truncated: " + err.Error())
		}
	}()

	wg.Wait()
	runErr := cmd.Wait()

	result := &ExecuteResult{
		Output:  out.String(),
		Success: runErr == nil,
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		return result, &ExecutionError{ExitCode: result.ExitCode, Err: runErr}
	}
	return result, nil
}

// scanLines streams r line by line into fn. On a scanner error (a line
// over maxLineBytes) the rest of the stream is drained so the
// subprocess never blocks on a full pipe; the error is returned for the
// caller to report.
func scanLines(r io.Reader, fn func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		if fn != nil {
			fn(sc.Text())
		}
	}
	err := sc.Err()
	if err != nil {
		_, _ = io.Copy(io.Discard, r)
	}
	return err
}

// MockClient is a test implementation of Client.
type MockClient struct {
	// ExecuteFunc is called when Execute is invoked
	ExecuteFunc func(ctx context.Context, opts ExecuteOptions) (*ExecuteResult, error)
}

// Execute delegates to ExecuteFunc.
func (m *MockClient) Execute(ctx context.Context, opts ExecuteOptions) (*ExecuteResult, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, opts)
	}
	return &ExecuteResult{Success: true}, nil
}
