// Package hosting opens pull requests on the hosting provider by
// shelling out to the gh CLI, which carries its own authentication.
package hosting

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// PullRequest holds the result of a created PR.
type PullRequest struct {
	Number    int
	URL       string
	Branch    string
	Base      string
	Title     string
	CreatedAt time.Time
}

// CommandRunner executes a hosting CLI command in a directory.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

type osCommandRunner struct{}

func (osCommandRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s failed: %w\nstderr: %s",
			name, strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

// Client opens pull requests from a pushed branch.
type Client struct {
	runner CommandRunner
}

// NewClient creates a hosting client using the real gh CLI.
func NewClient() *Client {
	return &Client{runner: osCommandRunner{}}
}

// SetRunner replaces the command runner. Intended for tests.
func (c *Client) SetRunner(r CommandRunner) {
	if r == nil {
		r = osCommandRunner{}
	}
	c.runner = r
}

// CreatePR opens a pull request from branch into base, run from the
// worktree so gh resolves the repository from the checkout. gh prints
// the PR URL as the last line of output.
func (c *Client) CreatePR(ctx context.Context, worktree, branch, base, title, body string) (*PullRequest, error) {
	out, err := c.runner.Run(ctx, worktree, "gh",
		"pr", "create",
		"--head", branch,
		"--base", base,
		"--title", title,
		"--body", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	url := lastNonEmptyLine(out)
	number, err := numberFromURL(url)
	if err != nil {
		return nil, err
	}

	return &PullRequest{
		Number:    number,
		URL:       url,
		Branch:    branch,
		Base:      base,
		Title:     title,
		CreatedAt: time.Now(),
	}, nil
}

func lastNonEmptyLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// numberFromURL extracts the PR number from a URL like
// https://github.com/owner/repo/pull/42.
func numberFromURL(url string) (int, error) {
	idx := strings.LastIndex(url, "/")
	if idx < 0 || idx == len(url)-1 {
		return 0, fmt.Errorf("cannot parse pull request number from %q", url)
	}
	n, err := strconv.Atoi(url[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("cannot parse pull request number from %q: %w", url, err)
	}
	return n, nil
}
