package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/foreman/internal/coder"
	"github.com/forgeline/foreman/internal/store"
)

func TestOneShot_HappyPath(t *testing.T) {
	cl := &coder.MockClient{
		ExecuteFunc: func(ctx context.Context, opts coder.ExecuteOptions) (*coder.ExecuteResult, error) {
			opts.OnStdout("making the change")
			return &coder.ExecuteResult{Output: "making the change\n", Success: true}, nil
		},
	}
	h := newHarness(t, cl)
	job := h.createJob(t, &store.Job{ID: "job-1", Type: store.TypeCode, Prompt: "add a button"})

	require.NoError(t, NewOneShot(h.deps).Run(context.Background(), job))

	got := h.reload(t, "job-1")
	assert.Equal(t, store.StatusCompleted, got.Status)
	require.NotNil(t, got.PRURL)
	assert.Equal(t, "https://github.com/acme/shop/pull/7", *got.PRURL)
	require.NotNil(t, got.PRNumber)
	assert.Equal(t, 7, *got.PRNumber)
	require.NotNil(t, got.FilesChanged)
	assert.Equal(t, 2, *got.FilesChanged)
	assert.NotNil(t, got.CodeBranchID)
	assert.NotNil(t, got.CodePullRequestID)

	// Output was streamed into the transcript.
	msgs, err := h.store.ListMessages("job-1", 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "making the change", msgs[0].Content)

	// Branch was pushed and the worktree removed afterwards.
	assert.True(t, h.git.called("push -u origin agent/job-1"))
	assert.True(t, h.git.called("worktree remove"))
}

func TestOneShot_CLIFailure(t *testing.T) {
	cl := &coder.MockClient{
		ExecuteFunc: func(ctx context.Context, opts coder.ExecuteOptions) (*coder.ExecuteResult, error) {
			return &coder.ExecuteResult{ExitCode: 2, Output: "boom"},
				&coder.ExecutionError{ExitCode: 2}
		},
	}
	h := newHarness(t, cl)
	job := h.createJob(t, &store.Job{ID: "job-1", Type: store.TypeCode, Prompt: "p"})

	require.NoError(t, NewOneShot(h.deps).Run(context.Background(), job))

	got := h.reload(t, "job-1")
	assert.Equal(t, store.StatusFailed, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 2, *got.ExitCode)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "coder invocation failed")
	assert.Nil(t, got.PRURL, "no PR on failure")
}

func TestOneShot_MissingRepository(t *testing.T) {
	h := newHarness(t, &coder.MockClient{})
	job := &store.Job{ID: "job-1", ClientID: "client-1", Type: store.TypeCode, Prompt: "p"}
	require.NoError(t, h.store.CreateJob(job))
	_, err := h.store.ClaimQueued("job-1")
	require.NoError(t, err)

	require.NoError(t, NewOneShot(h.deps).Run(context.Background(), job))

	got := h.reload(t, "job-1")
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Contains(t, *got.Error, "no repository")
}
