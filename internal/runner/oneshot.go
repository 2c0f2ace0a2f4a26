package runner

import (
	"context"
	"fmt"

	"github.com/forgeline/foreman/internal/store"
)

// OneShot executes a job as a single CLI invocation followed by
// commit, push, and pull request.
type OneShot struct {
	base
}

// NewOneShot creates the one-shot runner.
func NewOneShot(deps *Dependencies) *OneShot {
	return &OneShot{base{deps: deps}}
}

// Run drives the job to a terminal state.
func (r *OneShot) Run(ctx context.Context, job *store.Job) error {
	repo, worktree, cleanup, err := r.setup(ctx, job)
	if err != nil {
		r.fail(job, err)
		return nil
	}
	defer cleanup()

	res, err := r.invoke(ctx, job, worktree, job.Prompt)
	if err != nil {
		exitCode := -1
		if res != nil {
			exitCode = res.ExitCode
		}
		r.system(job, fmt.Sprintf("coder exited with code %d", exitCode))
		failure := fmt.Errorf("coder invocation failed: %w", err)
		msg := failure.Error()
		if _, ferr := r.deps.Store.FinishJob(job.ID, store.Terminal{
			Status:   store.StatusFailed,
			Error:    &msg,
			ExitCode: &exitCode,
		}); ferr != nil {
			r.deps.logger().Error("failed to record job failure", "job", job.ID, "error", ferr)
		}
		return nil
	}

	message := "Agent changes for job " + job.ID
	if job.Title != nil && *job.Title != "" {
		message = *job.Title
	}
	if _, _, err := r.deps.Workspace.Commit(ctx, worktree, message); err != nil {
		r.fail(job, err)
		return nil
	}

	pub, err := r.publish(ctx, job, repo, worktree)
	if err != nil {
		r.fail(job, err)
		return nil
	}

	exitCode := res.ExitCode
	r.complete(job, store.Terminal{
		ExitCode:          &exitCode,
		PRURL:             &pub.PRURL,
		PRNumber:          &pub.PRNumber,
		FilesChanged:      &pub.FilesChanged,
		CodeBranchID:      &pub.BranchID,
		CodePullRequestID: &pub.PRID,
	})
	return nil
}
