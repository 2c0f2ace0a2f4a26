// Package runner contains the per-mode execution strategies that drive
// the coder CLI inside isolated worktrees.
package runner

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/forgeline/foreman/internal/coder"
	"github.com/forgeline/foreman/internal/events"
	"github.com/forgeline/foreman/internal/feedback"
	"github.com/forgeline/foreman/internal/hosting"
	"github.com/forgeline/foreman/internal/store"
	"github.com/forgeline/foreman/internal/workspace"
)

// Runner executes one claimed job to a terminal state. Run returns an
// error only for infrastructure failures it could not record itself; a
// job failing on its own terms is a nil return with the failure written
// to the store.
type Runner interface {
	Run(ctx context.Context, job *store.Job) error
}

// Dependencies carries the shared collaborators every runner needs.
type Dependencies struct {
	Store     *store.Store
	Workspace *workspace.Manager
	Hosting   *hosting.Client
	Coder     coder.Client
	Feedback  *feedback.Runner
	Events    *events.Bus
	Logger    *log.Logger

	// Enqueue inserts a follow-up job and wakes the scheduler. Used by
	// the spec pipeline for auto-progression.
	Enqueue func(job *store.Job) error
}

func (d *Dependencies) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

// base bundles the flow fragments shared by all runners: workspace
// setup, CLI invocation with message streaming, publication, and
// terminal-state bookkeeping.
type base struct {
	deps *Dependencies
}

// branchName returns the job's branch, defaulting to agent/<job id>.
func branchName(job *store.Job) string {
	if job.BranchName != "" {
		return job.BranchName
	}
	return "agent/" + job.ID
}

// setup resolves the repository, refreshes the bare mirror, and creates
// the job's worktree. The returned cleanup removes the worktree and is
// safe to defer unconditionally.
func (b *base) setup(ctx context.Context, job *store.Job) (repo *store.Repository, worktree string, cleanup func(), err error) {
	if job.RepositoryID == nil {
		return nil, "", nil, fmt.Errorf("job %s has no repository", job.ID)
	}
	repo, err = b.deps.Store.GetRepository(*job.RepositoryID)
	if err != nil {
		return nil, "", nil, err
	}
	if repo == nil {
		return nil, "", nil, fmt.Errorf("repository %s not found", *job.RepositoryID)
	}

	if _, err = b.deps.Workspace.EnsureBareRepo(ctx, repo); err != nil {
		return nil, "", nil, err
	}

	worktree, err = b.deps.Workspace.CreateWorktree(ctx, repo, job.ID, branchName(job))
	if err != nil {
		return nil, "", nil, err
	}
	if err = b.deps.Store.SetJobWorktree(job.ID, worktree); err != nil {
		b.deps.Workspace.RemoveWorktree(ctx, repo, job.ID)
		return nil, "", nil, err
	}
	b.deps.Events.Emit(events.New(events.WorktreeCreated, job.ID).WithPayload(worktree))

	cleanup = func() {
		// Cleanup must run even when the job's context was cancelled.
		b.deps.Workspace.RemoveWorktree(context.Background(), repo, job.ID)
		b.deps.Events.Emit(events.New(events.WorktreeRemoved, job.ID))
	}
	return repo, worktree, cleanup, nil
}

// invoke runs the coder CLI once, streaming its output into the job
// transcript and recording the subprocess pid while it is alive. The
// result is returned even on non-zero exit so callers can parse partial
// output.
func (b *base) invoke(ctx context.Context, job *store.Job, worktree, prompt string) (*coder.ExecuteResult, error) {
	res, err := b.deps.Coder.Execute(ctx, coder.ExecuteOptions{
		Prompt:  prompt,
		WorkDir: worktree,
		OnStart: func(pid int) {
			if err := b.deps.Store.SetJobPID(job.ID, pid); err != nil {
				b.deps.logger().Warn("failed to record pid", "job", job.ID, "error", err)
			}
		},
		OnStdout: func(line string) {
			if err := b.deps.Store.AppendMessage(job.ID, store.MessageStdout, line); err != nil {
				b.deps.logger().Warn("failed to append stdout", "job", job.ID, "error", err)
			}
		},
		OnStderr: func(line string) {
			if err := b.deps.Store.AppendMessage(job.ID, store.MessageStderr, line); err != nil {
				b.deps.logger().Warn("failed to append stderr", "job", job.ID, "error", err)
			}
		},
	})
	if clearErr := b.deps.Store.ClearJobPID(job.ID); clearErr != nil {
		b.deps.logger().Warn("failed to clear pid", "job", job.ID, "error", clearErr)
	}
	return res, err
}

// published is what a push + PR flow produced.
type published struct {
	PRURL        string
	PRNumber     int
	FilesChanged int
	BranchID     string
	PRID         string
}

// publish pushes the branch and opens a pull request, recording branch
// and PR provenance rows.
func (b *base) publish(ctx context.Context, job *store.Job, repo *store.Repository, worktree string) (*published, error) {
	branch := branchName(job)

	if err := b.deps.Workspace.PushBranch(ctx, worktree, branch); err != nil {
		return nil, err
	}
	b.deps.Events.Emit(events.New(events.BranchPushed, job.ID).WithPayload(branch))

	branchID, err := b.deps.Store.UpsertBranch(&store.CodeBranch{
		ID:           job.ID + "-branch",
		RepositoryID: repo.ID,
		Name:         branch,
		JobID:        &job.ID,
	})
	if err != nil {
		return nil, err
	}

	title := "Agent changes for job " + job.ID
	if job.Title != nil && *job.Title != "" {
		title = *job.Title
	}
	pr, err := b.deps.Hosting.CreatePR(ctx, worktree, branch, repo.DefaultBranch, title, job.Prompt)
	if err != nil {
		return nil, err
	}
	b.deps.Events.Emit(events.New(events.PRCreated, job.ID).WithPayload(pr.URL))

	prID, err := b.deps.Store.UpsertPullRequest(&store.CodePullRequest{
		ID:           job.ID + "-pr",
		RepositoryID: repo.ID,
		Number:       pr.Number,
		URL:          pr.URL,
		Title:        &title,
		BranchID:     &branchID,
	})
	if err != nil {
		return nil, err
	}

	filesChanged, err := b.deps.Workspace.FilesChanged(ctx, worktree, repo.DefaultBranch)
	if err != nil {
		// Best-effort; the PR itself is the deliverable.
		b.deps.logger().Warn("failed to count changed files", "job", job.ID, "error", err)
		filesChanged = 0
	}

	return &published{
		PRURL:        pr.URL,
		PRNumber:     pr.Number,
		FilesChanged: filesChanged,
		BranchID:     branchID,
		PRID:         prID,
	}, nil
}

// fail writes a failed terminal state. The conditional write means a
// cancellation that already landed is left untouched.
func (b *base) fail(job *store.Job, failure error) {
	msg := failure.Error()
	applied, err := b.deps.Store.FinishJob(job.ID, store.Terminal{
		Status: store.StatusFailed,
		Error:  &msg,
	})
	if err != nil {
		b.deps.logger().Error("failed to record job failure", "job", job.ID, "error", err)
		return
	}
	if applied {
		b.deps.Events.Emit(events.New(events.JobFailed, job.ID).WithError(failure))
	}
}

// complete writes a completed terminal state.
func (b *base) complete(job *store.Job, t store.Terminal) {
	t.Status = store.StatusCompleted
	applied, err := b.deps.Store.FinishJob(job.ID, t)
	if err != nil {
		b.deps.logger().Error("failed to record job completion", "job", job.ID, "error", err)
		return
	}
	if applied {
		b.deps.Events.Emit(events.New(events.JobCompleted, job.ID))
	}
}

// system appends a system-tagged line to the job transcript.
func (b *base) system(job *store.Job, msg string) {
	if err := b.deps.Store.AppendMessage(job.ID, store.MessageSystem, msg); err != nil {
		b.deps.logger().Warn("failed to append system message", "job", job.ID, "error", err)
	}
}
