package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgeline/foreman/internal/events"
	"github.com/forgeline/foreman/internal/feedback"
	"github.com/forgeline/foreman/internal/specpipe"
	"github.com/forgeline/foreman/internal/store"
)

const (
	// DefaultPromise is the completion token used when a job does not
	// choose its own.
	DefaultPromise = "<promise>COMPLETE</promise>"

	// DefaultMaxIterations bounds loop and PRD jobs that do not set one.
	DefaultMaxIterations = 10

	progressFile = ".ralph-progress.md"
)

// Loop drives the coder CLI over repeated iterations until it emits the
// job's completion token, the iteration budget runs out, or, in
// spec-task mode, no eligible tasks remain.
type Loop struct {
	base
}

// NewLoop creates the loop runner.
func NewLoop(deps *Dependencies) *Loop {
	return &Loop{base{deps: deps}}
}

// Run drives the job to a terminal state.
func (r *Loop) Run(ctx context.Context, job *store.Job) error {
	repo, worktree, cleanup, err := r.setup(ctx, job)
	if err != nil {
		r.fail(job, err)
		return nil
	}
	defer cleanup()

	var reason string
	var loopErr error
	if job.SpecMode() {
		reason, loopErr = r.runSpecTasks(ctx, job, worktree)
	} else {
		reason, loopErr = r.runPromise(ctx, job, worktree)
	}
	if loopErr != nil {
		r.finishFailed(job, reason, loopErr)
		return nil
	}

	// Publish whatever the loop produced, even on max-iterations exit.
	pub, err := r.publish(ctx, job, repo, worktree)
	if err != nil {
		r.fail(job, err)
		return nil
	}
	r.complete(job, store.Terminal{
		CompletionReason:  &reason,
		PRURL:             &pub.PRURL,
		PRNumber:          &pub.PRNumber,
		FilesChanged:      &pub.FilesChanged,
		CodeBranchID:      &pub.BranchID,
		CodePullRequestID: &pub.PRID,
	})
	return nil
}

func maxIterations(job *store.Job) int {
	if job.MaxIterations > 0 {
		return job.MaxIterations
	}
	return DefaultMaxIterations
}

func promiseToken(job *store.Job) string {
	if job.CompletionPromise != "" {
		return job.CompletionPromise
	}
	return DefaultPromise
}

// runPromise is the classic loop: iterate until the promise token shows
// up in the output.
func (r *Loop) runPromise(ctx context.Context, job *store.Job, worktree string) (string, error) {
	max := maxIterations(job)
	token := promiseToken(job)
	var prevFeedback *feedback.Result

	for n := 1; n <= max; n++ {
		prompt := r.buildLoopPrompt(job, worktree, n, max, token, prevFeedback)
		output, exitCode, err := r.runIteration(ctx, job, worktree, n, prompt, nil, nil)
		if err != nil {
			if n < max {
				continue
			}
			return store.ReasonIterationError, fmt.Errorf("iteration %d failed: %w", n, err)
		}

		summary := ExtractSummary(output)
		sha := r.commitIteration(ctx, job, worktree, n, summary)

		fb := r.deps.Feedback.Run(ctx, worktree, job.FeedbackCommands)
		prevFeedback = fb
		r.deps.Events.Emit(events.New(events.IterationFeedback, job.ID).WithIteration(n).WithPayload(fb.Summary))

		promised := DetectPromise(output, token)
		r.recordIteration(job, n, summary, promised, fb, exitCode, sha)

		if promised {
			r.deps.Events.Emit(events.New(events.PromiseDetected, job.ID).WithIteration(n))
			return store.ReasonPromiseDetected, nil
		}
	}
	return store.ReasonMaxIterations, nil
}

// runSpecTasks walks the task graph: one eligible task per iteration,
// completion signaled by <task-complete>ID</task-complete>.
func (r *Loop) runSpecTasks(ctx context.Context, job *store.Job, worktree string) (string, error) {
	if job.SpecOutput == nil || len(job.SpecOutput.Tasks) == 0 {
		return store.ReasonIterationError, fmt.Errorf("spec-task job %s has no tasks", job.ID)
	}
	tasks := job.SpecOutput.Tasks
	completed := make(map[int]bool)
	max := maxIterations(job)

	for n := 1; n <= max; n++ {
		task := specpipe.NextTask(tasks, completed)
		if task == nil {
			return store.ReasonAllStoriesComplete, nil
		}

		prompt := r.buildTaskPrompt(job, task, n, max)
		taskID := task.ID
		output, exitCode, err := r.runIteration(ctx, job, worktree, n, prompt, nil, &taskID)
		if err != nil {
			if n < max {
				continue
			}
			return store.ReasonIterationError, fmt.Errorf("iteration %d failed: %w", n, err)
		}

		summary := ExtractSummary(output)
		sha := r.commitIteration(ctx, job, worktree, n, summary)
		fb := r.deps.Feedback.Run(ctx, worktree, job.FeedbackCommands)

		done := false
		if id, ok := specpipe.DetectTaskComplete(output); ok && id == task.ID {
			completed[id] = true
			done = true
		}
		r.recordIteration(job, n, summary, done, fb, exitCode, sha)

		if done && specpipe.NextTask(tasks, completed) == nil {
			return store.ReasonAllStoriesComplete, nil
		}
	}
	return store.ReasonMaxIterations, nil
}

// runIteration creates the iteration row, invokes the CLI, and updates
// the job's iteration counters. A non-nil error means the CLI exited
// non-zero; the iteration row is finished either way by the caller via
// recordIteration, except on error where it is finished here.
func (r *Loop) runIteration(ctx context.Context, job *store.Job, worktree string, n int, prompt string, storyID, taskID *int) (string, int, error) {
	it := &store.JobIteration{JobID: job.ID, Number: n, Prompt: prompt, StoryID: storyID, TaskID: taskID}
	if err := r.deps.Store.CreateIteration(it); err != nil {
		return "", 0, err
	}
	max := maxIterations(job)
	if err := r.deps.Store.SetJobIterationProgress(job.ID, n, max); err != nil {
		r.deps.logger().Warn("failed to update iteration progress", "job", job.ID, "error", err)
	}
	r.deps.Events.Emit(events.New(events.IterationStarted, job.ID).WithIteration(n))

	res, err := r.invoke(ctx, job, worktree, prompt)
	if err != nil {
		exitCode := -1
		if res != nil {
			exitCode = res.ExitCode
		}
		if ferr := r.deps.Store.FinishIteration(job.ID, n, nil, false, nil, &exitCode, nil); ferr != nil {
			r.deps.logger().Warn("failed to finish iteration", "job", job.ID, "error", ferr)
		}
		r.deps.Events.Emit(events.New(events.IterationFailed, job.ID).WithIteration(n).WithError(err))
		return "", exitCode, err
	}
	return res.Output, res.ExitCode, nil
}

// commitIteration commits the iteration's changes, returning the sha or
// nil when the worktree was clean.
func (r *Loop) commitIteration(ctx context.Context, job *store.Job, worktree string, n int, summary string) *string {
	excerpt := summary
	if i := strings.IndexByte(excerpt, '\n'); i >= 0 {
		excerpt = excerpt[:i]
	}
	if len(excerpt) > 72 {
		excerpt = excerpt[:72]
	}
	sha, changed, err := r.deps.Workspace.Commit(ctx, worktree, fmt.Sprintf("iter %d: %s", n, excerpt))
	if err != nil {
		r.deps.logger().Warn("failed to commit iteration", "job", job.ID, "iteration", n, "error", err)
		return nil
	}
	if !changed {
		return nil
	}
	r.deps.Events.Emit(events.New(events.IterationCommitted, job.ID).WithIteration(n).WithPayload(sha))
	return &sha
}

func (r *Loop) recordIteration(job *store.Job, n int, summary string, promised bool, fb *feedback.Result, exitCode int, sha *string) {
	if err := r.deps.Store.FinishIteration(job.ID, n, &summary, promised, fb, &exitCode, sha); err != nil {
		r.deps.logger().Warn("failed to finish iteration", "job", job.ID, "iteration", n, "error", err)
	}
	r.deps.Events.Emit(events.New(events.IterationCompleted, job.ID).WithIteration(n))
}

func (r *Loop) finishFailed(job *store.Job, reason string, failure error) {
	msg := failure.Error()
	applied, err := r.deps.Store.FinishJob(job.ID, store.Terminal{
		Status:           store.StatusFailed,
		Error:            &msg,
		CompletionReason: &reason,
	})
	if err != nil {
		r.deps.logger().Error("failed to record job failure", "job", job.ID, "error", err)
		return
	}
	if applied {
		r.deps.Events.Emit(events.New(events.JobFailed, job.ID).WithError(failure))
	}
}

// buildLoopPrompt assembles the per-iteration prompt: loop context,
// progress memo carried over from prior iterations, the base prompt,
// and the standing instructions.
func (r *Loop) buildLoopPrompt(job *store.Job, worktree string, n, max int, token string, prevFeedback *feedback.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are on iteration %d of %d of an autonomous coding loop.\n", n, max)
	fmt.Fprintf(&b, "When the work described below is fully complete, output the literal token %s on its own line.\n\n", token)

	if progress := readProgress(worktree); progress != "" {
		b.WriteString("## Progress so far\n\n")
		b.WriteString(progress)
		b.WriteString("\n\n")
	}

	if prevFeedback != nil && !prevFeedback.Passed {
		b.WriteString("## Failing checks from the previous iteration (fix these first)\n\n")
		b.WriteString(prevFeedback.Summary)
		b.WriteString("\n")
		for _, f := range prevFeedback.FailedTests {
			b.WriteString("- " + f + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Task\n\n")
	b.WriteString(job.Prompt)
	b.WriteString("\n\n")

	b.WriteString("## Instructions\n\n")
	b.WriteString("- End your output with a \"## Summary\" section describing what you did this iteration.\n")
	fmt.Fprintf(&b, "- Append a short progress note to %s in the repository root.\n", progressFile)
	fmt.Fprintf(&b, "- Only output %s when the entire task is done and all checks pass.\n", token)

	return b.String()
}

// buildTaskPrompt assembles the per-task prompt for spec-task mode.
func (r *Loop) buildTaskPrompt(job *store.Job, task *specpipe.Task, n, max int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are on iteration %d of %d, implementing one task from a pre-planned task list.\n\n", n, max)
	fmt.Fprintf(&b, "## Task %d: %s\n\n%s\n\n", task.ID, task.Title, task.Description)

	if len(task.Files) > 0 {
		b.WriteString("Files involved:\n")
		for _, f := range task.Files {
			b.WriteString("- " + f + "\n")
		}
		b.WriteString("\n")
	}
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			b.WriteString("- " + c + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Instructions\n\n")
	b.WriteString("- Implement ONLY this task. Do not start other tasks.\n")
	b.WriteString("- End your output with a \"## Summary\" section.\n")
	fmt.Fprintf(&b, "- When this task is fully implemented and verified, output <task-complete>%d</task-complete> on its own line.\n", task.ID)

	return b.String()
}

func readProgress(worktree string) string {
	data, err := os.ReadFile(filepath.Join(worktree, progressFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
