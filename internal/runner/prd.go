package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgeline/foreman/internal/events"
	"github.com/forgeline/foreman/internal/prd"
	"github.com/forgeline/foreman/internal/specpipe"
	"github.com/forgeline/foreman/internal/store"
)

const prdFile = "prd.json"

// PRD drives the coder CLI one story at a time: each iteration targets
// the first unpassed story in document order, and the CLI reports
// completion by flipping that story's passes flag in prd.json.
type PRD struct {
	base
}

// NewPRD creates the PRD runner.
func NewPRD(deps *Dependencies) *PRD {
	return &PRD{base{deps: deps}}
}

// Run drives the job to a terminal state.
func (r *PRD) Run(ctx context.Context, job *store.Job) error {
	if job.PRD == nil {
		r.fail(job, fmt.Errorf("prd job %s has no prd document", job.ID))
		return nil
	}
	if err := job.PRD.Validate(); err != nil {
		r.fail(job, fmt.Errorf("invalid prd: %w", err))
		return nil
	}

	repo, worktree, cleanup, err := r.setup(ctx, job)
	if err != nil {
		r.fail(job, err)
		return nil
	}
	defer cleanup()

	reason, runErr := r.runStories(ctx, job, worktree)
	if runErr != nil {
		msg := runErr.Error()
		if _, err := r.deps.Store.FinishJob(job.ID, store.Terminal{
			Status:           store.StatusFailed,
			Error:            &msg,
			CompletionReason: &reason,
		}); err != nil {
			r.deps.logger().Error("failed to record job failure", "job", job.ID, "error", err)
		}
		return nil
	}

	// Push and open the PR even when not every story finished; partial
	// progress is still reviewable.
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

func (r *PRD) runStories(ctx context.Context, job *store.Job, worktree string) (string, error) {
	doc := job.PRD
	progress := job.PRDProgress
	if progress == nil {
		progress = &prd.Progress{}
	}
	max := maxIterations(job)

	for n := 1; n <= max; n++ {
		story := doc.NextStory(progress.CompletedStoryIDs)
		if story == nil {
			return store.ReasonAllStoriesComplete, nil
		}

		if err := writePRDFile(worktree, doc); err != nil {
			return store.ReasonIterationError, err
		}

		prompt := r.buildStoryPrompt(job, doc, story, n, max)
		storyID := story.ID
		it := &store.JobIteration{JobID: job.ID, Number: n, Prompt: prompt, StoryID: &storyID}
		if err := r.deps.Store.CreateIteration(it); err != nil {
			return store.ReasonIterationError, err
		}
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
			if n < max {
				continue
			}
			return store.ReasonIterationError, fmt.Errorf("iteration %d failed: %w", n, err)
		}

		summary := ExtractSummary(res.Output)

		// Commit anything the CLI left unstaged, then read HEAD as the
		// sha attributed to this iteration's story completions.
		commitMsg := fmt.Sprintf("feat: [%d] %s", story.ID, story.Title)
		if _, _, err := r.deps.Workspace.Commit(ctx, worktree, commitMsg); err != nil {
			r.deps.logger().Warn("failed to commit story changes", "job", job.ID, "error", err)
		}
		sha, err := r.deps.Workspace.HeadSHA(ctx, worktree)
		if err != nil {
			r.deps.logger().Warn("failed to read HEAD", "job", job.ID, "error", err)
		}

		// The CLI updates prd.json in the worktree; read it back to see
		// which stories now pass.
		if updated, err := readPRDFile(worktree); err == nil {
			doc = updated
		} else {
			r.system(job, fmt.Sprintf("could not read back %s: %v", prdFile, err))
		}

		now := time.Now().UTC()
		for _, passed := range prd.NewlyPassed(doc, progress.CompletedStoryIDs) {
			progress.Record(passed.ID, sha, fmt.Sprintf("feat: [%d] %s", passed.ID, passed.Title), now)
		}
		progress.CurrentStoryID = story.ID
		if err := r.deps.Store.SetJobPRDProgress(job.ID, progress); err != nil {
			r.deps.logger().Warn("failed to persist prd progress", "job", job.ID, "error", err)
		}
		if job.FeatureID != nil {
			if err := r.deps.Store.SetFeaturePRD(*job.FeatureID, doc); err != nil {
				r.deps.logger().Warn("failed to persist feature prd", "job", job.ID, "error", err)
			}
		}

		fb := r.deps.Feedback.Run(ctx, worktree, job.FeedbackCommands)
		promised := DetectPromise(res.Output, promiseToken(job))
		exitCode := res.ExitCode
		var shaPtr *string
		if sha != "" {
			shaPtr = &sha
		}
		if err := r.deps.Store.FinishIteration(job.ID, n, &summary, promised, fb, &exitCode, shaPtr); err != nil {
			r.deps.logger().Warn("failed to finish iteration", "job", job.ID, "error", err)
		}
		r.deps.Events.Emit(events.New(events.IterationCompleted, job.ID).WithIteration(n))

		if promised {
			r.deps.Events.Emit(events.New(events.PromiseDetected, job.ID).WithIteration(n))
			return store.ReasonPromiseDetected, nil
		}
	}
	return store.ReasonMaxIterations, nil
}

func (r *PRD) buildStoryPrompt(job *store.Job, doc *prd.Document, story *prd.Story, n, max int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are on iteration %d of %d, implementing the PRD \"%s\" one story at a time.\n\n", n, max, doc.Title)
	fmt.Fprintf(&b, "## Current story: [%d] %s\n\n", story.ID, story.Title)
	if story.Description != "" {
		b.WriteString(story.Description + "\n\n")
	}
	if len(story.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, c := range story.AcceptanceCriteria {
			b.WriteString("- " + c + "\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "You are working on branch %s. The full PRD is in %s at the repository root.\n\n", branchName(job), prdFile)

	b.WriteString("## Instructions\n\n")
	b.WriteString("- Implement ONLY this one story. Do NOT implement any other story in this iteration.\n")
	b.WriteString("- Run the project's quality checks before finishing.\n")
	fmt.Fprintf(&b, "- When the story is done, set its \"passes\" field to true in %s.\n", prdFile)
	b.WriteString("- Append a short note about what you did to progress.txt.\n")
	fmt.Fprintf(&b, "- Commit your work with the message: feat: [%d] %s\n", story.ID, story.Title)
	fmt.Fprintf(&b, "- Output %s ONLY when every story in the PRD passes.\n", promiseToken(job))
	b.WriteString("- End your output with a \"## Summary\" section.\n")

	return b.String()
}

func writePRDFile(worktree string, doc *prd.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode prd: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree, prdFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", prdFile, err)
	}
	return nil
}

func readPRDFile(worktree string) (*prd.Document, error) {
	data, err := os.ReadFile(filepath.Join(worktree, prdFile))
	if err != nil {
		return nil, err
	}
	return prd.Parse(data)
}

// PRDGeneration produces a PRD document from a feature description with
// a single CLI invocation and stores it on the feature.
type PRDGeneration struct {
	base
}

// NewPRDGeneration creates the PRD-generation runner.
func NewPRDGeneration(deps *Dependencies) *PRDGeneration {
	return &PRDGeneration{base{deps: deps}}
}

// Run drives the job to a terminal state.
func (r *PRDGeneration) Run(ctx context.Context, job *store.Job) error {
	_, worktree, cleanup, err := r.setup(ctx, job)
	if err != nil {
		r.fail(job, err)
		return nil
	}
	defer cleanup()

	prompt := r.buildPrompt(job)
	res, err := r.invoke(ctx, job, worktree, prompt)
	if err != nil {
		r.fail(job, fmt.Errorf("coder invocation failed: %w", err))
		return nil
	}

	doc, err := prd.Parse([]byte(specpipe.ExtractJSON(res.Output)))
	if err != nil {
		r.system(job, res.Output)
		r.fail(job, fmt.Errorf("failed to parse generated prd: %w", err))
		return nil
	}

	if job.FeatureID != nil {
		if err := r.deps.Store.SetFeaturePRD(*job.FeatureID, doc); err != nil {
			r.fail(job, err)
			return nil
		}
	}

	exitCode := res.ExitCode
	r.complete(job, store.Terminal{ExitCode: &exitCode})
	return nil
}

func (r *PRDGeneration) buildPrompt(job *store.Job) string {
	var b strings.Builder
	b.WriteString("Analyze this repository and write a PRD for the feature described below.\n\n")
	b.WriteString("## Feature\n\n")
	b.WriteString(job.Prompt)
	b.WriteString("\n\n## Output\n\n")
	b.WriteString("Respond with a single JSON object in a ```json fence:\n")
	b.WriteString(`{"title": string, "description": string, "stories": [{"id": int (1-indexed), "title": string, "description": string, "acceptanceCriteria": [string], "passes": false}]}`)
	b.WriteString("\nOrder stories by priority; every story must start with passes=false.\n")
	return b.String()
}
