package runner

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/forgeline/foreman/internal/events"
	"github.com/forgeline/foreman/internal/specpipe"
	"github.com/forgeline/foreman/internal/store"
)

// SpecPipeline executes exactly one phase of the six-phase authoring
// state machine per job, merging the phase artifact into the feature's
// spec output and enqueueing the next phase when auto-progression
// applies.
type SpecPipeline struct {
	base
}

// NewSpecPipeline creates the spec pipeline runner.
func NewSpecPipeline(deps *Dependencies) *SpecPipeline {
	return &SpecPipeline{base{deps: deps}}
}

// Run drives the job to a terminal state.
func (r *SpecPipeline) Run(ctx context.Context, job *store.Job) error {
	phase := job.SpecPhase
	if !phase.Valid() {
		r.fail(job, fmt.Errorf("spec job %s has invalid phase %q", job.ID, phase))
		return nil
	}
	if job.FeatureID == nil {
		r.fail(job, fmt.Errorf("spec job %s has no feature", job.ID))
		return nil
	}

	feature, err := r.deps.Store.GetFeature(*job.FeatureID)
	if err != nil {
		r.fail(job, err)
		return nil
	}
	if feature == nil {
		r.fail(job, fmt.Errorf("feature %s not found", *job.FeatureID))
		return nil
	}
	client, err := r.deps.Store.GetClient(feature.ClientID)
	if err != nil {
		r.fail(job, err)
		return nil
	}
	if client == nil {
		r.fail(job, fmt.Errorf("client %s not found", feature.ClientID))
		return nil
	}

	repo, worktree, cleanup, err := r.setup(ctx, job)
	if err != nil {
		r.fail(job, err)
		return nil
	}
	defer cleanup()

	out := feature.SpecOutput
	if out == nil {
		out = &specpipe.Output{}
	}

	r.deps.Events.Emit(events.New(events.PhaseStarted, job.ID).WithPayload(string(phase)))

	// Stored constitutions short-circuit the CLI; regeneration is done
	// by clearing the client's constitution before re-enqueueing.
	if phase == specpipe.PhaseConstitution && client.Constitution != nil && *client.Constitution != "" {
		out.Constitution = &specpipe.ConstitutionResult{Constitution: *client.Constitution}
		out.Phase = specpipe.PhaseConstitution
		r.system(job, "reusing stored constitution")
		r.finishPhase(ctx, job, feature, phase, out, 0)
		return nil
	}

	if feature.PRD != nil {
		if err := writePRDFile(worktree, feature.PRD); err != nil {
			r.fail(job, err)
			return nil
		}
	}

	pctx := r.promptContext(feature, client, repo, out)
	prompt, err := specpipe.BuildPhasePrompt(phase, pctx)
	if err != nil {
		r.fail(job, err)
		return nil
	}

	res, err := r.invoke(ctx, job, worktree, prompt)
	if err != nil {
		r.fail(job, fmt.Errorf("coder invocation failed: %w", err))
		return nil
	}

	payload := specpipe.ExtractJSON(res.Output)
	if err := out.Merge(phase, []byte(payload)); err != nil {
		// Keep the raw output for debugging the shape failure.
		r.system(job, res.Output)
		r.fail(job, fmt.Errorf("phase %s output rejected: %w", phase, err))
		return nil
	}
	r.deps.Events.Emit(events.New(events.PhaseMerged, job.ID).WithPayload(string(phase)))

	if phase == specpipe.PhasePlan {
		if err := r.judgeLoop(ctx, job, worktree, out); err != nil {
			r.fail(job, err)
			return nil
		}
	}

	r.finishPhase(ctx, job, feature, phase, out, res.ExitCode)

	if phase == specpipe.PhaseConstitution && out.Constitution != nil {
		if err := r.deps.Store.SetClientConstitution(client.ID, out.Constitution.Constitution); err != nil {
			r.deps.logger().Warn("failed to store client constitution", "job", job.ID, "error", err)
		}
	}
	return nil
}

// finishPhase persists the merged output, updates the workflow stage,
// enqueues the next phase if auto-progression applies, and completes
// the job.
func (r *SpecPipeline) finishPhase(ctx context.Context, job *store.Job, feature *store.Feature, phase specpipe.Phase, out *specpipe.Output, exitCode int) {
	if err := r.deps.Store.SetFeatureSpecOutput(feature.ID, out); err != nil {
		r.fail(job, err)
		return
	}

	action := specpipe.NextAction(phase, out)
	stage := specpipe.StageCode(phase, action)
	if err := r.deps.Store.SetFeatureWorkflowStage(feature.ID, stage); err != nil {
		r.deps.logger().Warn("failed to set workflow stage", "job", job.ID, "error", err)
	}

	switch action {
	case specpipe.ActionWaitHuman:
		r.system(job, fmt.Sprintf("%d clarification(s) awaiting answers", out.UnansweredClarifications()))
		r.deps.Events.Emit(events.New(events.PhaseWaiting, job.ID).WithPayload(stage))
	case specpipe.ActionAnalyzeFailed:
		r.system(job, "analysis did not pass; pipeline halted for review")
		r.deps.Events.Emit(events.New(events.PhaseWaiting, job.ID).WithPayload(stage))
	case specpipe.ActionAutoProgress:
		next, _ := phase.Next()
		if err := r.enqueueNextPhase(job, next); err != nil {
			r.fail(job, fmt.Errorf("failed to enqueue %s phase: %w", next, err))
			return
		}
		r.deps.Events.Emit(events.New(events.PhaseAdvanced, job.ID).WithPayload(string(next)))
	case specpipe.ActionComplete:
		r.deps.Events.Emit(events.New(events.PhaseAdvanced, job.ID).WithPayload(string(specpipe.ActionComplete)))
	}

	r.complete(job, store.Terminal{ExitCode: &exitCode})
}

// enqueueNextPhase inserts a queued spec job for the next phase with the
// same client/feature/repository and wakes the scheduler. The terminal
// write for the current job happens after this, but the next job cannot
// start before this one's slot frees, so phase order is preserved.
func (r *SpecPipeline) enqueueNextPhase(job *store.Job, next specpipe.Phase) error {
	if r.deps.Enqueue == nil {
		return fmt.Errorf("no enqueue hook configured")
	}
	return r.deps.Enqueue(&store.Job{
		ID:           ulid.Make().String(),
		ClientID:     job.ClientID,
		FeatureID:    job.FeatureID,
		RepositoryID: job.RepositoryID,
		CreatedByID:  job.CreatedByID,
		Type:         store.TypeSpec,
		Status:       store.StatusQueued,
		Prompt:       job.Prompt,
		BranchName:   job.BranchName,
		SpecPhase:    next,
	})
}

// judgeLoop runs the plan-phase quality gate: judge, and on failure
// improve and re-judge, up to MaxJudgeIterations rounds.
func (r *SpecPipeline) judgeLoop(ctx context.Context, job *store.Job, worktree string, out *specpipe.Output) error {
	for i := 1; i <= specpipe.MaxJudgeIterations; i++ {
		res, err := r.invoke(ctx, job, worktree, specpipe.BuildJudgePrompt(out.Plan))
		if err != nil {
			return fmt.Errorf("judge invocation failed: %w", err)
		}
		verdict, err := specpipe.ParseJudgeResult(res.Output)
		if err != nil {
			r.system(job, res.Output)
			return fmt.Errorf("judge output rejected: %w", err)
		}
		r.deps.Events.Emit(events.New(events.JudgeEvaluated, job.ID).WithIteration(i).WithPayload(verdict.OverallScore))

		if verdict.Passed {
			return nil
		}
		if i == specpipe.MaxJudgeIterations {
			r.system(job, fmt.Sprintf("plan failed judge after %d iterations; manual review required", i))
			return nil
		}

		res, err = r.invoke(ctx, job, worktree, specpipe.BuildImprovePrompt(out.Plan, verdict))
		if err != nil {
			return fmt.Errorf("improve invocation failed: %w", err)
		}
		improvement, err := specpipe.ParseImprovement(res.Output)
		if err != nil {
			r.system(job, res.Output)
			return fmt.Errorf("improve output rejected: %w", err)
		}
		out.Plan = improvement.ImprovedPlan
	}
	return nil
}

func (r *SpecPipeline) promptContext(feature *store.Feature, client *store.Client, repo *store.Repository, out *specpipe.Output) *specpipe.PromptContext {
	pctx := &specpipe.PromptContext{
		FeatureTitle: feature.Title,
		ClientName:   client.Name,
		RepoName:     repo.RepoName,
	}
	if feature.FunctionalityNotes != nil {
		pctx.FeatureDescription = *feature.FunctionalityNotes
	}
	if feature.FeatureTypeID != nil {
		pctx.FeatureTypeID = *feature.FeatureTypeID
	}
	if out.Constitution != nil {
		pctx.Constitution = out.Constitution.Constitution
		pctx.TechStack = out.Constitution.TechStack
	}
	pctx.Spec = out.Spec
	pctx.Plan = out.Plan
	pctx.Clarifications = out.Clarifications
	return pctx
}
