package api

import (
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/forgeline/foreman/internal/specpipe"
	"github.com/forgeline/foreman/internal/store"
)

type specStartRequest struct {
	Phase        string `json:"phase"`
	Force        bool   `json:"force"`
	RepositoryID string `json:"repositoryId"`
	Prompt       string `json:"prompt"`
	BranchName   string `json:"branchName"`
}

// handleSpecStart enqueues a spec pipeline job for a feature. The
// default entry point is the constitution phase; force clears the
// client's stored constitution so it is regenerated instead of reused.
func (s *Server) handleSpecStart(w http.ResponseWriter, r *http.Request) {
	feature, ok := s.loadFeature(w, r)
	if !ok {
		return
	}
	var req specStartRequest
	if !decodeBody(w, r, &req) {
		return
	}

	phase := specpipe.Phase(req.Phase)
	if req.Phase == "" {
		phase = specpipe.PhaseConstitution
	}
	if !phase.Valid() {
		writeError(w, http.StatusBadRequest, "unknown phase: %q", req.Phase)
		return
	}
	if req.RepositoryID == "" {
		writeError(w, http.StatusBadRequest, "repositoryId is required")
		return
	}

	// One pipeline job per feature at a time; the scheduler also guards
	// this at dispatch, but rejecting here gives the caller a clear 409.
	busy, err := s.store.RunningSpecFeatureIDs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if busy[feature.ID] {
		writeError(w, http.StatusConflict, "feature %s already has a spec job running", feature.ID)
		return
	}

	if req.Force && phase == specpipe.PhaseConstitution {
		if err := s.store.ClearClientConstitution(feature.ClientID); err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
	}

	prompt := req.Prompt
	if prompt == "" {
		if feature.FunctionalityNotes != nil {
			prompt = *feature.FunctionalityNotes
		} else {
			prompt = feature.Title
		}
	}

	job := &store.Job{
		ID:           ulid.Make().String(),
		ClientID:     feature.ClientID,
		FeatureID:    &feature.ID,
		RepositoryID: &req.RepositoryID,
		Type:         store.TypeSpec,
		Prompt:       prompt,
		BranchName:   req.BranchName,
		SpecPhase:    phase,
	}
	if err := s.dispatcher.Enqueue(job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue spec job: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobView(job))
}

func (s *Server) handleSpecOutput(w http.ResponseWriter, r *http.Request) {
	feature, ok := s.loadFeature(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"featureId": feature.ID,
		"phase":     string(feature.SpecPhase),
		"stage":     feature.WorkflowStageID,
		"output":    feature.SpecOutput,
	})
}

type clarificationRequest struct {
	ID       string `json:"id"`
	Response string `json:"response"`
}

// handleClarification records a human answer. When the last open
// question is answered the pipeline resumes at the plan phase.
func (s *Server) handleClarification(w http.ResponseWriter, r *http.Request) {
	feature, ok := s.loadFeature(w, r)
	if !ok {
		return
	}
	var req clarificationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" || req.Response == "" {
		writeError(w, http.StatusBadRequest, "id and response are required")
		return
	}
	if feature.SpecOutput == nil {
		writeError(w, http.StatusConflict, "feature %s has no spec output", feature.ID)
		return
	}

	remaining, err := feature.SpecOutput.Answer(req.ID, req.Response, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err := s.store.SetFeatureSpecOutput(feature.ID, feature.SpecOutput); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	resumed := false
	if remaining == 0 {
		if err := s.store.SetFeatureWorkflowStage(feature.ID, "clarify_complete"); err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		job, err := s.resumePipeline(feature, specpipe.PhasePlan)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resume pipeline: %v", err)
			return
		}
		resumed = job != nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"remaining": remaining,
		"resumed":   resumed,
	})
}

// handleSpecApprove advances a halted pipeline past a waiting stage:
// clarify_waiting proceeds with the recorded assumptions, analyze_failed
// overrides the failed analysis.
func (s *Server) handleSpecApprove(w http.ResponseWriter, r *http.Request) {
	feature, ok := s.loadFeature(w, r)
	if !ok {
		return
	}
	if feature.SpecOutput == nil || !feature.SpecOutput.Phase.Valid() {
		writeError(w, http.StatusConflict, "feature %s has no spec phase to approve", feature.ID)
		return
	}
	next, hasNext := feature.SpecOutput.Phase.Next()
	if !hasNext {
		writeError(w, http.StatusConflict, "pipeline already complete for feature %s", feature.ID)
		return
	}

	job, err := s.resumePipeline(feature, next)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resume pipeline: %v", err)
		return
	}
	if job == nil {
		writeError(w, http.StatusConflict, "no previous spec job to resume from; use /spec/start")
		return
	}
	writeJSON(w, http.StatusCreated, toJobView(job))
}

// resumePipeline enqueues the given phase, recovering the repository,
// prompt and branch from the feature's most recent spec job. Returns
// nil, nil when the feature has never run a spec job.
func (s *Server) resumePipeline(feature *store.Feature, phase specpipe.Phase) (*store.Job, error) {
	prev, err := s.store.LatestSpecJob(feature.ID)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}

	job := &store.Job{
		ID:           ulid.Make().String(),
		ClientID:     prev.ClientID,
		FeatureID:    &feature.ID,
		RepositoryID: prev.RepositoryID,
		Type:         store.TypeSpec,
		Prompt:       prev.Prompt,
		BranchName:   prev.BranchName,
		SpecPhase:    phase,
	}
	if err := s.dispatcher.Enqueue(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Server) loadFeature(w http.ResponseWriter, r *http.Request) (*store.Feature, bool) {
	id := r.PathValue("id")
	feature, err := s.store.GetFeature(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return nil, false
	}
	if feature == nil {
		writeError(w, http.StatusNotFound, "feature %s not found", id)
		return nil, false
	}
	return feature, true
}
