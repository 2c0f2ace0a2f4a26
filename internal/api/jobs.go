package api

import (
	"net/http"
	"strconv"

	"github.com/oklog/ulid/v2"

	"github.com/forgeline/foreman/internal/prd"
	"github.com/forgeline/foreman/internal/store"
)

type createJobRequest struct {
	ClientID          string        `json:"clientId"`
	RepositoryID      string        `json:"repositoryId"`
	FeatureID         string        `json:"featureId"`
	Type              string        `json:"type"`
	PRDMode           bool          `json:"prdMode"`
	Prompt            string        `json:"prompt"`
	BranchName        string        `json:"branchName"`
	Title             string        `json:"title"`
	MaxIterations     int           `json:"maxIterations"`
	CompletionPromise string        `json:"completionPromise"`
	FeedbackCommands  []string      `json:"feedbackCommands"`
	PRD               *prd.Document `json:"prd"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}

	jobType := store.JobType(req.Type)
	if req.Type == "" {
		jobType = store.TypeCode
	}
	switch jobType {
	case store.TypeCode, store.TypeRalph, store.TypePRDGeneration:
	case store.TypeSpec:
		writeError(w, http.StatusBadRequest, "spec jobs are started via /v1/features/{id}/spec/start")
		return
	default:
		writeError(w, http.StatusBadRequest, "unknown job type: %q", req.Type)
		return
	}

	if req.MaxIterations < 0 {
		writeError(w, http.StatusBadRequest, "maxIterations cannot be negative")
		return
	}

	doc := req.PRD
	if req.PRDMode && doc == nil && req.FeatureID != "" {
		feature, err := s.store.GetFeature(req.FeatureID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		if feature != nil {
			doc = feature.PRD
		}
	}
	if req.PRDMode && doc == nil {
		writeError(w, http.StatusBadRequest, "prdMode requires a prd document or a feature that has one")
		return
	}
	if doc != nil {
		if err := doc.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid prd: %v", err)
			return
		}
	}

	job := &store.Job{
		ID:                ulid.Make().String(),
		ClientID:          req.ClientID,
		Type:              jobType,
		PRDMode:           req.PRDMode,
		Prompt:            req.Prompt,
		BranchName:        req.BranchName,
		MaxIterations:     req.MaxIterations,
		CompletionPromise: req.CompletionPromise,
		FeedbackCommands:  req.FeedbackCommands,
		PRD:               doc,
	}
	if req.RepositoryID != "" {
		job.RepositoryID = &req.RepositoryID
	}
	if req.FeatureID != "" {
		job.FeatureID = &req.FeatureID
	}
	if req.Title != "" {
		job.Title = &req.Title
	}

	if err := s.dispatcher.Enqueue(job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue job: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobView(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := store.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case "", store.StatusQueued, store.StatusRunning, store.StatusCompleted,
		store.StatusFailed, store.StatusCancelled:
	default:
		writeError(w, http.StatusBadRequest, "unknown status: %q", status)
		return
	}
	limit := intQuery(r, "limit", 50)

	jobs, err := s.store.ListJobs(status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": toJobViews(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

func (s *Server) handleJobMessages(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	limit := intQuery(r, "limit", 0)

	msgs, err := s.store.ListMessages(job.ID, after, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toMessageViews(msgs)})
}

func (s *Server) handleJobIterations(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	its, err := s.store.ListIterations(job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"iterations": toIterationViews(its)})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if err := s.dispatcher.Cancel(job.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel job: %v", err)
		return
	}
	// The write is conditional: a job that finished first keeps its
	// natural terminal status.
	updated, err := s.store.GetJob(job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, toJobView(updated))
}

// handleRetryJob clones a terminal job's inputs into a fresh queued job.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if !job.Status.IsTerminal() {
		writeError(w, http.StatusConflict, "job %s is %s; only terminal jobs can be retried", job.ID, job.Status)
		return
	}

	retry := &store.Job{
		ID:                ulid.Make().String(),
		ClientID:          job.ClientID,
		FeatureID:         job.FeatureID,
		RepositoryID:      job.RepositoryID,
		Type:              job.Type,
		PRDMode:           job.PRDMode,
		Prompt:            job.Prompt,
		BranchName:        job.BranchName,
		Title:             job.Title,
		MaxIterations:     job.MaxIterations,
		CompletionPromise: job.CompletionPromise,
		FeedbackCommands:  job.FeedbackCommands,
		PRD:               job.PRD,
		SpecPhase:         job.SpecPhase,
		SpecOutput:        job.SpecOutput,
	}
	if err := s.dispatcher.Enqueue(retry); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue retry: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobView(retry))
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	running, err := s.store.CountRunning()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	queued, err := s.store.CountQueued()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"running":       running,
		"queued":        queued,
		"maxConcurrent": s.maxConcurrent,
	})
}

// loadJob resolves the {id} path value, writing a 404 when missing.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*store.Job, bool) {
	id := r.PathValue("id")
	job, err := s.store.GetJob(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return nil, false
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job %s not found", id)
		return nil, false
	}
	return job, true
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
