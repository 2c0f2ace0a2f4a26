package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/forgeline/foreman/internal/prd"
	"github.com/forgeline/foreman/internal/specpipe"
)

const jobColumns = `id, client_id, feature_id, repository_id, created_by_id,
	job_type, prd_mode, status, prompt, branch_name, title, max_iterations,
	completion_promise, feedback_commands, prd, spec_phase, spec_output,
	exit_code, pr_url, pr_number, files_changed, code_branch_id,
	code_pull_request_id, error, worktree_path, pid, completion_reason,
	current_iteration, total_iterations, prd_progress,
	created_at, started_at, completed_at`

// CreateJob inserts a new job row. CreatedAt defaults to now; Status
// defaults to queued.
func (s *Store) CreateJob(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id cannot be empty")
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	feedbackJSON, err := marshalJSON(nilIfEmpty(job.FeedbackCommands))
	if err != nil {
		return err
	}
	prdJSON, err := marshalJSON(nilDoc(job.PRD))
	if err != nil {
		return err
	}
	specOutputJSON, err := marshalJSON(nilOutput(job.SpecOutput))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO agent_jobs (
			id, client_id, feature_id, repository_id, created_by_id,
			job_type, prd_mode, status, prompt, branch_name, title,
			max_iterations, completion_promise, feedback_commands, prd,
			spec_phase, spec_output, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.Exec(query,
		job.ID, job.ClientID, job.FeatureID, job.RepositoryID, job.CreatedByID,
		string(job.Type), job.PRDMode, string(job.Status), job.Prompt,
		job.BranchName, job.Title, job.MaxIterations, job.CompletionPromise,
		feedbackJSON, prdJSON, nullPhase(job.SpecPhase), specOutputJSON,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by id. Returns nil, nil if the job does not
// exist.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.conn.QueryRow(`SELECT `+jobColumns+` FROM agent_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest-first, optionally filtered by status.
// limit <= 0 means no limit.
func (s *Store) ListJobs(status JobStatus, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM agent_jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryJobs(query, args...)
}

// ListQueuedJobs returns queued jobs in FIFO created_at order.
func (s *Store) ListQueuedJobs() ([]*Job, error) {
	return s.queryJobs(
		`SELECT `+jobColumns+` FROM agent_jobs WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(StatusQueued))
}

// ListRunningJobs returns jobs currently marked running.
func (s *Store) ListRunningJobs() ([]*Job, error) {
	return s.queryJobs(
		`SELECT `+jobColumns+` FROM agent_jobs WHERE status = ? ORDER BY started_at ASC`,
		string(StatusRunning))
}

// LatestSpecJob returns the most recently created spec job for a
// feature, or nil, nil when the feature has none. Used to recover the
// repository and prompt when resuming a halted pipeline.
func (s *Store) LatestSpecJob(featureID string) (*Job, error) {
	jobs, err := s.queryJobs(
		`SELECT `+jobColumns+` FROM agent_jobs
		 WHERE feature_id = ? AND job_type = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		featureID, string(TypeSpec))
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// CountRunning returns the number of running jobs.
func (s *Store) CountRunning() (int, error) {
	var n int
	err := s.conn.QueryRow(
		`SELECT COUNT(*) FROM agent_jobs WHERE status = ?`, string(StatusRunning)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count running jobs: %w", err)
	}
	return n, nil
}

// CountQueued returns the number of queued jobs.
func (s *Store) CountQueued() (int, error) {
	var n int
	err := s.conn.QueryRow(
		`SELECT COUNT(*) FROM agent_jobs WHERE status = ?`, string(StatusQueued)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued jobs: %w", err)
	}
	return n, nil
}

// ClaimQueued transitions a queued job to running, setting started_at.
// Returns false if the job was not queued (already claimed, cancelled,
// or missing); this is the database-level guard against double dispatch.
func (s *Store) ClaimQueued(id string) (bool, error) {
	res, err := s.conn.Exec(
		`UPDATE agent_jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(StatusRunning), time.Now().UTC(), id, string(StatusQueued))
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n == 1, nil
}

// SetJobPID records the live subprocess pid on a job row.
func (s *Store) SetJobPID(id string, pid int) error {
	_, err := s.conn.Exec(`UPDATE agent_jobs SET pid = ? WHERE id = ?`, pid, id)
	if err != nil {
		return fmt.Errorf("failed to set job pid: %w", err)
	}
	return nil
}

// ClearJobPID removes the pid after the subprocess exits.
func (s *Store) ClearJobPID(id string) error {
	_, err := s.conn.Exec(`UPDATE agent_jobs SET pid = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to clear job pid: %w", err)
	}
	return nil
}

// SetJobWorktree records the worktree path on a job row.
func (s *Store) SetJobWorktree(id, path string) error {
	_, err := s.conn.Exec(`UPDATE agent_jobs SET worktree_path = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("failed to set worktree path: %w", err)
	}
	return nil
}

// SetJobIterationProgress updates the iteration counters on a job row.
func (s *Store) SetJobIterationProgress(id string, current, total int) error {
	_, err := s.conn.Exec(
		`UPDATE agent_jobs SET current_iteration = ?, total_iterations = ? WHERE id = ?`,
		current, total, id)
	if err != nil {
		return fmt.Errorf("failed to set iteration progress: %w", err)
	}
	return nil
}

// SetJobPRDProgress persists the PRD progress blob on a job row.
func (s *Store) SetJobPRDProgress(id string, progress *prd.Progress) error {
	data, err := marshalJSON(nilProgress(progress))
	if err != nil {
		return err
	}
	if _, err := s.conn.Exec(`UPDATE agent_jobs SET prd_progress = ? WHERE id = ?`, data, id); err != nil {
		return fmt.Errorf("failed to set prd progress: %w", err)
	}
	return nil
}

// Terminal carries the fields written when a job reaches a final state.
type Terminal struct {
	Status            JobStatus
	ExitCode          *int
	Error             *string
	CompletionReason  *string
	PRURL             *string
	PRNumber          *int
	FilesChanged      *int
	CodeBranchID      *string
	CodePullRequestID *string
}

// FinishJob writes a terminal state. The write is conditional on the job
// not already being terminal, so a cancellation racing natural completion
// resolves to whichever writer got there first. Returns whether the write
// applied.
func (s *Store) FinishJob(id string, t Terminal) (bool, error) {
	if !t.Status.IsTerminal() {
		return false, fmt.Errorf("finish requires a terminal status, got %q", t.Status)
	}

	sets := []string{"status = ?", "completed_at = ?", "pid = NULL"}
	args := []any{string(t.Status), time.Now().UTC()}

	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if t.ExitCode != nil {
		add("exit_code", *t.ExitCode)
	}
	if t.Error != nil {
		add("error", *t.Error)
	}
	if t.CompletionReason != nil {
		add("completion_reason", *t.CompletionReason)
	}
	if t.PRURL != nil {
		add("pr_url", *t.PRURL)
	}
	if t.PRNumber != nil {
		add("pr_number", *t.PRNumber)
	}
	if t.FilesChanged != nil {
		add("files_changed", *t.FilesChanged)
	}
	if t.CodeBranchID != nil {
		add("code_branch_id", *t.CodeBranchID)
	}
	if t.CodePullRequestID != nil {
		add("code_pull_request_id", *t.CodePullRequestID)
	}

	query := `UPDATE agent_jobs SET ` + strings.Join(sets, ", ") +
		` WHERE id = ? AND status NOT IN (?, ?, ?)`
	args = append(args, id,
		string(StatusCompleted), string(StatusFailed), string(StatusCancelled))

	res, err := s.conn.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to finish job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n == 1, nil
}

// CancelJob marks a job cancelled unless it already reached a terminal
// state. Queued jobs cancel directly; running jobs rely on the caller to
// signal the subprocess.
func (s *Store) CancelJob(id string) (bool, error) {
	return s.FinishJob(id, Terminal{Status: StatusCancelled})
}

// RecoverInterrupted rewrites every running job to failed with a fixed
// error string. Called once at daemon startup before dispatch begins.
func (s *Store) RecoverInterrupted() (int, error) {
	res, err := s.conn.Exec(
		`UPDATE agent_jobs SET status = ?, error = ?, completed_at = ?, pid = NULL WHERE status = ?`,
		string(StatusFailed), ErrInterruptedByRestart, time.Now().UTC(), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return int(n), nil
}

// RunningSpecFeatureIDs returns the feature ids that currently have a
// running spec job. Used to serialize spec jobs per feature.
func (s *Store) RunningSpecFeatureIDs() (map[string]bool, error) {
	rows, err := s.conn.Query(
		`SELECT feature_id FROM agent_jobs
		 WHERE status = ? AND job_type = ? AND feature_id IS NOT NULL`,
		string(StatusRunning), string(TypeSpec))
	if err != nil {
		return nil, fmt.Errorf("failed to query running spec jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var fid string
		if err := rows.Scan(&fid); err != nil {
			return nil, fmt.Errorf("failed to scan feature id: %w", err)
		}
		out[fid] = true
	}
	return out, rows.Err()
}

func (s *Store) queryJobs(query string, args ...any) ([]*Job, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                                   Job
		jobType, status                       string
		specPhase                             sql.NullString
		feedbackJSON, prdJSON, specOutputJSON sql.NullString
		progressJSON                          sql.NullString
	)

	err := row.Scan(
		&job.ID, &job.ClientID, &job.FeatureID, &job.RepositoryID, &job.CreatedByID,
		&jobType, &job.PRDMode, &status, &job.Prompt, &job.BranchName, &job.Title,
		&job.MaxIterations, &job.CompletionPromise, &feedbackJSON, &prdJSON,
		&specPhase, &specOutputJSON,
		&job.ExitCode, &job.PRURL, &job.PRNumber, &job.FilesChanged,
		&job.CodeBranchID, &job.CodePullRequestID, &job.Error, &job.WorktreePath,
		&job.PID, &job.CompletionReason, &job.CurrentIteration, &job.TotalIterations,
		&progressJSON, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Type = JobType(jobType)
	job.Status = JobStatus(status)
	if specPhase.Valid {
		job.SpecPhase = specpipe.Phase(specPhase.String)
	}
	if err := unmarshalJSON(feedbackJSON, &job.FeedbackCommands); err != nil {
		return nil, err
	}
	if prdJSON.Valid && prdJSON.String != "" {
		job.PRD = &prd.Document{}
		if err := unmarshalJSON(prdJSON, job.PRD); err != nil {
			return nil, err
		}
	}
	if specOutputJSON.Valid && specOutputJSON.String != "" {
		job.SpecOutput = &specpipe.Output{}
		if err := unmarshalJSON(specOutputJSON, job.SpecOutput); err != nil {
			return nil, err
		}
	}
	if progressJSON.Valid && progressJSON.String != "" {
		job.PRDProgress = &prd.Progress{}
		if err := unmarshalJSON(progressJSON, job.PRDProgress); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

func nilIfEmpty(s []string) any {
	if len(s) == 0 {
		return nil
	}
	return s
}

func nilDoc(d *prd.Document) any {
	if d == nil {
		return nil
	}
	return d
}

func nilOutput(o *specpipe.Output) any {
	if o == nil {
		return nil
	}
	return o
}

func nilProgress(p *prd.Progress) any {
	if p == nil {
		return nil
	}
	return p
}

func nullPhase(p specpipe.Phase) any {
	if p == "" {
		return nil
	}
	return string(p)
}
