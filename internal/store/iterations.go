package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/forgeline/foreman/internal/feedback"
)

// CreateIteration inserts a per-iteration record when an iteration
// begins. The (job_id, iteration_number) pair is unique.
func (s *Store) CreateIteration(it *JobIteration) error {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	res, err := s.conn.Exec(
		`INSERT INTO agent_job_iterations
			(job_id, iteration_number, prompt, story_id, task_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		it.JobID, it.Number, it.Prompt, it.StoryID, it.TaskID, it.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create iteration: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read iteration id: %w", err)
	}
	it.ID = id
	return nil
}

// FinishIteration records the outcome of an iteration.
func (s *Store) FinishIteration(jobID string, number int, summary *string, promiseDetected bool, fb *feedback.Result, exitCode *int, commitSHA *string) error {
	fbJSON, err := marshalJSON(nilFeedback(fb))
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(
		`UPDATE agent_job_iterations
		 SET summary = ?, promise_detected = ?, feedback = ?, exit_code = ?, commit_sha = ?
		 WHERE job_id = ? AND iteration_number = ?`,
		summary, promiseDetected, fbJSON, exitCode, commitSHA, jobID, number)
	if err != nil {
		return fmt.Errorf("failed to finish iteration: %w", err)
	}
	return nil
}

// ListIterations returns a job's iterations in order.
func (s *Store) ListIterations(jobID string) ([]*JobIteration, error) {
	rows, err := s.conn.Query(
		`SELECT id, job_id, iteration_number, prompt, summary, promise_detected,
			feedback, exit_code, commit_sha, story_id, task_id, created_at
		 FROM agent_job_iterations WHERE job_id = ? ORDER BY iteration_number ASC`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	var its []*JobIteration
	for rows.Next() {
		var it JobIteration
		var fbJSON sql.NullString
		if err := rows.Scan(&it.ID, &it.JobID, &it.Number, &it.Prompt, &it.Summary,
			&it.PromiseDetected, &fbJSON, &it.ExitCode, &it.CommitSHA,
			&it.StoryID, &it.TaskID, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		if fbJSON.Valid && fbJSON.String != "" {
			it.Feedback = &feedback.Result{}
			if err := unmarshalJSON(fbJSON, it.Feedback); err != nil {
				return nil, err
			}
		}
		its = append(its, &it)
	}
	return its, rows.Err()
}

func nilFeedback(fb *feedback.Result) any {
	if fb == nil {
		return nil
	}
	return fb
}
