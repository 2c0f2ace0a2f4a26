package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite connection with typed gateway operations for
// jobs, messages, iterations, features, and repository provenance.
type Store struct {
	conn *sql.DB
}

// Open creates or opens the SQLite database at path. It enables WAL mode
// and foreign keys and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// migrate creates or updates the database schema.
func (s *Store) migrate() error {
	schema := `
-- Clients: tenants owning features and repositories
CREATE TABLE IF NOT EXISTS clients (
    id                        TEXT PRIMARY KEY,
    name                      TEXT NOT NULL,
    constitution              TEXT,
    constitution_generated_at DATETIME
);

-- Repositories: hosted git repositories per client
CREATE TABLE IF NOT EXISTS code_repositories (
    id             TEXT PRIMARY KEY,
    client_id      TEXT NOT NULL REFERENCES clients(id),
    provider       TEXT NOT NULL DEFAULT 'github',
    owner_name     TEXT NOT NULL,
    repo_name      TEXT NOT NULL,
    default_branch TEXT NOT NULL DEFAULT 'main',
    url            TEXT NOT NULL DEFAULT ''
);

-- Features: authoring-side aggregates
CREATE TABLE IF NOT EXISTS features (
    id                        TEXT PRIMARY KEY,
    client_id                 TEXT NOT NULL REFERENCES clients(id),
    title                     TEXT NOT NULL,
    functionality_notes       TEXT,
    client_context            TEXT,
    feature_type_id           TEXT,
    prd                       TEXT,
    spec_output               TEXT,
    spec_phase                TEXT,
    feature_workflow_stage_id TEXT
);

-- Jobs: dispatched units of work
CREATE TABLE IF NOT EXISTS agent_jobs (
    id                   TEXT PRIMARY KEY,
    client_id            TEXT NOT NULL,
    feature_id           TEXT,
    repository_id        TEXT,
    created_by_id        TEXT,
    job_type             TEXT NOT NULL,
    prd_mode             INTEGER NOT NULL DEFAULT 0,
    status               TEXT NOT NULL,
    prompt               TEXT NOT NULL,
    branch_name          TEXT NOT NULL DEFAULT '',
    title                TEXT,
    max_iterations       INTEGER NOT NULL DEFAULT 0,
    completion_promise   TEXT NOT NULL DEFAULT '',
    feedback_commands    TEXT,
    prd                  TEXT,
    spec_phase           TEXT,
    spec_output          TEXT,
    exit_code            INTEGER,
    pr_url               TEXT,
    pr_number            INTEGER,
    files_changed        INTEGER,
    code_branch_id       TEXT,
    code_pull_request_id TEXT,
    error                TEXT,
    worktree_path        TEXT,
    pid                  INTEGER,
    completion_reason    TEXT,
    current_iteration    INTEGER,
    total_iterations     INTEGER,
    prd_progress         TEXT,
    created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started_at           DATETIME,
    completed_at         DATETIME
);

-- Messages: append-only job transcript
CREATE TABLE IF NOT EXISTS agent_job_messages (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id     TEXT NOT NULL REFERENCES agent_jobs(id) ON DELETE CASCADE,
    kind       TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Iterations: per-iteration records for loop/PRD/spec runners
CREATE TABLE IF NOT EXISTS agent_job_iterations (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id           TEXT NOT NULL REFERENCES agent_jobs(id) ON DELETE CASCADE,
    iteration_number INTEGER NOT NULL,
    prompt           TEXT NOT NULL,
    summary          TEXT,
    promise_detected INTEGER NOT NULL DEFAULT 0,
    feedback         TEXT,
    exit_code        INTEGER,
    commit_sha       TEXT,
    story_id         INTEGER,
    task_id          INTEGER,
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(job_id, iteration_number)
);

-- Branch provenance, idempotent on (repository, name)
CREATE TABLE IF NOT EXISTS code_branches (
    id            TEXT PRIMARY KEY,
    repository_id TEXT NOT NULL REFERENCES code_repositories(id),
    name          TEXT NOT NULL,
    job_id        TEXT,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(repository_id, name)
);

-- PR provenance, idempotent on (repository, number)
CREATE TABLE IF NOT EXISTS code_pull_requests (
    id            TEXT PRIMARY KEY,
    repository_id TEXT NOT NULL REFERENCES code_repositories(id),
    number        INTEGER NOT NULL,
    url           TEXT NOT NULL,
    title         TEXT,
    branch_id     TEXT,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(repository_id, number)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON agent_jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON agent_jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_messages_job ON agent_job_messages(job_id);
CREATE INDEX IF NOT EXISTS idx_iterations_job ON agent_job_iterations(job_id);
`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// marshalJSON encodes v for a nullable TEXT column. nil stays NULL.
func marshalJSON(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	str := string(data)
	return &str, nil
}

// unmarshalJSON decodes a nullable TEXT column into out; NULL leaves out
// untouched.
func unmarshalJSON(raw sql.NullString, out any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), out); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
