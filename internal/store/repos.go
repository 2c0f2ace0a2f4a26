package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateRepository inserts a repository row.
func (s *Store) CreateRepository(r *Repository) error {
	if r.Provider == "" {
		r.Provider = "github"
	}
	if r.DefaultBranch == "" {
		r.DefaultBranch = "main"
	}
	_, err := s.conn.Exec(
		`INSERT INTO code_repositories (id, client_id, provider, owner_name, repo_name, default_branch, url)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ClientID, r.Provider, r.OwnerName, r.RepoName, r.DefaultBranch, r.URL)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	return nil
}

// GetRepository retrieves a repository by id. Returns nil, nil if
// missing.
func (s *Store) GetRepository(id string) (*Repository, error) {
	var r Repository
	err := s.conn.QueryRow(
		`SELECT id, client_id, provider, owner_name, repo_name, default_branch, url
		 FROM code_repositories WHERE id = ?`, id).
		Scan(&r.ID, &r.ClientID, &r.Provider, &r.OwnerName, &r.RepoName, &r.DefaultBranch, &r.URL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return &r, nil
}

// UpsertBranch records branch provenance. Re-pushing the same branch
// returns the existing row's id instead of creating a duplicate.
func (s *Store) UpsertBranch(b *CodeBranch) (string, error) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.Exec(
		`INSERT INTO code_branches (id, repository_id, name, job_id, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(repository_id, name) DO UPDATE SET job_id = excluded.job_id`,
		b.ID, b.RepositoryID, b.Name, b.JobID, b.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to upsert branch: %w", err)
	}

	var id string
	err = s.conn.QueryRow(
		`SELECT id FROM code_branches WHERE repository_id = ? AND name = ?`,
		b.RepositoryID, b.Name).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to read branch id: %w", err)
	}
	return id, nil
}

// UpsertPullRequest records PR provenance, idempotent on
// (repository, number).
func (s *Store) UpsertPullRequest(pr *CodePullRequest) (string, error) {
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.Exec(
		`INSERT INTO code_pull_requests (id, repository_id, number, url, title, branch_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(repository_id, number) DO UPDATE SET url = excluded.url, title = excluded.title`,
		pr.ID, pr.RepositoryID, pr.Number, pr.URL, pr.Title, pr.BranchID, pr.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to upsert pull request: %w", err)
	}

	var id string
	err = s.conn.QueryRow(
		`SELECT id FROM code_pull_requests WHERE repository_id = ? AND number = ?`,
		pr.RepositoryID, pr.Number).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to read pull request id: %w", err)
	}
	return id, nil
}
