package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/forgeline/foreman/internal/store"
)

// Manager provisions bare repository mirrors and per-job worktrees.
//
// Each hosted repository gets one bare clone under ReposDir, shared by
// every job that targets it. Each job gets its own worktree under
// WorktreesDir so concurrent jobs never collide on a working directory.
type Manager struct {
	ReposDir     string
	WorktreesDir string

	runner Runner
	logger *log.Logger
}

// NewManager creates a workspace manager rooted at the given directories.
func NewManager(reposDir, worktreesDir string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		ReposDir:     reposDir,
		WorktreesDir: worktreesDir,
		runner:       osRunner{},
		logger:       logger,
	}
}

// SetRunner replaces the git runner. Intended for tests.
func (m *Manager) SetRunner(r Runner) {
	if r == nil {
		r = osRunner{}
	}
	m.runner = r
}

// BareRepoPath returns the on-disk location of a repository's bare
// mirror. One bare clone per repo name, shared by every job.
func (m *Manager) BareRepoPath(repo *store.Repository) string {
	return filepath.Join(m.ReposDir, repo.RepoName+".git")
}

// WorktreePath returns the on-disk location of a job's worktree.
func (m *Manager) WorktreePath(repo *store.Repository, jobID string) string {
	return filepath.Join(m.WorktreesDir, repo.RepoName, jobID)
}

// CloneURL builds the clone URL for a repository. An explicit URL on the
// record wins; otherwise the provider default is used.
func (m *Manager) CloneURL(repo *store.Repository) string {
	if repo.URL != "" {
		return repo.URL
	}
	return fmt.Sprintf("https://github.com/%s/%s.git", repo.OwnerName, repo.RepoName)
}

// EnsureBareRepo clones the repository as a bare mirror if it is not
// present, or refreshes it from origin if it is. Returns the bare repo
// path.
func (m *Manager) EnsureBareRepo(ctx context.Context, repo *store.Repository) (string, error) {
	path := m.BareRepoPath(repo)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(m.ReposDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create repos directory: %w", err)
		}
		m.logger.Info("cloning bare repository", "repo", repo.OwnerName+"/"+repo.RepoName)
		if _, err := m.runner.Exec(ctx, filepath.Dir(path), "clone", "--bare", m.CloneURL(repo), path); err != nil {
			return "", fmt.Errorf("failed to clone bare repository: %w", err)
		}
		return path, nil
	}

	if err := m.FetchOrigin(ctx, path); err != nil {
		return "", err
	}
	return path, nil
}

// FetchOrigin updates all branch refs in a bare repo from origin,
// pruning branches deleted upstream.
func (m *Manager) FetchOrigin(ctx context.Context, barePath string) error {
	_, err := m.runner.Exec(ctx, barePath,
		"fetch", "origin", "+refs/heads/*:refs/heads/*", "--prune")
	if err != nil {
		return fmt.Errorf("failed to fetch origin: %w", err)
	}
	return nil
}

// CreateWorktree adds a worktree for a job on the given branch. If the
// branch already exists in the bare repo it is checked out directly;
// otherwise it is created from the repository's default branch. A branch
// left checked out by a crashed job is reclaimed by pruning stale
// worktree records first.
func (m *Manager) CreateWorktree(ctx context.Context, repo *store.Repository, jobID, branch string) (string, error) {
	barePath := m.BareRepoPath(repo)
	wtPath := m.WorktreePath(repo, jobID)

	if err := os.MkdirAll(filepath.Dir(wtPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	// Drop records of worktrees whose directories are gone so their
	// branches become available again.
	if _, err := m.runner.Exec(ctx, barePath, "worktree", "prune"); err != nil {
		return "", fmt.Errorf("failed to prune worktrees: %w", err)
	}

	if m.branchExists(ctx, barePath, branch) {
		out, err := m.runner.Exec(ctx, barePath, "worktree", "add", wtPath, branch)
		if err == nil {
			return wtPath, nil
		}
		if !strings.Contains(err.Error(), "already checked out") && !strings.Contains(out, "already checked out") {
			return "", fmt.Errorf("failed to add worktree: %w", err)
		}
		// The branch is held by a stale worktree. Force-remove it and
		// retry once.
		if rmErr := m.removeWorktreeHolding(ctx, barePath, branch); rmErr != nil {
			return "", fmt.Errorf("failed to reclaim branch %s: %w", branch, rmErr)
		}
		if _, err := m.runner.Exec(ctx, barePath, "worktree", "add", wtPath, branch); err != nil {
			return "", fmt.Errorf("failed to add worktree: %w", err)
		}
		return wtPath, nil
	}

	base := repo.DefaultBranch
	if base == "" {
		base = "main"
	}
	if _, err := m.runner.Exec(ctx, barePath, "worktree", "add", "-b", branch, wtPath, base); err != nil {
		return "", fmt.Errorf("failed to add worktree with new branch: %w", err)
	}
	return wtPath, nil
}

func (m *Manager) branchExists(ctx context.Context, barePath, branch string) bool {
	_, err := m.runner.Exec(ctx, barePath, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// removeWorktreeHolding finds and force-removes the worktree that has
// branch checked out.
func (m *Manager) removeWorktreeHolding(ctx context.Context, barePath, branch string) error {
	out, err := m.runner.Exec(ctx, barePath, "worktree", "list", "--porcelain")
	if err != nil {
		return fmt.Errorf("failed to list worktrees: %w", err)
	}

	var currentPath string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "worktree ") {
			currentPath = strings.TrimPrefix(line, "worktree ")
			continue
		}
		if strings.HasPrefix(line, "branch ") {
			ref := strings.TrimPrefix(line, "branch ")
			if strings.TrimPrefix(ref, "refs/heads/") == branch && currentPath != "" {
				m.logger.Warn("reclaiming branch from stale worktree", "branch", branch, "path", currentPath)
				if _, err := m.runner.Exec(ctx, barePath, "worktree", "remove", currentPath, "--force"); err != nil {
					return err
				}
				return nil
			}
		}
	}
	return fmt.Errorf("no worktree holds branch %s", branch)
}

// RemoveWorktree drops a job's worktree. Best-effort: failures are
// logged, not returned, since a leaked worktree only costs disk.
func (m *Manager) RemoveWorktree(ctx context.Context, repo *store.Repository, jobID string) {
	barePath := m.BareRepoPath(repo)
	wtPath := m.WorktreePath(repo, jobID)

	if _, err := m.runner.Exec(ctx, barePath, "worktree", "remove", wtPath, "--force"); err != nil {
		m.logger.Warn("failed to remove worktree", "job", jobID, "error", err)
	}
	if err := os.RemoveAll(wtPath); err != nil {
		m.logger.Warn("failed to remove worktree directory", "job", jobID, "error", err)
	}
}

// HasChanges reports whether the worktree has uncommitted changes.
func (m *Manager) HasChanges(ctx context.Context, worktree string) (bool, error) {
	out, err := m.runner.Exec(ctx, worktree, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to check worktree status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Commit stages everything and commits with the given message. Returns
// the new commit sha, or hasChanges=false when there was nothing to
// commit.
func (m *Manager) Commit(ctx context.Context, worktree, message string) (sha string, hasChanges bool, err error) {
	if _, err := m.runner.Exec(ctx, worktree, "add", "-A"); err != nil {
		return "", false, fmt.Errorf("failed to stage changes: %w", err)
	}

	dirty, err := m.HasChanges(ctx, worktree)
	if err != nil {
		return "", false, err
	}
	if !dirty {
		return "", false, nil
	}

	if _, err := m.runner.Exec(ctx, worktree, "commit", "-m", message, "--no-verify"); err != nil {
		return "", false, fmt.Errorf("failed to commit: %w", err)
	}

	out, err := m.runner.Exec(ctx, worktree, "rev-parse", "HEAD")
	if err != nil {
		return "", false, fmt.Errorf("failed to read commit sha: %w", err)
	}
	return strings.TrimSpace(out), true, nil
}

// PushBranch pushes the worktree's branch to origin, setting upstream.
func (m *Manager) PushBranch(ctx context.Context, worktree, branch string) error {
	if _, err := m.runner.Exec(ctx, worktree, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("failed to push branch %s: %w", branch, err)
	}
	return nil
}

// FilesChanged counts files differing between the base branch and HEAD.
func (m *Manager) FilesChanged(ctx context.Context, worktree, base string) (int, error) {
	out, err := m.runner.Exec(ctx, worktree, "diff", "--name-only", base+"...HEAD")
	if err != nil {
		return 0, fmt.Errorf("failed to diff against %s: %w", base, err)
	}
	n := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n, nil
}

// HeadSHA returns the current HEAD commit of a worktree.
func (m *Manager) HeadSHA(ctx context.Context, worktree string) (string, error) {
	out, err := m.runner.Exec(ctx, worktree, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}
