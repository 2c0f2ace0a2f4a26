package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/foreman/internal/store"
)

type fakeRunner struct {
	mu        sync.Mutex
	responses map[string][]fakeResponse
	calls     []fakeCall
}

type fakeResponse struct {
	out string
	err error
}

type fakeCall struct {
	dir  string
	args []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string][]fakeResponse)}
}

func (f *fakeRunner) stub(args string, out string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[args] = append(f.responses[args], fakeResponse{out: out, err: err})
}

func (f *fakeRunner) Exec(ctx context.Context, dir string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{dir: dir, args: append([]string(nil), args...)})
	queue := f.responses[key]
	if len(queue) == 0 {
		f.mu.Unlock()
		return "", fmt.Errorf("unexpected git call: %s", key)
	}
	resp := queue[0]
	f.responses[key] = queue[1:]
	f.mu.Unlock()
	return resp.out, resp.err
}

func (f *fakeRunner) callsFor(args ...string) int {
	key := strings.Join(args, " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if strings.Join(call.args, " ") == key {
			count++
		}
	}
	return count
}

func testRepo() *store.Repository {
	return &store.Repository{
		ID:            "repo-1",
		ClientID:      "client-1",
		Provider:      "github",
		OwnerName:     "acme",
		RepoName:      "shop",
		DefaultBranch: "main",
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeRunner, string) {
	t.Helper()
	root := t.TempDir()
	m := NewManager(filepath.Join(root, "repos"), filepath.Join(root, "worktrees"), nil)
	fake := newFakeRunner()
	m.SetRunner(fake)
	return m, fake, root
}

func TestCloneURL(t *testing.T) {
	m, _, _ := newTestManager(t)
	repo := testRepo()
	assert.Equal(t, "https://github.com/acme/shop.git", m.CloneURL(repo))

	repo.URL = "git@github.com:acme/shop.git"
	assert.Equal(t, "git@github.com:acme/shop.git", m.CloneURL(repo))
}

func TestEnsureBareRepo_ClonesWhenMissing(t *testing.T) {
	m, fake, _ := newTestManager(t)
	repo := testRepo()
	barePath := m.BareRepoPath(repo)
	fake.stub("clone --bare https://github.com/acme/shop.git "+barePath, "", nil)

	got, err := m.EnsureBareRepo(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, barePath, got)
	assert.Zero(t, fake.callsFor("fetch", "origin", "+refs/heads/*:refs/heads/*", "--prune"))
}

func TestEnsureBareRepo_FetchesWhenPresent(t *testing.T) {
	m, fake, _ := newTestManager(t)
	repo := testRepo()
	barePath := m.BareRepoPath(repo)
	require.NoError(t, os.MkdirAll(barePath, 0755))
	fake.stub("fetch origin +refs/heads/*:refs/heads/* --prune", "", nil)

	_, err := m.EnsureBareRepo(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.callsFor("fetch", "origin", "+refs/heads/*:refs/heads/*", "--prune"))
}

func TestCreateWorktree_NewBranch(t *testing.T) {
	m, fake, _ := newTestManager(t)
	repo := testRepo()
	wtPath := m.WorktreePath(repo, "job-1")

	fake.stub("worktree prune", "", nil)
	fake.stub("rev-parse --verify refs/heads/agent/job-1", "", errors.New("unknown revision"))
	fake.stub("worktree add -b agent/job-1 "+wtPath+" main", "", nil)

	got, err := m.CreateWorktree(context.Background(), repo, "job-1", "agent/job-1")
	require.NoError(t, err)
	assert.Equal(t, wtPath, got)
}

func TestCreateWorktree_ExistingBranch(t *testing.T) {
	m, fake, _ := newTestManager(t)
	repo := testRepo()
	wtPath := m.WorktreePath(repo, "job-2")

	fake.stub("worktree prune", "", nil)
	fake.stub("rev-parse --verify refs/heads/agent/job-2", "abc123", nil)
	fake.stub("worktree add "+wtPath+" agent/job-2", "", nil)

	got, err := m.CreateWorktree(context.Background(), repo, "job-2", "agent/job-2")
	require.NoError(t, err)
	assert.Equal(t, wtPath, got)
}

func TestCreateWorktree_ReclaimsHeldBranch(t *testing.T) {
	m, fake, _ := newTestManager(t)
	repo := testRepo()
	wtPath := m.WorktreePath(repo, "job-3")
	stalePath := m.WorktreePath(repo, "job-dead")

	fake.stub("worktree prune", "", nil)
	fake.stub("rev-parse --verify refs/heads/agent/feature", "abc123", nil)
	fake.stub("worktree add "+wtPath+" agent/feature", "",
		errors.New("fatal: 'agent/feature' is already checked out"))
	fake.stub("worktree list --porcelain",
		"worktree "+stalePath+"\nbranch refs/heads/agent/feature\n", nil)
	fake.stub("worktree remove "+stalePath+" --force", "", nil)
	fake.stub("worktree add "+wtPath+" agent/feature", "", nil)

	got, err := m.CreateWorktree(context.Background(), repo, "job-3", "agent/feature")
	require.NoError(t, err)
	assert.Equal(t, wtPath, got)
	assert.Equal(t, 1, fake.callsFor("worktree", "remove", stalePath, "--force"))
}

func TestCommit_NoChanges(t *testing.T) {
	m, fake, _ := newTestManager(t)
	fake.stub("add -A", "", nil)
	fake.stub("status --porcelain", "", nil)

	sha, changed, err := m.Commit(context.Background(), "/wt", "feat: nothing")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, sha)
	assert.Zero(t, fake.callsFor("commit", "-m", "feat: nothing", "--no-verify"))
}

func TestCommit_WithChanges(t *testing.T) {
	m, fake, _ := newTestManager(t)
	fake.stub("add -A", "", nil)
	fake.stub("status --porcelain", " M main.go\n", nil)
	fake.stub("commit -m feat: add checkout --no-verify", "", nil)
	fake.stub("rev-parse HEAD", "abc123def\n", nil)

	sha, changed, err := m.Commit(context.Background(), "/wt", "feat: add checkout")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "abc123def", sha)
}

func TestPushBranch(t *testing.T) {
	m, fake, _ := newTestManager(t)
	fake.stub("push -u origin agent/job-1", "", nil)
	require.NoError(t, m.PushBranch(context.Background(), "/wt", "agent/job-1"))

	fake.stub("push -u origin agent/job-1", "", errors.New("remote rejected"))
	err := m.PushBranch(context.Background(), "/wt", "agent/job-1")
	assert.ErrorContains(t, err, "agent/job-1")
}

func TestRemoveWorktree_BestEffort(t *testing.T) {
	m, fake, _ := newTestManager(t)
	repo := testRepo()
	wtPath := m.WorktreePath(repo, "job-1")
	fake.stub("worktree remove "+wtPath+" --force", "", errors.New("not a worktree"))

	// Failure is swallowed.
	m.RemoveWorktree(context.Background(), repo, "job-1")
}
