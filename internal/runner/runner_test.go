package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgeline/foreman/internal/coder"
	"github.com/forgeline/foreman/internal/events"
	"github.com/forgeline/foreman/internal/feedback"
	"github.com/forgeline/foreman/internal/hosting"
	"github.com/forgeline/foreman/internal/store"
	"github.com/forgeline/foreman/internal/workspace"
)

// gitStub answers every git call with a canned or empty response so the
// workspace manager can run without real repositories.
type gitStub struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string]string
	errs    map[string]error
}

func newGitStub() *gitStub {
	return &gitStub{
		outputs: map[string]string{
			"rev-parse HEAD": "deadbeef\n",
		},
	}
}

func (g *gitStub) Exec(ctx context.Context, dir string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, key)
	if err, ok := g.errs[key]; ok {
		return "", err
	}
	if out, ok := g.outputs[key]; ok {
		return out, nil
	}
	if args[0] == "status" {
		return " M file.go\n", nil
	}
	if args[0] == "diff" {
		return "a.go\nb.go\n", nil
	}
	return "", nil
}

func (g *gitStub) called(prefix string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

type ghStub struct{}

func (ghStub) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	return "https://github.com/acme/shop/pull/7\n", nil
}

type passRunner struct{}

func (passRunner) Run(ctx context.Context, dir, command string) (string, int, error) {
	return "ok", 0, nil
}

// harness wires real store + stubbed externals for runner tests.
type harness struct {
	deps     *Dependencies
	store    *store.Store
	git      *gitStub
	enqueued []*store.Job
	root     string
}

func newHarness(t *testing.T, cl coder.Client) *harness {
	t.Helper()
	root := t.TempDir()

	s, err := store.Open(filepath.Join(root, "foreman.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	git := newGitStub()
	ws := workspace.NewManager(filepath.Join(root, "repos"), filepath.Join(root, "worktrees"), nil)
	ws.SetRunner(git)

	gh := hosting.NewClient()
	gh.SetRunner(ghStub{})

	fb := feedback.NewRunner(time.Minute, 1<<20)
	fb.SetCommandRunner(passRunner{})

	h := &harness{store: s, git: git, root: root}
	h.deps = &Dependencies{
		Store:     s,
		Workspace: ws,
		Hosting:   gh,
		Coder:     cl,
		Feedback:  fb,
		Events:    events.NewBus(),
		Enqueue: func(job *store.Job) error {
			h.enqueued = append(h.enqueued, job)
			return s.CreateJob(job)
		},
	}

	require.NoError(t, s.CreateClient(&store.Client{ID: "client-1", Name: "Acme"}))
	require.NoError(t, s.CreateRepository(&store.Repository{
		ID: "repo-1", ClientID: "client-1", OwnerName: "acme", RepoName: "shop",
	}))
	// A present bare dir skips the clone path in EnsureBareRepo.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "repos", "shop.git"), 0755))
	return h
}

// createJob inserts a claimed (running) job with a materialized worktree
// directory, mirroring what the scheduler does before calling a runner.
func (h *harness) createJob(t *testing.T, job *store.Job) *store.Job {
	t.Helper()
	if job.ClientID == "" {
		job.ClientID = "client-1"
	}
	if job.RepositoryID == nil {
		rid := "repo-1"
		job.RepositoryID = &rid
	}
	require.NoError(t, h.store.CreateJob(job))
	ok, err := h.store.ClaimQueued(job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// The git stub does not create directories; materialize the
	// worktree path runners will write into.
	require.NoError(t, os.MkdirAll(filepath.Join(h.root, "worktrees", "shop", job.ID), 0755))
	return job
}

func (h *harness) reload(t *testing.T, id string) *store.Job {
	t.Helper()
	job, err := h.store.GetJob(id)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}
