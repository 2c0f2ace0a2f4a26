package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/foreman/internal/coder"
	"github.com/forgeline/foreman/internal/prd"
	"github.com/forgeline/foreman/internal/store"
)

func threeStoryPRD() *prd.Document {
	return &prd.Document{
		Title: "Checkout",
		Stories: []prd.Story{
			{ID: 1, Title: "Cart page"},
			{ID: 2, Title: "Payment form"},
			{ID: 3, Title: "Confirmation email"},
		},
	}
}

// passStory simulates the CLI: mark the story named in the prompt as
// passed in prd.json, and emit the promise once everything passes.
func passStory(t *testing.T) *coder.MockClient {
	return &coder.MockClient{
		ExecuteFunc: func(ctx context.Context, opts coder.ExecuteOptions) (*coder.ExecuteResult, error) {
			data, err := os.ReadFile(filepath.Join(opts.WorkDir, "prd.json"))
			require.NoError(t, err)
			doc, err := prd.Parse(data)
			require.NoError(t, err)

			for i := range doc.Stories {
				marker := "Current story: [" + strconv.Itoa(doc.Stories[i].ID) + "]"
				if strings.Contains(opts.Prompt, marker) {
					doc.Stories[i].Passes = true
				}
			}
			updated, err := json.Marshal(doc)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(opts.WorkDir, "prd.json"), updated, 0644))

			out := "## Summary\nstory done\n"
			if doc.AllPassed() {
				out += DefaultPromise + "\n"
			}
			return &coder.ExecuteResult{Output: out, Success: true}, nil
		},
	}
}

func TestPRD_StoryByStory(t *testing.T) {
	h := newHarness(t, passStory(t))
	job := h.createJob(t, &store.Job{
		ID: "job-1", Type: store.TypeRalph, PRDMode: true, Prompt: "p",
		MaxIterations: 5, PRD: threeStoryPRD(),
	})

	require.NoError(t, NewPRD(h.deps).Run(context.Background(), job))

	got := h.reload(t, "job-1")
	assert.Equal(t, store.StatusCompleted, got.Status)
	assert.Equal(t, store.ReasonPromiseDetected, *got.CompletionReason)

	its, err := h.store.ListIterations("job-1")
	require.NoError(t, err)
	require.Len(t, its, 3, "exactly one story per iteration")
	assert.Equal(t, 1, *its[0].StoryID)
	assert.Equal(t, 2, *its[1].StoryID)
	assert.Equal(t, 3, *its[2].StoryID)

	require.NotNil(t, got.PRDProgress)
	assert.ElementsMatch(t, []int{1, 2, 3}, got.PRDProgress.CompletedStoryIDs)
	require.Len(t, got.PRDProgress.Commits, 3)
	assert.Equal(t, "deadbeef", got.PRDProgress.Commits[0].SHA)
	assert.Contains(t, got.PRDProgress.Commits[0].Message, "feat: [1]")

	assert.NotNil(t, got.PRURL)
}

func TestPRD_MultipleStoriesPassedInOneIteration(t *testing.T) {
	// A misbehaving CLI marks stories 1 and 2 together; both get
	// recorded against the same commit.
	cl := &coder.MockClient{
		ExecuteFunc: func(ctx context.Context, opts coder.ExecuteOptions) (*coder.ExecuteResult, error) {
			data, err := os.ReadFile(filepath.Join(opts.WorkDir, "prd.json"))
			require.NoError(t, err)
			doc, err := prd.Parse(data)
			require.NoError(t, err)
			for i := range doc.Stories {
				doc.Stories[i].Passes = true
			}
			updated, _ := json.Marshal(doc)
			require.NoError(t, os.WriteFile(filepath.Join(opts.WorkDir, "prd.json"), updated, 0644))
			return &coder.ExecuteResult{Output: "## Summary\nall done\n" + DefaultPromise, Success: true}, nil
		},
	}
	h := newHarness(t, cl)
	doc := &prd.Document{Title: "T", Stories: []prd.Story{{ID: 1, Title: "a"}, {ID: 2, Title: "b"}}}
	job := h.createJob(t, &store.Job{
		ID: "job-1", Type: store.TypeRalph, PRDMode: true, Prompt: "p",
		MaxIterations: 5, PRD: doc,
	})

	require.NoError(t, NewPRD(h.deps).Run(context.Background(), job))

	got := h.reload(t, "job-1")
	require.NotNil(t, got.PRDProgress)
	assert.ElementsMatch(t, []int{1, 2}, got.PRDProgress.CompletedStoryIDs)
	require.Len(t, got.PRDProgress.Commits, 2)
	assert.Equal(t, got.PRDProgress.Commits[0].SHA, got.PRDProgress.Commits[1].SHA)
}

func TestPRD_StuckStoryHitsMaxIterations(t *testing.T) {
	cl := &coder.MockClient{
		ExecuteFunc: func(ctx context.Context, opts coder.ExecuteOptions) (*coder.ExecuteResult, error) {
			// Never updates prd.json; the same story is retried.
			return &coder.ExecuteResult{Output: "## Summary\ncouldn't finish\n", Success: true}, nil
		},
	}
	h := newHarness(t, cl)
	job := h.createJob(t, &store.Job{
		ID: "job-1", Type: store.TypeRalph, PRDMode: true, Prompt: "p",
		MaxIterations: 3, PRD: threeStoryPRD(),
	})

	require.NoError(t, NewPRD(h.deps).Run(context.Background(), job))

	got := h.reload(t, "job-1")
	assert.Equal(t, store.StatusCompleted, got.Status, "partial runs publish and complete")
	assert.Equal(t, store.ReasonMaxIterations, *got.CompletionReason)

	its, err := h.store.ListIterations("job-1")
	require.NoError(t, err)
	require.Len(t, its, 3)
	for _, it := range its {
		assert.Equal(t, 1, *it.StoryID, "story 1 is retried until it passes")
	}
}

func TestPRD_MissingDocumentFails(t *testing.T) {
	h := newHarness(t, &coder.MockClient{})
	job := h.createJob(t, &store.Job{ID: "job-1", Type: store.TypeRalph, PRDMode: true, Prompt: "p"})

	require.NoError(t, NewPRD(h.deps).Run(context.Background(), job))

	got := h.reload(t, "job-1")
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Contains(t, *got.Error, "no prd document")
}

func TestPRDGeneration(t *testing.T) {
	cl := &coder.MockClient{
		ExecuteFunc: func(ctx context.Context, opts coder.ExecuteOptions) (*coder.ExecuteResult, error) {
			out := "Here is the PRD:\n```json\n" +
				`{"title":"Checkout","stories":[{"id":1,"title":"Cart","passes":false}]}` +
				"\n```\n"
			return &coder.ExecuteResult{Output: out, Success: true}, nil
		},
	}
	h := newHarness(t, cl)
	require.NoError(t, h.store.CreateFeature(&store.Feature{ID: "feat-1", ClientID: "client-1", Title: "Checkout"}))
	fid := "feat-1"
	job := h.createJob(t, &store.Job{
		ID: "job-1", Type: store.TypePRDGeneration, Prompt: "build checkout", FeatureID: &fid,
	})

	require.NoError(t, NewPRDGeneration(h.deps).Run(context.Background(), job))

	got := h.reload(t, "job-1")
	assert.Equal(t, store.StatusCompleted, got.Status)

	feature, err := h.store.GetFeature("feat-1")
	require.NoError(t, err)
	require.NotNil(t, feature.PRD)
	assert.Equal(t, "Checkout", feature.PRD.Title)
	require.Len(t, feature.PRD.Stories, 1)
	assert.False(t, feature.PRD.Stories[0].Passes)
}

func TestPRDGeneration_BadJSON(t *testing.T) {
	cl := &coder.MockClient{
		ExecuteFunc: func(ctx context.Context, opts coder.ExecuteOptions) (*coder.ExecuteResult, error) {
			return &coder.ExecuteResult{Output: "sorry, I cannot", Success: true}, nil
		},
	}
	h := newHarness(t, cl)
	job := h.createJob(t, &store.Job{ID: "job-1", Type: store.TypePRDGeneration, Prompt: "p"})

	require.NoError(t, NewPRDGeneration(h.deps).Run(context.Background(), job))

	got := h.reload(t, "job-1")
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Contains(t, *got.Error, "failed to parse generated prd")

	// Raw output retained for debugging.
	msgs, err := h.store.ListMessages("job-1", 0, 0)
	require.NoError(t, err)
	found := false
	for _, m := range msgs {
		if m.Kind == store.MessageSystem && strings.Contains(m.Content, "sorry") {
			found = true
		}
	}
	assert.True(t, found)
}
