package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/foreman/internal/events"
	"github.com/forgeline/foreman/internal/runner"
	"github.com/forgeline/foreman/internal/store"
)

// fakeRunner blocks each job until released, then writes a completed
// terminal state like a real runner would.
type fakeRunner struct {
	s       *store.Store
	mu      sync.Mutex
	started []string
	release map[string]chan struct{}
}

func newFakeRunner(s *store.Store) *fakeRunner {
	return &fakeRunner{s: s, release: make(map[string]chan struct{})}
}

func (f *fakeRunner) gate(jobID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.release[jobID]; !ok {
		f.release[jobID] = make(chan struct{})
	}
	return f.release[jobID]
}

func (f *fakeRunner) Run(ctx context.Context, job *store.Job) error {
	f.mu.Lock()
	f.started = append(f.started, job.ID)
	f.mu.Unlock()

	select {
	case <-f.gate(job.ID):
		_, err := f.s.FinishJob(job.ID, store.Terminal{Status: store.StatusCompleted})
		return err
	case <-ctx.Done():
		// Cancelled: the cancel path owns the terminal write.
		return nil
	}
}

func (f *fakeRunner) startedJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func newTestScheduler(t *testing.T, maxConcurrent int) (*Scheduler, *store.Store, *fakeRunner) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "foreman.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fake := newFakeRunner(s)
	sched := New(s, &runner.Dependencies{Store: s}, maxConcurrent, events.NewBus(), nil)
	sched.Router = func(job *store.Job) runner.Runner { return fake }
	return sched, s, fake
}

func queueJob(t *testing.T, s *store.Store, id string) *store.Job {
	t.Helper()
	job := &store.Job{ID: id, ClientID: "client-1", Type: store.TypeCode, Prompt: "p"}
	require.NoError(t, s.CreateJob(job))
	return job
}

func waitStarted(t *testing.T, fake *fakeRunner, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(fake.startedJobs()) >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func waitStatus(t *testing.T, s *store.Store, id string, want store.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := s.GetJob(id)
		return err == nil && job != nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_ConcurrencyBound(t *testing.T) {
	sched, s, fake := newTestScheduler(t, 2)
	for _, id := range []string{"a", "b", "c", "d"} {
		queueJob(t, s, id)
	}

	sched.Wake()
	waitStarted(t, fake, 2)

	// The bound holds while both slots are busy.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, fake.startedJobs(), 2)

	n, err := s.CountRunning()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Finishing one frees a slot for the next queued job.
	close(fake.gate("a"))
	waitStarted(t, fake, 3)
	waitStatus(t, s, "a", store.StatusCompleted)

	close(fake.gate("b"))
	close(fake.gate("c"))
	close(fake.gate("d"))
	waitStatus(t, s, "d", store.StatusCompleted)
	sched.Wait()

	assert.Equal(t, []string{"a", "b", "c", "d"}, fake.startedJobs(), "FIFO dispatch order")
}

func TestScheduler_WakeCoalesces(t *testing.T) {
	sched, s, fake := newTestScheduler(t, 1)
	queueJob(t, s, "a")

	// Many wakes, one job: it must start exactly once (the claim is
	// guarded by the queued-status predicate).
	for i := 0; i < 10; i++ {
		sched.Wake()
	}
	waitStarted(t, fake, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, fake.startedJobs(), 1)

	close(fake.gate("a"))
	sched.Wait()
}

func TestScheduler_CancelQueuedJob(t *testing.T) {
	sched, s, fake := newTestScheduler(t, 1)
	queueJob(t, s, "a")
	queueJob(t, s, "b")

	sched.Wake()
	waitStarted(t, fake, 1)

	require.NoError(t, sched.Cancel("b"))
	waitStatus(t, s, "b", store.StatusCancelled)

	close(fake.gate("a"))
	sched.Wait()
	assert.Equal(t, []string{"a"}, fake.startedJobs(), "cancelled job never dispatches")
}

func TestScheduler_CancelRunningJob(t *testing.T) {
	sched, s, fake := newTestScheduler(t, 1)
	queueJob(t, s, "a")

	sched.Wake()
	waitStarted(t, fake, 1)

	require.NoError(t, sched.Cancel("a"))
	waitStatus(t, s, "a", store.StatusCancelled)
	sched.Wait()
}

func TestScheduler_CancelUnknownJob(t *testing.T) {
	sched, _, _ := newTestScheduler(t, 1)
	assert.Error(t, sched.Cancel("nope"))
}

func TestScheduler_SpecJobsSerializePerFeature(t *testing.T) {
	sched, s, fake := newTestScheduler(t, 2)

	fid := "feat-1"
	for _, id := range []string{"s1", "s2"} {
		job := &store.Job{ID: id, ClientID: "c", Type: store.TypeSpec, Prompt: "p", FeatureID: &fid}
		require.NoError(t, s.CreateJob(job))
	}

	sched.Wake()
	waitStarted(t, fake, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, fake.startedJobs(), 1, "second spec job for the same feature waits")

	close(fake.gate("s1"))
	waitStarted(t, fake, 2)
	close(fake.gate("s2"))
	sched.Wait()
}

func TestScheduler_StartRecoversInterrupted(t *testing.T) {
	sched, s, _ := newTestScheduler(t, 1)

	queueJob(t, s, "a")
	_, err := s.ClaimQueued("a")
	require.NoError(t, err)

	require.NoError(t, sched.Start(context.Background()))
	waitStatus(t, s, "a", store.StatusFailed)

	job, err := s.GetJob("a")
	require.NoError(t, err)
	require.NotNil(t, job.Error)
	assert.Equal(t, store.ErrInterruptedByRestart, *job.Error)
	sched.Wait()
}

func TestScheduler_EnqueueDispatchesImmediately(t *testing.T) {
	sched, s, fake := newTestScheduler(t, 1)
	require.NoError(t, sched.Start(context.Background()))

	require.NoError(t, sched.Enqueue(&store.Job{
		ID: "a", ClientID: "c", Type: store.TypeCode, Prompt: "p",
	}))
	waitStarted(t, fake, 1)

	close(fake.gate("a"))
	waitStatus(t, s, "a", store.StatusCompleted)
	sched.Wait()
}

func TestScheduler_ZeroConcurrencyNeverDispatches(t *testing.T) {
	sched, s, fake := newTestScheduler(t, 0)
	queueJob(t, s, "a")

	sched.Wake()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, fake.startedJobs())

	job, err := s.GetJob("a")
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, job.Status)
}
