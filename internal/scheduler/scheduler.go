// Package scheduler drains the persistent job queue into a bounded pool
// of concurrently executing runners.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/forgeline/foreman/internal/events"
	"github.com/forgeline/foreman/internal/runner"
	"github.com/forgeline/foreman/internal/store"
)

// Scheduler claims queued jobs under a concurrency bound and routes each
// to its runner. Dispatch is single-flight: concurrent wakes coalesce
// into one more pass over the queue.
type Scheduler struct {
	store         *store.Store
	bus           *events.Bus
	logger        *log.Logger
	maxConcurrent int

	// Router picks the runner for a job. Overridable in tests.
	Router func(job *store.Job) runner.Runner

	mu          sync.Mutex
	dispatching bool
	dirty       bool
	cancels     map[string]context.CancelFunc

	baseCtx context.Context
	wg      sync.WaitGroup
}

// New creates a scheduler. deps is shared with the runners; the
// scheduler installs itself as the Enqueue hook so spec auto-progression
// feeds back into the queue.
func New(s *store.Store, deps *runner.Dependencies, maxConcurrent int, bus *events.Bus, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	sched := &Scheduler{
		store:         s,
		bus:           bus,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		cancels:       make(map[string]context.CancelFunc),
		baseCtx:       context.Background(),
	}

	oneShot := runner.NewOneShot(deps)
	loop := runner.NewLoop(deps)
	prdRunner := runner.NewPRD(deps)
	prdGen := runner.NewPRDGeneration(deps)
	specPipe := runner.NewSpecPipeline(deps)

	sched.Router = func(job *store.Job) runner.Runner {
		switch {
		case job.Type == store.TypeRalph && job.SpecMode():
			return loop
		case job.Type == store.TypeRalph && job.PRDMode:
			return prdRunner
		case job.Type == store.TypeRalph:
			return loop
		case job.Type == store.TypePRDGeneration:
			return prdGen
		case job.Type == store.TypeSpec:
			return specPipe
		default:
			return oneShot
		}
	}

	deps.Enqueue = sched.Enqueue
	return sched
}

// Start recovers jobs interrupted by the previous process and kicks off
// dispatch. Jobs found running are failed, never resumed.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx = ctx

	n, err := s.store.RecoverInterrupted()
	if err != nil {
		return fmt.Errorf("restart recovery failed: %w", err)
	}
	if n > 0 {
		s.logger.Warn("recovered interrupted jobs", "count", n)
	}
	s.bus.Emit(events.New(events.DaemonRecovered, "").WithPayload(n))

	s.Wake()
	return nil
}

// Wait blocks until all in-flight jobs finish.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Enqueue inserts a queued job and wakes dispatch.
func (s *Scheduler) Enqueue(job *store.Job) error {
	if err := s.store.CreateJob(job); err != nil {
		return err
	}
	s.bus.Emit(events.New(events.JobQueued, job.ID))
	s.Wake()
	return nil
}

// Wake triggers a dispatch pass. If one is already in flight it is
// flagged to run again, so a wake is never lost.
func (s *Scheduler) Wake() {
	s.mu.Lock()
	if s.dispatching {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	s.mu.Unlock()

	go func() {
		for {
			s.dispatchPass()
			s.mu.Lock()
			if !s.dirty {
				s.dispatching = false
				s.mu.Unlock()
				return
			}
			s.dirty = false
			s.mu.Unlock()
		}
	}()
}

// dispatchPass fills free slots from the queue in FIFO order.
func (s *Scheduler) dispatchPass() {
	running, err := s.store.CountRunning()
	if err != nil {
		s.logger.Error("dispatch: failed to count running jobs", "error", err)
		return
	}
	free := s.maxConcurrent - running
	if free <= 0 {
		return
	}

	queued, err := s.store.ListQueuedJobs()
	if err != nil {
		s.logger.Error("dispatch: failed to list queued jobs", "error", err)
		return
	}
	if len(queued) == 0 {
		return
	}

	// Spec jobs serialize per feature: the pipeline is the only writer
	// of a feature's spec output while its job runs.
	specBusy, err := s.store.RunningSpecFeatureIDs()
	if err != nil {
		s.logger.Error("dispatch: failed to read running spec jobs", "error", err)
		return
	}

	for _, job := range queued {
		if free <= 0 {
			return
		}
		if job.Type == store.TypeSpec && job.FeatureID != nil && specBusy[*job.FeatureID] {
			continue
		}

		claimed, err := s.store.ClaimQueued(job.ID)
		if err != nil {
			s.logger.Error("dispatch: failed to claim job", "job", job.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		if job.Type == store.TypeSpec && job.FeatureID != nil {
			specBusy[*job.FeatureID] = true
		}
		free--
		s.launch(job)
	}
}

// launch runs a claimed job in its own goroutine and re-wakes dispatch
// when it finishes.
func (s *Scheduler) launch(job *store.Job) {
	jobCtx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.bus.Emit(events.New(events.JobStarted, job.ID))
	s.logger.Info("job started", "job", job.ID, "type", job.Type)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, job.ID)
			s.mu.Unlock()
			cancel()
			s.Wake()
		}()

		r := s.Router(job)
		if err := r.Run(jobCtx, job); err != nil {
			s.logger.Error("runner returned an error", "job", job.ID, "error", err)
		}
	}()
}

// Cancel terminates a job. Running jobs get a SIGTERM to the recorded
// coder pid plus a context cancellation; the terminal status write is
// conditional, so a job that finished in the meantime keeps its natural
// result.
func (s *Scheduler) Cancel(jobID string) error {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}

	if job.Status == store.StatusRunning {
		if job.PID != nil {
			if err := syscall.Kill(*job.PID, syscall.SIGTERM); err != nil {
				s.logger.Warn("failed to signal coder process", "job", jobID, "pid", *job.PID, "error", err)
			}
		}
		s.mu.Lock()
		if cancel, ok := s.cancels[jobID]; ok {
			cancel()
		}
		s.mu.Unlock()
	}

	applied, err := s.store.CancelJob(jobID)
	if err != nil {
		return err
	}
	if applied {
		s.bus.Emit(events.New(events.JobCancelled, jobID))
		s.logger.Info("job cancelled", "job", jobID)
	}
	s.Wake()
	return nil
}
