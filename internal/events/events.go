package events

import (
	"fmt"
	"strings"
	"time"
)

// Event represents a single occurrence in the job lifecycle.
type Event struct {
	// Time is when the event occurred (set by the bus on emit).
	Time time.Time `json:"time"`

	// Type identifies what happened.
	Type EventType `json:"type"`

	// JobID is the job this event relates to (empty for daemon events).
	JobID string `json:"jobId,omitempty"`

	// Iteration is the iteration number (nil if not iteration-related).
	Iteration *int `json:"iteration,omitempty"`

	// Payload contains event-specific data (type varies by event).
	Payload any `json:"payload,omitempty"`

	// Error contains an error message if this is a failure event.
	Error string `json:"error,omitempty"`
}

// EventType is a string constant identifying the event category.
type EventType string

// Daemon lifecycle events.
const (
	DaemonStarted   EventType = "daemon.started"
	DaemonRecovered EventType = "daemon.recovered"
)

// Job lifecycle events.
const (
	JobQueued    EventType = "job.queued"
	JobStarted   EventType = "job.started"
	JobCompleted EventType = "job.completed"
	JobFailed    EventType = "job.failed"
	JobCancelled EventType = "job.cancelled"
)

// Iteration events.
const (
	IterationStarted   EventType = "iteration.started"
	IterationCommitted EventType = "iteration.committed"
	IterationFeedback  EventType = "iteration.feedback"
	IterationCompleted EventType = "iteration.completed"
	IterationFailed    EventType = "iteration.failed"
	PromiseDetected    EventType = "iteration.promise"
)

// Workspace and hosting events.
const (
	WorktreeCreated EventType = "worktree.created"
	WorktreeRemoved EventType = "worktree.removed"
	BranchPushed    EventType = "branch.pushed"
	PRCreated       EventType = "pr.created"
)

// Spec pipeline events.
const (
	PhaseStarted   EventType = "phase.started"
	PhaseMerged    EventType = "phase.merged"
	PhaseAdvanced  EventType = "phase.advanced"
	PhaseWaiting   EventType = "phase.waiting"
	JudgeEvaluated EventType = "judge.evaluated"
)

// New creates an event with the given type and job id.
func New(eventType EventType, jobID string) Event {
	return Event{Type: eventType, JobID: jobID}
}

// WithIteration returns a copy of the event with the iteration set.
func (e Event) WithIteration(n int) Event {
	e.Iteration = &n
	return e
}

// WithPayload returns a copy of the event with the payload set.
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// WithError returns a copy of the event with the error message set.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// IsFailure returns true if this is a failure event type.
func (e Event) IsFailure() bool {
	return strings.HasSuffix(string(e.Type), ".failed")
}

// String returns a human-readable representation of the event.
func (e Event) String() string {
	parts := []string{fmt.Sprintf("[%s]", e.Type)}
	if e.JobID != "" {
		parts = append(parts, e.JobID)
	}
	if e.Iteration != nil {
		parts = append(parts, fmt.Sprintf("iter=%d", *e.Iteration))
	}
	if e.Error != "" {
		parts = append(parts, "error="+e.Error)
	}
	return strings.Join(parts, " ")
}
