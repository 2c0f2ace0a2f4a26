package store

import (
	"time"

	"github.com/forgeline/foreman/internal/feedback"
	"github.com/forgeline/foreman/internal/prd"
	"github.com/forgeline/foreman/internal/specpipe"
)

// JobStatus is the job lifecycle state.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if the status is a final state.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobType selects the execution mode.
type JobType string

const (
	TypeCode          JobType = "code"
	TypeRalph         JobType = "ralph"
	TypePRDGeneration JobType = "prd_generation"
	TypeSpec          JobType = "spec"
)

// Completion reasons recorded on terminal jobs.
const (
	ReasonPromiseDetected    = "promise_detected"
	ReasonMaxIterations      = "max_iterations"
	ReasonIterationError     = "iteration_error"
	ReasonAllStoriesComplete = "all_stories_complete"
)

// ErrInterruptedByRestart is the error text written to jobs found running
// at daemon startup.
const ErrInterruptedByRestart = "interrupted by restart"

// Job is one unit of dispatched work.
type Job struct {
	ID           string
	ClientID     string
	FeatureID    *string
	RepositoryID *string
	CreatedByID  *string

	Type    JobType
	PRDMode bool
	Status  JobStatus

	// Execution inputs.
	Prompt            string
	BranchName        string
	Title             *string
	MaxIterations     int
	CompletionPromise string
	FeedbackCommands  []string
	PRD               *prd.Document
	SpecPhase         specpipe.Phase
	SpecOutput        *specpipe.Output

	// Execution outputs.
	ExitCode          *int
	PRURL             *string
	PRNumber          *int
	FilesChanged      *int
	CodeBranchID      *string
	CodePullRequestID *string
	Error             *string
	WorktreePath      *string
	PID               *int
	CompletionReason  *string
	CurrentIteration  *int
	TotalIterations   *int
	PRDProgress       *prd.Progress

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// SpecMode reports whether the job drives spec-task execution.
func (j *Job) SpecMode() bool {
	return j.SpecOutput != nil && j.SpecOutput.SpecMode
}

// MessageKind tags a job message line.
type MessageKind string

const (
	MessageStdout    MessageKind = "stdout"
	MessageStderr    MessageKind = "stderr"
	MessageSystem    MessageKind = "system"
	MessageUserInput MessageKind = "user_input"
)

// JobMessage is one append-only log line attached to a job.
type JobMessage struct {
	ID        int64
	JobID     string
	Kind      MessageKind
	Content   string
	CreatedAt time.Time
}

// JobIteration is the per-iteration record for loop/PRD/spec runners.
type JobIteration struct {
	ID              int64
	JobID           string
	Number          int
	Prompt          string
	Summary         *string
	PromiseDetected bool
	Feedback        *feedback.Result
	ExitCode        *int
	CommitSHA       *string
	StoryID         *int
	TaskID          *int
	CreatedAt       time.Time
}

// Feature is the authoring-side aggregate the spec pipeline reads and
// writes.
type Feature struct {
	ID                 string
	ClientID           string
	Title              string
	FunctionalityNotes *string
	ClientContext      *string
	FeatureTypeID      *string
	PRD                *prd.Document
	SpecOutput         *specpipe.Output
	SpecPhase          specpipe.Phase
	WorkflowStageID    *string
}

// Client owns features and repositories.
type Client struct {
	ID                      string
	Name                    string
	Constitution            *string
	ConstitutionGeneratedAt *time.Time
}

// Repository identifies a hosted git repository.
type Repository struct {
	ID            string
	ClientID      string
	Provider      string
	OwnerName     string
	RepoName      string
	DefaultBranch string
	URL           string
}

// CodeBranch is an idempotent provenance row for a pushed branch.
type CodeBranch struct {
	ID           string
	RepositoryID string
	Name         string
	JobID        *string
	CreatedAt    time.Time
}

// CodePullRequest is an idempotent provenance row for an opened PR.
type CodePullRequest struct {
	ID           string
	RepositoryID string
	Number       int
	URL          string
	Title        *string
	BranchID     *string
	CreatedAt    time.Time
}
