package api

import (
	"time"

	"github.com/forgeline/foreman/internal/feedback"
	"github.com/forgeline/foreman/internal/store"
)

// jobView is the wire shape for a job.
type jobView struct {
	ID           string  `json:"id"`
	ClientID     string  `json:"clientId"`
	FeatureID    *string `json:"featureId,omitempty"`
	RepositoryID *string `json:"repositoryId,omitempty"`

	Type    store.JobType   `json:"type"`
	PRDMode bool            `json:"prdMode,omitempty"`
	Status  store.JobStatus `json:"status"`

	Prompt            string   `json:"prompt"`
	BranchName        string   `json:"branchName,omitempty"`
	Title             *string  `json:"title,omitempty"`
	MaxIterations     int      `json:"maxIterations,omitempty"`
	CompletionPromise string   `json:"completionPromise,omitempty"`
	FeedbackCommands  []string `json:"feedbackCommands,omitempty"`
	SpecPhase         string   `json:"specPhase,omitempty"`

	ExitCode         *int    `json:"exitCode,omitempty"`
	PRURL            *string `json:"prUrl,omitempty"`
	PRNumber         *int    `json:"prNumber,omitempty"`
	FilesChanged     *int    `json:"filesChanged,omitempty"`
	Error            *string `json:"error,omitempty"`
	CompletionReason *string `json:"completionReason,omitempty"`
	CurrentIteration *int    `json:"currentIteration,omitempty"`
	TotalIterations  *int    `json:"totalIterations,omitempty"`
	WorktreePath     *string `json:"worktreePath,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func toJobView(job *store.Job) *jobView {
	return &jobView{
		ID:                job.ID,
		ClientID:          job.ClientID,
		FeatureID:         job.FeatureID,
		RepositoryID:      job.RepositoryID,
		Type:              job.Type,
		PRDMode:           job.PRDMode,
		Status:            job.Status,
		Prompt:            job.Prompt,
		BranchName:        job.BranchName,
		Title:             job.Title,
		MaxIterations:     job.MaxIterations,
		CompletionPromise: job.CompletionPromise,
		FeedbackCommands:  job.FeedbackCommands,
		SpecPhase:         string(job.SpecPhase),
		ExitCode:          job.ExitCode,
		PRURL:             job.PRURL,
		PRNumber:          job.PRNumber,
		FilesChanged:      job.FilesChanged,
		Error:             job.Error,
		CompletionReason:  job.CompletionReason,
		CurrentIteration:  job.CurrentIteration,
		TotalIterations:   job.TotalIterations,
		WorktreePath:      job.WorktreePath,
		CreatedAt:         job.CreatedAt,
		StartedAt:         job.StartedAt,
		CompletedAt:       job.CompletedAt,
	}
}

func toJobViews(jobs []*store.Job) []*jobView {
	views := make([]*jobView, len(jobs))
	for i, job := range jobs {
		views[i] = toJobView(job)
	}
	return views
}

// messageView is the wire shape for a transcript line.
type messageView struct {
	ID        int64             `json:"id"`
	Kind      store.MessageKind `json:"kind"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"createdAt"`
}

func toMessageViews(msgs []*store.JobMessage) []*messageView {
	views := make([]*messageView, len(msgs))
	for i, m := range msgs {
		views[i] = &messageView{ID: m.ID, Kind: m.Kind, Content: m.Content, CreatedAt: m.CreatedAt}
	}
	return views
}

// iterationView is the wire shape for one loop/PRD/spec iteration.
type iterationView struct {
	Number          int              `json:"number"`
	Summary         *string          `json:"summary,omitempty"`
	PromiseDetected bool             `json:"promiseDetected"`
	Feedback        *feedback.Result `json:"feedback,omitempty"`
	ExitCode        *int             `json:"exitCode,omitempty"`
	CommitSHA       *string          `json:"commitSha,omitempty"`
	StoryID         *int             `json:"storyId,omitempty"`
	TaskID          *int             `json:"taskId,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

func toIterationViews(its []*store.JobIteration) []*iterationView {
	views := make([]*iterationView, len(its))
	for i, it := range its {
		views[i] = &iterationView{
			Number:          it.Number,
			Summary:         it.Summary,
			PromiseDetected: it.PromiseDetected,
			Feedback:        it.Feedback,
			ExitCode:        it.ExitCode,
			CommitSHA:       it.CommitSHA,
			StoryID:         it.StoryID,
			TaskID:          it.TaskID,
			CreatedAt:       it.CreatedAt,
		}
	}
	return views
}
