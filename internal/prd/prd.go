package prd

import (
	"encoding/json"
	"fmt"
	"time"
)

// Story is a single user story within a PRD.
type Story struct {
	ID                 int      `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
	Passes             bool     `json:"passes"`
}

// Document is a product-requirements document: a title plus an ordered
// list of user stories implemented one at a time.
type Document struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Stories     []Story `json:"stories"`
}

// Commit records the commit that completed a story.
type Commit struct {
	StoryID   int       `json:"storyId"`
	SHA       string    `json:"sha"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress tracks story completion across PRD runner iterations.
type Progress struct {
	CurrentStoryID    int      `json:"currentStoryId"`
	CompletedStoryIDs []int    `json:"completedStoryIds"`
	Commits           []Commit `json:"commits"`
}

// Validate checks structural invariants: non-empty title, positive and
// unique story ids.
func (d *Document) Validate() error {
	if d.Title == "" {
		return fmt.Errorf("prd title cannot be empty")
	}
	seen := make(map[int]bool, len(d.Stories))
	for _, s := range d.Stories {
		if s.ID <= 0 {
			return fmt.Errorf("story id must be positive: %d", s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate story id: %d", s.ID)
		}
		seen[s.ID] = true
		if s.Title == "" {
			return fmt.Errorf("story %d has no title", s.ID)
		}
	}
	return nil
}

// NextStory returns the highest-priority unpassed story: the first story,
// in PRD order, with passes=false and not yet completed. Returns nil when
// every story is either passing or completed.
func (d *Document) NextStory(completed []int) *Story {
	done := make(map[int]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	for i := range d.Stories {
		s := &d.Stories[i]
		if !s.Passes && !done[s.ID] {
			return s
		}
	}
	return nil
}

// AllPassed reports whether every story in the document passes.
func (d *Document) AllPassed() bool {
	for _, s := range d.Stories {
		if !s.Passes {
			return false
		}
	}
	return true
}

// Story returns the story with the given id, or nil.
func (d *Document) Story(id int) *Story {
	for i := range d.Stories {
		if d.Stories[i].ID == id {
			return &d.Stories[i]
		}
	}
	return nil
}

// Has reports whether the story id is already recorded as completed.
func (p *Progress) Has(id int) bool {
	for _, c := range p.CompletedStoryIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Record appends a completion commit for a story and marks it completed.
// Recording an already-completed story is a no-op.
func (p *Progress) Record(storyID int, sha, message string, at time.Time) {
	if p.Has(storyID) {
		return
	}
	p.CompletedStoryIDs = append(p.CompletedStoryIDs, storyID)
	p.Commits = append(p.Commits, Commit{
		StoryID:   storyID,
		SHA:       sha,
		Message:   message,
		Timestamp: at,
	})
}

// NewlyPassed returns the stories marked passes=true in doc that are not
// yet in the completed set, in PRD order.
func NewlyPassed(doc *Document, completed []int) []Story {
	done := make(map[int]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	var out []Story
	for _, s := range doc.Stories {
		if s.Passes && !done[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// Parse decodes a PRD document from JSON and validates it.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse prd: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
