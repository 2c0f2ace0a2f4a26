package specpipe

import (
	"encoding/json"
	"fmt"
	"time"
)

// Output is the cumulative per-feature spec artifact. Each phase fills in
// its own sub-document; Phase names the most recently completed phase.
// Regenerating an earlier phase overwrites that sub-document and rewinds
// Phase to the regenerated phase.
type Output struct {
	Phase    Phase `json:"phase,omitempty"`
	SpecMode bool  `json:"specMode,omitempty"`

	Constitution *ConstitutionResult `json:"constitution,omitempty"`
	Spec         *SpecResult         `json:"spec,omitempty"`

	Clarifications     []Clarification `json:"clarifications,omitempty"`
	Assumptions        []string        `json:"assumptions,omitempty"`
	RisksIfUnclarified []string        `json:"risksIfUnclarified,omitempty"`

	Plan     *PlanResult     `json:"plan,omitempty"`
	Analysis *AnalysisResult `json:"analysis,omitempty"`

	Tasks          []Task          `json:"tasks,omitempty"`
	CriticalPath   json.RawMessage `json:"criticalPath,omitempty"`
	Parallelizable json.RawMessage `json:"parallelizable,omitempty"`
}

// ConstitutionResult is the constitution phase artifact.
type ConstitutionResult struct {
	Constitution string   `json:"constitution"`
	TechStack    []string `json:"techStack"`
	KeyPatterns  []string `json:"keyPatterns"`
}

// SpecResult is the specify phase artifact.
type SpecResult struct {
	Overview           string                `json:"overview"`
	Requirements       []Requirement         `json:"requirements"`
	AcceptanceCriteria []AcceptanceCriterion `json:"acceptanceCriteria"`
	OutOfScope         []string              `json:"outOfScope"`
	EdgeCases          []string              `json:"edgeCases"`
}

// Requirement is a single numbered requirement.
type Requirement struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// AcceptanceCriterion ties testable criteria to a requirement.
type AcceptanceCriterion struct {
	ID          string `json:"id"`
	Requirement string `json:"requirement"`
	Criteria    string `json:"criteria"`
}

// Clarification is a question raised by the clarify phase, optionally
// answered by a human through the ingress.
type Clarification struct {
	ID               string     `json:"id"`
	Category         string     `json:"category"`
	Question         string     `json:"question"`
	Context          string     `json:"context,omitempty"`
	SuggestedDefault string     `json:"suggestedDefault,omitempty"`
	Response         string     `json:"response,omitempty"`
	RespondedAt      *time.Time `json:"respondedAt,omitempty"`
}

// PlanResult is the plan phase artifact.
type PlanResult struct {
	Architecture  string        `json:"architecture"`
	TechDecisions []string      `json:"techDecisions"`
	FileStructure FileStructure `json:"fileStructure"`
	SchemaChanges []string      `json:"schemaChanges"`
	APIChanges    []string      `json:"apiChanges"`
	Dependencies  []string      `json:"dependencies"`
}

// FileStructure lists files the plan intends to create or modify.
type FileStructure struct {
	Create []string `json:"create"`
	Modify []string `json:"modify"`
}

// AnalysisResult is the analyze phase artifact.
type AnalysisResult struct {
	Passed           bool            `json:"passed"`
	Issues           []AnalysisIssue `json:"issues"`
	ExistingPatterns []string        `json:"existingPatterns"`
	ReusableCode     []string        `json:"reusableCode"`
	Suggestions      []string        `json:"suggestions"`
}

// AnalysisIssue is a single finding from the analyze phase.
type AnalysisIssue struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// Task is one implementation task from the tasks phase.
type Task struct {
	ID                 int      `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Files              []string `json:"files"`
	Tests              []string `json:"tests,omitempty"`
	Dependencies       []int    `json:"dependencies"`
	EstimatePoints     *int     `json:"estimatePoints,omitempty"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
}

// phasePayload is the transient decode target for a phase's CLI output.
// Each phase populates only its own keys.
type phasePayload struct {
	Constitution string   `json:"constitution"`
	TechStack    []string `json:"techStack"`
	KeyPatterns  []string `json:"keyPatterns"`

	Spec *SpecResult `json:"spec"`

	Clarifications     []Clarification `json:"clarifications"`
	Assumptions        []string        `json:"assumptions"`
	RisksIfUnclarified []string        `json:"risksIfUnclarified"`

	Plan     *PlanResult     `json:"plan"`
	Analysis *AnalysisResult `json:"analysis"`

	Tasks          []Task          `json:"tasks"`
	CriticalPath   json.RawMessage `json:"criticalPath"`
	Parallelizable json.RawMessage `json:"parallelizable"`
}

// Merge decodes a phase's JSON payload and overwrites that phase's
// sub-document in the output, setting Phase to the merged phase while
// preserving every other phase key.
func (o *Output) Merge(phase Phase, raw []byte) error {
	var p phasePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", phase, err)
	}

	switch phase {
	case PhaseConstitution:
		if p.Constitution == "" {
			return fmt.Errorf("constitution payload missing 'constitution' key")
		}
		o.Constitution = &ConstitutionResult{
			Constitution: p.Constitution,
			TechStack:    p.TechStack,
			KeyPatterns:  p.KeyPatterns,
		}
	case PhaseSpecify:
		if p.Spec == nil {
			return fmt.Errorf("specify payload missing 'spec' key")
		}
		o.Spec = p.Spec
	case PhaseClarify:
		// Zero clarifications is legal: the feature was unambiguous.
		o.Clarifications = p.Clarifications
		o.Assumptions = p.Assumptions
		o.RisksIfUnclarified = p.RisksIfUnclarified
	case PhasePlan:
		if p.Plan == nil {
			return fmt.Errorf("plan payload missing 'plan' key")
		}
		o.Plan = p.Plan
	case PhaseAnalyze:
		if p.Analysis == nil {
			return fmt.Errorf("analyze payload missing 'analysis' key")
		}
		o.Analysis = p.Analysis
	case PhaseTasks:
		if len(p.Tasks) == 0 {
			return fmt.Errorf("tasks payload missing 'tasks' key")
		}
		for _, t := range p.Tasks {
			if t.ID <= 0 {
				return fmt.Errorf("task id must be positive: %d", t.ID)
			}
		}
		o.Tasks = p.Tasks
		o.CriticalPath = p.CriticalPath
		o.Parallelizable = p.Parallelizable
	default:
		return fmt.Errorf("unknown phase: %q", phase)
	}

	o.Phase = phase
	return nil
}

// UnansweredClarifications counts clarifications without a response.
func (o *Output) UnansweredClarifications() int {
	n := 0
	for _, c := range o.Clarifications {
		if c.Response == "" {
			n++
		}
	}
	return n
}

// Answer records a human response on a clarification. Returns the number
// of questions still unanswered, or an error if the id is unknown.
func (o *Output) Answer(id, response string, at time.Time) (int, error) {
	for i := range o.Clarifications {
		if o.Clarifications[i].ID == id {
			o.Clarifications[i].Response = response
			o.Clarifications[i].RespondedAt = &at
			return o.UnansweredClarifications(), nil
		}
	}
	return 0, fmt.Errorf("unknown clarification id: %q", id)
}

// NextTask returns the first task, in list order, whose dependencies are
// all satisfied and which is not itself completed. Returns nil when no
// task is eligible.
func NextTask(tasks []Task, completed map[int]bool) *Task {
	for i := range tasks {
		t := &tasks[i]
		if completed[t.ID] {
			continue
		}
		ok := true
		for _, d := range t.Dependencies {
			if !completed[d] {
				ok = false
				break
			}
		}
		if ok {
			return t
		}
	}
	return nil
}
