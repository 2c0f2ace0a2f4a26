package specpipe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxJudgeIterations bounds the judge/improve loop for the plan phase.
const MaxJudgeIterations = 3

// DefaultCriteria is the fixed quality rubric the plan judge evaluates.
var DefaultCriteria = []string{
	"Follows existing codebase patterns and conventions",
	"Error handling is specified for every failure path",
	"No hardcoded values; configuration is externalized",
	"Functions and modules are scoped small enough to review",
	"Comments capture intent, not mechanics",
	"Types are strict; no untyped escape hatches",
	"API boundaries define their error responses",
	"Security: input validation and no secret leakage",
	"Performance: no obvious N+1 or unbounded work",
}

// JudgeResult is the judge pass verdict over a plan.
type JudgeResult struct {
	Passed       bool             `json:"passed"`
	OverallScore int              `json:"overallScore"`
	Criteria     []CriterionScore `json:"criteria"`
	Summary      string           `json:"summary"`
	Improvements []string         `json:"improvements"`
}

// CriterionScore is the judge's verdict on one criterion.
type CriterionScore struct {
	Criterion   string   `json:"criterion"`
	Passed      bool     `json:"passed"`
	Reasoning   string   `json:"reasoning"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Improvement is the improve pass output: a replacement plan plus a
// summary of what changed.
type Improvement struct {
	ImprovedPlan   *PlanResult `json:"improvedPlan"`
	ChangesSummary []string    `json:"changesSummary"`
}

// FailingCriteria returns the criteria the judge failed.
func (r *JudgeResult) FailingCriteria() []CriterionScore {
	var out []CriterionScore
	for _, c := range r.Criteria {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// BuildJudgePrompt asks the CLI to evaluate a plan against the rubric.
func BuildJudgePrompt(plan *PlanResult) string {
	var b strings.Builder
	b.WriteString("You are a strict engineering reviewer. Judge the implementation plan\n")
	b.WriteString("below against each criterion. A plan passes only if every criterion passes.\n\n")
	b.WriteString("Criteria:\n")
	for i, c := range DefaultCriteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	b.WriteString("\nPlan:\n")
	writeJSON(&b, plan)
	writeOutputContract(&b, "passed (bool), overallScore (0-100), "+
		"criteria[{criterion, passed, reasoning, suggestions?}], summary, improvements[]")
	return b.String()
}

// BuildImprovePrompt asks the CLI to revise a plan that failed judgement.
func BuildImprovePrompt(plan *PlanResult, verdict *JudgeResult) string {
	var b strings.Builder
	b.WriteString("The implementation plan below failed review. Revise it to address every\n")
	b.WriteString("failing criterion while keeping the approved parts intact.\n\n")
	b.WriteString("Failing criteria:\n")
	for _, c := range verdict.FailingCriteria() {
		fmt.Fprintf(&b, "- %s: %s\n", c.Criterion, c.Reasoning)
		for _, s := range c.Suggestions {
			fmt.Fprintf(&b, "  suggestion: %s\n", s)
		}
	}
	if len(verdict.Improvements) > 0 {
		b.WriteString("\nRequested improvements:\n")
		for _, imp := range verdict.Improvements {
			fmt.Fprintf(&b, "- %s\n", imp)
		}
	}
	b.WriteString("\nCurrent plan:\n")
	writeJSON(&b, plan)
	writeOutputContract(&b, "improvedPlan (same shape as the plan), changesSummary[]")
	return b.String()
}

// ParseJudgeResult extracts the judge verdict from raw CLI output.
func ParseJudgeResult(output string) (*JudgeResult, error) {
	doc := ExtractJSON(output)
	var r JudgeResult
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decode judge result: %w", err)
	}
	return &r, nil
}

// ParseImprovement extracts the improve pass output from raw CLI output.
func ParseImprovement(output string) (*Improvement, error) {
	doc := ExtractJSON(output)
	var imp Improvement
	if err := json.Unmarshal([]byte(doc), &imp); err != nil {
		return nil, fmt.Errorf("decode improvement: %w", err)
	}
	if imp.ImprovedPlan == nil {
		return nil, fmt.Errorf("improvement missing 'improvedPlan' key")
	}
	return &imp, nil
}
