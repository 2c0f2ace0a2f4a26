package specpipe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PromptContext carries everything a phase prompt can reference. Builders
// are pure functions over this struct; each injects only the prior
// artifacts its phase needs.
type PromptContext struct {
	FeatureTitle       string
	FeatureDescription string
	FeatureTypeID      string
	ClientName         string
	RepoName           string
	TechStack          []string
	Constitution       string
	Spec               *SpecResult
	Plan               *PlanResult
	Clarifications     []Clarification
	RelevantMemories   []string

	// CosmeticFeatureTypeID enables the UI-testing standards section in
	// the constitution prompt when it matches FeatureTypeID.
	CosmeticFeatureTypeID string
}

// IsCosmetic reports whether the feature is flagged as a cosmetic/UI
// feature.
func (c *PromptContext) IsCosmetic() bool {
	return c.CosmeticFeatureTypeID != "" && c.FeatureTypeID == c.CosmeticFeatureTypeID
}

// BuildPhasePrompt dispatches to the per-phase builder.
func BuildPhasePrompt(phase Phase, ctx *PromptContext) (string, error) {
	switch phase {
	case PhaseConstitution:
		return BuildConstitutionPrompt(ctx), nil
	case PhaseSpecify:
		return BuildSpecifyPrompt(ctx), nil
	case PhaseClarify:
		return BuildClarifyPrompt(ctx), nil
	case PhasePlan:
		return BuildPlanPrompt(ctx), nil
	case PhaseAnalyze:
		return BuildAnalyzePrompt(ctx), nil
	case PhaseTasks:
		return BuildTasksPrompt(ctx), nil
	default:
		return "", fmt.Errorf("unknown phase: %q", phase)
	}
}

func writeHeader(b *strings.Builder, phase Phase, ctx *PromptContext) {
	fmt.Fprintf(b, "You are executing phase %d/%d (%s) of a specification pipeline.\n\n",
		phase.Order()+1, len(Phases), phase)
	fmt.Fprintf(b, "Client: %s\nRepository: %s\nFeature: %s\n", ctx.ClientName, ctx.RepoName, ctx.FeatureTitle)
	if ctx.FeatureDescription != "" {
		fmt.Fprintf(b, "Feature notes: %s\n", ctx.FeatureDescription)
	}
	b.WriteString("\n")
	if len(ctx.RelevantMemories) > 0 {
		b.WriteString("Relevant context from previous work:\n")
		for _, m := range ctx.RelevantMemories {
			fmt.Fprintf(b, "- %s\n", m)
		}
		b.WriteString("\n")
	}
}

func writeOutputContract(b *strings.Builder, keys string) {
	b.WriteString("Respond with a single JSON object inside a ```json fenced block.\n")
	fmt.Fprintf(b, "Required keys: %s\n", keys)
	b.WriteString("Do not include any prose outside the fenced block.\n")
}

// BuildConstitutionPrompt produces the phase 1 prompt. A cosmetic feature
// adds UI-testing standards and a headless-browser e2e scaffold
// instruction.
func BuildConstitutionPrompt(ctx *PromptContext) string {
	var b strings.Builder
	writeHeader(&b, PhaseConstitution, ctx)

	b.WriteString("Examine the repository and produce an engineering constitution: the conventions,\n")
	b.WriteString("tech stack, and patterns every generated change must follow.\n\n")
	if len(ctx.TechStack) > 0 {
		fmt.Fprintf(&b, "Known tech stack: %s\n\n", strings.Join(ctx.TechStack, ", "))
	}
	if ctx.IsCosmetic() {
		b.WriteString("This is a cosmetic/UI feature. Include a 'UI Testing Standards' section\n")
		b.WriteString("covering visual verification, and instruct that a headless-browser e2e test\n")
		b.WriteString("scaffold be included with any UI change.\n\n")
	}
	writeOutputContract(&b, "constitution (markdown string), techStack (string[]), keyPatterns (string[])")
	return b.String()
}

// BuildSpecifyPrompt produces the phase 2 prompt.
func BuildSpecifyPrompt(ctx *PromptContext) string {
	var b strings.Builder
	writeHeader(&b, PhaseSpecify, ctx)

	if ctx.Constitution != "" {
		b.WriteString("Engineering constitution to honor:\n")
		b.WriteString(ctx.Constitution)
		b.WriteString("\n\n")
	}
	b.WriteString("Write the feature specification: an overview, numbered requirements with\n")
	b.WriteString("priorities, acceptance criteria tied to requirements, explicit out-of-scope\n")
	b.WriteString("items, and edge cases.\n\n")
	writeOutputContract(&b, "spec {overview, requirements[{id,description,priority}], "+
		"acceptanceCriteria[{id,requirement,criteria}], outOfScope[], edgeCases[]}")
	return b.String()
}

// BuildClarifyPrompt produces the phase 3 prompt.
func BuildClarifyPrompt(ctx *PromptContext) string {
	var b strings.Builder
	writeHeader(&b, PhaseClarify, ctx)

	if ctx.Spec != nil {
		b.WriteString("Current specification:\n")
		writeJSON(&b, ctx.Spec)
	}
	b.WriteString("Identify ambiguities a human must resolve before planning. Ask only\n")
	b.WriteString("questions whose answers change the implementation. If nothing is ambiguous,\n")
	b.WriteString("return an empty clarifications list.\n\n")
	writeOutputContract(&b, "clarifications[{id, category, question, context, suggestedDefault?}], "+
		"assumptions[], risksIfUnclarified[]")
	return b.String()
}

// BuildPlanPrompt produces the phase 4 prompt.
func BuildPlanPrompt(ctx *PromptContext) string {
	var b strings.Builder
	writeHeader(&b, PhasePlan, ctx)

	if ctx.Constitution != "" {
		b.WriteString("Engineering constitution to honor:\n")
		b.WriteString(ctx.Constitution)
		b.WriteString("\n\n")
	}
	if ctx.Spec != nil {
		b.WriteString("Specification:\n")
		writeJSON(&b, ctx.Spec)
	}
	if answered := answeredClarifications(ctx.Clarifications); len(answered) > 0 {
		b.WriteString("Clarification answers from the product owner:\n")
		for _, c := range answered {
			fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", c.Question, c.Response)
		}
		b.WriteString("\n")
	}
	b.WriteString("Produce the implementation plan: architecture, technology decisions, the\n")
	b.WriteString("files to create and modify, schema changes, API changes, and dependencies.\n\n")
	writeOutputContract(&b, "plan {architecture, techDecisions[], fileStructure{create[],modify[]}, "+
		"schemaChanges[], apiChanges[], dependencies[]}")
	return b.String()
}

// BuildAnalyzePrompt produces the phase 5 prompt.
func BuildAnalyzePrompt(ctx *PromptContext) string {
	var b strings.Builder
	writeHeader(&b, PhaseAnalyze, ctx)

	if ctx.Plan != nil {
		b.WriteString("Implementation plan under review:\n")
		writeJSON(&b, ctx.Plan)
	}
	b.WriteString("Analyze the plan against the actual repository. Check for conflicts with\n")
	b.WriteString("existing patterns, code that should be reused instead of rewritten, and\n")
	b.WriteString("gaps that would block implementation. Set passed=false only for issues\n")
	b.WriteString("that must be fixed before task breakdown.\n\n")
	writeOutputContract(&b, "analysis {passed (bool), issues[{severity,description,suggestion}], "+
		"existingPatterns[], reusableCode[], suggestions[]}")
	return b.String()
}

// BuildTasksPrompt produces the phase 6 prompt.
func BuildTasksPrompt(ctx *PromptContext) string {
	var b strings.Builder
	writeHeader(&b, PhaseTasks, ctx)

	if ctx.Plan != nil {
		b.WriteString("Approved implementation plan:\n")
		writeJSON(&b, ctx.Plan)
	}
	b.WriteString("Break the plan into ordered implementation tasks. Task ids are positive\n")
	b.WriteString("integers; dependencies reference earlier task ids. Each task must be\n")
	b.WriteString("independently implementable once its dependencies are complete.\n\n")
	writeOutputContract(&b, "tasks[{id (int), title, description, files[], tests?, "+
		"dependencies (int[]), estimatePoints?, acceptanceCriteria?}], criticalPath, parallelizable")
	return b.String()
}

func answeredClarifications(cs []Clarification) []Clarification {
	var out []Clarification
	for _, c := range cs {
		if c.Response != "" {
			out = append(out, c)
		}
	}
	return out
}

func writeJSON(b *strings.Builder, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	b.WriteString("```json\n")
	b.Write(data)
	b.WriteString("\n```\n\n")
}
