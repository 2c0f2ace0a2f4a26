package specpipe

// Phase is one of the six spec-authoring stages.
type Phase string

const (
	PhaseConstitution Phase = "constitution"
	PhaseSpecify      Phase = "specify"
	PhaseClarify      Phase = "clarify"
	PhasePlan         Phase = "plan"
	PhaseAnalyze      Phase = "analyze"
	PhaseTasks        Phase = "tasks"
)

// Phases lists all phases in pipeline order.
var Phases = []Phase{
	PhaseConstitution,
	PhaseSpecify,
	PhaseClarify,
	PhasePlan,
	PhaseAnalyze,
	PhaseTasks,
}

// Valid reports whether p names a known phase.
func (p Phase) Valid() bool {
	return p.Order() >= 0
}

// Order returns the numeric position of a phase, or -1 for unknown phases.
func (p Phase) Order() int {
	for i, ph := range Phases {
		if ph == p {
			return i
		}
	}
	return -1
}

// Next returns the following phase and true, or "" and false for the
// final phase.
func (p Phase) Next() (Phase, bool) {
	i := p.Order()
	if i < 0 || i+1 >= len(Phases) {
		return "", false
	}
	return Phases[i+1], true
}

// Action is the auto-progression decision made after a phase completes.
type Action string

const (
	// ActionAutoProgress enqueues the next phase.
	ActionAutoProgress Action = "auto_progress"
	// ActionWaitHuman halts for unanswered clarifications.
	ActionWaitHuman Action = "wait_human"
	// ActionAnalyzeFailed halts because analysis did not pass.
	ActionAnalyzeFailed Action = "analyze_failed"
	// ActionComplete means the pipeline finished.
	ActionComplete Action = "spec_complete"
)

// NextAction computes the auto-progression decision for a freshly merged
// phase result.
func NextAction(phase Phase, out *Output) Action {
	switch phase {
	case PhaseClarify:
		if out.UnansweredClarifications() > 0 {
			return ActionWaitHuman
		}
	case PhaseAnalyze:
		if out.Analysis != nil && !out.Analysis.Passed {
			return ActionAnalyzeFailed
		}
	}
	if _, ok := phase.Next(); ok {
		return ActionAutoProgress
	}
	return ActionComplete
}

// StageCode maps a phase and progression action onto the feature workflow
// stage identifier written back to the feature row.
func StageCode(phase Phase, action Action) string {
	if phase == PhaseClarify && action == ActionWaitHuman {
		return "clarify_waiting"
	}
	if phase == PhaseAnalyze && action == ActionAnalyzeFailed {
		return "analyze_failed"
	}
	return string(phase) + "_complete"
}
