package workflow

import "fmt"

// ActionKind classifies what the engine should do next for an execution.
type ActionKind string

const (
	// ActionDispatch starts the listed phases (one for sequential flow,
	// several for a parallel split).
	ActionDispatch ActionKind = "dispatch"
	// ActionWait means dispatched work is still outstanding.
	ActionWait ActionKind = "wait"
	// ActionRetry re-dispatches a failed phase with an incremented attempt.
	ActionRetry ActionKind = "retry"
	// ActionEscalate means retries are exhausted and a human must decide.
	ActionEscalate ActionKind = "escalate"
	// ActionComplete marks the execution completed.
	ActionComplete ActionKind = "complete"
	// ActionFail marks the execution failed with Reason.
	ActionFail ActionKind = "fail"
)

// Action is the engine's derived next step.
type Action struct {
	Kind   ActionKind
	Phases []string
	Reason string
}

// NextAction derives what the engine should do next purely from the
// definition and the persisted execution state. It is deterministic and
// side-effect free, so the engine can call it both on live phase results
// and when resuming executions after a process restart.
func NextAction(def *Definition, exec *Execution, maxAttempts int) Action {
	if exec.Status.IsTerminal() || exec.Status == StatusPaused {
		return Action{Kind: ActionWait}
	}
	p := def.PhaseByName(exec.CurrentPhase)
	if p == nil {
		return Action{Kind: ActionFail, Reason: fmt.Sprintf("current phase %q not in definition %q", exec.CurrentPhase, def.Name)}
	}
	if p.Parallel != nil {
		return nextParallel(def, exec, p, maxAttempts)
	}
	return nextSequential(def, exec, p, maxAttempts)
}

func nextSequential(def *Definition, exec *Execution, p *Phase, maxAttempts int) Action {
	idx := exec.LatestRecord(p.Name)
	if idx < 0 {
		return Action{Kind: ActionDispatch, Phases: []string{p.Name}}
	}
	rec := exec.History[idx]
	switch rec.Status {
	case PhaseDispatched:
		return Action{Kind: ActionWait}
	case PhaseFailed:
		if rec.Attempt < maxAttempts {
			return Action{Kind: ActionRetry, Phases: []string{p.Name}}
		}
		return Action{Kind: ActionEscalate, Phases: []string{p.Name}, Reason: rec.Error}
	}

	// Completed or skipped: evaluate the transition rules.
	to, end, err := def.NextPhase(p.Name, exec.Context)
	if err != nil {
		return Action{Kind: ActionFail, Reason: err.Error()}
	}
	if end {
		return Action{Kind: ActionComplete}
	}
	return Action{Kind: ActionDispatch, Phases: []string{to}}
}

// nextParallel inspects the branch records belonging to the current visit of
// the split phase. The split's own history record marks where the visit
// began; branch records after it carry SplitPhase for attribution.
func nextParallel(def *Definition, exec *Execution, p *Phase, maxAttempts int) Action {
	splitIdx := exec.LatestRecord(p.Name)
	if splitIdx < 0 {
		phases := make([]string, 0, len(p.Parallel.Branches))
		for _, b := range p.Parallel.Branches {
			phases = append(phases, b.Phase)
		}
		return Action{Kind: ActionDispatch, Phases: phases}
	}
	if exec.History[splitIdx].Status.IsTerminal() {
		// Split already settled in a previous visit; follow the join.
		return Action{Kind: ActionDispatch, Phases: []string{p.Parallel.Join}}
	}

	latest := make(map[string]PhaseRecord, len(p.Parallel.Branches))
	for i := splitIdx + 1; i < len(exec.History); i++ {
		if exec.History[i].SplitPhase == p.Name {
			latest[exec.History[i].Phase] = exec.History[i]
		}
	}

	var missing []string
	outstanding := false
	for _, b := range p.Parallel.Branches {
		rec, ok := latest[b.Phase]
		if !ok {
			missing = append(missing, b.Phase)
			continue
		}
		switch rec.Status {
		case PhaseDispatched:
			outstanding = true
		case PhaseFailed:
			if b.Optional {
				continue
			}
			if rec.Attempt < maxAttempts {
				return Action{Kind: ActionRetry, Phases: []string{b.Phase}}
			}
			return Action{Kind: ActionEscalate, Phases: []string{b.Phase}, Reason: rec.Error}
		}
	}
	if len(missing) > 0 {
		return Action{Kind: ActionDispatch, Phases: missing}
	}
	if outstanding {
		return Action{Kind: ActionWait}
	}
	return Action{Kind: ActionDispatch, Phases: []string{p.Parallel.Join}}
}
