// Package workflow defines the workflow state machine: definitions (phase
// graphs with sequential, conditional, and parallel transitions), persisted
// execution state, and the pure next-action derivation that makes resume
// after a process restart exact.
package workflow

import (
	"errors"
	"fmt"

	"github.com/launchflow/helmsman/internal/domain/agent"
)

var (
	ErrNameRequired        = errors.New("definition name is required")
	ErrNoPhases            = errors.New("definition must have at least one phase")
	ErrDuplicatePhase      = errors.New("duplicate phase name")
	ErrUnknownPhaseRef     = errors.New("transition references unknown phase")
	ErrMissingAgent        = errors.New("phase agent is required")
	ErrCycleWithoutExit    = errors.New("phase graph contains a cycle with no exit transition")
	ErrNestedParallel      = errors.New("parallel branches must not themselves be parallel")
	ErrNoApplicableEdge    = errors.New("no applicable transition")
	ErrInvalidPredicate    = errors.New("invalid predicate")
	ErrInvalidDefinition   = errors.New("invalid workflow definition")
	ErrNotPaused           = errors.New("execution is not paused")
	ErrExecutionTerminal   = errors.New("execution is in a terminal state")
	ErrActiveExecution     = errors.New("project already has an active execution")
	ErrPhaseResultMismatch = errors.New("phase result does not match any dispatched phase")
)

// PredicateOp is a typed predicate operator over execution context variables.
type PredicateOp string

const (
	OpTruthy   PredicateOp = "truthy"
	OpEquals   PredicateOp = "equals"
	OpNonEmpty PredicateOp = "non_empty"
)

// Predicate is one typed condition over the execution context.
type Predicate struct {
	Var   string      `json:"var" yaml:"var"`
	Op    PredicateOp `json:"op" yaml:"op"`
	Value string      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Eval applies the predicate to the execution context. Missing variables
// evaluate to false for all operators.
func (p Predicate) Eval(vars map[string]any) bool {
	val, ok := vars[p.Var]
	if !ok {
		return false
	}
	switch p.Op {
	case OpTruthy:
		return truthy(val)
	case OpEquals:
		return fmt.Sprint(val) == p.Value
	case OpNonEmpty:
		return nonEmpty(val)
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1" || t == "yes"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	return false
}

func nonEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// Edge is one conditional transition; the first matching edge wins.
type Edge struct {
	When Predicate `json:"when" yaml:"when"`
	To   string    `json:"to" yaml:"to"`
}

// Branch names one phase activated concurrently inside a parallel split.
// A failed optional branch does not fail the join.
type Branch struct {
	Phase    string `json:"phase" yaml:"phase"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// ParallelSpec turns a phase into a split node: all branches are dispatched
// concurrently and flow continues at Join once every branch is terminal.
type ParallelSpec struct {
	Branches []Branch `json:"branches" yaml:"branches"`
	Join     string   `json:"join" yaml:"join"`
}

// Phase is one node of the workflow graph. A phase either carries agent
// work (Agent set) or is a parallel split (Parallel set).
type Phase struct {
	Name            string        `json:"name" yaml:"name"`
	Agent           agent.Type    `json:"agent,omitempty" yaml:"agent,omitempty"`
	Instructions    string        `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	ExpectedOutputs []string      `json:"expected_outputs,omitempty" yaml:"expected_outputs,omitempty"`
	EstimatedTokens int64         `json:"estimated_tokens,omitempty" yaml:"estimated_tokens,omitempty"`
	Next            string        `json:"next,omitempty" yaml:"next,omitempty"`
	Conditions      []Edge        `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Parallel        *ParallelSpec `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// Definition is a validated workflow graph loaded from configuration.
type Definition struct {
	Name   string  `json:"name" yaml:"name"`
	Entry  string  `json:"entry,omitempty" yaml:"entry,omitempty"`
	Phases []Phase `json:"phases" yaml:"phases"`
}

// PhaseByName returns the named phase, or nil.
func (d *Definition) PhaseByName(name string) *Phase {
	for i := range d.Phases {
		if d.Phases[i].Name == name {
			return &d.Phases[i]
		}
	}
	return nil
}

// EntryPhase returns the configured entry phase, defaulting to the first.
func (d *Definition) EntryPhase() string {
	if d.Entry != "" {
		return d.Entry
	}
	if len(d.Phases) > 0 {
		return d.Phases[0].Name
	}
	return ""
}

// Validate checks the definition for structural correctness: unique names,
// known agents, resolvable transition targets, no nested parallel splits,
// and no cycle without an exit transition. All errors wrap
// ErrInvalidDefinition so callers can classify them as configuration bugs.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, ErrNameRequired)
	}
	if len(d.Phases) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, ErrNoPhases)
	}

	index := make(map[string]int, len(d.Phases))
	for i, p := range d.Phases {
		if p.Name == "" {
			return fmt.Errorf("%w: phase %d: name is required", ErrInvalidDefinition, i)
		}
		if _, dup := index[p.Name]; dup {
			return fmt.Errorf("%w: %w: %q", ErrInvalidDefinition, ErrDuplicatePhase, p.Name)
		}
		index[p.Name] = i
	}

	if d.Entry != "" {
		if _, ok := index[d.Entry]; !ok {
			return fmt.Errorf("%w: %w: entry %q", ErrInvalidDefinition, ErrUnknownPhaseRef, d.Entry)
		}
	}

	for _, p := range d.Phases {
		if p.Parallel == nil {
			if p.Agent == "" {
				return fmt.Errorf("%w: %w: phase %q", ErrInvalidDefinition, ErrMissingAgent, p.Name)
			}
			if !agent.Known(p.Agent) {
				return fmt.Errorf("%w: phase %q: unknown agent %q", ErrInvalidDefinition, p.Name, p.Agent)
			}
			if p.Instructions == "" {
				return fmt.Errorf("%w: phase %q: instructions are required", ErrInvalidDefinition, p.Name)
			}
		} else {
			if len(p.Parallel.Branches) == 0 {
				return fmt.Errorf("%w: phase %q: parallel requires at least one branch", ErrInvalidDefinition, p.Name)
			}
			if _, ok := index[p.Parallel.Join]; !ok {
				return fmt.Errorf("%w: %w: phase %q join %q", ErrInvalidDefinition, ErrUnknownPhaseRef, p.Name, p.Parallel.Join)
			}
			for _, b := range p.Parallel.Branches {
				bi, ok := index[b.Phase]
				if !ok {
					return fmt.Errorf("%w: %w: phase %q branch %q", ErrInvalidDefinition, ErrUnknownPhaseRef, p.Name, b.Phase)
				}
				if d.Phases[bi].Parallel != nil {
					return fmt.Errorf("%w: %w: phase %q branch %q", ErrInvalidDefinition, ErrNestedParallel, p.Name, b.Phase)
				}
			}
		}
		if p.Next != "" {
			if _, ok := index[p.Next]; !ok {
				return fmt.Errorf("%w: %w: phase %q next %q", ErrInvalidDefinition, ErrUnknownPhaseRef, p.Name, p.Next)
			}
		}
		for _, e := range p.Conditions {
			if _, ok := index[e.To]; !ok {
				return fmt.Errorf("%w: %w: phase %q edge to %q", ErrInvalidDefinition, ErrUnknownPhaseRef, p.Name, e.To)
			}
			if e.When.Var == "" {
				return fmt.Errorf("%w: %w: phase %q edge to %q: var required", ErrInvalidDefinition, ErrInvalidPredicate, p.Name, e.To)
			}
			switch e.When.Op {
			case OpTruthy, OpEquals, OpNonEmpty:
			default:
				return fmt.Errorf("%w: %w: phase %q op %q", ErrInvalidDefinition, ErrInvalidPredicate, p.Name, e.When.Op)
			}
		}
	}

	return d.validateCycles(index)
}

// validateCycles rejects strongly connected components that have no edge
// leaving them. Cycles themselves are legal (e.g. build -> validate -> build
// until tests pass) as long as some transition exits the loop.
func (d *Definition) validateCycles(index map[string]int) error {
	n := len(d.Phases)
	adj := make([][]int, n)
	addEdge := func(from int, to string) {
		adj[from] = append(adj[from], index[to])
	}
	for i, p := range d.Phases {
		if p.Next != "" {
			addEdge(i, p.Next)
		}
		for _, e := range p.Conditions {
			addEdge(i, e.To)
		}
		if p.Parallel != nil {
			for _, b := range p.Parallel.Branches {
				addEdge(i, b.Phase)
				addEdge(index[b.Phase], p.Parallel.Join)
			}
		}
	}

	comp := tarjanSCC(adj)

	// Component id per node, then check each multi-node (or self-loop)
	// component for an outgoing edge.
	compOf := make([]int, n)
	for id, nodes := range comp {
		for _, v := range nodes {
			compOf[v] = id
		}
	}
	for id, nodes := range comp {
		cyclic := len(nodes) > 1
		if !cyclic {
			v := nodes[0]
			for _, w := range adj[v] {
				if w == v {
					cyclic = true
					break
				}
			}
		}
		if !cyclic {
			continue
		}
		hasExit := false
		for _, v := range nodes {
			for _, w := range adj[v] {
				if compOf[w] != id {
					hasExit = true
					break
				}
			}
			if hasExit {
				break
			}
		}
		if !hasExit {
			return fmt.Errorf("%w: %w: involving phase %q", ErrInvalidDefinition, ErrCycleWithoutExit, d.Phases[nodes[0]].Name)
		}
	}
	return nil
}

// tarjanSCC returns the strongly connected components of adj.
func tarjanSCC(adj [][]int) [][]int {
	n := len(adj)
	const unvisited = -1
	idx := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range idx {
		idx[i] = unvisited
	}

	var (
		counter int
		stack   []int
		comps   [][]int
	)

	var strongconnect func(v int)
	strongconnect = func(v int) {
		idx[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if idx[w] == unvisited {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] && idx[w] < low[v] {
				low[v] = idx[w]
			}
		}

		if low[v] == idx[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			comps = append(comps, comp)
		}
	}

	for v := range adj {
		if idx[v] == unvisited {
			strongconnect(v)
		}
	}
	return comps
}

// NextPhase evaluates the transition rules of the named phase against the
// execution context. Conditional edges are evaluated first (first match
// wins), then the sequential default. Returns end=true when the phase has
// no transitions at all (workflow complete). When conditions exist but none
// match and there is no default, returns ErrNoApplicableEdge.
func (d *Definition) NextPhase(from string, vars map[string]any) (to string, end bool, err error) {
	p := d.PhaseByName(from)
	if p == nil {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownPhaseRef, from)
	}
	for _, e := range p.Conditions {
		if e.When.Eval(vars) {
			return e.To, false, nil
		}
	}
	if p.Next != "" {
		return p.Next, false, nil
	}
	if len(p.Conditions) > 0 {
		return "", false, fmt.Errorf("%w: from phase %q", ErrNoApplicableEdge, from)
	}
	return "", true, nil
}
