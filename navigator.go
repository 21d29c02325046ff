package tramite

import (
	"context"
	"fmt"

	"github.com/tramite-io/tramite/condition"
)

// Navigator traverses a process definition. It holds a restartable cursor
// rather than a one-shot stream: the cascade-repair flow re-scans from the
// head while a forward step survives intervening state changes.
type Navigator struct {
	def      *ProcessDefinition
	pos      int
	compiled map[string]*condition.Program
}

// NewNavigator returns a navigator positioned at the head of the definition.
func NewNavigator(def *ProcessDefinition) *Navigator {
	return &Navigator{def: def, compiled: map[string]*condition.Program{}}
}

// Definition returns the traversed process definition.
func (n *Navigator) Definition() *ProcessDefinition {
	return n.def
}

// Restart moves the cursor back to the head.
func (n *Navigator) Restart() {
	n.pos = 0
}

// Find scans forward from the cursor for the first node matching the
// predicate, leaving the cursor just past it. ErrElementNotFound on
// exhaustion.
func (n *Navigator) Find(pred func(*NodeSpec) bool) (*NodeSpec, error) {
	for ; n.pos < len(n.def.Nodes); n.pos++ {
		if pred(n.def.Nodes[n.pos]) {
			node := n.def.Nodes[n.pos]
			n.pos++
			return node, nil
		}
	}
	return nil, fmt.Errorf("%w: no matching node in %s", ErrElementNotFound, n.def.FullName())
}

// FindByID positions the cursor at the head and locates a node by id.
func (n *Navigator) FindByID(id string) (*NodeSpec, error) {
	n.Restart()
	node, err := n.Find(func(spec *NodeSpec) bool { return spec.ID == id })
	if err != nil {
		return nil, fmt.Errorf("%w: node %s", ErrElementNotFound, id)
	}
	return node, nil
}

// Next advances past current in document order and returns the next node
// the execution should visit. Conditional candidates are evaluated against
// the execution's recorded answers: a false condition skips the conditional
// and the branch it guards. Candidates already marked valid are skipped,
// which makes replay idempotent when the graph partially re-validates after
// a patch. ErrEndOfProcess signals exhaustion; it is not a failure.
func (n *Navigator) Next(ctx context.Context, current *NodeSpec, exec *Execution) (*NodeSpec, error) {
	idx := n.indexOf(current.ID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: node %s", ErrElementNotFound, current.ID)
	}
	return n.advance(ctx, idx+1, exec, true)
}

// FirstDefective scans from the head for the earliest node whose recorded
// state is invalid or unfilled, ignoring the skip-if-valid rule. Nodes with
// no recorded state were never reached and do not count. Used exclusively
// by patch repair.
func (n *Navigator) FirstDefective(exec *Execution) (*NodeSpec, error) {
	for _, spec := range n.def.Nodes {
		ns := exec.NodeStateByID(spec.ID)
		if ns == nil {
			continue
		}
		if ns.State == StateInvalid || ns.State == StateUnfilled {
			n.pos = n.indexOf(spec.ID) + 1
			return spec, nil
		}
	}
	return nil, fmt.Errorf("%w: no defective node in execution %s", ErrElementNotFound, exec.ID)
}

func (n *Navigator) advance(ctx context.Context, from int, exec *Execution, skipValid bool) (*NodeSpec, error) {
	for i := from; i < len(n.def.Nodes); i++ {
		cand := n.def.Nodes[i]
		if cand.Type == NodeConditional {
			taken, err := n.evalCondition(ctx, cand, exec)
			if err != nil {
				return nil, err
			}
			if !taken {
				i += cand.Span
				continue
			}
			// A taken conditional that already computed is skipped, but
			// its branch nodes are still examined one by one.
			if skipValid && nodeStateIs(exec, cand.ID, StateValid) {
				continue
			}
			n.pos = i + 1
			return cand, nil
		}
		if skipValid && nodeStateIs(exec, cand.ID, StateValid) {
			continue
		}
		n.pos = i + 1
		return cand, nil
	}
	return nil, ErrEndOfProcess
}

func (n *Navigator) evalCondition(ctx context.Context, spec *NodeSpec, exec *Execution) (bool, error) {
	prog, ok := n.compiled[spec.ID]
	if !ok {
		var err error
		prog, err = condition.Compile(ctx, spec.Condition)
		if err != nil {
			return false, fmt.Errorf("%w: conditional %s: %s", ErrMalformedProcess, spec.ID, err)
		}
		n.compiled[spec.ID] = prog
	}
	return prog.Evaluate(executionResolver{exec})
}

func (n *Navigator) indexOf(id string) int {
	for i, spec := range n.def.Nodes {
		if spec.ID == id {
			return i
		}
	}
	return -1
}

func nodeStateIs(exec *Execution, nodeID string, state StepState) bool {
	ns := exec.NodeStateByID(nodeID)
	return ns != nil && ns.State == state
}

// executionResolver adapts an execution's recorded answers to the
// condition.Resolver interface.
type executionResolver struct {
	exec *Execution
}

func (r executionResolver) Resolve(ref, field string) (any, bool) {
	return r.exec.ResolveValue(ref, field)
}
