package tramite

import (
	"go.jetify.com/typeid"
)

// NewExecutionID returns a new prefixed id for an execution.
func NewExecutionID() string {
	id, err := typeid.WithPrefix("exec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionStatus represents the lifecycle status of an execution.
type ExecutionStatus string

const (
	ExecutionOngoing   ExecutionStatus = "ongoing"
	ExecutionFinished  ExecutionStatus = "finished"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// StepState is the completion state of a node, actor or input.
type StepState string

const (
	StateUnfilled StepState = "unfilled"
	StateOngoing  StepState = "ongoing"
	StateValid    StepState = "valid"
	StateInvalid  StepState = "invalid"
)

// Execution is the root aggregate for one running process instance. It is
// owned by the Handler and mutated only through whole-document single-writer
// updates.
type Execution struct {
	ID          string                      `json:"id"`
	Process     string                      `json:"process"`
	Name        string                      `json:"name,omitempty"`
	Description string                      `json:"description,omitempty"`
	Status      ExecutionStatus             `json:"status"`
	State       *OrderedMap[*NodeState]     `json:"state"`
	Values      map[string][]map[string]any `json:"values"`
	ActorLog    []ActorLogEntry             `json:"actor_log"`
}

// NewExecution returns an ongoing execution for the given process.
func NewExecution(process string) *Execution {
	return &Execution{
		ID:      NewExecutionID(),
		Process: process,
		Status:  ExecutionOngoing,
		State:   NewOrderedMap[*NodeState](),
		Values:  map[string][]map[string]any{},
	}
}

// NodeState is the recorded completion state of one node.
type NodeState struct {
	Type        NodeType                 `json:"type"`
	State       StepState                `json:"state"`
	Name        string                   `json:"name,omitempty"`
	Description string                   `json:"description,omitempty"`
	Comment     string                   `json:"comment,omitempty"`
	Actors      *OrderedMap[*ActorState] `json:"actors"`
}

// ActorState holds one actor's submitted forms for a node.
type ActorState struct {
	State StepState    `json:"state"`
	User  string       `json:"user"`
	Forms []*FormState `json:"forms"`
}

// FormState is one submitted form instance.
type FormState struct {
	Ref    string                 `json:"ref"`
	Inputs map[string]*InputValue `json:"inputs"`
}

// InputValue is one recorded answer.
type InputValue struct {
	Value        any       `json:"value"`
	ValueCaption string    `json:"value_caption,omitempty"`
	State        StepState `json:"state"`
}

// ActorLogEntry records that an actor completed a node, in submission order.
type ActorLogEntry struct {
	Node  string `json:"node"`
	Actor string `json:"actor"`
}

// NodeState returns the state entry for a node, creating an unfilled one
// from the spec on first touch.
func (e *Execution) NodeState(spec *NodeSpec) *NodeState {
	if ns, ok := e.State.Get(spec.ID); ok {
		return ns
	}
	ns := &NodeState{
		Type:        spec.Type,
		State:       StateUnfilled,
		Name:        spec.Name,
		Description: spec.Description,
		Actors:      NewOrderedMap[*ActorState](),
	}
	e.State.Set(spec.ID, ns)
	return ns
}

// NodeStateByID returns the recorded state for a node id, or nil.
func (e *Execution) NodeStateByID(id string) *NodeState {
	ns, _ := e.State.Get(id)
	return ns
}

// RecordForms stores an actor's submitted forms under a node, marking every
// touched level valid, and appends to the actor log. Prior forms from the
// same actor are replaced, not merged; a re-submission after a patch must
// not leave invalidated answers behind.
func (e *Execution) RecordForms(spec *NodeSpec, actor string, forms []*FormState) {
	ns := e.NodeState(spec)
	for _, form := range forms {
		for _, iv := range form.Inputs {
			iv.State = StateValid
		}
	}
	ns.Actors.Set(actor, &ActorState{
		State: StateValid,
		User:  actor,
		Forms: forms,
	})
	ns.State = StateValid
	e.ActorLog = append(e.ActorLog, ActorLogEntry{Node: spec.ID, Actor: actor})
	e.RecomputeValues()
}

// RecomputeValues rebuilds the flattened values projection from the recorded
// state: form ref to the ordered list of answer dicts, nodes in insertion
// order, actors in the order they first answered.
func (e *Execution) RecomputeValues() {
	values := map[string][]map[string]any{}
	for _, nodeID := range e.State.Keys() {
		ns, _ := e.State.Get(nodeID)
		for _, actor := range ns.Actors.Keys() {
			as, _ := ns.Actors.Get(actor)
			for _, form := range as.Forms {
				flat := make(map[string]any, len(form.Inputs))
				for name, iv := range form.Inputs {
					flat[name] = iv.Value
				}
				values[form.Ref] = append(values[form.Ref], flat)
			}
		}
	}
	e.Values = values
}

// ResolveValue finds the first recorded form with the given ref that
// contains the named input, scanning nodes, actors and forms in recorded
// order. This is the variable-resolution rule of conditional expressions.
func (e *Execution) ResolveValue(formRef, field string) (any, bool) {
	for _, nodeID := range e.State.Keys() {
		ns, _ := e.State.Get(nodeID)
		for _, actor := range ns.Actors.Keys() {
			as, _ := ns.Actors.Get(actor)
			for _, form := range as.Forms {
				if form.Ref != formRef {
					continue
				}
				if iv, ok := form.Inputs[field]; ok {
					return iv.Value, true
				}
			}
		}
	}
	return nil, false
}

// LastActorFor returns the actor who most recently completed the given
// node, used to resolve ref-typed auth-filter params.
func (e *Execution) LastActorFor(nodeID string) (string, bool) {
	for i := len(e.ActorLog) - 1; i >= 0; i-- {
		if e.ActorLog[i].Node == nodeID {
			return e.ActorLog[i].Actor, true
		}
	}
	return "", false
}

// TemplateContext is the globals map that name and description templates
// render against. The values projection is rebuilt with generic element
// types so the script engine can convert it.
func (e *Execution) TemplateContext() map[string]any {
	values := make(map[string]any, len(e.Values))
	for ref, forms := range e.Values {
		list := make([]any, len(forms))
		for i, form := range forms {
			entry := make(map[string]any, len(form))
			for name, value := range form {
				entry[name] = value
			}
			list[i] = entry
		}
		values[ref] = list
	}
	return map[string]any{
		"values":    values,
		"execution": map[string]any{"id": e.ID, "process": e.Process},
	}
}
