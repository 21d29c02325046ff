package tramite

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeType identifies the kind of a process node. Types are resolved once at
// parse time through an explicit tag table; unknown tags fail the parse.
type NodeType string

const (
	NodeAction      NodeType = "action"
	NodeValidation  NodeType = "validation"
	NodeConditional NodeType = "conditional"
	NodeRequest     NodeType = "request"
	NodeCall        NodeType = "call"
	NodeExit        NodeType = "exit"
)

// nodeTypeTable maps XML element names to node types.
var nodeTypeTable = map[string]NodeType{
	"action":      NodeAction,
	"validation":  NodeValidation,
	"conditional": NodeConditional,
	"request":     NodeRequest,
	"call":        NodeCall,
	"exit":        NodeExit,
}

// Interactive reports whether a node of this type waits for a human-sourced
// step command. Non-interactive nodes self-compute and publish their own
// follow-up step.
func (t NodeType) Interactive() bool {
	switch t {
	case NodeAction, NodeValidation:
		return true
	}
	return false
}

// ProcessDefinition is an ordered, versioned, immutable sequence of node
// specs read from a process file (name.version.xml).
type ProcessDefinition struct {
	Name        string
	Version     string
	Filename    string
	Public      bool
	Author      string
	Date        string
	Title       string // name template, rendered per execution
	Description string // description template, rendered per execution
	Nodes       []*NodeSpec
}

// FullName returns "name.version".
func (d *ProcessDefinition) FullName() string {
	return d.Name + "." + d.Version
}

// Node returns the node with the given id, or nil.
func (d *ProcessDefinition) Node(id string) *NodeSpec {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// NodeSpec is one step of a process definition. A single struct carries the
// union of per-type fields; Type selects which ones are meaningful.
type NodeSpec struct {
	ID          string
	Type        NodeType
	Name        string // template
	Description string // template

	// Forms declared for interactive nodes.
	Forms []*FormSpec

	// Filter names the hierarchy provider that resolves candidate actors.
	Filter *AuthFilter

	// Condition is the branch expression of a conditional node.
	Condition string

	// Span is the number of flattened descendant nodes a conditional
	// guards. A false condition skips the conditional and its span.
	Span int

	// Dependencies lists "formRef.field" pairs this node's recorded
	// answers depend on. Dependencies only point backward in document
	// order; cascade invalidation relies on that.
	Dependencies []string

	// Procedure is the process a call node starts.
	Procedure string

	// URL and Method configure a request node.
	URL    string
	Method string
}

// DependsOn reports whether the node declares a dependency on the given
// form ref and input name.
func (n *NodeSpec) DependsOn(formRef, input string) bool {
	key := formRef + "." + input
	for _, dep := range n.Dependencies {
		if dep == key {
			return true
		}
	}
	return false
}

// FormSpec declares one form an actor fills when completing a node.
type FormSpec struct {
	Ref      string
	MinCount int
	MaxCount int
	Inputs   []*InputSpec
}

// InputSpec declares one typed input of a form.
type InputSpec struct {
	Name     string
	Type     string
	Label    string
	Required bool
	Default  string
	Options  []Option
}

// Option is one selectable value of a select-like input.
type Option struct {
	Value string
	Label string
}

// AuthFilter names a hierarchy provider plus its parameters. Params of type
// "ref" are resolved against the actor who completed a prior node.
type AuthFilter struct {
	Backend string
	Params  []FilterParam
}

// FilterParam is one named auth-filter parameter.
type FilterParam struct {
	Name  string
	Type  string
	Value string
}

// parseMultiplicity parses a form multiplicity attribute: "min,max", a bare
// count "N", or empty (exactly one).
func parseMultiplicity(s string) (min, max int, err error) {
	if s == "" {
		return 1, 1, nil
	}
	if lo, hi, ok := strings.Cut(s, ","); ok {
		min, err = strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid multiplicity %q: %w", s, err)
		}
		max, err = strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid multiplicity %q: %w", s, err)
		}
		return min, max, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid multiplicity %q: %w", s, err)
	}
	return n, n, nil
}
