package tramite

import (
	"fmt"
	"strconv"
	"strings"
)

// Ref identifies one recorded answer: node.actor.formIndex:formRef.inputName.
// FormIndex counts the actor's forms with the same ref, not the absolute
// position in the actor's form list.
type Ref struct {
	Node      string
	Actor     string
	FormIndex int
	FormRef   string
	Input     string
}

// ParseRef parses the dotted ref notation. Actor identifiers may contain
// dots (emails), so the node is the segment before the first dot and the
// form index the segment after the last.
func ParseRef(s string) (Ref, error) {
	left, right, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{}, fmt.Errorf("ref %q missing ':' separator", s)
	}
	node, rest, ok := strings.Cut(left, ".")
	if !ok {
		return Ref{}, fmt.Errorf("ref %q missing actor segment", s)
	}
	lastDot := strings.LastIndexByte(rest, '.')
	if lastDot < 0 {
		return Ref{}, fmt.Errorf("ref %q missing form index segment", s)
	}
	actor := rest[:lastDot]
	idx, err := strconv.Atoi(rest[lastDot+1:])
	if err != nil {
		return Ref{}, fmt.Errorf("ref %q has non-numeric form index: %w", s, err)
	}
	formRef, input, ok := strings.Cut(right, ".")
	if !ok || formRef == "" || input == "" {
		return Ref{}, fmt.Errorf("ref %q missing input segment", s)
	}
	return Ref{Node: node, Actor: actor, FormIndex: idx, FormRef: formRef, Input: input}, nil
}

func (r Ref) String() string {
	return fmt.Sprintf("%s.%s.%d:%s.%s", r.Node, r.Actor, r.FormIndex, r.FormRef, r.Input)
}

// Pair returns the "formRef.input" key dependency declarations use.
func (r Ref) Pair() string {
	return r.FormRef + "." + r.Input
}

// Correction is one entry of a patch's ref list. A correction carrying a
// replacement value marks the target valid instead of invalid and patches
// the values projection.
type Correction struct {
	Ref          string `json:"ref"`
	Value        any    `json:"value,omitempty"`
	ValueCaption string `json:"value_caption,omitempty"`
	HasValue     bool   `json:"-"`
}

// CascadeInvalidate computes the flat document-path update map that marks
// the corrected refs and all their transitive dependents invalid (or valid,
// when a replacement value is supplied) and folds status up through the
// actor and node levels. Forms carry no status of their own; the input
// states inside them are the ground truth. One forward pass over the
// definition suffices
// because dependencies only reference earlier nodes. The returned map is
// applied atomically by ApplyUpdates.
func CascadeInvalidate(def *ProcessDefinition, exec *Execution, corrections []Correction, comment string) (map[string]any, error) {
	seeds := map[string]Correction{}
	pairs := map[string]bool{}
	for _, c := range corrections {
		ref, err := ParseRef(c.Ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInconsistentState, err)
		}
		seeds[ref.String()] = c
		pairs[ref.Pair()] = true
	}

	// Propagate through dependency declarations, head to tail. A node whose
	// declared dependency was invalidated has all of its recorded answers
	// invalidated too, which in turn feeds later dependents.
	depNodes := map[string]bool{}
	for _, spec := range def.Nodes {
		if len(spec.Dependencies) == 0 {
			continue
		}
		hit := false
		for _, dep := range spec.Dependencies {
			if pairs[dep] {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		depNodes[spec.ID] = true
		ns := exec.NodeStateByID(spec.ID)
		if ns == nil {
			continue
		}
		for _, actor := range ns.Actors.Keys() {
			as, _ := ns.Actors.Get(actor)
			for _, form := range as.Forms {
				for name := range form.Inputs {
					pairs[form.Ref+"."+name] = true
				}
			}
		}
	}

	updates := map[string]any{}
	seen := map[string]bool{}
	actorOK := map[string]bool{}
	nodeOK := map[string]bool{}
	// Projection indexes: forms append to values[ref] in global walk order,
	// so count occurrences per ref while walking the same way.
	projIndex := map[string]int{}

	// Walk recorded state in definition order, collecting affected refs in
	// encounter order.
	for _, spec := range def.Nodes {
		ns := exec.NodeStateByID(spec.ID)
		if ns == nil {
			// Never reached: there is nothing recorded to invalidate, and
			// forward navigation will visit the node in due course.
			continue
		}
		for _, actor := range ns.Actors.Keys() {
			as, _ := ns.Actors.Get(actor)
			aKey := spec.ID + "|" + actor
			sameRefCount := map[string]int{}
			for absIdx, form := range as.Forms {
				occ := sameRefCount[form.Ref]
				sameRefCount[form.Ref]++
				proj := projIndex[form.Ref]
				projIndex[form.Ref]++
				for _, name := range orderedInputNames(def, spec, form) {
					full := Ref{Node: spec.ID, Actor: actor, FormIndex: occ, FormRef: form.Ref, Input: name}
					key := full.String()
					c, isSeed := seeds[key]
					if !isSeed && !depNodes[spec.ID] {
						continue
					}
					seen[key] = true
					base := fmt.Sprintf("state/%s/actors/%s/forms/%d/inputs/%s", spec.ID, actor, absIdx, name)
					ensureTrue(actorOK, aKey)
					ensureTrue(nodeOK, spec.ID)
					if isSeed && c.HasValue {
						updates[base+"/state"] = StateValid
						updates[base+"/value"] = c.Value
						updates[base+"/value_caption"] = c.ValueCaption
						updates[fmt.Sprintf("values/%s/%d/%s", form.Ref, proj, name)] = c.Value
					} else {
						updates[base+"/state"] = StateInvalid
						// Downward-only: once a level goes invalid in
						// this batch, later refs cannot raise it back.
						actorOK[aKey] = false
						nodeOK[spec.ID] = false
					}
				}
			}
			if ok, touched := actorOK[aKey]; touched {
				if ok {
					updates["state/"+spec.ID+"/actors/"+actor+"/state"] = StateValid
				} else {
					updates["state/"+spec.ID+"/actors/"+actor+"/state"] = StateInvalid
				}
			}
		}
		ok, touched := nodeOK[spec.ID]
		if touched || depNodes[spec.ID] {
			if touched && ok && !depNodes[spec.ID] {
				updates["state/"+spec.ID+"/state"] = StateValid
			} else {
				updates["state/"+spec.ID+"/state"] = StateInvalid
			}
			updates["state/"+spec.ID+"/comment"] = comment
		}
	}

	for key := range seeds {
		if !seen[key] {
			return nil, fmt.Errorf("%w: ref %s does not resolve to a recorded answer", ErrInconsistentState, key)
		}
	}
	return updates, nil
}

func ensureTrue(m map[string]bool, key string) {
	if _, ok := m[key]; !ok {
		m[key] = true
	}
}

// ApplyUpdates applies a cascade update map to the execution document in
// memory. The caller persists the whole document afterwards in a single
// write, which is what makes the batch atomic.
func ApplyUpdates(exec *Execution, updates map[string]any) error {
	for path, value := range updates {
		if err := applyUpdate(exec, path, value); err != nil {
			return err
		}
	}
	return nil
}

func applyUpdate(exec *Execution, path string, value any) error {
	parts := strings.Split(path, "/")
	fail := func() error {
		return fmt.Errorf("%w: cannot apply update path %q", ErrInconsistentState, path)
	}
	switch parts[0] {
	case "values":
		if len(parts) != 4 {
			return fail()
		}
		idx, err := strconv.Atoi(parts[2])
		if err != nil {
			return fail()
		}
		entries := exec.Values[parts[1]]
		if idx < 0 || idx >= len(entries) {
			return fail()
		}
		entries[idx][parts[3]] = value
		return nil
	case "state":
		if len(parts) < 3 {
			return fail()
		}
		ns := exec.NodeStateByID(parts[1])
		if ns == nil {
			return fail()
		}
		switch parts[2] {
		case "state":
			ns.State = value.(StepState)
			return nil
		case "comment":
			ns.Comment = value.(string)
			return nil
		case "actors":
			if len(parts) < 5 {
				return fail()
			}
			as, ok := ns.Actors.Get(parts[3])
			if !ok {
				return fail()
			}
			if parts[4] == "state" && len(parts) == 5 {
				as.State = value.(StepState)
				return nil
			}
			if parts[4] != "forms" || len(parts) != 9 || parts[6] != "inputs" {
				return fail()
			}
			idx, err := strconv.Atoi(parts[5])
			if err != nil || idx < 0 || idx >= len(as.Forms) {
				return fail()
			}
			iv, ok := as.Forms[idx].Inputs[parts[7]]
			if !ok {
				return fail()
			}
			switch parts[8] {
			case "state":
				iv.State = value.(StepState)
			case "value":
				iv.Value = value
			case "value_caption":
				iv.ValueCaption, _ = value.(string)
			default:
				return fail()
			}
			return nil
		}
	}
	return fail()
}

// orderedInputNames yields a form's input names in their declared order so
// cascade processing is deterministic. Inputs recorded without a matching
// declaration come last, sorted by name.
func orderedInputNames(def *ProcessDefinition, spec *NodeSpec, form *FormState) []string {
	var declared []string
	for _, fs := range spec.Forms {
		if fs.Ref != form.Ref {
			continue
		}
		for _, in := range fs.Inputs {
			if _, ok := form.Inputs[in.Name]; ok {
				declared = append(declared, in.Name)
			}
		}
		break
	}
	known := map[string]bool{}
	for _, name := range declared {
		known[name] = true
	}
	var extra []string
	for name := range form.Inputs {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	if len(extra) > 1 {
		for i := range extra {
			for j := i + 1; j < len(extra); j++ {
				if extra[j] < extra[i] {
					extra[i], extra[j] = extra[j], extra[i]
				}
			}
		}
	}
	return append(declared, extra...)
}
