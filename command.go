package tramite

import (
	"encoding/json"
	"fmt"
)

// Command names recognized on the queue.
const (
	CommandStart  = "start"
	CommandStep   = "step"
	CommandPatch  = "patch"
	CommandCancel = "cancel"
)

// SystemUser is the user identifier stamped on self-generated commands.
const SystemUser = "__system__"

// Command is the JSON envelope of a queued command, discriminated by the
// Command field. Only the fields of the named command are meaningful.
type Command struct {
	Command string `json:"command"`

	// step
	PointerID      string       `json:"pointer_id,omitempty"`
	UserIdentifier string       `json:"user_identifier,omitempty"`
	Input          []*FormState `json:"input,omitempty"`

	// patch and cancel
	ExecutionID string       `json:"execution_id,omitempty"`
	Comment     string       `json:"comment,omitempty"`
	Inputs      []Correction `json:"inputs,omitempty"`

	// start
	Process string `json:"process,omitempty"`
}

// DecodeCommand parses a queued message body.
func DecodeCommand(body []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		return nil, fmt.Errorf("failed to decode command: %w", err)
	}
	return &cmd, nil
}

// Encode serializes the command for publishing.
func (c *Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s command: %w", c.Command, err)
	}
	return data, nil
}

// UnmarshalJSON keeps replacement and plain invalidation apart: only a
// non-null "value" turns the correction into a replacement.
func (c *Correction) UnmarshalJSON(data []byte) error {
	var aux struct {
		Ref          string           `json:"ref"`
		Value        *json.RawMessage `json:"value"`
		ValueCaption string           `json:"value_caption"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Ref = aux.Ref
	c.ValueCaption = aux.ValueCaption
	if aux.Value != nil {
		c.HasValue = true
		if err := json.Unmarshal(*aux.Value, &c.Value); err != nil {
			return err
		}
	}
	return nil
}
