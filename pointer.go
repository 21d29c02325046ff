package tramite

import (
	"time"

	"go.jetify.com/typeid"
)

// NewPointerID returns a new prefixed id for a pointer.
func NewPointerID() string {
	id, err := typeid.WithPrefix("ptr")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Pointer is the ephemeral marker meaning "node X of execution Y currently
// awaits completion". It is created when a node wakes and deleted when the
// node's work finishes or a patch displaces it. At most one live pointer
// exists per in-progress node.
type Pointer struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	Candidates  []string  `json:"candidates,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// NewPointer wakes a node of an execution.
func NewPointer(executionID, nodeID string, candidates []string) *Pointer {
	return &Pointer{
		ID:          NewPointerID(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Candidates:  candidates,
		StartedAt:   time.Now().UTC(),
	}
}

// LogState is the terminal state of a pointer log entry.
type LogState string

const (
	LogOngoing   LogState = "ongoing"
	LogFinished  LogState = "finished"
	LogCancelled LogState = "cancelled"
)

// LogEntry is the append-only audit record of one pointer instance. It
// outlives the pointer: the pointer is deleted on teardown while its log
// entry is closed and retained.
type LogEntry struct {
	ID          string    `json:"id"`
	PointerID   string    `json:"pointer_id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	State       LogState  `json:"state"`
	Actor       string    `json:"actor,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

// NewLogEntry opens the audit record for a pointer.
func NewLogEntry(p *Pointer) *LogEntry {
	id, err := typeid.WithPrefix("log")
	if err != nil {
		panic(err)
	}
	return &LogEntry{
		ID:          id.String(),
		PointerID:   p.ID,
		ExecutionID: p.ExecutionID,
		NodeID:      p.NodeID,
		State:       LogOngoing,
		StartedAt:   p.StartedAt,
	}
}

// Close stamps the entry's terminal state and finish time.
func (l *LogEntry) Close(state LogState, actor, comment string) {
	l.State = state
	l.Actor = actor
	l.Comment = comment
	l.FinishedAt = time.Now().UTC()
}
