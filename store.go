package tramite

import (
	"context"
)

// Store is the document store holding execution aggregates, live pointers
// and the append-only pointer log. Get methods return (nil, nil) when the
// document does not exist; callers decide whether absence is an error.
//
// Executions and pointers are written whole-document by a single writer
// (the Handler). The pointer log is write-owned by the Handler and read-only
// for query surfaces.
type Store interface {
	PutExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	DeleteExecution(ctx context.Context, id string) error

	PutPointer(ctx context.Context, p *Pointer) error
	GetPointer(ctx context.Context, id string) (*Pointer, error)
	DeletePointer(ctx context.Context, id string) error

	// ListPointers returns the live pointers of an execution in creation
	// order.
	ListPointers(ctx context.Context, executionID string) ([]*Pointer, error)

	PutLogEntry(ctx context.Context, entry *LogEntry) error

	// ListLogEntries returns an execution's pointer log in creation order,
	// including closed entries. Entries survive execution deletion.
	ListLogEntries(ctx context.Context, executionID string) ([]*LogEntry, error)
}
