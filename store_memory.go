package tramite

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-process use.
// Documents are cloned on the way in and out so callers never share state
// with the store.
type MemoryStore struct {
	mutex      sync.RWMutex
	executions map[string]*Execution
	pointers   map[string]*Pointer
	ptrOrder   []string
	logEntries []*LogEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: map[string]*Execution{},
		pointers:   map[string]*Pointer{},
	}
}

func (s *MemoryStore) PutExecution(ctx context.Context, exec *Execution) error {
	clone, err := cloneDoc(exec)
	if err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.executions[exec.ID] = clone
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	s.mutex.RLock()
	exec, ok := s.executions[id]
	s.mutex.RUnlock()
	if !ok {
		return nil, nil
	}
	return cloneDoc(exec)
}

func (s *MemoryStore) DeleteExecution(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.executions, id)
	return nil
}

func (s *MemoryStore) PutPointer(ctx context.Context, p *Pointer) error {
	clone, err := cloneDoc(p)
	if err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.pointers[p.ID]; !ok {
		s.ptrOrder = append(s.ptrOrder, p.ID)
	}
	s.pointers[p.ID] = clone
	return nil
}

func (s *MemoryStore) GetPointer(ctx context.Context, id string) (*Pointer, error) {
	s.mutex.RLock()
	p, ok := s.pointers[id]
	s.mutex.RUnlock()
	if !ok {
		return nil, nil
	}
	return cloneDoc(p)
}

func (s *MemoryStore) DeletePointer(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.pointers, id)
	for i, pid := range s.ptrOrder {
		if pid == id {
			s.ptrOrder = append(s.ptrOrder[:i], s.ptrOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListPointers(ctx context.Context, executionID string) ([]*Pointer, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var out []*Pointer
	for _, id := range s.ptrOrder {
		p := s.pointers[id]
		if p.ExecutionID != executionID {
			continue
		}
		clone, err := cloneDoc(p)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

func (s *MemoryStore) PutLogEntry(ctx context.Context, entry *LogEntry) error {
	clone, err := cloneDoc(entry)
	if err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for i, existing := range s.logEntries {
		if existing.ID == entry.ID {
			s.logEntries[i] = clone
			return nil
		}
	}
	s.logEntries = append(s.logEntries, clone)
	return nil
}

func (s *MemoryStore) ListLogEntries(ctx context.Context, executionID string) ([]*LogEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var out []*LogEntry
	for _, entry := range s.logEntries {
		if entry.ExecutionID != executionID {
			continue
		}
		clone, err := cloneDoc(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

// cloneDoc deep-copies a document through its JSON form, which is also what
// a real document store would round-trip.
func cloneDoc[T any](doc *T) (*T, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to clone document: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to clone document: %w", err)
	}
	return &out, nil
}
