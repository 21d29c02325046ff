package tramite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreExecutions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	missing, err := store.GetExecution(ctx, "exec_missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	def := linearDef()
	exec := NewExecution(def.FullName())
	submit(exec, def.Node("ask"), "alice", map[string]any{"answer": "yes"})
	require.NoError(t, store.PutExecution(ctx, exec))

	got, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, exec.ID, got.ID)
	require.Equal(t, []string{"ask"}, got.State.Keys())

	// The store hands out clones: mutating a read does not leak back.
	got.Status = ExecutionCancelled
	again, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, ExecutionOngoing, again.Status)

	require.NoError(t, store.DeleteExecution(ctx, exec.ID))
	gone, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestMemoryStorePointers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	p1 := NewPointer("exec_1", "first", []string{"alice"})
	p2 := NewPointer("exec_1", "second", nil)
	other := NewPointer("exec_2", "elsewhere", nil)
	require.NoError(t, store.PutPointer(ctx, p1))
	require.NoError(t, store.PutPointer(ctx, p2))
	require.NoError(t, store.PutPointer(ctx, other))

	got, err := store.GetPointer(ctx, p1.ID)
	require.NoError(t, err)
	require.Equal(t, "first", got.NodeID)
	require.Equal(t, []string{"alice"}, got.Candidates)

	missing, err := store.GetPointer(ctx, "ptr_missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	// Listing filters by execution and preserves creation order.
	list, err := store.ListPointers(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "first", list[0].NodeID)
	require.Equal(t, "second", list[1].NodeID)

	require.NoError(t, store.DeletePointer(ctx, p1.ID))
	list, err = store.ListPointers(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "second", list[0].NodeID)
}

func TestMemoryStoreLogEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	p := NewPointer("exec_1", "fill", nil)
	entry := NewLogEntry(p)
	require.NoError(t, store.PutLogEntry(ctx, entry))
	require.NoError(t, store.PutLogEntry(ctx, NewLogEntry(NewPointer("exec_2", "other", nil))))

	entries, err := store.ListLogEntries(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, LogOngoing, entries[0].State)

	// Re-putting the same entry updates it in place instead of appending.
	entry.Close(LogFinished, "alice", "")
	require.NoError(t, store.PutLogEntry(ctx, entry))
	entries, err = store.ListLogEntries(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, LogFinished, entries[0].State)
	require.Equal(t, "alice", entries[0].Actor)
	require.False(t, entries[0].FinishedAt.IsZero())
}
