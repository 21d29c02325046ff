package tramite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres spins up a disposable database. Tests skip when no container
// runtime is available.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tramite_test"),
		tcpostgres.WithUsername("tramite"),
		tcpostgres.WithPassword("tramite"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))
	return db
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	store := NewPostgresStore(startPostgres(t))
	require.NoError(t, store.Setup(ctx))
	// Setup is idempotent.
	require.NoError(t, store.Setup(ctx))

	t.Run("executions", func(t *testing.T) {
		missing, err := store.GetExecution(ctx, "exec_missing")
		require.NoError(t, err)
		require.Nil(t, missing)

		def := linearDef()
		exec := NewExecution(def.FullName())
		submit(exec, def.Node("ask"), "alice", map[string]any{"answer": "yes"})
		submit(exec, def.Node("review"), "boss", map[string]any{"ok": "sure"})
		require.NoError(t, store.PutExecution(ctx, exec))

		got, err := store.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		require.Equal(t, exec.ID, got.ID)
		require.Equal(t, ExecutionOngoing, got.Status)
		// Node order survives the JSONB round trip.
		require.Equal(t, []string{"ask", "review"}, got.State.Keys())
		require.Equal(t, []map[string]any{{"answer": "yes"}}, got.Values["askform"])

		exec.Status = ExecutionFinished
		require.NoError(t, store.PutExecution(ctx, exec))
		got, err = store.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		require.Equal(t, ExecutionFinished, got.Status)

		require.NoError(t, store.DeleteExecution(ctx, exec.ID))
		gone, err := store.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		require.Nil(t, gone)
	})

	t.Run("pointers", func(t *testing.T) {
		p1 := NewPointer("exec_pg1", "first", []string{"alice"})
		p2 := NewPointer("exec_pg1", "second", nil)
		other := NewPointer("exec_pg2", "elsewhere", nil)
		require.NoError(t, store.PutPointer(ctx, p1))
		require.NoError(t, store.PutPointer(ctx, p2))
		require.NoError(t, store.PutPointer(ctx, other))

		got, err := store.GetPointer(ctx, p1.ID)
		require.NoError(t, err)
		require.Equal(t, "first", got.NodeID)

		missing, err := store.GetPointer(ctx, "ptr_missing")
		require.NoError(t, err)
		require.Nil(t, missing)

		list, err := store.ListPointers(ctx, "exec_pg1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, "first", list[0].NodeID)
		require.Equal(t, "second", list[1].NodeID)

		require.NoError(t, store.DeletePointer(ctx, p1.ID))
		list, err = store.ListPointers(ctx, "exec_pg1")
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("log entries", func(t *testing.T) {
		p := NewPointer("exec_pg3", "fill", nil)
		entry := NewLogEntry(p)
		require.NoError(t, store.PutLogEntry(ctx, entry))
		require.NoError(t, store.PutLogEntry(ctx, NewLogEntry(NewPointer("exec_pg3", "review", nil))))

		entries, err := store.ListLogEntries(ctx, "exec_pg3")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, "fill", entries[0].NodeID)

		entry.Close(LogFinished, "alice", "")
		require.NoError(t, store.PutLogEntry(ctx, entry))
		entries, err = store.ListLogEntries(ctx, "exec_pg3")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, LogFinished, entries[0].State)
		require.Equal(t, "alice", entries[0].Actor)
	})
}
