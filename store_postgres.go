package tramite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists documents as JSONB rows. The *sql.DB handle is
// injected already open and is reused across commands; the store never
// opens or closes connections itself.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Setup creates the store's tables if they do not exist.
func (s *PostgresStore) Setup(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pointers (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			seq BIGSERIAL,
			doc JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS pointers_execution_idx ON pointers (execution_id)`,
		`CREATE TABLE IF NOT EXISTS pointer_log (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			seq BIGSERIAL,
			doc JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS pointer_log_execution_idx ON pointer_log (execution_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set up postgres store: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) PutExecution(ctx context.Context, exec *Execution) error {
	return s.upsert(ctx, "executions", exec.ID, "", exec)
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	var exec Execution
	ok, err := s.get(ctx, "executions", id, &exec)
	if err != nil || !ok {
		return nil, err
	}
	return &exec, nil
}

func (s *PostgresStore) DeleteExecution(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) PutPointer(ctx context.Context, p *Pointer) error {
	return s.upsert(ctx, "pointers", p.ID, p.ExecutionID, p)
}

func (s *PostgresStore) GetPointer(ctx context.Context, id string) (*Pointer, error) {
	var p Pointer
	ok, err := s.get(ctx, "pointers", id, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) DeletePointer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pointers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pointer %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListPointers(ctx context.Context, executionID string) ([]*Pointer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM pointers WHERE execution_id = $1 ORDER BY seq`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pointers: %w", err)
	}
	defer rows.Close()
	var out []*Pointer
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan pointer: %w", err)
		}
		var p Pointer
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pointer: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutLogEntry(ctx context.Context, entry *LogEntry) error {
	return s.upsert(ctx, "pointer_log", entry.ID, entry.ExecutionID, entry)
}

func (s *PostgresStore) ListLogEntries(ctx context.Context, executionID string) ([]*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM pointer_log WHERE execution_id = $1 ORDER BY seq`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()
	var out []*LogEntry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		var entry LogEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry: %w", err)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

func (s *PostgresStore) upsert(ctx context.Context, table, id, executionID string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if table == "executions" {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO executions (id, doc) VALUES ($1, $2)
			 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, id, data)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO `+table+` (id, execution_id, doc) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, id, executionID, data)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s document %s: %w", table, id, err)
	}
	return nil
}

func (s *PostgresStore) get(ctx context.Context, table, id string, out any) (bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM `+table+` WHERE id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s document %s: %w", table, id, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s document %s: %w", table, id, err)
	}
	return true, nil
}
