package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/agentrun/internal/agent"
)

const runStatesSchema = `CREATE TABLE IF NOT EXISTS run_states (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	state BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore keeps checkpoints in a SQLite table, one JSON document per run.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the run_states table if needed. The caller owns db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if _, err := db.ExecContext(ctx, runStatesSchema); err != nil {
		return nil, fmt.Errorf("failed to migrate run_states: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, state *agent.RunState) error {
	if state == nil || state.ID == "" {
		return errStateRequired
	}
	data, err := state.Marshal()
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", state.ID, err)
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_states (id, conversation_id, phase, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			phase = excluded.phase,
			state = excluded.state,
			updated_at = excluded.updated_at
	`, state.ID, state.ConversationID, string(state.Phase), data, updated.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", state.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, runID string) (*agent.RunState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM run_states WHERE id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", agent.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	state, err := agent.UnmarshalRunState(data)
	if err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return state, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_states WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", agent.ErrRunNotFound, runID)
	}
	return nil
}

// List returns every checkpoint, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]*agent.RunState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, state FROM run_states ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*agent.RunState
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		state, err := agent.UnmarshalRunState(data)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
		out = append(out, state)
	}
	return out, rows.Err()
}
