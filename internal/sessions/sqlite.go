package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements for performance
	stmtAppend *sql.Stmt
	stmtRecent *sql.Stmt
	stmtSearch *sql.Stmt
}

var turnsSchema = []string{
	`CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns (conversation_id, id)`,
}

// NewSQLiteStore creates the turns table if needed and prepares statements.
// The caller owns db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	for _, stmt := range turnsSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to migrate turns: %w", err)
		}
	}
	store := &SQLiteStore{db: db}
	if err := store.prepareStatements(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) prepareStatements(ctx context.Context) error {
	var err error

	s.stmtAppend, err = s.db.PrepareContext(ctx, `
		INSERT INTO turns (conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare append turn: %w", err)
	}

	s.stmtRecent, err = s.db.PrepareContext(ctx, `
		SELECT role, content, created_at FROM turns
		WHERE conversation_id = ?
		ORDER BY id DESC
		LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare recent turns: %w", err)
	}

	s.stmtSearch, err = s.db.PrepareContext(ctx, `
		SELECT role, content, created_at FROM turns
		WHERE conversation_id = ? AND lower(content) LIKE ? ESCAPE '\'
		ORDER BY id DESC
		LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare search turns: %w", err)
	}
	return nil
}

// Close closes the prepared statements. The database is left open.
func (s *SQLiteStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{s.stmtAppend, s.stmtRecent, s.stmtSearch} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, conversationID string, turn models.Turn) error {
	if conversationID == "" {
		return ErrConversationRequired
	}
	if turn.Role == "" {
		return errors.New("turn role is required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	if _, err := s.stmtAppend.ExecContext(ctx, conversationID, string(turn.Role), turn.Content, turn.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRecentTurns(ctx context.Context, conversationID string, limit int) ([]models.Turn, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}
	if limit <= 0 {
		return []models.Turn{}, nil
	}
	rows, err := s.stmtRecent.QueryContext(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent turns: %w", err)
	}
	return scanTurns(rows)
}

func (s *SQLiteStore) Search(ctx context.Context, conversationID, query string, limit int) ([]models.Turn, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}
	if limit <= 0 {
		return []models.Turn{}, nil
	}
	rows, err := s.stmtSearch.QueryContext(ctx, conversationID, likePattern(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search turns: %w", err)
	}
	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]models.Turn, error) {
	defer rows.Close()

	turns := []models.Turn{}
	for rows.Next() {
		var (
			role    string
			content string
			created int64
		)
		if err := rows.Scan(&role, &content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, models.Turn{
			Role:      models.Role(role),
			Content:   content,
			CreatedAt: time.Unix(0, created),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}
	return turns, nil
}

// likePattern lowercases query and escapes LIKE wildcards.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(query)) + "%"
}
