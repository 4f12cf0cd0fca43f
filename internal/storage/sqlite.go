package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/agentrun/internal/runstore"
	"github.com/haasonsaas/agentrun/internal/sessions"
)

// SQLiteConfig configures the database file and connection pooling.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// DefaultSQLiteConfig returns default connection pool settings. SQLite
// serializes writers, so a single connection avoids SQLITE_BUSY churn.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:            "agentrun.db",
		MaxOpenConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
		BusyTimeout:     5 * time.Second,
	}
}

// OpenSQLite opens and pings the database at cfg.Path with WAL journaling.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	defaults := DefaultSQLiteConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaults.BusyTimeout
	}

	db, err := sql.Open("sqlite", sqliteDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func sqliteDSN(cfg SQLiteConfig) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + cfg.Path + "?" + q.Encode()
}

func openSQLiteStores(ctx context.Context, cfg SQLiteConfig) (StoreSet, error) {
	db, err := OpenSQLite(ctx, cfg)
	if err != nil {
		return StoreSet{}, err
	}
	turns, err := sessions.NewSQLiteStore(ctx, db)
	if err != nil {
		db.Close()
		return StoreSet{}, err
	}
	runs, err := runstore.NewSQLiteStore(ctx, db)
	if err != nil {
		turns.Close()
		db.Close()
		return StoreSet{}, err
	}
	return StoreSet{
		Turns: turns,
		Runs:  runs,
		closer: func() error {
			return errors.Join(turns.Close(), db.Close())
		},
	}, nil
}
