package storage

import (
	"context"
	"fmt"

	"github.com/haasonsaas/agentrun/internal/runstore"
	"github.com/haasonsaas/agentrun/internal/sessions"
)

// Config selects a storage driver.
type Config struct {
	// Driver is "memory" or "sqlite".
	Driver string
	SQLite SQLiteConfig
}

// Open builds the turn and run stores for cfg.
func Open(ctx context.Context, cfg Config) (StoreSet, error) {
	switch cfg.Driver {
	case "", "memory":
		return StoreSet{
			Turns: sessions.NewMemoryStore(),
			Runs:  runstore.NewMemoryStore(),
		}, nil
	case "sqlite":
		return openSQLiteStores(ctx, cfg.SQLite)
	default:
		return StoreSet{}, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
