package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stanleylei/price-alert/pkg/logx"
)

// ErrDisabled means no backing store is configured for this handle.
var ErrDisabled = errors.New("storage disabled")

// Config selects and locates the run-history backend. An empty Driver
// (or "none") disables persistence; "file" appends JSON Lines derived
// from Path, "sqlite" keeps a database at Path.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunEntry is one scraper execution as recorded in history.
type RunEntry struct {
	At      time.Time `json:"at"`
	Scraper string    `json:"scraper"`
	Status  string    `json:"status"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}

// Store persists run history. RecentRuns returns newest first.
type Store interface {
	AppendRun(ctx context.Context, e RunEntry) error
	RecentRuns(ctx context.Context, limit int) ([]RunEntry, error)
	Close() error
}

// Open builds the store named by cfg.Driver. A disabled driver yields
// (nil, nil); callers treat a nil Store as "keep no history".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}
