package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stanleylei/price-alert/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// pruneEvery is how many inserts go by between prune sweeps.
const pruneEvery = 500

type sqliteStore struct {
	db      *sql.DB
	log     logx.Logger
	inserts atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// A single connection sidesteps writer contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas,
			fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	for _, p := range pragmas {
		_, _ = db.Exec(p)
	}

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, e RunEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(at, scraper, status, err, took_ms) VALUES(?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Scraper, e.Status, nullable(e.Error), e.TookMS,
	)
	if err != nil {
		return err
	}
	if s.inserts.Add(1)%pruneEvery == 0 {
		s.prune()
	}
	return nil
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, scraper, status, err, took_ms FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		e, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanRun(rows *sql.Rows) (RunEntry, error) {
	var (
		e    RunEntry
		at   string
		serr sql.NullString
	)
	if err := rows.Scan(&at, &e.Scraper, &e.Status, &serr, &e.TookMS); err != nil {
		return RunEntry{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
		e.At = t
	}
	e.Error = serr.String
	return e, nil
}

// prune keeps the runs table bounded to the most recent keepRuns rows.
// Best effort on a short deadline so it never stalls an append.
func (s *sqliteStore) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`,
		keepRuns)
	if err != nil {
		s.log.Debug("run history prune failed", logx.Err(err))
	}
}

// nullable maps an empty string to SQL NULL.
func nullable(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
