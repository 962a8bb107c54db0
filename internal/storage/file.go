package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stanleylei/price-alert/pkg/logx"
)

const (
	// compactEvery triggers a rewrite after this many appends.
	compactEvery = 1000
	// keepRuns is how many entries a compaction retains.
	keepRuns = 1000
)

// fileStore keeps run history as JSON Lines in <base>.runs.jsonl next
// to the configured path. Appends go straight to disk; every
// compactEvery appends the file is rewritten down to keepRuns entries
// so an always-on service cannot grow it without bound.
type fileStore struct {
	log logx.Logger

	mu      sync.Mutex
	path    string
	file    *os.File
	enc     *json.Encoder
	appends int
}

// runsPathFor derives the history file from the configured storage
// path: the extension is replaced with ".runs.jsonl".
func runsPathFor(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(path), base+".runs.jsonl")
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	configured := strings.TrimSpace(cfg.Path)
	if configured == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	path := runsPathFor(configured)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, file: f, enc: json.NewEncoder(f)}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.enc = nil, nil
	return err
}

func (s *fileStore) AppendRun(_ context.Context, e RunEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("run history file closed")
	}
	if err := s.enc.Encode(e); err != nil {
		return err
	}
	s.appends++
	if s.appends%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("run history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentRuns(_ context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := tailRuns(s.path, limit)
	if err != nil {
		return nil, err
	}
	reverse(entries)
	return entries, nil
}

// compactLocked rewrites the history file down to the newest keepRuns
// entries and reopens the append handle.
func (s *fileStore) compactLocked() error {
	entries, err := tailRuns(s.path, keepRuns)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := writeRuns(tmp, entries); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	if err := s.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.file, s.enc = nil, nil
		return err
	}
	s.file, s.enc = f, json.NewEncoder(f)
	return nil
}

func writeRuns(path string, entries []RunEntry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	return f.Close()
}

// tailRuns reads the last limit entries in file order, oldest first.
// Undecodable lines are skipped rather than failing the read.
func tailRuns(path string, limit int) ([]RunEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []RunEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e RunEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if len(entries) == limit {
			copy(entries, entries[1:])
			entries = entries[:limit-1]
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// reverse flips entries in place so callers get newest first.
func reverse(entries []RunEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
