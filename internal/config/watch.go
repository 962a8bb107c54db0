package config

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stanleylei/price-alert/pkg/logx"
)

const (
	watchBackoffBase = 250 * time.Millisecond
	watchBackoffMax  = 5 * time.Second
	debounceDelay    = 250 * time.Millisecond
)

// Watcher observes the config file and reports edits. The running
// configuration is pinned at startup, so all a change can mean is
// "restart to apply"; invalid edits are reported without side effects.
type Watcher struct {
	path string
	log  logx.Logger

	mu       sync.Mutex
	current  *Config
	lastHash uint64
}

func NewWatcher(path string, current *Config, log logx.Logger) *Watcher {
	return &Watcher{
		path:     path,
		log:      log,
		current:  current,
		lastHash: hashConfig(current),
	}
}

// Watch runs until ctx is cancelled. fsnotify watchers can wedge or
// close their channels (editors and network filesystems are the usual
// culprits), so each broken session is replaced with a fresh watcher
// after a jittered backoff.
func (w *Watcher) Watch(ctx context.Context) error {
	delay := newRetryDelay()
	debounce := w.newDebouncer()

	for ctx.Err() == nil {
		fw, err := w.openWatcher()
		if err != nil {
			w.log.Warn("config watch setup failed", logx.Err(err), logx.String("path", w.path))
			if !sleep(ctx, delay.next()) {
				return nil
			}
			continue
		}

		delay.reset()
		w.runSession(ctx, fw, debounce)
		_ = fw.Close()
		if ctx.Err() != nil {
			return nil
		}

		wait := delay.next()
		w.log.Warn("config watcher stopped; restarting",
			logx.String("path", w.path), logx.Duration("backoff", wait))
		if !sleep(ctx, wait) {
			return nil
		}
	}
	return nil
}

// openWatcher registers the config directory rather than the file
// itself; watching the directory survives the rename-then-replace
// pattern editors use.
func (w *Watcher) openWatcher() (*fsnotify.Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return fw, nil
}

// runSession drains events until the watcher breaks or ctx is done.
func (w *Watcher) runSession(ctx context.Context, fw *fsnotify.Watcher, debounce func()) {
	file := filepath.Base(w.path)
	w.log.Debug("config watcher started", logx.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			// Compare basenames; event paths may be absolute or relative.
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				debounce()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			// Overflow means events were dropped; check once regardless.
			if strings.Contains(msg, "overflow") {
				w.log.Warn("config watch overflow; forcing check", logx.Err(err))
				debounce()
				continue
			}
			w.log.Warn("config watch error", logx.Err(err))
			// Some backends report watcher closure as an error.
			if strings.Contains(msg, "closed") {
				return
			}
		}
	}
}

// newDebouncer coalesces the event bursts editors produce into a single
// check once writes settle.
func (w *Watcher) newDebouncer() func() {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	return func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		w.log.Debug("config change detected; scheduling check", logx.String("path", w.path))
		timer = time.AfterFunc(debounceDelay, w.check)
	}
}

func (w *Watcher) check() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config file changed but is invalid; keeping running config",
			logx.String("path", w.path), logx.Err(err))
		return
	}

	h := hashConfig(cfg)
	w.mu.Lock()
	unchanged := h != 0 && h == w.lastHash
	prev := w.current
	if !unchanged {
		w.lastHash = h
		w.current = cfg
	}
	w.mu.Unlock()
	if unchanged {
		w.log.Debug("config unchanged; ignoring", logx.String("path", w.path))
		return
	}

	changed, attrs := SummarizeChange(prev, cfg)
	fields := append([]logx.Field{
		logx.String("path", w.path),
		logx.String("sections", strings.Join(changed, ",")),
	}, attrs...)
	w.log.Info("config file changed; restart to apply", fields...)
}

// retryDelay produces the jittered exponential backoff used between
// watcher restarts.
type retryDelay struct {
	cur time.Duration
	rng *rand.Rand
}

func newRetryDelay() *retryDelay {
	return &retryDelay{
		cur: watchBackoffBase,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next returns the wait before the upcoming retry and doubles the base
// toward watchBackoffMax.
func (r *retryDelay) next() time.Duration {
	wait := r.cur + time.Duration(r.rng.Int63n(int64(r.cur/2)+1))
	r.cur *= 2
	if r.cur > watchBackoffMax {
		r.cur = watchBackoffMax
	}
	return wait
}

func (r *retryDelay) reset() { r.cur = watchBackoffBase }

// sleep waits for d unless ctx finishes first. It reports whether the
// full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// hashConfig fingerprints the effective config so identical rewrites
// can be told apart from real edits.
func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// hashBytes is fnv-1a over b. Empty input hashes to 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// canonicalHashJSON hashes raw after a decode/encode round trip so
// whitespace and key order do not produce distinct hashes. Invalid
// JSON is hashed as-is.
func canonicalHashJSON(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return hashBytes(raw)
	}
	if b, err := json.Marshal(v); err == nil {
		return hashBytes(b)
	}
	return hashBytes(raw)
}
