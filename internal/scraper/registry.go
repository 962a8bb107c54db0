package scraper

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownScraper is returned when a name has no registered factory.
var ErrUnknownScraper = errors.New("unknown scraper")

// Registry maps scraper names to factories. Registration happens once at
// startup; lookups are concurrent.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Known reports whether a factory is registered for name.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Build creates a fresh scraper instance. Unknown names return
// ErrUnknownScraper; how that is handled depends on the caller (fatal for
// a single named run, log-and-skip in batch contexts).
func (r *Registry) Build(name string, env Env) (Scraper, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScraper, name)
	}
	return f(env)
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
