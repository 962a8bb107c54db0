package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stanleylei/price-alert/internal/alert"
	"github.com/stanleylei/price-alert/internal/health"
	"github.com/stanleylei/price-alert/internal/scraper"
	"github.com/stanleylei/price-alert/internal/storage"
	"github.com/stanleylei/price-alert/pkg/logx"
)

type memoryChannel struct {
	mu   sync.Mutex
	err  error
	sent []*alert.Message
}

func (c *memoryChannel) Name() string { return "memory" }

func (c *memoryChannel) Send(_ context.Context, m *alert.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *memoryChannel) delivered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type memoryStore struct {
	mu      sync.Mutex
	err     error
	entries []storage.RunEntry
}

func (s *memoryStore) AppendRun(_ context.Context, e storage.RunEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memoryStore) RecentRuns(_ context.Context, limit int) ([]storage.RunEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.RunEntry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *memoryStore) Close() error { return nil }

func alertingResult() *scraper.Result {
	table := alert.Table{
		Columns: []string{"Plan", "Price"},
		Rows:    [][]alert.Cell{{alert.TextCell("12 Months"), alert.TextCell("10.9")}},
	}
	return &scraper.Result{
		Table: table,
		Alert: &alert.Message{Scraper: "deal", Subject: "price drop", Text: "price drop"},
	}
}

func TestRunnerRecordsSuccessAndDispatches(t *testing.T) {
	reg := scraper.NewRegistry()
	registerStub(reg, "deal", func(ctx context.Context) (*scraper.Result, error) {
		return alertingResult(), nil
	})

	ch := &memoryChannel{}
	st := &memoryStore{}
	tracker := health.NewTracker()
	r := NewRunner(reg, nil, alert.NewDispatcher(logx.Nop(), 0, ch), tracker, st, logx.Nop())

	out := r.Execute(context.Background(), "deal", nil)
	if !out.Succeeded() {
		t.Fatalf("outcome = %+v, want success", out)
	}
	if got := ch.delivered(); got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}

	snap := tracker.Snapshot()
	if snap.Statistics.SuccessfulRuns != 1 || snap.Statistics.TotalRuns != 1 {
		t.Fatalf("successful/total = %d/%d, want 1/1",
			snap.Statistics.SuccessfulRuns, snap.Statistics.TotalRuns)
	}

	if len(st.entries) != 1 {
		t.Fatalf("stored entries = %d, want 1", len(st.entries))
	}
	e := st.entries[0]
	if e.Scraper != "deal" || e.Status != string(health.StatusSuccess) || e.Error != "" {
		t.Fatalf("unexpected stored entry: %+v", e)
	}
}

func TestRunnerSkipsDispatchWithoutAlert(t *testing.T) {
	reg := scraper.NewRegistry()
	registerStub(reg, "quiet", func(ctx context.Context) (*scraper.Result, error) {
		return &scraper.Result{}, nil
	})
	registerStub(reg, "watching", func(ctx context.Context) (*scraper.Result, error) {
		res := alertingResult()
		res.Alert = nil
		return res, nil
	})

	ch := &memoryChannel{}
	r := NewRunner(reg, nil, alert.NewDispatcher(logx.Nop(), 0, ch), health.NewTracker(), nil, logx.Nop())

	// An empty table is a successful run; so is a populated table whose
	// alert condition did not hold.
	for _, name := range []string{"quiet", "watching"} {
		out := r.Execute(context.Background(), name, nil)
		if !out.Succeeded() {
			t.Fatalf("%s outcome = %+v, want success", name, out)
		}
	}
	if got := ch.delivered(); got != 0 {
		t.Fatalf("delivered = %d, want 0", got)
	}
}

func TestRunnerScraperErrorIsContained(t *testing.T) {
	reg := scraper.NewRegistry()
	registerStub(reg, "flaky", func(ctx context.Context) (*scraper.Result, error) {
		return nil, errors.New("status 503")
	})

	st := &memoryStore{}
	tracker := health.NewTracker()
	r := NewRunner(reg, nil, alert.NewDispatcher(logx.Nop(), 0), tracker, st, logx.Nop())

	out := r.Execute(context.Background(), "flaky", nil)
	if out.Succeeded() {
		t.Fatal("expected failure outcome")
	}
	if out.Err == nil || !strings.Contains(out.Err.Error(), "status 503") {
		t.Fatalf("outcome error = %v, want status 503", out.Err)
	}
	if len(st.entries) != 1 || st.entries[0].Error != "status 503" {
		t.Fatalf("unexpected stored entries: %+v", st.entries)
	}
	if got := tracker.Snapshot().Statistics.FailedRuns; got != 1 {
		t.Fatalf("failed runs = %d, want 1", got)
	}
}

func TestRunnerUnknownScraperIsAFailedRun(t *testing.T) {
	reg := scraper.NewRegistry()
	tracker := health.NewTracker()
	r := NewRunner(reg, nil, alert.NewDispatcher(logx.Nop(), 0), tracker, nil, logx.Nop())

	out := r.Execute(context.Background(), "nope", nil)
	if out.Succeeded() {
		t.Fatal("expected failure outcome")
	}
	if !errors.Is(out.Err, scraper.ErrUnknownScraper) {
		t.Fatalf("outcome error = %v, want ErrUnknownScraper", out.Err)
	}
	if !strings.Contains(out.Err.Error(), "create scraper") {
		t.Fatalf("outcome error = %v, want create scraper prefix", out.Err)
	}
}

func TestRunnerPanicBecomesFailedRun(t *testing.T) {
	reg := scraper.NewRegistry()
	registerStub(reg, "wild", func(ctx context.Context) (*scraper.Result, error) {
		panic("nil selection")
	})

	tracker := health.NewTracker()
	r := NewRunner(reg, nil, alert.NewDispatcher(logx.Nop(), 0), tracker, nil, logx.Nop())

	out := r.Execute(context.Background(), "wild", nil)
	if out.Succeeded() {
		t.Fatal("expected failure outcome")
	}
	if out.Err == nil || !strings.Contains(out.Err.Error(), "panic") {
		t.Fatalf("outcome error = %v, want panic message", out.Err)
	}
	snap := tracker.Snapshot()
	if snap.Statistics.FailedRuns != 1 {
		t.Fatalf("failed runs = %d, want 1", snap.Statistics.FailedRuns)
	}
}

func TestRunnerDispatchFailureFailsTheRun(t *testing.T) {
	reg := scraper.NewRegistry()
	registerStub(reg, "deal", func(ctx context.Context) (*scraper.Result, error) {
		return alertingResult(), nil
	})

	ch := &memoryChannel{err: errors.New("smtp down")}
	tracker := health.NewTracker()
	r := NewRunner(reg, nil, alert.NewDispatcher(logx.Nop(), 0, ch), tracker, nil, logx.Nop())

	out := r.Execute(context.Background(), "deal", nil)
	if out.Succeeded() {
		t.Fatal("expected failure outcome")
	}
	if out.Err == nil || !strings.Contains(out.Err.Error(), "send alert") {
		t.Fatalf("outcome error = %v, want send alert prefix", out.Err)
	}
	if got := tracker.Snapshot().Statistics.FailedRuns; got != 1 {
		t.Fatalf("failed runs = %d, want 1", got)
	}
}

func TestRunnerStoreFailureDoesNotFailTheRun(t *testing.T) {
	reg := scraper.NewRegistry()
	registerStub(reg, "quiet", func(ctx context.Context) (*scraper.Result, error) {
		return &scraper.Result{}, nil
	})

	st := &memoryStore{err: errors.New("disk full")}
	r := NewRunner(reg, nil, alert.NewDispatcher(logx.Nop(), 0), health.NewTracker(), st, logx.Nop())

	out := r.Execute(context.Background(), "quiet", nil)
	if !out.Succeeded() {
		t.Fatalf("outcome = %+v, want success despite store error", out)
	}
}
