package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stanleylei/price-alert/internal/alert"
	"github.com/stanleylei/price-alert/internal/health"
	"github.com/stanleylei/price-alert/internal/scraper"
	"github.com/stanleylei/price-alert/pkg/logx"
)

// fakeClock drives the scheduling loops deterministically. Advance moves
// time forward and fires every sleeper that became due.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	remain := c.waiters[:0]
	for _, w := range c.waiters {
		if w.at.After(c.now) {
			remain = append(remain, w)
			continue
		}
		w.ch <- c.now
	}
	c.waiters = remain
}

// blockUntilSleepers waits until n loops are parked in a timed wait.
func (c *fakeClock) blockUntilSleepers(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		c.mu.Lock()
		cur := len(c.waiters)
		c.mu.Unlock()
		if cur >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d sleeping tasks, have %d", n, cur)
		}
		time.Sleep(time.Millisecond)
	}
}

// runRecorder captures when a stub scraper ran.
type runRecorder struct {
	mu    sync.Mutex
	times []time.Time
}

func (r *runRecorder) add(at time.Time) {
	r.mu.Lock()
	r.times = append(r.times, at)
	r.mu.Unlock()
}

func (r *runRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.times)
}

func (r *runRecorder) at(i int) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.times[i]
}

func (r *runRecorder) waitCount(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d runs, have %d", n, r.count())
		}
		time.Sleep(time.Millisecond)
	}
}

type stubScraper struct {
	name string
	run  func(ctx context.Context) (*scraper.Result, error)
}

func (s *stubScraper) Name() string { return s.name }

func (s *stubScraper) Run(ctx context.Context) (*scraper.Result, error) { return s.run(ctx) }

func registerStub(reg *scraper.Registry, name string, run func(ctx context.Context) (*scraper.Result, error)) {
	reg.Register(name, func(env scraper.Env) (scraper.Scraper, error) {
		return &stubScraper{name: name, run: run}, nil
	})
}

func newTestRunner(reg *scraper.Registry, tracker *health.Tracker) *Runner {
	return NewRunner(reg, nil, alert.NewDispatcher(logx.Nop(), 0), tracker, nil, logx.Nop())
}

func stopScheduler(t *testing.T, svc *Service, cancel context.CancelFunc) {
	t.Helper()
	cancel()
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestTaskRunsImmediatelyThenOnInterval(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clk := newFakeClock(base)
	rec := &runRecorder{}

	reg := scraper.NewRegistry()
	registerStub(reg, "watcher", func(ctx context.Context) (*scraper.Result, error) {
		rec.add(clk.Now())
		return &scraper.Result{}, nil
	})

	svc := New(Config{Clock: clk, Slice: time.Hour}, newTestRunner(reg, health.NewTracker()), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := svc.Start(ctx, []Task{{Name: "watcher", Interval: time.Minute, RunImmediately: true}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec.waitCount(t, 1)
	if got := rec.at(0); !got.Equal(base) {
		t.Fatalf("first run at %v, want %v", got, base)
	}

	clk.blockUntilSleepers(t, 1)
	clk.Advance(time.Minute)
	rec.waitCount(t, 2)

	clk.blockUntilSleepers(t, 1)
	clk.Advance(time.Minute)
	rec.waitCount(t, 3)

	if got := rec.at(1).Sub(rec.at(0)); got != time.Minute {
		t.Fatalf("second run offset = %v, want %v", got, time.Minute)
	}
	if got := rec.at(2).Sub(rec.at(1)); got != time.Minute {
		t.Fatalf("third run offset = %v, want %v", got, time.Minute)
	}

	stopScheduler(t, svc, cancel)
}

func TestTasksKeepIndependentCadence(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clk := newFakeClock(base)
	recA := &runRecorder{}
	recB := &runRecorder{}

	reg := scraper.NewRegistry()
	registerStub(reg, "fast", func(ctx context.Context) (*scraper.Result, error) {
		recA.add(clk.Now())
		return &scraper.Result{}, nil
	})
	registerStub(reg, "slow", func(ctx context.Context) (*scraper.Result, error) {
		recB.add(clk.Now())
		return &scraper.Result{}, nil
	})

	svc := New(Config{Clock: clk, Slice: time.Hour}, newTestRunner(reg, health.NewTracker()), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := svc.Start(ctx, []Task{
		{Name: "fast", Interval: time.Minute, RunImmediately: true},
		{Name: "slow", Interval: 5 * time.Minute, RunImmediately: true},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	recA.waitCount(t, 1)
	recB.waitCount(t, 1)

	for i := 1; i <= 5; i++ {
		clk.blockUntilSleepers(t, 2)
		clk.Advance(time.Minute)
		recA.waitCount(t, i+1)
	}
	recB.waitCount(t, 2)

	if got := recA.count(); got != 6 {
		t.Fatalf("fast ran %d times, want 6", got)
	}
	if got := recB.count(); got != 2 {
		t.Fatalf("slow ran %d times, want 2", got)
	}
	if got := recB.at(1); !got.Equal(base.Add(5 * time.Minute)) {
		t.Fatalf("slow second run at %v, want %v", got, base.Add(5*time.Minute))
	}

	stopScheduler(t, svc, cancel)
}

func TestFailingTaskKeepsItsSchedule(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clk := newFakeClock(base)
	rec := &runRecorder{}
	tracker := health.NewTracker()

	reg := scraper.NewRegistry()
	registerStub(reg, "flaky", func(ctx context.Context) (*scraper.Result, error) {
		rec.add(clk.Now())
		return nil, errors.New("site unreachable")
	})

	svc := New(Config{Clock: clk, Slice: time.Hour}, newTestRunner(reg, tracker), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := svc.Start(ctx, []Task{{Name: "flaky", Interval: time.Minute, RunImmediately: true}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec.waitCount(t, 1)
	for i := 1; i <= 2; i++ {
		clk.blockUntilSleepers(t, 1)
		clk.Advance(time.Minute)
		rec.waitCount(t, i+1)
	}

	// A failing run waits its full interval like a succeeding one.
	if got := rec.at(1).Sub(rec.at(0)); got != time.Minute {
		t.Fatalf("second run offset = %v, want %v", got, time.Minute)
	}

	snap := tracker.Snapshot()
	if snap.Statistics.FailedRuns != 3 || snap.Statistics.TotalRuns != 3 {
		t.Fatalf("failed/total = %d/%d, want 3/3",
			snap.Statistics.FailedRuns, snap.Statistics.TotalRuns)
	}
	if len(snap.RecentErrors) == 0 {
		t.Fatal("expected recent errors after failed runs")
	}
	if got := snap.RecentErrors[0].Scraper; got != "flaky" {
		t.Fatalf("recent error scraper = %s, want flaky", got)
	}
	if got := snap.Scrapers["flaky"].Status; got != string(health.StatusFailure) {
		t.Fatalf("scraper status = %s, want failure", got)
	}

	stopScheduler(t, svc, cancel)
}

func TestPanickingScraperDoesNotKillLoop(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clk := newFakeClock(base)
	rec := &runRecorder{}
	tracker := health.NewTracker()

	reg := scraper.NewRegistry()
	registerStub(reg, "wild", func(ctx context.Context) (*scraper.Result, error) {
		rec.add(clk.Now())
		if rec.count() == 1 {
			panic("selector went away")
		}
		return &scraper.Result{}, nil
	})

	svc := New(Config{Clock: clk, Slice: time.Hour}, newTestRunner(reg, tracker), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := svc.Start(ctx, []Task{{Name: "wild", Interval: time.Minute, RunImmediately: true}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec.waitCount(t, 1)
	clk.blockUntilSleepers(t, 1)
	clk.Advance(time.Minute)
	rec.waitCount(t, 2)

	snap := tracker.Snapshot()
	if snap.Statistics.FailedRuns != 1 || snap.Statistics.SuccessfulRuns != 1 {
		t.Fatalf("failed/successful = %d/%d, want 1/1",
			snap.Statistics.FailedRuns, snap.Statistics.SuccessfulRuns)
	}

	stopScheduler(t, svc, cancel)
}

func TestStopWakesSleepingTask(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clk := newFakeClock(base)
	rec := &runRecorder{}

	reg := scraper.NewRegistry()
	registerStub(reg, "napper", func(ctx context.Context) (*scraper.Result, error) {
		rec.add(clk.Now())
		return &scraper.Result{}, nil
	})

	svc := New(Config{Clock: clk, Slice: time.Hour}, newTestRunner(reg, health.NewTracker()), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	err := svc.Start(ctx, []Task{{Name: "napper", Interval: time.Hour}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The first pass runs right away even without RunImmediately; the loop
	// then parks until the next slot.
	rec.waitCount(t, 1)
	clk.blockUntilSleepers(t, 1)

	cancel()
	stopCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("Stop while sleeping: %v", err)
	}
	if got := rec.count(); got != 1 {
		t.Fatalf("runs after stop = %d, want 1", got)
	}
}

func TestSlowRunDriftsInsteadOfCatchingUp(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	clk := newFakeClock(base)
	rec := &runRecorder{}

	reg := scraper.NewRegistry()
	registerStub(reg, "sluggish", func(ctx context.Context) (*scraper.Result, error) {
		rec.add(clk.Now())
		if rec.count() == 1 {
			// The run itself outlasts the 1m interval.
			clk.Advance(90 * time.Second)
		}
		return &scraper.Result{}, nil
	})

	svc := New(Config{Clock: clk, Slice: time.Hour}, newTestRunner(reg, health.NewTracker()), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := svc.Start(ctx, []Task{{Name: "sluggish", Interval: time.Minute, RunImmediately: true}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec.waitCount(t, 1)
	clk.blockUntilSleepers(t, 1)
	clk.Advance(time.Minute)
	rec.waitCount(t, 2)

	// First run ends at +90s, so the next slot is +150s; the missed +60s
	// slot is not made up.
	want := base.Add(150 * time.Second)
	if got := rec.at(1); !got.Equal(want) {
		t.Fatalf("second run at %v, want %v", got, want)
	}

	stopScheduler(t, svc, cancel)
}

func TestCronScheduleComputesNextFromLastEnd(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 15, 0, 0, time.UTC)
	clk := newFakeClock(base)
	rec := &runRecorder{}

	reg := scraper.NewRegistry()
	registerStub(reg, "hourly", func(ctx context.Context) (*scraper.Result, error) {
		rec.add(clk.Now())
		return &scraper.Result{}, nil
	})

	sched, err := ParseSpec("0 * * * *")
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}

	svc := New(Config{Clock: clk, Slice: time.Hour}, newTestRunner(reg, health.NewTracker()), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx, []Task{{Name: "hourly", Schedule: sched}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec.waitCount(t, 1)
	clk.blockUntilSleepers(t, 1)
	clk.Advance(45 * time.Minute)
	rec.waitCount(t, 2)

	want := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if got := rec.at(1); !got.Equal(want) {
		t.Fatalf("cron run at %v, want %v", got, want)
	}

	stopScheduler(t, svc, cancel)
}

func TestStartValidatesTasks(t *testing.T) {
	reg := scraper.NewRegistry()
	svc := New(Config{}, newTestRunner(reg, health.NewTracker()), logx.Nop())
	ctx := context.Background()

	if err := svc.Start(ctx, []Task{{Name: "", Interval: time.Minute}}); err == nil {
		t.Fatal("expected error for empty task name")
	}
	if err := svc.Start(ctx, []Task{{Name: "x", Interval: 0}}); err == nil {
		t.Fatal("expected error for nonpositive interval")
	}

	if err := svc.Start(ctx, nil); err != nil {
		t.Fatalf("Start with no tasks: %v", err)
	}
	if err := svc.Start(ctx, nil); err == nil {
		t.Fatal("expected error for second Start")
	}
}

func TestParseSpecVariants(t *testing.T) {
	for _, spec := range []string{"*/30 * * * *", "0 8-22 * * *", "@hourly"} {
		if _, err := ParseSpec(spec); err != nil {
			t.Fatalf("ParseSpec(%q) error: %v", spec, err)
		}
	}
	if _, err := ParseSpec("every tuesday"); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{time.Minute, "1 minute"},
		{45 * time.Minute, "45 minutes"},
		{time.Hour, "1 hour"},
		{2 * time.Hour, "2 hours"},
		{90 * time.Minute, "1.5 hours"},
		{150 * time.Minute, "2.5 hours"},
	}
	for _, tt := range tests {
		if got := FormatInterval(tt.d); got != tt.want {
			t.Fatalf("FormatInterval(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
