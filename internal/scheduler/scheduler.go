// Package scheduler runs scrapers on their configured intervals. Each task
// gets its own loop; loops share nothing except the runner, which
// serializes health bookkeeping internally.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stanleylei/price-alert/pkg/logx"
)

const (
	// DefaultSlice bounds every sleep so a shutdown request is observed
	// within one slice even mid-wait.
	DefaultSlice = 10 * time.Second
	// DefaultErrorBackoff is how long a loop pauses after its own
	// bookkeeping fails before retrying.
	DefaultErrorBackoff = time.Minute
)

// Task is one scheduled scraper.
type Task struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool
	// Schedule, when set, replaces Interval for computing the next due
	// time. The next run still anchors on the previous run's end, so a
	// run that outlasts its slot drifts instead of catching up.
	Schedule cron.Schedule
	// Site is the task's raw config block, handed to the scraper factory.
	Site json.RawMessage
}

// ParseSpec parses a cron expression such as "*/30 8-22 * * *" or
// "@hourly".
func ParseSpec(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(spec)
}

// Config tunes the scheduling loops. Zero values fall back to defaults.
type Config struct {
	Slice        time.Duration
	ErrorBackoff time.Duration
	// Clock defaults to wall time; tests substitute a fake.
	Clock Clock
}

func (c Config) withDefaults() Config {
	if c.Slice <= 0 {
		c.Slice = DefaultSlice
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	return c
}

// Service owns the per-task loops.
type Service struct {
	cfg    Config
	runner *Runner
	clock  Clock
	log    logx.Logger

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

func New(cfg Config, runner *Runner, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:    cfg,
		runner: runner,
		clock:  cfg.Clock,
		log:    log.With(logx.String("comp", "scheduler")),
	}
}

// Start launches one loop per task. The loops run until ctx is cancelled;
// Stop waits for them to wind down.
func (s *Service) Start(ctx context.Context, tasks []Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	for _, t := range tasks {
		if t.Name == "" {
			return errors.New("task with empty name")
		}
		if t.Schedule == nil && t.Interval <= 0 {
			return fmt.Errorf("task %q: interval must be positive", t.Name)
		}
	}
	for _, t := range tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
		s.log.Info("scheduler task started", logx.String("task", t.Name))
	}
	s.started = true
	return nil
}

// Stop blocks until every loop has exited or ctx expires. It does not
// cancel the loops itself; cancel the context passed to Start first.
func (s *Service) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (s *Service) loop(ctx context.Context, t Task) {
	defer s.wg.Done()
	log := s.log.With(logx.String("task", t.Name))
	log.Info("scheduling task", logx.String("every", describeCadence(t)))

	var lastEnd time.Time
	if t.RunImmediately {
		log.Info("running immediately on startup")
		s.runner.Execute(ctx, t.Name, t.Site)
		lastEnd = s.clock.Now()
	}

	for ctx.Err() == nil {
		if err := s.iterate(ctx, t, log, &lastEnd); err != nil {
			log.Error("task loop error; backing off", logx.Err(err),
				logx.Duration("backoff", s.cfg.ErrorBackoff))
			s.sleep(ctx, s.cfg.ErrorBackoff)
		}
	}
	log.Info("task loop stopped")
}

// iterate performs one wait-then-run cycle. A panic in the loop's own
// bookkeeping is converted to an error so the loop survives; the runner
// already contains scraper panics.
func (s *Service) iterate(ctx context.Context, t Task, log logx.Logger, lastEnd *time.Time) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	now := s.clock.Now()
	next := nextDue(t, *lastEnd, now)
	if wait := next.Sub(now); wait > 0 {
		log.Info("next run scheduled", logx.String("in", FormatInterval(wait)))
		if !s.sleep(ctx, wait) {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	s.runner.Execute(ctx, t.Name, t.Site)
	// The end time anchors the next slot whatever the outcome; a failing
	// task waits its full interval like a succeeding one.
	*lastEnd = s.clock.Now()
	return nil
}

func nextDue(t Task, lastEnd, now time.Time) time.Time {
	if lastEnd.IsZero() {
		return now
	}
	if t.Schedule != nil {
		return t.Schedule.Next(lastEnd)
	}
	return lastEnd.Add(t.Interval)
}

// sleep waits d in slices of at most cfg.Slice, returning false if ctx was
// cancelled before the full duration elapsed.
func (s *Service) sleep(ctx context.Context, d time.Duration) bool {
	deadline := s.clock.Now().Add(d)
	for {
		remain := deadline.Sub(s.clock.Now())
		if remain <= 0 {
			return true
		}
		slice := s.cfg.Slice
		if remain < slice {
			slice = remain
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.clock.After(slice):
		}
	}
}

func describeCadence(t Task) string {
	if t.Schedule != nil {
		return "cron schedule"
	}
	return FormatInterval(t.Interval)
}

// FormatInterval renders a duration the way the logs describe cadence:
// "45 minutes", "1 hour", "1.5 hours".
func FormatInterval(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes < 60 {
		unit := "minutes"
		if minutes == 1 {
			unit = "minute"
		}
		return strconv.Itoa(minutes) + " " + unit
	}
	hours := d.Minutes() / 60
	if hours == float64(int(hours)) {
		unit := "hours"
		if int(hours) == 1 {
			unit = "hour"
		}
		return strconv.Itoa(int(hours)) + " " + unit
	}
	return strconv.FormatFloat(hours, 'f', 1, 64) + " hours"
}
