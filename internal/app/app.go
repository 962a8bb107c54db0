// Package app wires the long-running service: health endpoint, scheduler
// loops, config watcher, and systemd readiness notifications.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/stanleylei/price-alert/internal/config"
	"github.com/stanleylei/price-alert/internal/health"
	"github.com/stanleylei/price-alert/internal/runtime/supervisor"
	"github.com/stanleylei/price-alert/internal/scheduler"
	"github.com/stanleylei/price-alert/internal/scraper"
	"github.com/stanleylei/price-alert/pkg/logx"
)

// ErrNoScrapersEnabled signals a clean no-op start: the health server came
// up, but there is nothing to schedule.
var ErrNoScrapersEnabled = errors.New("no scrapers are enabled")

type App struct {
	cfgPath string
	cfg     *config.Config
	core    *Core
	log     logx.Logger

	health *health.Server
	sched  *scheduler.Service
	sup    *supervisor.Supervisor
}

func New(cfgPath string, reg *scraper.Registry) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	core, err := NewCore(cfg, reg)
	if err != nil {
		return nil, err
	}

	a := &App{cfgPath: cfgPath, cfg: cfg, core: core, log: core.Log}
	if cfg.Health.HealthEnabled() {
		a.health = health.NewServer(cfg.Health.Port, core.Tracker, core.Log)
	}
	a.sched = scheduler.New(scheduler.Config{}, core.Runner, core.Log)
	return a, nil
}

func (a *App) Core() *Core { return a.core }

// Start brings the service up. A health server bind failure is fatal; a
// run with zero enabled scrapers returns ErrNoScrapersEnabled so the
// caller can exit cleanly.
func (a *App) Start(ctx context.Context) error {
	tasks, enabled, err := a.buildTasks()
	if err != nil {
		return err
	}

	if a.health != nil {
		if err := a.health.Start(); err != nil {
			return fmt.Errorf("health server: %w", err)
		}
	}

	if len(tasks) == 0 {
		a.log.Warn("no scrapers are enabled")
		return ErrNoScrapersEnabled
	}
	a.log.Info("price alert service starting", logx.Any("scrapers", enabled))

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.sched.Start(a.sup.Context(), tasks); err != nil {
		a.sup.Cancel()
		return err
	}

	if strings.TrimSpace(a.cfgPath) != "" {
		w := config.NewWatcher(a.cfgPath, a.cfg, a.log.With(logx.String("comp", "config")))
		a.sup.Go("config.watch", w.Watch)
	}

	// systemd watchdog pings, when the unit asks for them.
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		period := interval / 2
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(period)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	return nil
}

// Done is closed once the app context unwinds (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal error the supervisor observed, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Stop drains the service: scheduler loops first (so in-flight runs
// finish and record), then the supervised goroutines, then the health
// server, then storage and logs.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")
	if a.sup != nil {
		a.sup.Cancel()
	}

	a.runStep(ctx, "scheduler", 30*time.Second, a.sched.Stop)
	if a.sup != nil {
		a.runStep(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	}
	if a.health != nil {
		a.runStep(ctx, "health", 2*time.Second, func(c context.Context) error {
			a.health.Stop(c)
			return nil
		})
	}

	a.core.Close()
	a.log.Info("stopped")
	return nil
}

// runStep bounds one shutdown action so a stuck component cannot stall
// the whole stop.
func (a *App) runStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- fn(stepCtx) }()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("shutdown step failed", logx.String("step", name), logx.Err(err))
			return
		}
		a.log.Debug("shutdown step done", logx.String("step", name),
			logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("shutdown step timed out; moving on",
			logx.String("step", name), logx.Duration("elapsed", time.Since(start)))
	}
}

// buildTasks maps the scraper config to scheduler tasks. Disabled entries
// are logged and skipped; an unknown name is logged and skipped so one
// typo does not take down the rest; a bad cron expression is fatal.
func (a *App) buildTasks() ([]scheduler.Task, []string, error) {
	names := make([]string, 0, len(a.cfg.Scrapers))
	for name := range a.cfg.Scrapers {
		names = append(names, name)
	}
	sort.Strings(names)

	var tasks []scheduler.Task
	var enabled []string
	for _, name := range names {
		sc := a.cfg.Scrapers[name]
		if !sc.Enabled {
			a.log.Info("scraper disabled", logx.String("scraper", name))
			continue
		}
		if !a.core.Registry.Known(name) {
			a.log.Error("unknown scraper in config; skipping", logx.String("scraper", name))
			continue
		}
		t := scheduler.Task{
			Name:           name,
			Interval:       time.Duration(sc.IntervalMinutes) * time.Minute,
			RunImmediately: sc.RunImmediatelyOrDefault(),
			Site:           sc.Site,
		}
		if spec := strings.TrimSpace(sc.Schedule); spec != "" {
			parsed, err := scheduler.ParseSpec(spec)
			if err != nil {
				return nil, nil, fmt.Errorf("scrapers.%s.schedule: %w", name, err)
			}
			t.Schedule = parsed
		}
		tasks = append(tasks, t)
		enabled = append(enabled, name)
	}
	return tasks, enabled, nil
}
