package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stanleylei/price-alert/internal/alert"
	"github.com/stanleylei/price-alert/internal/health"
	"github.com/stanleylei/price-alert/internal/scraper"
	"github.com/stanleylei/price-alert/internal/storage"
	"github.com/stanleylei/price-alert/pkg/logx"
)

// Outcome is the result of one scraper execution.
type Outcome struct {
	Status   health.Status
	Err      error
	Duration time.Duration
}

func (o Outcome) Succeeded() bool { return o.Status == health.StatusSuccess }

// Runner executes a single scraper end to end: build, scrape, dispatch,
// record. Failures never propagate as panics or program errors; every run
// ends in a recorded Outcome.
type Runner struct {
	registry   *scraper.Registry
	client     *resty.Client
	dispatcher *alert.Dispatcher
	tracker    *health.Tracker
	store      storage.Store
	log        logx.Logger
}

func NewRunner(registry *scraper.Registry, client *resty.Client, dispatcher *alert.Dispatcher, tracker *health.Tracker, store storage.Store, log logx.Logger) *Runner {
	return &Runner{
		registry:   registry,
		client:     client,
		dispatcher: dispatcher,
		tracker:    tracker,
		store:      store,
		log:        log,
	}
}

// Execute runs the named scraper with its site config. The outcome is
// recorded in the health tracker and, when storage is configured, in the
// run history.
func (r *Runner) Execute(ctx context.Context, name string, site json.RawMessage) (out Outcome) {
	log := r.log.With(logx.String("scraper", name))
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("scraper run panicked",
				logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
			out = r.finish(ctx, log, name, start, fmt.Errorf("panic: %v", rec))
		}
	}()

	log.Info("starting scraper run")

	sc, err := r.registry.Build(name, scraper.Env{Site: site, Client: r.client, Log: log})
	if err != nil {
		return r.finish(ctx, log, name, start, fmt.Errorf("create scraper: %w", err))
	}

	res, err := sc.Run(ctx)
	if err != nil {
		return r.finish(ctx, log, name, start, err)
	}

	switch {
	case res == nil || res.Table.Empty():
		log.Warn("no data was scraped; skipping alert check")
	case res.Alert != nil:
		log.Info("alert condition met; sending alert", logx.Int("rows", len(res.Table.Rows)))
		if err := r.dispatcher.Dispatch(ctx, res.Alert); err != nil {
			return r.finish(ctx, log, name, start, fmt.Errorf("send alert: %w", err))
		}
	default:
		log.Info("alert condition not met", logx.Int("rows", len(res.Table.Rows)))
	}
	return r.finish(ctx, log, name, start, nil)
}

func (r *Runner) finish(ctx context.Context, log logx.Logger, name string, start time.Time, err error) Outcome {
	d := time.Since(start)
	status := health.StatusSuccess
	msg := ""
	if err != nil {
		status = health.StatusFailure
		msg = err.Error()
		log.Error("scraper run failed", logx.Err(err), logx.Duration("took", d))
	} else {
		log.Info("scraper run complete", logx.Duration("took", d))
	}
	r.tracker.Record(name, status, msg)
	if r.store != nil {
		entry := storage.RunEntry{
			At:      start,
			Scraper: name,
			Status:  string(status),
			Error:   msg,
			TookMS:  d.Milliseconds(),
		}
		if serr := r.store.AppendRun(ctx, entry); serr != nil {
			log.Warn("failed to persist run history", logx.Err(serr))
		}
	}
	return Outcome{Status: status, Err: err, Duration: d}
}
