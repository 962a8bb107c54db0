package health

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Tracker accumulates run outcomes for every scraper. It is shared by the
// runner (writes) and the HTTP endpoints (reads); all access goes through
// the mutex. Record never fails and never panics, so callers can report
// outcomes unconditionally.
type Tracker struct {
	mu sync.Mutex

	now func() time.Time

	started   time.Time
	lastCheck time.Time
	healthy   bool

	totalRuns      int
	successfulRuns int
	failedRuns     int

	scrapers map[string]scraperState
	errors   []errorState
}

func NewTracker() *Tracker {
	now := time.Now
	t := &Tracker{
		now:      now,
		healthy:  true,
		scrapers: map[string]scraperState{},
	}
	t.started = now()
	t.lastCheck = t.started
	return t
}

// Record stores the outcome of one run. Failures keep their message in a
// bounded history (oldest dropped beyond maxErrors).
func (t *Tracker) Record(scraper string, status Status, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.scrapers[scraper] = scraperState{status: status, lastRun: now, err: errMsg}

	switch status {
	case StatusSuccess:
		t.successfulRuns++
	case StatusFailure:
		t.failedRuns++
		if errMsg != "" {
			t.errors = append(t.errors, errorState{scraper: scraper, err: errMsg, at: now})
			if n := len(t.errors); n > maxErrors {
				t.errors = append(t.errors[:0], t.errors[n-maxErrors:]...)
			}
		}
	}

	t.totalRuns++
	t.lastCheck = now
}

// Ready reports whether at least one run has completed.
func (t *Tracker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalRuns > 0
}

func (t *Tracker) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healthy
}

// SetHealthy flips the liveness flag served by /health and /metrics.
func (t *Tracker) SetHealthy(v bool) {
	t.mu.Lock()
	t.healthy = v
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy safe to serve concurrently with
// ongoing Record calls.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	uptime := now.Sub(t.started)

	status := "healthy"
	if !t.healthy {
		status = "unhealthy"
	}

	rate := 0.0
	if t.totalRuns > 0 {
		rate = float64(t.successfulRuns) / float64(t.totalRuns) * 100
	}

	scrapers := make(map[string]ScraperStatus, len(t.scrapers))
	for name, st := range t.scrapers {
		var errp *string
		if st.err != "" {
			e := st.err
			errp = &e
		}
		scrapers[name] = ScraperStatus{
			Status:  string(st.status),
			LastRun: st.lastRun.Format(time.RFC3339),
			Error:   errp,
		}
	}

	recent := t.errors
	if len(recent) > recentErrors {
		recent = recent[len(recent)-recentErrors:]
	}
	errs := make([]ErrorEntry, 0, len(recent))
	for _, e := range recent {
		errs = append(errs, ErrorEntry{
			Scraper:   e.scraper,
			Error:     e.err,
			Timestamp: e.at.Format(time.RFC3339),
		})
	}

	return Snapshot{
		Status:        status,
		Timestamp:     now.Format(time.RFC3339),
		UptimeSeconds: int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		LastCheck:     t.lastCheck.Format(time.RFC3339),
		Statistics: Statistics{
			TotalRuns:      t.totalRuns,
			SuccessfulRuns: t.successfulRuns,
			FailedRuns:     t.failedRuns,
			SuccessRate:    rate,
		},
		Scrapers:     scrapers,
		RecentErrors: errs,
	}
}

func formatUptime(d time.Duration) string {
	secs := int64(d.Seconds())
	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, strconv.FormatInt(days, 10)+"d")
	}
	if hours > 0 {
		parts = append(parts, strconv.FormatInt(hours, 10)+"h")
	}
	if minutes > 0 {
		parts = append(parts, strconv.FormatInt(minutes, 10)+"m")
	}
	if len(parts) == 0 {
		return "< 1m"
	}
	return strings.Join(parts, " ")
}
