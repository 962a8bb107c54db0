package health

import (
	"time"
)

// Status classifies the outcome of a single scraper run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

const (
	// maxErrors bounds the in-memory error history.
	maxErrors = 10
	// recentErrors is how many entries /health exposes.
	recentErrors = 5
)

// Statistics are the run counters plus the derived success rate.
type Statistics struct {
	TotalRuns      int     `json:"total_runs"`
	SuccessfulRuns int     `json:"successful_runs"`
	FailedRuns     int     `json:"failed_runs"`
	SuccessRate    float64 `json:"success_rate"`
}

// ScraperStatus is the last observed outcome for one scraper.
type ScraperStatus struct {
	Status  string  `json:"status"`
	LastRun string  `json:"last_run"`
	Error   *string `json:"error"`
}

// ErrorEntry is one retained failure.
type ErrorEntry struct {
	Scraper   string `json:"scraper"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Snapshot is the read-only view served by /health. Derived fields
// (uptime, success rate) are computed at snapshot time, never stored.
type Snapshot struct {
	Status        string                   `json:"status"`
	Timestamp     string                   `json:"timestamp"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	UptimeHuman   string                   `json:"uptime_human"`
	LastCheck     string                   `json:"last_check"`
	Statistics    Statistics               `json:"statistics"`
	Scrapers      map[string]ScraperStatus `json:"scrapers"`
	RecentErrors  []ErrorEntry             `json:"recent_errors"`
}

type scraperState struct {
	status  Status
	lastRun time.Time
	err     string
}

type errorState struct {
	scraper string
	err     string
	at      time.Time
}
