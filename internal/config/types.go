package config

import (
	"encoding/json"
)

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Health   HealthConfig   `json:"health"`
	Scraping ScrapingConfig `json:"scraping"`
	Alerts   AlertsConfig   `json:"alerts"`

	// Storage controls the optional run-history persistence layer.
	// Nil (or an empty driver) disables it.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Scrapers maps scraper names to their schedule plus site-specific
	// settings. Unknown keys inside each entry belong to the scraper and
	// are decoded by its factory, not here.
	Scrapers map[string]ScraperConfig `json:"scrapers"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Console is a pointer so we can distinguish "omitted" (default true)
	// from an explicit false.
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Path    string `json:"path"`
}

type HealthConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Port    int   `json:"port,omitempty"`
}

// ScrapingConfig holds HTTP client settings shared by all scrapers.
//
// Timeout is a Go duration string (e.g. "30s", "1m").
type ScrapingConfig struct {
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// AlertsConfig controls alert delivery channels.
//
// MinInterval is a Go duration string; when set, at most one alert is
// dispatched per interval and the rest are dropped. "0s" disables the limit.
type AlertsConfig struct {
	Email       EmailConfig    `json:"email"`
	Telegram    TelegramConfig `json:"telegram"`
	MinInterval string         `json:"min_interval,omitempty"`
}

type EmailConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	SMTPServer string `json:"smtp_server,omitempty"`
	SMTPPort   int    `json:"smtp_port,omitempty"`
	Sender     string `json:"sender,omitempty"`
	Password   string `json:"password,omitempty"`
	Recipient  string `json:"recipient,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pricealert.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ScraperConfig is the per-scraper schedule block. Site-specific fields
// (zip codes, dates, thresholds, ...) live in the same YAML object; they
// are preserved verbatim in Site and decoded by the scraper factory.
type ScraperConfig struct {
	Enabled         bool
	IntervalMinutes int
	// RunImmediately is a pointer so we can distinguish "omitted"
	// (default true) from an explicit false.
	RunImmediately *bool
	// Schedule is an optional cron expression. When set it takes
	// precedence over IntervalMinutes.
	Schedule string

	// Site is the raw JSON of the whole entry, including the common
	// fields above.
	Site json.RawMessage
}

// UnmarshalJSON keeps the full raw entry for the scraper factory while
// extracting the schedule fields the scheduler cares about. Site-specific
// keys are intentionally not rejected here.
func (c *ScraperConfig) UnmarshalJSON(b []byte) error {
	type common struct {
		Enabled         bool   `json:"enabled"`
		IntervalMinutes int    `json:"interval_minutes"`
		RunImmediately  *bool  `json:"run_immediately"`
		Schedule        string `json:"schedule"`
	}
	var t common
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	*c = ScraperConfig{
		Enabled:         t.Enabled,
		IntervalMinutes: t.IntervalMinutes,
		RunImmediately:  t.RunImmediately,
		Schedule:        t.Schedule,
		Site:            append(json.RawMessage(nil), b...),
	}
	return nil
}

// MarshalJSON emits the effective entry: the original site fields with the
// schedule fields overlaid, so config dumps reflect applied defaults.
func (c ScraperConfig) MarshalJSON() ([]byte, error) {
	m := map[string]any{}
	if len(c.Site) > 0 {
		if err := json.Unmarshal(c.Site, &m); err != nil {
			return nil, err
		}
	}
	m["enabled"] = c.Enabled
	m["interval_minutes"] = c.IntervalMinutes
	m["run_immediately"] = c.RunImmediatelyOrDefault()
	if c.Schedule != "" {
		m["schedule"] = c.Schedule
	} else {
		delete(m, "schedule")
	}
	return json.Marshal(m)
}

// RunImmediatelyOrDefault resolves the omitted-means-true pointer.
func (c ScraperConfig) RunImmediatelyOrDefault() bool {
	if c.RunImmediately == nil {
		return true
	}
	return *c.RunImmediately
}
