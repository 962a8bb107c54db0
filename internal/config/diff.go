package config

import (
	"sort"
	"strings"

	"github.com/stanleylei/price-alert/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. It never includes secrets (passwords,
// tokens); those are reported as "set"/"unset" booleans only.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		boolOr(oldCfg.Logging.Console, true) != boolOr(newCfg.Logging.Console, true) ||
		boolOr(oldCfg.Logging.File.Enabled, true) != boolOr(newCfg.Logging.File.Enabled, true) ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", boolOr(newCfg.Logging.Console, true)),
			logx.Bool("logging.file_enabled", boolOr(newCfg.Logging.File.Enabled, true)),
		)
	}

	// Health endpoint
	if boolOr(oldCfg.Health.Enabled, true) != boolOr(newCfg.Health.Enabled, true) ||
		oldCfg.Health.Port != newCfg.Health.Port {
		changed = append(changed, "health")
		attrs = append(attrs,
			logx.Bool("health.enabled", boolOr(newCfg.Health.Enabled, true)),
			logx.Int("health.port", newCfg.Health.Port),
		)
	}

	// Scraping client
	if strings.TrimSpace(oldCfg.Scraping.Timeout) != strings.TrimSpace(newCfg.Scraping.Timeout) ||
		strings.TrimSpace(oldCfg.Scraping.UserAgent) != strings.TrimSpace(newCfg.Scraping.UserAgent) {
		changed = append(changed, "scraping")
		attrs = append(attrs, logx.String("scraping.timeout", strings.TrimSpace(newCfg.Scraping.Timeout)))
	}

	// Alerts (never log credentials)
	oe, ne := oldCfg.Alerts.Email, newCfg.Alerts.Email
	ot, nt := oldCfg.Alerts.Telegram, newCfg.Alerts.Telegram
	if boolOr(oe.Enabled, true) != boolOr(ne.Enabled, true) ||
		strings.TrimSpace(oe.SMTPServer) != strings.TrimSpace(ne.SMTPServer) ||
		oe.SMTPPort != ne.SMTPPort ||
		oe.Sender != ne.Sender ||
		(oe.Password != "") != (ne.Password != "") ||
		oe.Recipient != ne.Recipient ||
		ot.Enabled != nt.Enabled ||
		(ot.Token != "") != (nt.Token != "") ||
		ot.ChatID != nt.ChatID ||
		strings.TrimSpace(oldCfg.Alerts.MinInterval) != strings.TrimSpace(newCfg.Alerts.MinInterval) {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.email_enabled", boolOr(ne.Enabled, true)),
			logx.Bool("alerts.email_configured", ne.Sender != "" && ne.Password != "" && ne.Recipient != ""),
			logx.Bool("alerts.telegram_enabled", nt.Enabled),
			logx.String("alerts.min_interval", strings.TrimSpace(newCfg.Alerts.MinInterval)),
		)
	}

	// Storage. A nil section means disabled.
	if ov, nv := viewStorage(oldCfg.Storage), viewStorage(newCfg.Storage); ov != nv {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nv.driver),
			logx.Bool("storage.path_set", nv.pathSet),
		)
	}

	// Scrapers (summarize only; details at debug)
	scraperChanged := diffScrapers(oldCfg.Scrapers, newCfg.Scrapers)
	if len(scraperChanged) > 0 {
		changed = append(changed, "scrapers")
		attrs = append(attrs,
			logx.String("scrapers.changed", strings.Join(scraperChanged, ",")),
			logx.Int("scrapers.enabled_count", countEnabled(newCfg.Scrapers)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// storageView is the comparable, secret-free projection of a storage
// section used for change detection.
type storageView struct {
	driver, busy string
	pathSet      bool
}

func viewStorage(s *StorageConfig) storageView {
	if s == nil {
		return storageView{}
	}
	return storageView{
		driver:  strings.TrimSpace(s.Driver),
		busy:    strings.TrimSpace(s.BusyTimeout),
		pathSet: strings.TrimSpace(s.Path) != "",
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func countEnabled(m map[string]ScraperConfig) (n int) {
	for _, sc := range m {
		if sc.Enabled {
			n++
		}
	}
	return n
}

func diffScrapers(oldM, newM map[string]ScraperConfig) []string {
	names := map[string]bool{}
	for name := range oldM {
		names[name] = true
	}
	for name := range newM {
		names[name] = true
	}

	var out []string
	for name := range names {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || !scraperEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// scraperEqual compares the schedule knobs plus a canonical hash of the
// site-specific remainder.
func scraperEqual(a, b ScraperConfig) bool {
	return a.Enabled == b.Enabled &&
		a.IntervalMinutes == b.IntervalMinutes &&
		a.Schedule == b.Schedule &&
		a.RunImmediatelyOrDefault() == b.RunImmediatelyOrDefault() &&
		canonicalHashJSON(a.Site) == canonicalHashJSON(b.Site)
}
