package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/stanleylei/price-alert/pkg/logx"
)

// Scraper names wired into the registry. Default() pre-seeds an entry per
// name so `config` dumps show every knob even without a config file.
const (
	ScraperPowerToChoose = "power_to_choose"
	ScraperVillaDelArco  = "villa_del_arco"
	ScraperAlaskaAward   = "alaska_award_ticket"
)

// Default returns the configuration used when no file is given.
// Scrapers are present but disabled; enabling them is an explicit choice.
func Default() *Config {
	on := true
	return &Config{
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: &on,
			File:    LoggingFile{Enabled: &on, Path: "./pricealert.log"},
		},
		Health: HealthConfig{
			Enabled: &on,
			Port:    8080,
		},
		Scraping: ScrapingConfig{
			Timeout:   "60s",
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		},
		Alerts: AlertsConfig{
			Email: EmailConfig{
				Enabled:    &on,
				SMTPServer: "smtp.gmail.com",
				SMTPPort:   465,
			},
			MinInterval: "0s",
		},
		Scrapers: map[string]ScraperConfig{
			ScraperPowerToChoose: {IntervalMinutes: 60},
			ScraperVillaDelArco:  {IntervalMinutes: 60},
			ScraperAlaskaAward:   {IntervalMinutes: 60},
		},
	}
}

// Load builds the effective configuration: defaults, then the file (if
// any), then environment overrides. The result is validated.
//
// An empty path is not an error; the service runs on defaults plus
// environment variables alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decodeStrict(path, b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeStrict funnels YAML files through a YAML->JSON conversion so a
// single strict decoder handles both formats and unknown keys are
// rejected uniformly.
func decodeStrict(path string, data []byte, into *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		j, err := yamlToJSON(data)
		if err != nil {
			return err
		}
		data = j
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return err
	}
	switch err := dec.Decode(&struct{}{}); err {
	case io.EOF:
		return nil
	case nil:
		return errors.New("trailing data after config document")
	default:
		return err
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return json.Marshal(stringifyKeys(doc))
}

// stringifyKeys rewrites every map key to a string so a decoded YAML
// tree can be JSON-marshaled.
func stringifyKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = stringifyKeys(child)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = stringifyKeys(child)
		}
		return out
	case []any:
		for i, child := range t {
			t[i] = stringifyKeys(child)
		}
		return t
	default:
		return v
	}
}

// applyEnv overlays environment variables on top of file values.
// Credentials are environment-first on purpose: they should not have to
// live in the config file.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("SENDER_EMAIL"); v != "" {
		cfg.Alerts.Email.Sender = v
	}
	if v := os.Getenv("SENDER_PASSWORD"); v != "" {
		cfg.Alerts.Email.Password = v
	}
	if v := os.Getenv("RECIPIENT_EMAIL"); v != "" {
		cfg.Alerts.Email.Recipient = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Alerts.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: invalid chat id %q: %w", v, err)
		}
		cfg.Alerts.Telegram.ChatID = id
	}
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HEALTH_PORT: invalid port %q: %w", v, err)
		}
		cfg.Health.Port = port
	}
	return nil
}

func (c *Config) withDefaults() {
	on := true
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Console == nil {
		c.Logging.Console = &on
	}
	if c.Logging.File.Enabled == nil {
		c.Logging.File.Enabled = &on
	}
	if strings.TrimSpace(c.Logging.File.Path) == "" {
		c.Logging.File.Path = "./pricealert.log"
	}
	if c.Health.Enabled == nil {
		c.Health.Enabled = &on
	}
	if c.Health.Port == 0 {
		c.Health.Port = 8080
	}
	if strings.TrimSpace(c.Scraping.Timeout) == "" {
		c.Scraping.Timeout = "60s"
	}
	if c.Alerts.Email.Enabled == nil {
		c.Alerts.Email.Enabled = &on
	}
	if strings.TrimSpace(c.Alerts.Email.SMTPServer) == "" {
		c.Alerts.Email.SMTPServer = "smtp.gmail.com"
	}
	if c.Alerts.Email.SMTPPort == 0 {
		c.Alerts.Email.SMTPPort = 465
	}
	if c.Scrapers == nil {
		c.Scrapers = map[string]ScraperConfig{}
	}
	for name, sc := range c.Scrapers {
		if sc.IntervalMinutes == 0 && sc.Schedule == "" {
			sc.IntervalMinutes = 60
			c.Scrapers[name] = sc
		}
	}
}

func (c *Config) Validate() error {
	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port: must be in 1..65535, got %d", c.Health.Port)
	}
	if _, err := ParseDurationField("scraping.timeout", c.Scraping.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("alerts.min_interval", c.Alerts.MinInterval); err != nil {
		return err
	}
	if c.Alerts.Email.SMTPPort < 1 || c.Alerts.Email.SMTPPort > 65535 {
		return fmt.Errorf("alerts.email.smtp_port: must be in 1..65535, got %d", c.Alerts.Email.SMTPPort)
	}
	if s := c.Storage; s != nil {
		switch strings.TrimSpace(s.Driver) {
		case "", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q (want file or sqlite)", s.Driver)
		}
		if strings.TrimSpace(s.Driver) != "" && strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage.path: required when storage.driver is set")
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	for name, sc := range c.Scrapers {
		if !sc.Enabled {
			continue
		}
		if sc.Schedule == "" && sc.IntervalMinutes < 1 {
			return fmt.Errorf("scrapers.%s.interval_minutes: must be >= 1, got %d", name, sc.IntervalMinutes)
		}
	}
	return nil
}

// ParseDurationField parses a duration-typed config value. Empty means
// zero; negatives are rejected because no knob here can run backwards.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def when the field is unset or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// Logx maps the logging section onto the logger's own config type.
func (c LoggingConfig) Logx() logx.Config {
	console := true
	if c.Console != nil {
		console = *c.Console
	}
	fileOn := true
	if c.File.Enabled != nil {
		fileOn = *c.File.Enabled
	}
	return logx.Config{
		Level:   c.Level,
		Console: console,
		File:    logx.FileConfig{Enabled: fileOn, Path: c.File.Path},
	}
}

// HealthEnabled resolves the omitted-means-true pointer.
func (c HealthConfig) HealthEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// EmailEnabled resolves the omitted-means-true pointer.
func (c EmailConfig) EmailEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}
