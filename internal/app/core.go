package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stanleylei/price-alert/internal/alert"
	"github.com/stanleylei/price-alert/internal/config"
	"github.com/stanleylei/price-alert/internal/health"
	"github.com/stanleylei/price-alert/internal/scheduler"
	"github.com/stanleylei/price-alert/internal/scraper"
	"github.com/stanleylei/price-alert/internal/storage"
	"github.com/stanleylei/price-alert/pkg/logx"
)

// Core holds the components shared by service mode and one-shot commands:
// logging, HTTP client, health tracker, alert channels, storage, runner.
type Core struct {
	Cfg        *config.Config
	Logs       *logx.Service
	Log        logx.Logger
	Registry   *scraper.Registry
	Client     *resty.Client
	Tracker    *health.Tracker
	Dispatcher *alert.Dispatcher
	Store      storage.Store
	Runner     *scheduler.Runner
}

func NewCore(cfg *config.Config, reg *scraper.Registry) (*Core, error) {
	logSvc, log := logx.New(cfg.Logging.Logx())
	log = log.With(logx.String("comp", "app"))

	timeout, err := config.ParseDurationOrDefault("scraping.timeout", cfg.Scraping.Timeout, 60*time.Second)
	if err != nil {
		return nil, err
	}
	client := scraper.NewClient(timeout, cfg.Scraping.UserAgent)

	tracker := health.NewTracker()

	var channels []alert.Channel
	if cfg.Alerts.Email.EmailEnabled() {
		settings := alert.EmailSettings{
			Server:    cfg.Alerts.Email.SMTPServer,
			Port:      cfg.Alerts.Email.SMTPPort,
			Sender:    cfg.Alerts.Email.Sender,
			Password:  cfg.Alerts.Email.Password,
			Recipient: cfg.Alerts.Email.Recipient,
		}
		if err := settings.Validate(); err != nil {
			log.Warn("email configuration is not properly set; alerts may not work", logx.Err(err))
		}
		channels = append(channels, alert.NewEmail(settings, log))
	}
	if cfg.Alerts.Telegram.Enabled {
		tg, err := alert.NewTelegram(alert.TelegramSettings{
			Token:  cfg.Alerts.Telegram.Token,
			ChatID: cfg.Alerts.Telegram.ChatID,
		}, log)
		if err != nil {
			log.Warn("telegram channel unavailable; continuing without it", logx.Err(err))
		} else {
			channels = append(channels, tg)
		}
	}
	minInterval, err := config.ParseDurationOrDefault("alerts.min_interval", cfg.Alerts.MinInterval, 0)
	if err != nil {
		return nil, err
	}
	dispatcher := alert.NewDispatcher(log, minInterval, channels...)

	store, err := OpenStore(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}

	runner := scheduler.NewRunner(reg, client, dispatcher, tracker, store,
		log.With(logx.String("comp", "runner")))

	return &Core{
		Cfg:        cfg,
		Logs:       logSvc,
		Log:        log,
		Registry:   reg,
		Client:     client,
		Tracker:    tracker,
		Dispatcher: dispatcher,
		Store:      store,
		Runner:     runner,
	}, nil
}

// Close releases the store and flushes logging.
func (c *Core) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Logs != nil {
		_ = c.Logs.Close()
	}
}

// OpenStore opens the configured run-history store, or (nil, nil) when
// storage is disabled.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, nil
	}
	return storage.Open(sc, log)
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
