// Package scraper defines the contract every price scraper implements and
// the registry the scheduler builds task instances from.
package scraper

import (
	"context"
	"encoding/json"

	"github.com/go-resty/resty/v2"

	"github.com/stanleylei/price-alert/internal/alert"
	"github.com/stanleylei/price-alert/pkg/logx"
)

// Result is the outcome of one scrape. Alert is nil when the watched
// condition was not met; a result with zero rows is still a valid outcome
// (the site had nothing to offer).
type Result struct {
	Table alert.Table
	Alert *alert.Message
}

// Scraper fetches one site and decides whether its alert condition holds.
// Run must honor ctx cancellation; implementations are built fresh for
// every run and hold no mutable state.
type Scraper interface {
	Name() string
	Run(ctx context.Context) (*Result, error)
}

// Env is handed to factories at build time.
type Env struct {
	// Site is the raw config block for this scraper, including its
	// site-specific keys.
	Site json.RawMessage
	// Client is the shared HTTP client (timeout and user agent already
	// applied).
	Client *resty.Client
	// Log carries the scraper's name as a field.
	Log logx.Logger
}

// Factory builds a runnable scraper from configuration.
type Factory func(env Env) (Scraper, error)
