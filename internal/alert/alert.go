// Package alert renders and delivers price alerts. Delivery failures are
// returned to the caller so the run that produced the alert is recorded as
// failed.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/stanleylei/price-alert/pkg/logx"
)

// Message is one rendered alert, ready for any channel.
type Message struct {
	// Scraper is the producing scraper's name (for logs and dedup keys).
	Scraper string
	Subject string
	// HTML is the full email body.
	HTML string
	// Text is a short plain-text summary for channels that cannot render
	// tables (Telegram).
	Text string
	// Link points at the monitored page, when the site has a stable URL.
	Link string
}

// Channel delivers a message over one transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// Dispatcher fans a message out to every configured channel. An optional
// minimum interval between dispatches drops excess alerts instead of
// queueing them; a price that stays low would otherwise re-alert on every
// run.
type Dispatcher struct {
	log      logx.Logger
	channels []Channel
	limiter  *rate.Limiter
}

func NewDispatcher(log logx.Logger, minInterval time.Duration, channels ...Channel) *Dispatcher {
	var lim *rate.Limiter
	if minInterval > 0 {
		lim = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return &Dispatcher{
		log:      log.With(logx.String("comp", "alert")),
		channels: channels,
		limiter:  lim,
	}
}

// Channels reports the configured channel names.
func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch.Name())
	}
	return out
}

// Dispatch sends msg on every channel. It returns an error when any
// channel fails; a nil return means the alert was delivered (or
// deliberately dropped: no channels, or rate limited).
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) error {
	if msg == nil {
		return nil
	}
	if len(d.channels) == 0 {
		d.log.Warn("alert condition met but no delivery channels are configured",
			logx.String("scraper", msg.Scraper), logx.String("subject", msg.Subject))
		return nil
	}
	if d.limiter != nil && !d.limiter.Allow() {
		d.log.Warn("alert suppressed by rate limit",
			logx.String("scraper", msg.Scraper), logx.String("subject", msg.Subject))
		return nil
	}

	var errs []error
	for _, ch := range d.channels {
		if err := ch.Send(ctx, msg); err != nil {
			d.log.Error("alert delivery failed",
				logx.String("scraper", msg.Scraper),
				logx.String("channel", ch.Name()),
				logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		d.log.Info("alert sent",
			logx.String("scraper", msg.Scraper),
			logx.String("channel", ch.Name()),
			logx.String("subject", msg.Subject))
	}
	return errors.Join(errs...)
}
