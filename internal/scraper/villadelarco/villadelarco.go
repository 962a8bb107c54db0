// Package villadelarco watches the Villa del Arco booking engine for
// All-Inclusive plans priced below the configured threshold.
package villadelarco

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"
	"github.com/go-resty/resty/v2"

	"github.com/stanleylei/price-alert/internal/alert"
	"github.com/stanleylei/price-alert/internal/scraper"
)

const Name = "villa_del_arco"

const targetBoard = "All Inclusive"

type Config struct {
	CheckInDate       string `json:"check_in_date"`
	CheckOutDate      string `json:"check_out_date"`
	Adults            int    `json:"adults"`
	Children          int    `json:"children"`
	PriceThresholdUSD int    `json:"price_threshold_usd"`
}

// ParseConfig resolves the effective settings: file values, then VDA_*
// environment overrides, then defaults.
func ParseConfig(raw json.RawMessage) (Config, error) {
	var c Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c); err != nil {
			return Config{}, fmt.Errorf("%s config: %w", Name, err)
		}
	}
	if v := os.Getenv("VDA_CHECK_IN"); v != "" {
		c.CheckInDate = v
	}
	if v := os.Getenv("VDA_CHECK_OUT"); v != "" {
		c.CheckOutDate = v
	}
	if v := os.Getenv("VDA_ADULTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("VDA_ADULTS: invalid number %q: %w", v, err)
		}
		c.Adults = n
	}
	if v := os.Getenv("VDA_CHILDREN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("VDA_CHILDREN: invalid number %q: %w", v, err)
		}
		c.Children = n
	}
	if v := os.Getenv("VDA_PRICE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("VDA_PRICE_THRESHOLD: invalid number %q: %w", v, err)
		}
		c.PriceThresholdUSD = n
	}
	if c.CheckInDate == "" {
		c.CheckInDate = "2025-12-16"
	}
	if c.CheckOutDate == "" {
		c.CheckOutDate = "2025-12-19"
	}
	if c.Adults == 0 {
		c.Adults = 2
	}
	if c.Children == 0 {
		c.Children = 2
	}
	if c.PriceThresholdUSD == 0 {
		c.PriceThresholdUSD = 1100
	}
	return c, nil
}

// Offer is one bookable room/rate/board combination.
type Offer struct {
	RoomName  string
	RateName  string
	BoardType string
	PriceUSD  int
}

func (o Offer) Matches(threshold int) bool {
	return o.BoardType == targetBoard && o.PriceUSD < threshold
}

type Scraper struct {
	cfg    Config
	client *resty.Client
}

func New(env scraper.Env) (scraper.Scraper, error) {
	cfg, err := ParseConfig(env.Site)
	if err != nil {
		return nil, err
	}
	return &Scraper{cfg: cfg, client: env.Client}, nil
}

func (s *Scraper) Name() string { return Name }

func (s *Scraper) searchURL() string {
	return fmt.Sprintf("https://booking.villadelarco.com/bookcore/availability/villarco/%s/%s/%d/%d/?lang=en&rrc=1&adults=%d&ninos=%d",
		s.cfg.CheckInDate, s.cfg.CheckOutDate, s.cfg.Adults, s.cfg.Children, s.cfg.Adults, s.cfg.Children)
}

func (s *Scraper) Run(ctx context.Context) (*scraper.Result, error) {
	doc, err := scraper.FetchDocument(ctx, s.client, s.searchURL())
	if err != nil {
		return nil, err
	}

	offers := ParseOffers(doc)
	// No offers means the availability page changed shape or stopped
	// exposing loyalty prices; surface it instead of staying quiet.
	if len(offers) == 0 {
		return nil, fmt.Errorf("no offers parsed for %s to %s", s.cfg.CheckInDate, s.cfg.CheckOutDate)
	}
	res := &scraper.Result{Table: s.buildTable(offers)}
	if hasMatch(offers, s.cfg.PriceThresholdUSD) {
		msg, err := s.buildAlert(offers)
		if err != nil {
			return nil, err
		}
		res.Alert = msg
	}
	return res, nil
}

var rePrice = regexp.MustCompile(`[\d,]+`)

// ParseOffers walks room containers, their rate accordions, and each
// board option that carries a loyalty price.
func ParseOffers(doc *goquery.Document) []Offer {
	var offers []Offer
	doc.Find(`div[data-testid="fn-room-item-container"]`).Each(func(_ int, room *goquery.Selection) {
		roomName := strings.TrimSpace(room.Find("h3").First().Text())
		room.Find(`div[data-testid="fn-accordion"]`).Each(func(_ int, rate *goquery.Selection) {
			rateName := strings.TrimSpace(rate.Find("h3").First().Text())
			rate.Find(`div[data-testid="fn-board"]`).Each(func(_ int, board *goquery.Selection) {
				priceEl := board.Find(`span[data-testid="fn-loyalty-locked-price"]`).First()
				if priceEl.Length() == 0 {
					return
				}
				price, ok := parsePrice(priceEl.Text())
				if !ok {
					return
				}
				offers = append(offers, Offer{
					RoomName:  roomName,
					RateName:  rateName,
					BoardType: strings.TrimSpace(board.Find(`span[class*="TooltipNameStyles"]`).First().Text()),
					PriceUSD:  price,
				})
			})
		})
	})
	return offers
}

func parsePrice(raw string) (int, bool) {
	m := rePrice.FindString(raw)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

func hasMatch(offers []Offer, threshold int) bool {
	for _, o := range offers {
		if o.Matches(threshold) {
			return true
		}
	}
	return false
}

func (s *Scraper) buildTable(offers []Offer) alert.Table {
	t := alert.Table{
		Columns: []string{"Alert", "Room Name", "Rate Name", "Board Type", "Price (USD)"},
	}
	for _, o := range offers {
		mark := ""
		if o.Matches(s.cfg.PriceThresholdUSD) {
			mark = "✅"
		}
		t.Rows = append(t.Rows, []alert.Cell{
			alert.TextCell(mark),
			alert.TextCell(o.RoomName),
			alert.TextCell(o.RateName),
			alert.TextCell(o.BoardType),
			alert.TextCell(formatUSD(o.PriceUSD)),
		})
	}
	return t
}

func (s *Scraper) buildAlert(offers []Offer) (*alert.Message, error) {
	threshold := formatUSD(s.cfg.PriceThresholdUSD)
	html, err := alert.RenderBody(alert.BodyParams{
		Title: "Price Alert: Villa del Arco All-Inclusive Plan Below Threshold",
		Message: fmt.Sprintf("An All-Inclusive plan below your $%s threshold was found. "+
			"See the full list of available plans below. Matching plans are marked with '✅'.", threshold),
		Table:      s.buildTable(offers),
		BookingURL: s.searchURL(),
		ConfigInfo: []alert.ConfigItem{
			{Label: "Check-in Date", Value: s.cfg.CheckInDate},
			{Label: "Check-out Date", Value: s.cfg.CheckOutDate},
			{Label: "Guests", Value: fmt.Sprintf("%d adults, %d children", s.cfg.Adults, s.cfg.Children)},
			{Label: "Price Threshold", Value: fmt.Sprintf("$%s or less", threshold)},
			{Label: "Target Plan", Value: "All-Inclusive"},
		},
	})
	if err != nil {
		return nil, err
	}
	return &alert.Message{
		Scraper: Name,
		Subject: fmt.Sprintf("Price Alert: Villa del Arco All-Inclusive Plan Below $%s", threshold),
		HTML:    html,
		Text: fmt.Sprintf("Villa del Arco: All-Inclusive plan below $%s found for %s to %s.",
			threshold, s.cfg.CheckInDate, s.cfg.CheckOutDate),
		Link: s.searchURL(),
	}, nil
}

// formatUSD renders n with thousands separators, e.g. 1100 -> "1,100".
func formatUSD(n int) string {
	return humanize.Comma(int64(n))
}
