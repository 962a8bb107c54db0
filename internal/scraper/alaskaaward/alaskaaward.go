// Package alaskaaward monitors Alaska Airlines award availability and
// alerts when a watched route drops to the target mileage price.
package alaskaaward

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/stanleylei/price-alert/internal/alert"
	"github.com/stanleylei/price-alert/internal/scraper"
	"github.com/stanleylei/price-alert/pkg/logx"
)

const Name = "alaska_award_ticket"

const searchURLTemplate = "https://www.alaskaair.com/search/results?A=3&C=2&L=0&O=%s&D=%s&OD=%s&RT=false&ShoppingMethod=onlineaward"

type Config struct {
	DepartureStation string   `json:"departure_station"`
	ArrivalStations  []string `json:"arrival_stations"`
	TargetPoints     int      `json:"target_points"`
	SearchDate       string   `json:"search_date"`
}

// ParseConfig resolves the effective settings. Unlike the other sites this
// one has no environment overrides; the config file is the only source.
func ParseConfig(raw json.RawMessage) (Config, error) {
	var c Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c); err != nil {
			return Config{}, fmt.Errorf("%s config: %w", Name, err)
		}
	}
	if c.DepartureStation == "" {
		c.DepartureStation = "DFW"
	}
	if len(c.ArrivalStations) == 0 {
		c.ArrivalStations = []string{"SNA", "ONT"}
	}
	if c.TargetPoints == 0 {
		c.TargetPoints = 7500
	}
	if c.SearchDate == "" {
		c.SearchDate = "2025-11-14"
	}
	return c, nil
}

// Flight is one award option from the results matrix.
type Flight struct {
	DepartureStation string
	ArrivalStation   string
	DepartureTime    string
	ArrivalTime      string
	Points           int
	PriceUSD         float64
	FlightNumber     string
}

type Scraper struct {
	cfg    Config
	client *resty.Client
	log    logx.Logger
}

func New(env scraper.Env) (scraper.Scraper, error) {
	cfg, err := ParseConfig(env.Site)
	if err != nil {
		return nil, err
	}
	return &Scraper{cfg: cfg, client: env.Client, log: env.Log}, nil
}

func (s *Scraper) Name() string { return Name }

func (s *Scraper) searchURL(arrival string) string {
	return fmt.Sprintf(searchURLTemplate, s.cfg.DepartureStation, arrival, s.cfg.SearchDate)
}

// Run searches every configured arrival station. A station whose fetch
// fails is skipped with a warning; the run only errors when no station
// could be fetched at all.
func (s *Scraper) Run(ctx context.Context) (*scraper.Result, error) {
	var flights []Flight
	fetched := 0
	var lastErr error
	for _, arrival := range s.cfg.ArrivalStations {
		route := fmt.Sprintf("%s -> %s", s.cfg.DepartureStation, arrival)
		doc, err := scraper.FetchDocument(ctx, s.client, s.searchURL(arrival))
		if err != nil {
			lastErr = err
			s.log.Warn("award search failed for route",
				logx.String("route", route), logx.Err(err))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		fetched++
		found := ParseFlights(doc, arrival)
		s.log.Debug("award search complete",
			logx.String("route", route), logx.Int("flights", len(found)))
		flights = append(flights, found...)
	}
	if fetched == 0 && lastErr != nil {
		return nil, fmt.Errorf("all award searches failed: %w", lastErr)
	}

	res := &scraper.Result{Table: s.buildTable(flights)}
	if hasMatch(flights, s.cfg.ArrivalStations, s.cfg.TargetPoints) {
		msg, err := s.buildAlert(flights)
		if err != nil {
			return nil, err
		}
		res.Alert = msg
	}
	return res, nil
}

// ParseFlights extracts award rows for one searched arrival station. Rows
// whose arrival text does not equal the searched station are dropped; the
// results page mixes in nearby-airport suggestions.
func ParseFlights(doc *goquery.Document, arrival string) []Flight {
	var flights []Flight
	doc.Find(`[data-testid="matrix-row"]`).Each(func(_ int, row *goquery.Selection) {
		f, ok := extractRow(row)
		if !ok {
			return
		}
		if f.ArrivalStation != arrival {
			return
		}
		flights = append(flights, f)
	})
	return flights
}

func extractRow(row *goquery.Selection) (Flight, bool) {
	departure := extractText(row,
		`[data-testid*="departure"]`, ".departure", `[class*="departure"]`, "td:first-child", ".origin")
	arrival := extractText(row,
		`[data-testid*="arrival"]`, ".arrival", `[class*="arrival"]`, "td:nth-child(2)", ".destination")
	pricePoints := extractText(row,
		`[class*="price"]`, `[class*="points"]`, `[class*="award"]`, "td:nth-child(3)", "td:nth-child(4)")
	flightNumber := extractText(row,
		`[data-testid*="flight"]`, ".flight-number", `[class*="flight"]`, "td:nth-child(1)")
	departureTime := extractText(row,
		".departureTime .yield", ".departureTime span", `[class*="departureTime"] .yield`, `[class*="departureTime"] span`)
	arrivalTime := extractText(row,
		".arrivalTime .yield", ".arrivalTime span", `[class*="arrivalTime"] .yield`, `[class*="arrivalTime"] span`)

	points := parsePoints(pricePoints)
	if departure == "" && arrival == "" && points == 0 {
		return Flight{}, false
	}
	return Flight{
		DepartureStation: orNA(departure),
		ArrivalStation:   orNA(arrival),
		DepartureTime:    orNA(departureTime),
		ArrivalTime:      orNA(arrivalTime),
		Points:           points,
		PriceUSD:         parsePrice(pricePoints),
		FlightNumber:     parseFlightNumber(flightNumber),
	}, true
}

// extractText returns the first non-empty text found by the given
// selectors. The results page markup shifts between releases, so each
// field carries a list of fallbacks.
func extractText(row *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(row.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

var (
	rePriceDollar   = regexp.MustCompile(`\+\s*\$(\d+(?:\.\d+)?)|\$(\d+(?:\.\d+)?)`)
	rePriceFallback = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	rePointsK       = regexp.MustCompile(`(\d+(?:\.\d+)?)[kK]`)
	rePointsComma   = regexp.MustCompile(`(\d{1,2}(?:,\d{3})?)`)
	rePointsDigits  = regexp.MustCompile(`(\d+)`)
	reFlightNumber  = regexp.MustCompile(`([A-Z]{2})\s*(\d+)`)
)

// parsePrice reads the cash component from text like "+ $19" or "$19".
func parsePrice(text string) float64 {
	if text == "" {
		return 0
	}
	if m := rePriceDollar.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	if m := rePriceFallback.FindStringSubmatch(text); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return f
		}
	}
	return 0
}

// parsePoints reads the mileage price from text like "7.5k" or "7,500".
func parsePoints(text string) int {
	if text == "" {
		return 0
	}
	if m := rePointsK.FindStringSubmatch(text); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return int(f * 1000)
		}
	}
	if m := rePointsComma.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
			return n
		}
	}
	if m := rePointsDigits.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

// parseFlightNumber normalizes text like "AA1639" to "AA 1639".
func parseFlightNumber(text string) string {
	if text == "" {
		return "N/A"
	}
	if m := reFlightNumber.FindStringSubmatch(text); m != nil {
		return m[1] + " " + m[2]
	}
	first, _, _ := strings.Cut(text, "\n")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return "N/A"
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func matches(f Flight, arrivals []string, targetPoints int) bool {
	for _, a := range arrivals {
		if f.ArrivalStation == a && f.Points <= targetPoints {
			return true
		}
	}
	return false
}

func hasMatch(flights []Flight, arrivals []string, targetPoints int) bool {
	for _, f := range flights {
		if matches(f, arrivals, targetPoints) {
			return true
		}
	}
	return false
}

func (s *Scraper) buildTable(flights []Flight) alert.Table {
	t := alert.Table{
		Columns: []string{"Alert", "Departure Station", "Arrival Station", "Departure Time", "Arrival Time", "Points", "Price (USD)", "Flight Number"},
	}
	for _, f := range flights {
		mark := ""
		if matches(f, s.cfg.ArrivalStations, s.cfg.TargetPoints) {
			mark = "✅"
		}
		t.Rows = append(t.Rows, []alert.Cell{
			alert.TextCell(mark),
			alert.TextCell(f.DepartureStation),
			alert.TextCell(f.ArrivalStation),
			alert.TextCell(f.DepartureTime),
			alert.TextCell(f.ArrivalTime),
			alert.TextCell(strconv.Itoa(f.Points)),
			alert.TextCell(strconv.FormatFloat(f.PriceUSD, 'f', -1, 64)),
			alert.TextCell(f.FlightNumber),
		})
	}
	return t
}

func (s *Scraper) buildAlert(flights []Flight) (*alert.Message, error) {
	routes := strings.Join(s.cfg.ArrivalStations, "/")
	points := formatPoints(s.cfg.TargetPoints)
	html, err := alert.RenderBody(alert.BodyParams{
		Title: "Alaska Airlines Award Ticket Alert",
		Message: fmt.Sprintf("Found flights with %s points or less for %s → %s routes! "+
			"Currently monitoring for %s routes. Matching routes are marked with '✅'.",
			points, s.cfg.DepartureStation, routes, strings.Join(s.cfg.ArrivalStations, " and ")),
		Table:      s.buildTable(flights),
		BookingURL: s.searchURL(s.cfg.ArrivalStations[0]),
	})
	if err != nil {
		return nil, err
	}
	return &alert.Message{
		Scraper: Name,
		Subject: fmt.Sprintf("Alaska Airlines Alert: %s Points Available for %s → %s",
			points, s.cfg.DepartureStation, routes),
		HTML:    html,
		Text: fmt.Sprintf("Alaska Airlines: award seats at %s points or less on %s → %s.",
			points, s.cfg.DepartureStation, routes),
		Link: s.searchURL(s.cfg.ArrivalStations[0]),
	}, nil
}

// formatPoints renders 7500 as "7.5k" and 10000 as "10k".
func formatPoints(points int) string {
	if points%1000 == 0 {
		return strconv.Itoa(points/1000) + "k"
	}
	return strconv.FormatFloat(float64(points)/1000, 'f', -1, 64) + "k"
}
