// Package powertochoose monitors Texas electricity plans on
// powertochoose.org and alerts when a plan's 1,000 kWh price drops to the
// configured threshold.
package powertochoose

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/stanleylei/price-alert/internal/alert"
	"github.com/stanleylei/price-alert/internal/scraper"
)

const Name = "power_to_choose"

const (
	siteURL    = "https://www.powertochoose.org/en-us"
	resultsURL = "https://www.powertochoose.org/en-us/Plan/ResultsTable"
)

type Config struct {
	ZipCode             string  `json:"zip_code"`
	ContractMinMonths   string  `json:"contract_min_months"`
	ContractMaxMonths   string  `json:"contract_max_months"`
	PriceThresholdCents float64 `json:"price_threshold_cents"`
	MaxResults          int     `json:"max_results"`
}

// ParseConfig resolves the effective settings: file values, then PTC_*
// environment overrides, then defaults.
func ParseConfig(raw json.RawMessage) (Config, error) {
	var c Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c); err != nil {
			return Config{}, fmt.Errorf("%s config: %w", Name, err)
		}
	}
	if v := os.Getenv("PTC_ZIP_CODE"); v != "" {
		c.ZipCode = v
	}
	if v := os.Getenv("PTC_CONTRACT_MIN"); v != "" {
		c.ContractMinMonths = v
	}
	if v := os.Getenv("PTC_CONTRACT_MAX"); v != "" {
		c.ContractMaxMonths = v
	}
	if v := os.Getenv("PTC_PRICE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("PTC_PRICE_THRESHOLD: invalid number %q: %w", v, err)
		}
		c.PriceThresholdCents = f
	}
	if v := os.Getenv("PTC_MAX_RESULTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("PTC_MAX_RESULTS: invalid number %q: %w", v, err)
		}
		c.MaxResults = n
	}
	if c.ZipCode == "" {
		c.ZipCode = "76092"
	}
	if c.ContractMinMonths == "" {
		c.ContractMinMonths = "12"
	}
	if c.ContractMaxMonths == "" {
		c.ContractMaxMonths = "60"
	}
	if c.PriceThresholdCents == 0 {
		c.PriceThresholdCents = 12.4
	}
	if c.MaxResults == 0 {
		c.MaxResults = 5
	}
	return c, nil
}

// Plan is one electricity plan row from the results table.
type Plan struct {
	PlanLength      string
	Price1000       float64
	Price500        string
	Price2000       string
	CancellationFee string
	FactSheetURL    string
	OrderingURL     string
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

func (s *Scraper) Run(ctx context.Context) (*scraper.Result, error) {
	form := url.Values{}
	form.Set("homezipcode", s.cfg.ZipCode)
	form.Set("plan_mo_from", s.cfg.ContractMinMonths)
	form.Set("plan_mo_to", s.cfg.ContractMaxMonths)

	doc, err := scraper.PostForm(ctx, s.client, resultsURL, form)
	if err != nil {
		return nil, err
	}

	plans := ParsePlans(doc, s.cfg.MaxResults)
	// An empty results table means the search failed or the markup moved,
	// not that electricity got expensive.
	if len(plans) == 0 {
		return nil, fmt.Errorf("no plans parsed for zip %s", s.cfg.ZipCode)
	}
	res := &scraper.Result{Table: buildTable(plans)}
	if matching := matchCount(plans, s.cfg.PriceThresholdCents); matching > 0 {
		msg, err := s.buildAlert(plans, matching)
		if err != nil {
			return nil, err
		}
		res.Alert = msg
	}
	return res, nil
}

var (
	rePrice1000 = regexp.MustCompile(`1,000 kWh\s*([\d.]+)`)
	rePrice500  = regexp.MustCompile(`500 kWh\s*([\d.]+¢)`)
	rePrice2000 = regexp.MustCompile(`2000 kWh\s*([\d.]+¢)`)
	rePlanLen   = regexp.MustCompile(`(\d+\s*Months)`)
	reCancelFee = regexp.MustCompile(`Cancellation Fee: (.*)`)
)

// ParsePlans extracts up to max plans from the results table.
func ParsePlans(doc *goquery.Document, max int) []Plan {
	var plans []Plan
	doc.Find("#dataTable tr.row.active").EachWithBreak(func(i int, row *goquery.Selection) bool {
		if i >= max {
			return false
		}

		planRaw := strings.TrimSpace(row.Find("td.td-plan").Text())
		priceRaw := strings.TrimSpace(row.Find("td.td-price").Text())
		detailsRaw := strings.TrimSpace(row.Find("td.td-details").Text())

		p := Plan{
			PlanLength:      "N/A",
			Price500:        "N/A",
			Price2000:       "N/A",
			CancellationFee: "N/A",
		}
		if m := rePlanLen.FindStringSubmatch(planRaw); m != nil {
			p.PlanLength = m[1]
		}
		if m := rePrice1000.FindStringSubmatch(priceRaw); m != nil {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				p.Price1000 = f
			}
		}
		if m := rePrice500.FindStringSubmatch(priceRaw); m != nil {
			p.Price500 = m[1]
		}
		if m := rePrice2000.FindStringSubmatch(priceRaw); m != nil {
			p.Price2000 = m[1]
		}
		if m := reCancelFee.FindStringSubmatch(detailsRaw); m != nil {
			p.CancellationFee = strings.TrimSpace(m[1])
		}

		p.FactSheetURL = linkByText(row, "Fact Sheet")
		p.OrderingURL = linkByText(row, "Additional Information")

		plans = append(plans, p)
		return true
	})
	return plans
}

func linkByText(row *goquery.Selection, label string) string {
	href := ""
	row.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.Contains(strings.TrimSpace(a.Text()), label) {
			href, _ = a.Attr("href")
			return false
		}
		return true
	})
	return href
}

func matchCount(plans []Plan, threshold float64) int {
	n := 0
	for _, p := range plans {
		if p.Price1000 <= threshold {
			n++
		}
	}
	return n
}

func buildTable(plans []Plan) alert.Table {
	t := alert.Table{
		Columns: []string{"Plan Length", "Price 1,000 kWh", "Price 500 kWh", "Price 2,000 kWh", "Cancellation Fee", "Fact Sheet", "Ordering Info"},
	}
	for _, p := range plans {
		t.Rows = append(t.Rows, []alert.Cell{
			alert.TextCell(p.PlanLength),
			alert.TextCell(formatCents(p.Price1000)),
			alert.TextCell(p.Price500),
			alert.TextCell(p.Price2000),
			alert.TextCell(p.CancellationFee),
			alert.LinkCell("Link", p.FactSheetURL),
			alert.LinkCell("Link", p.OrderingURL),
		})
	}
	return t
}

func (s *Scraper) buildAlert(plans []Plan, matching int) (*alert.Message, error) {
	threshold := formatCents(s.cfg.PriceThresholdCents)
	html, err := alert.RenderBody(alert.BodyParams{
		Title:   fmt.Sprintf("A plan meeting your criteria (<= %s¢/kWh) was found.", threshold),
		Message: fmt.Sprintf("Here are the top %d results:", len(plans)),
		Table:   buildTable(plans),
	})
	if err != nil {
		return nil, err
	}
	return &alert.Message{
		Scraper: Name,
		Subject: "Power to Choose - Electricity Plan Alert",
		HTML:    html,
		Text: fmt.Sprintf("Power to Choose: %d plan(s) at or below %s¢/kWh for zip %s.",
			matching, threshold, s.cfg.ZipCode),
		Link: siteURL,
	}, nil
}

func formatCents(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
