package powertochoose

import (
	"bytes"
	"encoding/json"
	"testing"

	_ "embed"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

//go:embed results_table_test.html
var resultsTableTest []byte

func parseFixture(t *testing.T) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(resultsTableTest))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestParsePlans(t *testing.T) {
	doc := parseFixture(t)
	plans := ParsePlans(doc, 10)
	require.Len(t, plans, 3, "inactive rows must be skipped")

	first := plans[0]
	require.Equal(t, "12 Months", first.PlanLength)
	require.Equal(t, 10.9, first.Price1000)
	require.Equal(t, "11.2¢", first.Price500)
	require.Equal(t, "10.1¢", first.Price2000)
	require.Equal(t, "$150", first.CancellationFee)
	require.Equal(t, "https://example.com/fact/txu", first.FactSheetURL)
	require.Equal(t, "https://example.com/order/txu", first.OrderingURL)

	second := plans[1]
	require.Equal(t, "60 Months", second.PlanLength)
	require.Equal(t, 13.5, second.Price1000)
	require.Equal(t, "$20 per month remaining", second.CancellationFee)

	// Rows missing expected fragments fall back to placeholders.
	third := plans[2]
	require.Equal(t, "N/A", third.PlanLength)
	require.Equal(t, 0.0, third.Price1000)
	require.Equal(t, "N/A", third.Price500)
	require.Equal(t, "N/A", third.CancellationFee)
	require.Empty(t, third.FactSheetURL)
}

func TestParsePlansHonorsMax(t *testing.T) {
	doc := parseFixture(t)
	require.Len(t, ParsePlans(doc, 2), 2)
}

func TestMatchCount(t *testing.T) {
	plans := []Plan{
		{Price1000: 10.9},
		{Price1000: 12.4},
		{Price1000: 13.5},
	}
	require.Equal(t, 2, matchCount(plans, 12.4), "threshold is inclusive")
	require.Equal(t, 0, matchCount(plans, 10.0))
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	require.Equal(t, Config{
		ZipCode:             "76092",
		ContractMinMonths:   "12",
		ContractMaxMonths:   "60",
		PriceThresholdCents: 12.4,
		MaxResults:          5,
	}, cfg)

	cfg, err = ParseConfig(json.RawMessage(`{"zip_code":"75001","price_threshold_cents":11.5,"max_results":3}`))
	require.NoError(t, err)
	require.Equal(t, "75001", cfg.ZipCode)
	require.Equal(t, 11.5, cfg.PriceThresholdCents)
	require.Equal(t, 3, cfg.MaxResults)
	require.Equal(t, "12", cfg.ContractMinMonths, "unset fields keep defaults")
}

func TestParseConfigEnvOverrides(t *testing.T) {
	t.Setenv("PTC_ZIP_CODE", "78701")
	t.Setenv("PTC_PRICE_THRESHOLD", "10.5")
	t.Setenv("PTC_MAX_RESULTS", "7")

	cfg, err := ParseConfig(json.RawMessage(`{"zip_code":"75001","max_results":3}`))
	require.NoError(t, err)
	require.Equal(t, "78701", cfg.ZipCode, "environment wins over the file")
	require.Equal(t, 10.5, cfg.PriceThresholdCents)
	require.Equal(t, 7, cfg.MaxResults)
}

func TestParseConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("PTC_PRICE_THRESHOLD", "cheap")
	_, err := ParseConfig(nil)
	require.ErrorContains(t, err, "PTC_PRICE_THRESHOLD")

	t.Setenv("PTC_PRICE_THRESHOLD", "10.5")
	t.Setenv("PTC_MAX_RESULTS", "many")
	_, err = ParseConfig(nil)
	require.ErrorContains(t, err, "PTC_MAX_RESULTS")
}

func TestBuildAlert(t *testing.T) {
	s := &Scraper{cfg: Config{ZipCode: "76092", PriceThresholdCents: 12.4, MaxResults: 5}}
	plans := ParsePlans(parseFixture(t), 10)

	msg, err := s.buildAlert(plans, 1)
	require.NoError(t, err)
	require.Equal(t, "Power to Choose - Electricity Plan Alert", msg.Subject)
	require.Equal(t, Name, msg.Scraper)
	require.Contains(t, msg.HTML, "A plan meeting your criteria (&lt;= 12.4¢/kWh) was found.")
	require.Contains(t, msg.HTML, "Here are the top 3 results:")
	require.Contains(t, msg.HTML, "12 Months")
	require.Contains(t, msg.HTML, `<a href="https://example.com/fact/txu" target="_blank">Link</a>`)
	require.Contains(t, msg.Text, "76092")
	require.Equal(t, "https://www.powertochoose.org/en-us", msg.Link)
}
