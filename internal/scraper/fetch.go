package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// NewClient builds the HTTP client shared by all scrapers.
func NewClient(timeout time.Duration, userAgent string) *resty.Client {
	c := resty.New()
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	if userAgent != "" {
		c.SetHeader("user-agent", userAgent)
	}
	return c
}

// FetchDocument GETs url and parses the body as HTML. Non-2xx statuses
// are errors; sites under monitoring occasionally serve error pages and
// those must surface as run failures, not empty tables.
func FetchDocument(ctx context.Context, client *resty.Client, rawURL string) (*goquery.Document, error) {
	res, err := client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", rawURL, res.Status())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return doc, nil
}

// PostForm submits a form and parses the response as HTML.
func PostForm(ctx context.Context, client *resty.Client, rawURL string, form url.Values) (*goquery.Document, error) {
	data := make(map[string]string, len(form))
	for k := range form {
		data[k] = form.Get(k)
	}
	res, err := client.R().SetContext(ctx).SetFormData(data).Post(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", rawURL, res.Status())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return doc, nil
}
