package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aluiziolira/go-scrape-policies/config"
	"github.com/gocolly/colly/v2"
)

// Page is a fetched listing page.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}

// PageFetcher performs one GET for a listing page. A non-2xx answer is a
// Page with that status, not an error; errors are transport failures.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// CollyFetcher fetches listing pages through a synchronous colly collector
// that sends a browser User-Agent and enforces a request timeout.
type CollyFetcher struct {
	collector *colly.Collector
	metrics   *Metrics
}

// NewCollyFetcher builds a fetcher restricted to the listing host.
func NewCollyFetcher(cfg *config.Config, metrics *Metrics) (*CollyFetcher, error) {
	parsed, err := url.Parse(cfg.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("listing url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &CollyFetcher{collector: collector, metrics: metrics}, nil
}

// WithTransport swaps the HTTP transport, mainly for tests.
func (f *CollyFetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Fetch implements PageFetcher.
func (f *CollyFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := f.collector.Clone()
	var page *Page
	c.OnResponse(func(r *colly.Response) {
		page = &Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       r.Body,
		}
	})

	start := time.Now()
	f.metrics.IncRequest("listing")
	err := c.Visit(pageURL)
	f.metrics.ObserveDuration("listing", time.Since(start))

	if page != nil {
		return page, nil
	}
	if err != nil {
		return nil, classifyNetError(err)
	}
	return nil, fmt.Errorf("no response for %s", pageURL)
}
