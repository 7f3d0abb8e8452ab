package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aluiziolira/go-scrape-policies/config"
	"github.com/aluiziolira/go-scrape-policies/models"
	"github.com/aluiziolira/go-scrape-policies/parser"
)

// AssetWriter persists a downloaded asset under name and returns its path.
type AssetWriter interface {
	WriteAsset(name string, data []byte) (string, error)
}

// AssetClient downloads logo images found on listing tiles.
type AssetClient struct {
	UserAgent  string
	HTTPClient *http.Client
	Retry      RetryPolicy
	Store      AssetWriter
	Metrics    *Metrics
}

// NewAssetClient builds a client that stores images through store.
func NewAssetClient(cfg *config.Config, backoff *Backoff, store AssetWriter, metrics *Metrics) *AssetClient {
	return &AssetClient{
		UserAgent:  cfg.UserAgent,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Retry:      newRetryPolicy(cfg.MaxAttempts, backoff, metrics),
		Store:      store,
		Metrics:    metrics,
	}
}

// Extract implements Extractor. Write failures are returned as errors since
// they are fatal for the run.
func (c *AssetClient) Extract(ctx context.Context, link models.Link) (models.Record, error) {
	rec := &models.AssetRecord{
		SourceURL: link.URL,
		Label:     link.Label,
		Filename:  parser.AssetFilename(link.Label),
	}
	if !parser.ValidScheme(link.URL) {
		slog.Warn("skipping invalid URL", slog.String("url", link.URL), slog.String("alt", link.Label))
		c.Metrics.IncError(models.KindInvalidInput)
		c.Metrics.IncRecord("failure")
		rec.Error = recordError(ErrInvalidInput{URL: link.URL}, 0)
		return rec, nil
	}

	data, attempts, err := Retry(ctx, c.Retry, link.URL, func(ctx context.Context, attempt int) ([]byte, models.Outcome, error) {
		slog.Info("downloading asset",
			slog.String("url", link.URL),
			slog.String("filename", rec.Filename),
			slog.Int("attempt", attempt),
		)
		return c.download(ctx, link.URL)
	})
	if errors.Is(err, ErrStopped) {
		return nil, err
	}
	if err != nil {
		slog.Error("asset download failed", slog.String("url", link.URL), slog.Any("error", err))
		c.Metrics.IncError(errorTypeLabel(err))
		c.Metrics.IncRecord("failure")
		rec.Error = recordError(err, len(attempts))
		return rec, nil
	}

	path, err := c.Store.WriteAsset(rec.Filename, data)
	if err != nil {
		return nil, fmt.Errorf("write asset %s: %w", rec.Filename, err)
	}
	rec.Downloaded = true
	c.Metrics.IncRecord("success")
	slog.Info("saved asset", slog.String("path", path), slog.Int("bytes", len(data)))
	return rec, nil
}

func (c *AssetClient) download(ctx context.Context, src string) ([]byte, models.Outcome, error) {
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, src, nil)
	if err != nil {
		return nil, models.OutcomePermanentFailure, ErrInvalidInput{URL: src}
	}
	req.Header.Set("User-Agent", c.UserAgent)

	start := time.Now()
	c.Metrics.IncRequest("asset")
	resp, err := c.HTTPClient.Do(req)
	c.Metrics.ObserveDuration("asset", time.Since(start))
	if err != nil {
		return nil, models.OutcomeTransientFailure, classifyNetError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, models.OutcomeRateLimited, ErrRateLimited{StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, models.OutcomePermanentFailure, ErrProvider{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, models.OutcomeTransientFailure, classifyNetError(err)
	}
	return data, models.OutcomeSuccess, nil
}
