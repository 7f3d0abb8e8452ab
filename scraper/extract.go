package scraper

import (
	"bytes"
	"context"
	"encoding/json"
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

const maxResponseBytes = 8 << 20

// Extractor turns one discovered link into a record. A non-nil error means
// the run must stop: either it was cancelled (ErrStopped) or persistence
// failed. Every other failure is reported inside the record.
type Extractor interface {
	Extract(ctx context.Context, link models.Link) (models.Record, error)
}

// policyFields lists the fields requested from the extraction service, in
// schema order.
var policyFields = []string{
	"airline_name",
	"website_link",
	"phone_number",
	"pets_in_cabin",
	"pets_in_checked_baggage",
	"pets_in_cargo",
	"carrier_guidelines",
	"other_restrictions",
}

type extractRequest struct {
	URL              string           `json:"url"`
	ExtractorOptions extractorOptions `json:"extractorOptions"`
}

type extractorOptions struct {
	Mode   string         `json:"mode"`
	Schema map[string]any `json:"schema"`
	Prompt string         `json:"prompt"`
}

type extractResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		LLMExtraction map[string]any `json:"llm_extraction"`
	} `json:"data"`
}

// ExtractionClient asks the remote extraction service for the policy fields
// of a detail page.
type ExtractionClient struct {
	Endpoint   string
	APIKey     string
	Prompt     string
	HTTPClient *http.Client
	Retry      RetryPolicy
	Metrics    *Metrics
}

// NewExtractionClient builds a client whose retries are driven by backoff.
func NewExtractionClient(cfg *config.Config, backoff *Backoff, metrics *Metrics) *ExtractionClient {
	return &ExtractionClient{
		Endpoint:   cfg.ProviderURL,
		APIKey:     cfg.APIKey,
		Prompt:     cfg.ExtractPrompt,
		HTTPClient: &http.Client{Timeout: cfg.ProviderTimeout},
		Retry:      newRetryPolicy(cfg.MaxAttempts, backoff, metrics),
		Metrics:    metrics,
	}
}

func newRetryPolicy(maxAttempts int, backoff *Backoff, metrics *Metrics) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Delay:       backoff.NextDelay,
		Sleeper:     RealSleeper,
		Observe: func(a models.Attempt) {
			slog.Debug("attempt finished",
				slog.String("url", a.URL),
				slog.Int("attempt", a.Index),
				slog.String("outcome", string(a.Outcome)),
				slog.Duration("waited", a.Wait),
			)
			if a.Outcome == models.OutcomeRateLimited || a.Outcome == models.OutcomeTransientFailure {
				metrics.IncRetries()
			}
		},
	}
}

// Extract implements Extractor.
func (c *ExtractionClient) Extract(ctx context.Context, link models.Link) (models.Record, error) {
	target := link.URL
	if !parser.ValidScheme(target) {
		slog.Warn("skipping invalid URL", slog.String("url", target))
		c.Metrics.IncError(models.KindInvalidInput)
		c.Metrics.IncRecord("failure")
		return &models.PolicyRecord{
			SourceURL:   target,
			AirlineName: target,
			Error:       recordError(ErrInvalidInput{URL: target}, 0),
		}, nil
	}

	fields, attempts, err := Retry(ctx, c.Retry, target, func(ctx context.Context, attempt int) (map[string]any, models.Outcome, error) {
		slog.Info("fetching policy page",
			slog.String("url", target),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.Retry.MaxAttempts),
		)
		return c.call(ctx, target)
	})
	if errors.Is(err, ErrStopped) {
		return nil, err
	}
	if err != nil {
		slog.Error("policy extraction failed", slog.String("url", target), slog.Any("error", err))
		c.Metrics.IncError(errorTypeLabel(err))
		c.Metrics.IncRecord("failure")
		return &models.PolicyRecord{
			SourceURL:   target,
			AirlineName: parser.DeriveName(target),
			Error:       recordError(err, len(attempts)),
		}, nil
	}

	c.Metrics.IncRecord("success")
	return policyFromFields(target, fields), nil
}

func (c *ExtractionClient) call(ctx context.Context, target string) (map[string]any, models.Outcome, error) {
	body, err := json.Marshal(c.payload(target))
	if err != nil {
		return nil, models.OutcomePermanentFailure, fmt.Errorf("encode request: %w", err)
	}
	// The request is never cut short by run cancellation; the client timeout bounds it.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, models.OutcomePermanentFailure, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	c.Metrics.IncRequest("provider")
	resp, err := c.HTTPClient.Do(req)
	c.Metrics.ObserveDuration("provider", time.Since(start))
	if err != nil {
		return nil, models.OutcomeTransientFailure, classifyNetError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, models.OutcomeTransientFailure, classifyNetError(err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, models.OutcomeRateLimited, ErrRateLimited{StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		slog.Error("extraction service error",
			slog.Int("status", resp.StatusCode),
			slog.String("url", target),
			slog.String("response", truncate(string(raw), 200)),
		)
		return nil, models.OutcomePermanentFailure, ErrProvider{StatusCode: resp.StatusCode}
	}

	var decoded extractResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, models.OutcomeTransientFailure, ErrMalformed{Err: err}
	}
	if !decoded.Success {
		msg := decoded.Error
		if msg == "" {
			msg = "extraction unsuccessful"
		}
		return nil, models.OutcomePermanentFailure, ErrProvider{Message: msg}
	}
	if len(decoded.Data.LLMExtraction) == 0 {
		return nil, models.OutcomePermanentFailure, ErrProvider{Message: "no extracted data"}
	}
	return decoded.Data.LLMExtraction, models.OutcomeSuccess, nil
}

func (c *ExtractionClient) payload(target string) extractRequest {
	properties := make(map[string]any, len(policyFields))
	for _, field := range policyFields {
		properties[field] = map[string]string{"type": "string"}
	}
	return extractRequest{
		URL: target,
		ExtractorOptions: extractorOptions{
			Mode: "llm-extraction",
			Schema: map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   []string{"airline_name"},
			},
			Prompt: c.Prompt,
		},
	}
}

func policyFromFields(source string, fields map[string]any) *models.PolicyRecord {
	name := stringField(fields, "airline_name")
	if name == "" {
		name = parser.DeriveName(source)
	}
	return &models.PolicyRecord{
		SourceURL:            source,
		AirlineName:          name,
		WebsiteLink:          stringField(fields, "website_link"),
		PhoneNumber:          stringField(fields, "phone_number"),
		PetsInCabin:          stringField(fields, "pets_in_cabin"),
		PetsInCheckedBaggage: stringField(fields, "pets_in_checked_baggage"),
		PetsInCargo:          stringField(fields, "pets_in_cargo"),
		CarrierGuidelines:    stringField(fields, "carrier_guidelines"),
		OtherRestrictions:    stringField(fields, "other_restrictions"),
	}
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return parser.NormalizeField(v)
	default:
		return parser.NormalizeField(fmt.Sprint(v))
	}
}
