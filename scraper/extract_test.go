package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/aluiziolira/go-scrape-policies/config"
	"github.com/aluiziolira/go-scrape-policies/models"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "https://api.example.test/v0/extract"

type extractionFixture struct {
	client    *ExtractionClient
	transport *httpmock.MockTransport
	sleeper   *fakeSleeper
	state     *RunState
}

func newExtractionFixture(t *testing.T) *extractionFixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ProviderURL = testEndpoint
	cfg.APIKey = "fc-test"

	state := NewRunState()
	metrics := NewMetrics()
	backoff := NewBackoff(cfg, state, metrics)
	backoff.Rand = func() float64 { return 0 }

	transport := httpmock.NewMockTransport()
	client := NewExtractionClient(cfg, backoff, metrics)
	client.HTTPClient = &http.Client{Transport: transport}
	sleeper := &fakeSleeper{}
	client.Retry.Sleeper = sleeper

	return &extractionFixture{client: client, transport: transport, sleeper: sleeper, state: state}
}

func successBody() map[string]any {
	return map[string]any{
		"success": true,
		"data": map[string]any{
			"llm_extraction": map[string]any{
				"airline_name":  "Air Canada",
				"website_link":  "https://www.aircanada.com",
				"pets_in_cabin": "  Small cats and dogs allowed. ",
			},
		},
	}
}

func TestExtractInvalidURLMakesNoRequest(t *testing.T) {
	f := newExtractionFixture(t)

	for _, target := range []string{"/travel/airline/delta/", "ftp://example.test/a", ""} {
		rec, err := f.client.Extract(context.Background(), models.Link{URL: target})
		require.NoError(t, err, target)
		policy := rec.(*models.PolicyRecord)
		require.NotNil(t, policy.Error, target)
		assert.Equal(t, models.KindInvalidInput, policy.Error.Kind)
		assert.Equal(t, target, policy.AirlineName)
	}
	assert.Zero(t, f.transport.GetTotalCallCount())
}

func TestExtractRetriesRateLimitThenSucceeds(t *testing.T) {
	f := newExtractionFixture(t)

	calls := 0
	f.transport.RegisterResponder(http.MethodPost, testEndpoint, func(req *http.Request) (*http.Response, error) {
		calls++
		assert.Equal(t, "Bearer fc-test", req.Header.Get("Authorization"))
		if calls <= 2 {
			return httpmock.NewStringResponse(http.StatusTooManyRequests, "slow down"), nil
		}
		return httpmock.NewJsonResponse(http.StatusOK, successBody())
	})

	rec, err := f.client.Extract(context.Background(), models.Link{URL: "https://www.bringfido.com/travel/airline/air_canada/"})
	require.NoError(t, err)
	policy := rec.(*models.PolicyRecord)
	require.Nil(t, policy.Error)
	assert.Equal(t, "Air Canada", policy.AirlineName)
	assert.Equal(t, "Small cats and dogs allowed.", policy.PetsInCabin)
	assert.Empty(t, policy.PhoneNumber, "missing fields stay empty")
	assert.Empty(t, policy.PetsInCargo, "missing fields stay empty")
	assert.Equal(t, 2, f.sleeper.count())
	assert.EqualValues(t, 2, f.state.RateLimits())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.client.Metrics.RateLimitedTotal))
}

func TestExtractServerErrorFailsFast(t *testing.T) {
	f := newExtractionFixture(t)
	f.transport.RegisterResponder(http.MethodPost, testEndpoint, httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	rec, err := f.client.Extract(context.Background(), models.Link{URL: "https://www.bringfido.com/travel/airline/delta_air_lines/"})
	require.NoError(t, err)
	policy := rec.(*models.PolicyRecord)
	require.NotNil(t, policy.Error)
	assert.Equal(t, models.KindProvider, policy.Error.Kind)
	assert.Equal(t, 500, policy.Error.StatusCode)
	assert.Equal(t, "Delta Air Lines", policy.AirlineName, "name derived from the url")
	assert.Equal(t, 1, f.transport.GetTotalCallCount())
	assert.Zero(t, f.sleeper.count())
}

func TestExtractContentProblemsAreNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]any
		message string
	}{
		{
			name:    "unsuccessful",
			body:    map[string]any{"success": false, "error": "page blocked"},
			message: "page blocked",
		},
		{
			name:    "no fields",
			body:    map[string]any{"success": true, "data": map[string]any{"llm_extraction": map[string]any{}}},
			message: "no extracted data",
		},
		{
			name:    "no data",
			body:    map[string]any{"success": true},
			message: "no extracted data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExtractionFixture(t)
			responder, err := httpmock.NewJsonResponder(http.StatusOK, tt.body)
			require.NoError(t, err)
			f.transport.RegisterResponder(http.MethodPost, testEndpoint, responder)

			rec, err := f.client.Extract(context.Background(), models.Link{URL: "https://www.bringfido.com/travel/airline/klm/"})
			require.NoError(t, err)
			require.NotNil(t, rec.Err())
			assert.Equal(t, models.KindProvider, rec.Err().Kind)
			assert.Equal(t, tt.message, rec.Err().Message)
			assert.Equal(t, "Klm", rec.ID())
			assert.Equal(t, 1, f.transport.GetTotalCallCount())
		})
	}
}

func TestExtractNetworkErrorsExhaustRetries(t *testing.T) {
	f := newExtractionFixture(t)
	f.transport.RegisterResponder(http.MethodPost, testEndpoint, httpmock.NewErrorResponder(errors.New("connection reset by peer")))

	rec, err := f.client.Extract(context.Background(), models.Link{URL: "https://www.bringfido.com/travel/airline/delta/"})
	require.NoError(t, err)
	require.NotNil(t, rec.Err())
	assert.Equal(t, models.KindRetriesExhausted, rec.Err().Kind)
	assert.Equal(t, 5, rec.Err().Attempts)
	assert.Equal(t, 5, f.transport.GetTotalCallCount())
	assert.Equal(t, 4, f.sleeper.count())
	assert.Zero(t, f.state.RateLimits())
}

func TestExtractMalformedJSONIsRetried(t *testing.T) {
	f := newExtractionFixture(t)
	calls := 0
	f.transport.RegisterResponder(http.MethodPost, testEndpoint, func(*http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusOK, "{not json"), nil
		}
		return httpmock.NewJsonResponse(http.StatusOK, successBody())
	})

	rec, err := f.client.Extract(context.Background(), models.Link{URL: "https://www.bringfido.com/travel/airline/air_canada/"})
	require.NoError(t, err)
	assert.Nil(t, rec.Err())
	assert.Equal(t, 2, calls)
}

func TestExtractRequestPayload(t *testing.T) {
	f := newExtractionFixture(t)
	var payload extractRequest
	f.transport.RegisterResponder(http.MethodPost, testEndpoint, func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		assert.NoError(t, json.Unmarshal(body, &payload))
		return httpmock.NewJsonResponse(http.StatusOK, successBody())
	})

	target := "https://www.bringfido.com/travel/airline/air_canada/"
	_, err := f.client.Extract(context.Background(), models.Link{URL: target})
	require.NoError(t, err)
	assert.Equal(t, target, payload.URL)
	assert.Equal(t, "llm-extraction", payload.ExtractorOptions.Mode)
	assert.Equal(t, config.DefaultPrompt, payload.ExtractorOptions.Prompt)

	properties, ok := payload.ExtractorOptions.Schema["properties"].(map[string]any)
	require.True(t, ok, "schema properties = %v", payload.ExtractorOptions.Schema["properties"])
	assert.Len(t, properties, len(policyFields))
}

func TestExtractMissingNameFallsBackToURL(t *testing.T) {
	rec := policyFromFields("https://www.bringfido.com/travel/airline/air_france/", map[string]any{
		"phone_number":  18005551234,
		"pets_in_cargo": nil,
	})
	assert.Equal(t, "Air France", rec.AirlineName)
	assert.Equal(t, "18005551234", rec.PhoneNumber)
	assert.Empty(t, rec.PetsInCargo)
}
