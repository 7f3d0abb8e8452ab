package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-policies/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scriptedAttempts(outcomes ...models.Outcome) func(context.Context, int) (string, models.Outcome, error) {
	return func(_ context.Context, attempt int) (string, models.Outcome, error) {
		outcome := outcomes[attempt-1]
		switch outcome {
		case models.OutcomeSuccess:
			return "ok", outcome, nil
		case models.OutcomeRateLimited:
			return "", outcome, ErrRateLimited{StatusCode: 429}
		case models.OutcomePermanentFailure:
			return "", outcome, ErrProvider{StatusCode: 500}
		default:
			return "", outcome, ErrConnection{Err: errors.New("reset")}
		}
	}
}

func TestRetrySucceedsAfterRateLimits(t *testing.T) {
	b := newTestBackoff(0)
	sleeper := &fakeSleeper{}
	var observed []models.Attempt
	policy := RetryPolicy{
		MaxAttempts: 5,
		Delay:       b.NextDelay,
		Sleeper:     sleeper,
		Observe:     func(a models.Attempt) { observed = append(observed, a) },
	}

	got, attempts, err := Retry(context.Background(), policy, "https://example.test/a",
		scriptedAttempts(models.OutcomeRateLimited, models.OutcomeRateLimited, models.OutcomeSuccess))
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Len(t, attempts, 3)
	assert.Equal(t, attempts, observed)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, sleeper.waits)
	assert.Equal(t, int64(2), b.State.RateLimits())
	assert.Equal(t, 20*time.Second, attempts[2].Wait)
}

func TestRetryPermanentFailureStopsImmediately(t *testing.T) {
	sleeper := &fakeSleeper{}
	policy := RetryPolicy{MaxAttempts: 5, Delay: newTestBackoff(0).NextDelay, Sleeper: sleeper}

	_, attempts, err := Retry(context.Background(), policy, "https://example.test/a",
		scriptedAttempts(models.OutcomePermanentFailure))
	var provider ErrProvider
	require.ErrorAs(t, err, &provider)
	assert.Equal(t, 500, provider.StatusCode)
	assert.Len(t, attempts, 1)
	assert.Zero(t, sleeper.count())
}

func TestRetryExhaustion(t *testing.T) {
	sleeper := &fakeSleeper{}
	b := newTestBackoff(0)
	policy := RetryPolicy{MaxAttempts: 3, Delay: b.NextDelay, Sleeper: sleeper}

	_, attempts, err := Retry(context.Background(), policy, "https://example.test/a",
		scriptedAttempts(models.OutcomeRateLimited, models.OutcomeTransientFailure, models.OutcomeRateLimited))
	var exhausted ErrRetriesExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Len(t, attempts, 3)
	// No wait after the final attempt, but its 429 is still counted.
	assert.Equal(t, 2, sleeper.count())
	assert.Equal(t, int64(2), b.State.RateLimits())

	var rateLimited ErrRateLimited
	assert.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, models.KindRetriesExhausted, errorKind(err))
}

func TestRetryStopsWhenCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &fakeSleeper{cancel: cancel, cancelAfter: 1}
	policy := RetryPolicy{MaxAttempts: 5, Delay: newTestBackoff(0).NextDelay, Sleeper: sleeper}

	_, attempts, err := Retry(ctx, policy, "https://example.test/a",
		scriptedAttempts(models.OutcomeTransientFailure, models.OutcomeSuccess))
	require.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, attempts, 1)
}
