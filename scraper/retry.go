package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aluiziolira/go-scrape-policies/models"
)

// ErrStopped is returned when the run is cancelled during a backoff wait.
var ErrStopped = errors.New("scraper: stopped")

// RetryPolicy bounds how often a request is retried and how long to wait in
// between. The attempt function classifies its own outcome.
type RetryPolicy struct {
	MaxAttempts int
	// Delay receives the zero-based index of the failed attempt.
	Delay   func(attempt int, rateLimited bool) time.Duration
	Sleeper Sleeper
	// Observe, if set, is called once per finished attempt.
	Observe func(models.Attempt)
}

// Retry runs fn until it succeeds, fails permanently, or MaxAttempts is
// used up. Rate-limited and transient outcomes are retried after Delay; the
// wait after the final attempt is skipped but still counted by Delay.
func Retry[T any](ctx context.Context, p RetryPolicy, url string, fn func(ctx context.Context, attempt int) (T, models.Outcome, error)) (T, []models.Attempt, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper
	}

	attempts := make([]models.Attempt, 0, maxAttempts)
	var wait time.Duration
	var lastErr error

	for i := 1; i <= maxAttempts; i++ {
		result, outcome, err := fn(ctx, i)
		attempt := models.Attempt{URL: url, Index: i, Outcome: outcome, Wait: wait}
		attempts = append(attempts, attempt)
		if p.Observe != nil {
			p.Observe(attempt)
		}

		switch outcome {
		case models.OutcomeSuccess:
			return result, attempts, nil
		case models.OutcomePermanentFailure:
			return result, attempts, err
		}

		lastErr = err
		wait = 0
		if p.Delay != nil {
			wait = p.Delay(i-1, outcome == models.OutcomeRateLimited)
		}
		if i == maxAttempts {
			break
		}
		if err := sleeper.Sleep(ctx, wait); err != nil {
			return zero, attempts, fmt.Errorf("%w: %w", ErrStopped, err)
		}
	}

	return zero, attempts, ErrRetriesExhausted{Attempts: len(attempts), Last: lastErr}
}
