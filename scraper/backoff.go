package scraper

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-policies/config"
)

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RealSleeper sleeps on the wall clock.
var RealSleeper Sleeper = timerSleeper{}

// RunState is the per-run shared state: the rate-limit counter read by every
// delay calculation and the debug counters written to the run log.
type RunState struct {
	rateLimits atomic.Int64

	mu    sync.Mutex
	debug map[string]any
}

// NewRunState returns an empty state.
func NewRunState() *RunState {
	return &RunState{debug: make(map[string]any)}
}

// RateLimits returns the number of HTTP 429 answers seen so far.
func (s *RunState) RateLimits() int64 {
	return s.rateLimits.Load()
}

func (s *RunState) addRateLimit() int64 {
	return s.rateLimits.Add(1)
}

// SetDebug stores a debug counter.
func (s *RunState) SetDebug(key string, value any) {
	s.mu.Lock()
	s.debug[key] = value
	s.mu.Unlock()
}

// IncDebug increments an integer debug counter.
func (s *RunState) IncDebug(key string) {
	s.mu.Lock()
	n, _ := s.debug[key].(int)
	s.debug[key] = n + 1
	s.mu.Unlock()
}

// AppendDebug appends value to a string list debug entry.
func (s *RunState) AppendDebug(key, value string) {
	s.mu.Lock()
	list, _ := s.debug[key].([]string)
	s.debug[key] = append(list, value)
	s.mu.Unlock()
}

// Debug returns a copy of the debug counters including rate_limit_count.
func (s *RunState) Debug() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.debug)+1)
	for k, v := range s.debug {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	out["rate_limit_count"] = s.rateLimits.Load()
	return out
}

// Backoff computes retry and throttle delays.
type Backoff struct {
	Min               time.Duration
	Max               time.Duration
	ItemMin           time.Duration
	ItemMax           time.Duration
	PressureMin       time.Duration
	PressureMax       time.Duration
	PressureThreshold int64

	State   *RunState
	Metrics *Metrics
	// Rand returns a value in [0, 1).
	Rand func() float64
}

// NewBackoff builds a controller from cfg.
func NewBackoff(cfg *config.Config, state *RunState, metrics *Metrics) *Backoff {
	if state == nil {
		state = NewRunState()
	}
	return &Backoff{
		Min:               cfg.BackoffMin,
		Max:               cfg.BackoffMax,
		ItemMin:           cfg.ItemDelayMin,
		ItemMax:           cfg.ItemDelayMax,
		PressureMin:       cfg.PressureDelayMin,
		PressureMax:       cfg.PressureDelayMax,
		PressureThreshold: cfg.PressureThreshold,
		State:             state,
		Metrics:           metrics,
		Rand:              rand.Float64,
	}
}

// NextDelay returns the wait before retrying after the failed attempt with
// zero-based index attempt: uniform(Min, Max) * 2^attempt. Rate-limited
// failures also bump the run's rate-limit counter.
func (b *Backoff) NextDelay(attempt int, rateLimited bool) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 20 {
		attempt = 20
	}

	delay := b.uniform(b.Min, b.Max) * time.Duration(1<<attempt)
	if rateLimited {
		total := b.State.addRateLimit()
		b.Metrics.IncRateLimited()
		slog.Warn("rate limited",
			slog.Int64("total_429s", total),
			slog.Duration("wait", delay),
		)
	}
	return delay
}

// InterItemDelay returns the pause between two items. It escalates to the
// pressure range once rateLimitCount reaches the threshold.
func (b *Backoff) InterItemDelay(rateLimitCount int64) time.Duration {
	if rateLimitCount >= b.PressureThreshold {
		return b.uniform(b.PressureMin, b.PressureMax)
	}
	return b.uniform(b.ItemMin, b.ItemMax)
}

func (b *Backoff) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	r := rand.Float64
	if b.Rand != nil {
		r = b.Rand
	}
	return lo + time.Duration(r()*float64(hi-lo))
}
