package models

import "time"

// Outcome classifies a single extraction attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
)

// Attempt records one try at extracting a URL. Attempts are kept in memory
// only, to drive retries and debug counters.
type Attempt struct {
	URL     string
	Index   int
	Outcome Outcome
	Wait    time.Duration
}

// RunLogEntry summarises one run and is appended to the run log.
type RunLogEntry struct {
	RunID          string         `json:"run_id"`
	Mode           string         `json:"mode"`
	Start          time.Time      `json:"date"`
	End            time.Time      `json:"end"`
	RuntimeSeconds float64        `json:"runtime_seconds"`
	Items          []string       `json:"items"`
	Failed         int            `json:"failed"`
	Cancelled      bool           `json:"cancelled"`
	Debug          map[string]any `json:"debug_info"`
}
