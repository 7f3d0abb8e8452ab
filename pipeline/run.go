package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-policies/models"
	"github.com/aluiziolira/go-scrape-policies/scraper"
	"github.com/google/uuid"
)

// Discoverer produces the full set of links to process.
type Discoverer interface {
	Discover(ctx context.Context, listingURL string) (*models.URLSet, error)
}

// URLWriter persists the discovered URL list.
type URLWriter interface {
	SaveURLs(name string, urls []string) error
}

// Run wires one end-to-end scrape. Without a Scheduler the run stops after
// discovery.
type Run struct {
	Mode       string
	ListingURL string
	Discoverer Discoverer
	Scheduler  *Scheduler
	Log        RunLogger
	State      *scraper.RunState
	// URLs receives the discovered set as URLsFile when both are set.
	URLs     URLWriter
	URLsFile string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Summary describes a finished run.
type Summary struct {
	Entry   models.RunLogEntry
	Records []models.Record
	URLs    int
}

// Execute discovers, saves the URL list if asked to, extracts and records
// the run in the run log. The log
// entry is appended for cancelled runs too; a persistence failure returns
// before anything else is written.
func (r *Run) Execute(ctx context.Context) (*Summary, error) {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	state := r.State
	if state == nil {
		state = scraper.NewRunState()
	}

	start := now()
	runID := uuid.NewString()
	slog.Info("starting run",
		slog.String("run_id", runID),
		slog.String("mode", r.Mode),
		slog.String("listing_url", r.ListingURL),
	)

	set, err := r.Discoverer.Discover(ctx, r.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	// Discovery only reports cancellation through the context.
	discoveryCancelled := ctx.Err() != nil

	if r.URLs != nil && r.URLsFile != "" {
		if err := r.URLs.SaveURLs(r.URLsFile, set.URLs()); err != nil {
			return nil, fmt.Errorf("persist urls: %w", err)
		}
		slog.Info("saved discovered urls", slog.String("file", r.URLsFile), slog.Int("urls", set.Len()))
	}

	report := &Report{Cancelled: discoveryCancelled}
	items := set.URLs()
	if r.Scheduler != nil {
		report, err = r.Scheduler.Run(ctx, set.Links())
		if err != nil {
			return nil, err
		}
		report.Cancelled = report.Cancelled || discoveryCancelled
		items = make([]string, len(report.Records))
		for i, rec := range report.Records {
			items[i] = rec.ID()
		}
	}

	end := now()
	debug := state.Debug()
	debug["records_count"] = len(report.Records)

	entry := models.RunLogEntry{
		RunID:          runID,
		Mode:           r.Mode,
		Start:          start,
		End:            end,
		RuntimeSeconds: end.Sub(start).Seconds(),
		Items:          items,
		Failed:         report.Failed(),
		Cancelled:      report.Cancelled,
		Debug:          debug,
	}
	if err := r.Log.AppendRunLog(entry); err != nil {
		return nil, fmt.Errorf("append run log: %w", err)
	}
	slog.Info("run finished",
		slog.String("run_id", runID),
		slog.Int("records", len(report.Records)),
		slog.Int("failed", entry.Failed),
		slog.Float64("runtime_seconds", entry.RuntimeSeconds),
		slog.Bool("cancelled", entry.Cancelled),
	)

	return &Summary{Entry: entry, Records: report.Records, URLs: set.Len()}, nil
}
