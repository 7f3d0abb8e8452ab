// Package pipeline drives extraction over the discovered URLs and owns
// everything the scraper persists.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-policies/config"
	"github.com/aluiziolira/go-scrape-policies/models"
	"github.com/aluiziolira/go-scrape-policies/scraper"
	"golang.org/x/sync/errgroup"
)

// Report is what a scheduler run produced.
type Report struct {
	// Records holds one record per processed link, in input order.
	Records   []models.Record
	Cancelled bool
}

// Failed counts records carrying an error.
func (r *Report) Failed() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Err() != nil {
			n++
		}
	}
	return n
}

// Scheduler processes links in fixed-size batches with throttling between
// items and a cool-down between batches. Retries belong to the Extractor.
type Scheduler struct {
	Extractor scraper.Extractor
	Store     Snapshotter
	Backoff   *scraper.Backoff
	Sleeper   scraper.Sleeper
	BatchSize int
	Cooldown  time.Duration
	// Workers bounds concurrent extractions inside a batch.
	Workers int

	mu      sync.Mutex // guards results and serializes snapshots
	results []models.Record
}

// NewScheduler wires a scheduler from cfg.
func NewScheduler(cfg *config.Config, extractor scraper.Extractor, store Snapshotter, backoff *scraper.Backoff) *Scheduler {
	return &Scheduler{
		Extractor: extractor,
		Store:     store,
		Backoff:   backoff,
		Sleeper:   scraper.RealSleeper,
		BatchSize: cfg.BatchSize,
		Cooldown:  cfg.BatchCooldown,
		Workers:   cfg.Workers,
	}
}

// Run extracts every link. Cancellation is honoured between items and the
// records finished so far are returned with Cancelled set. The only error is
// a persistence failure, which stops the run immediately.
func (s *Scheduler) Run(ctx context.Context, links []models.Link) (*Report, error) {
	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	batches := (len(links) + batchSize - 1) / batchSize

	s.mu.Lock()
	s.results = make([]models.Record, len(links))
	s.mu.Unlock()

	report := &Report{}
	for start, batch := 0, 1; start < len(links); start, batch = start+batchSize, batch+1 {
		end := min(start+batchSize, len(links))
		slog.Info("processing batch",
			slog.Int("batch", batch),
			slog.Int("of", batches),
			slog.Int("from", start+1),
			slog.Int("to", end),
		)

		if err := s.runBatch(ctx, links, start, end); err != nil {
			report.Records = s.collect()
			return report, err
		}
		if ctx.Err() != nil {
			break
		}

		if end < len(links) {
			slog.Info("batch complete, cooling down", slog.Duration("pause", s.Cooldown))
			if err := s.sleeper().Sleep(ctx, s.Cooldown); err != nil {
				break
			}
		}
	}

	report.Records = s.collect()
	report.Cancelled = ctx.Err() != nil && len(report.Records) < len(links)
	if report.Cancelled {
		slog.Warn("run cancelled", slog.Int("processed", len(report.Records)), slog.Int("total", len(links)))
	}
	return report, nil
}

// runBatch is a barrier: it returns once every worker has finished its
// items in [start, end).
func (s *Scheduler) runBatch(ctx context.Context, links []models.Link, start, end int) error {
	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}
	workers = min(workers, end-start)

	queue := make(chan int, end-start)
	for i := start; i < end; i++ {
		queue <- i
	}
	close(queue)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range queue {
				if gctx.Err() != nil {
					return nil
				}
				slog.Info("processing item",
					slog.Int("item", i+1),
					slog.Int("total", len(links)),
					slog.String("url", links[i].URL),
				)
				rec, err := s.Extractor.Extract(gctx, links[i])
				if errors.Is(err, scraper.ErrStopped) {
					return nil
				}
				if err != nil {
					return err
				}
				if err := s.store(i, rec); err != nil {
					return err
				}

				if i == len(links)-1 {
					continue
				}
				delay := s.Backoff.InterItemDelay(s.Backoff.State.RateLimits())
				slog.Debug("waiting before next request", slog.Duration("delay", delay))
				if err := s.sleeper().Sleep(gctx, delay); err != nil {
					return nil
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// store records rec at index i and snapshots every finished record.
func (s *Scheduler) store(i int, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[i] = rec
	if err := s.Store.Snapshot(s.finishedLocked()); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	return nil
}

func (s *Scheduler) collect() []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedLocked()
}

func (s *Scheduler) finishedLocked() []models.Record {
	out := make([]models.Record, 0, len(s.results))
	for _, rec := range s.results {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Scheduler) sleeper() scraper.Sleeper {
	if s.Sleeper == nil {
		return scraper.RealSleeper
	}
	return s.Sleeper
}
