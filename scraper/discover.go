package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-policies/config"
	"github.com/aluiziolira/go-scrape-policies/models"
	"github.com/aluiziolira/go-scrape-policies/parser"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// maxIdlePages is how many consecutive pages may add no new URL before the
// parser is assumed to no longer match the listing markup.
const maxIdlePages = 2

// defaultSeenPages sizes the fingerprint cache of a Discoverer built
// without NewDiscoverer.
const defaultSeenPages = 64

// Discoverer walks the paginated listing and collects item URLs. A zero
// Sleeper, State or fingerprint cache is filled in on first use.
type Discoverer struct {
	Fetcher   PageFetcher
	Parser    parser.PageParser
	Sleeper   Sleeper
	State     *RunState
	Metrics   *Metrics
	MaxPages  int
	PageDelay time.Duration

	// fingerprints of parsed pages, used to spot a listing that keeps
	// serving the same page for higher page numbers.
	seen *lru.Cache[uint64, int]
}

// NewDiscoverer wires a discoverer from cfg.
func NewDiscoverer(cfg *config.Config, fetcher PageFetcher, p parser.PageParser, state *RunState, metrics *Metrics) (*Discoverer, error) {
	seen, err := lru.New[uint64, int](cfg.SeenPagesCache)
	if err != nil {
		return nil, fmt.Errorf("create page cache: %w", err)
	}
	if state == nil {
		state = NewRunState()
	}
	return &Discoverer{
		Fetcher:   fetcher,
		Parser:    p,
		Sleeper:   RealSleeper,
		State:     state,
		Metrics:   metrics,
		MaxPages:  cfg.MaxPages,
		PageDelay: cfg.PageDelay,
		seen:      seen,
	}, nil
}

// Discover collects the deduplicated item URLs of the listing rooted at
// listingURL. Fetch failures end discovery early and the partial set is
// returned without error; only an unusable listingURL is an error.
func (d *Discoverer) Discover(ctx context.Context, listingURL string) (*models.URLSet, error) {
	base, err := url.Parse(listingURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid listing url %q", listingURL)
	}

	d.ensureDefaults()
	d.seen.Purge()
	set := models.NewURLSet()
	idle := 0
	for page := 1; d.MaxPages <= 0 || page <= d.MaxPages; page++ {
		if ctx.Err() != nil {
			slog.Info("discovery cancelled", slog.Int("page", page))
			break
		}

		added, more := d.visit(ctx, base, page, set)
		if !more {
			break
		}
		if added == 0 {
			idle++
			if idle >= maxIdlePages {
				slog.Warn("listing pages stopped yielding new urls, parser may be stale",
					slog.Int("page", page),
				)
				break
			}
		} else {
			idle = 0
		}

		if page == d.MaxPages {
			slog.Info("max pages reached", slog.Int("pages", page))
			break
		}
		if err := d.Sleeper.Sleep(ctx, d.PageDelay); err != nil {
			break
		}
	}

	d.State.SetDebug("discovered_urls_count", set.Len())
	slog.Info("discovery finished", slog.Int("urls", set.Len()))
	return set, nil
}

func (d *Discoverer) ensureDefaults() {
	if d.seen == nil {
		// Only fails for a non-positive size.
		d.seen, _ = lru.New[uint64, int](defaultSeenPages)
	}
	if d.Sleeper == nil {
		d.Sleeper = RealSleeper
	}
	if d.State == nil {
		d.State = NewRunState()
	}
}

// visit fetches and parses one page, adding its links to set. It returns the
// number of new URLs and whether another page should be requested.
func (d *Discoverer) visit(ctx context.Context, base *url.URL, page int, set *models.URLSet) (int, bool) {
	pageURL := listingPageURL(base, page)
	slog.Debug("fetching listing page", slog.String("url", pageURL), slog.Int("page", page))

	resp, err := d.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		d.State.SetDebug(pageKey("main_page_error", page), err.Error())
		d.Metrics.IncError(errorTypeLabel(err))
		slog.Error("listing fetch failed", slog.String("url", pageURL), slog.Any("error", err))
		return 0, false
	}
	d.State.SetDebug(pageKey("main_page_status", page), resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		d.State.SetDebug(pageKey("main_page_error", page), truncate(string(resp.Body), 200))
		slog.Error("non-200 listing response",
			slog.Int("status", resp.StatusCode),
			slog.String("url", pageURL),
		)
		return 0, false
	}

	listing, err := d.Parser.Parse(resp.Body)
	if err != nil {
		d.State.SetDebug(pageKey("main_page_error", page), err.Error())
		slog.Error("listing parse failed", slog.String("url", pageURL), slog.Any("error", err))
		return 0, false
	}
	d.Metrics.IncPages()
	d.State.SetDebug(pageKey("logo_tiles_count", page), listing.Tiles)

	resolveBase, err := url.Parse(pageURL)
	if err != nil {
		resolveBase = base
	}
	added := 0
	resolved := make([]string, 0, len(listing.Links))
	for _, link := range listing.Links {
		abs, err := parser.ResolveLink(resolveBase, link.URL)
		if err != nil {
			slog.Debug("skipping unparseable link", slog.String("href", link.URL), slog.Any("error", err))
			continue
		}
		d.State.AppendDebug("found_hrefs", link.URL)
		resolved = append(resolved, abs)
		link.URL = abs
		if set.Add(link) {
			added++
			slog.Debug("added url", slog.String("url", abs))
		}
	}
	d.State.SetDebug(pageKey("new_urls", page), added)
	slog.Info("listing page parsed",
		slog.Int("page", page),
		slog.Int("tiles", listing.Tiles),
		slog.Int("new_urls", added),
		slog.Bool("has_more", listing.HasMore),
	)

	if !listing.HasMore {
		slog.Info("no more pages to scrape", slog.Int("page", page))
		return added, false
	}
	if listing.Tiles == 0 {
		slog.Warn("listing page has a continuation link but no tiles", slog.Int("page", page))
		return added, false
	}

	fp := xxhash.Sum64String(strings.Join(resolved, "\n"))
	if prev, ok := d.seen.Get(fp); ok {
		slog.Warn("listing page repeats an earlier page",
			slog.Int("page", page),
			slog.Int("same_as", prev),
		)
		return added, false
	}
	d.seen.Add(fp, page)
	return added, true
}

func listingPageURL(base *url.URL, page int) string {
	if page <= 1 {
		return base.String()
	}
	u := *base
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func pageKey(prefix string, page int) string {
	return prefix + "_page_" + strconv.Itoa(page)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
