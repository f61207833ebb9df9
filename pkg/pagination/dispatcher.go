package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "snow_pages_total",
	Help: "Total page fetches by outcome",
}, []string{"outcome"})

// ErrSkipped is recorded for pages that were never started because another
// page had already failed.
var ErrSkipped = errors.New("page skipped after earlier failure")

// Config holds dispatcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of pages fetched in parallel.
	MaxConcurrency int

	// ProgressEvery logs progress after this many completed pages.
	ProgressEvery int
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 8,
		ProgressEvery:  50,
	}
}

// PageResult is the outcome of fetching one page.
type PageResult struct {
	Offset int

	// Records is the number of records stored for the page.
	Records int

	// TotalCount echoes the remote total row count, or -1 if it was not reported.
	TotalCount int

	// Fields are the sorted top-level field names seen in the raw records.
	Fields []string

	// Columns are the sorted flattened column names seen with a non-empty value.
	Columns []string

	Duration time.Duration
	Err      error
}

// PageFetcher fetches and stores a single page. Implementations apply their
// own retry policy; an error returned here is final for that page.
type PageFetcher interface {
	FetchPage(ctx context.Context, offset int) (PageResult, error)
}

// PageFetcherFunc adapts a function to the PageFetcher interface.
type PageFetcherFunc func(ctx context.Context, offset int) (PageResult, error)

// FetchPage calls f.
func (f PageFetcherFunc) FetchPage(ctx context.Context, offset int) (PageResult, error) {
	return f(ctx, offset)
}

// Dispatcher runs page fetches on a bounded worker pool.
type Dispatcher struct {
	config Config
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(config Config) *Dispatcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = 50
	}

	return &Dispatcher{
		config: config,
	}
}

// RunAll fetches every offset and waits for all started fetches to finish.
//
// The returned slice has one entry per offset, in the order given. The error is
// the first page failure; once it occurs, pages that have not started are
// marked with ErrSkipped and running pages are left to complete.
func (d *Dispatcher) RunAll(ctx context.Context, offsets []int, fetcher PageFetcher) ([]PageResult, error) {
	start := time.Now()
	results := make([]PageResult, len(offsets))

	log.Info().
		Int("pages", len(offsets)).
		Int("workers", d.config.MaxConcurrency).
		Msg("Starting parallel page fetch")

	var (
		g       errgroup.Group
		failed  atomic.Bool
		fetched atomic.Int64
	)
	g.SetLimit(d.config.MaxConcurrency)

	for i, offset := range offsets {
		g.Go(func() error {
			if failed.Load() {
				results[i] = PageResult{Offset: offset, TotalCount: -1, Err: ErrSkipped}
				pagesTotal.WithLabelValues("skipped").Inc()
				return nil
			}

			pageStart := time.Now()
			res, err := fetcher.FetchPage(ctx, offset)
			res.Offset = offset
			res.Duration = time.Since(pageStart)
			res.Err = err
			results[i] = res

			if err != nil {
				failed.Store(true)
				pagesTotal.WithLabelValues("failed").Inc()
				log.Warn().
					Err(err).
					Int("offset", offset).
					Msg("Page fetch failed")
				return fmt.Errorf("page at offset %d: %w", offset, err)
			}

			pagesTotal.WithLabelValues("ok").Inc()
			if n := fetched.Add(1); n%int64(d.config.ProgressEvery) == 0 {
				log.Info().
					Int64("fetched", n).
					Int("total", len(offsets)).
					Float64("progress_pct", float64(n)/float64(len(offsets))*100).
					Msg("Fetch progress")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn().
			Err(err).
			Int64("fetched_pages", fetched.Load()).
			Int("total_pages", len(offsets)).
			Msg("Page fetch aborted")
		return results, err
	}

	log.Info().
		Int("pages", len(offsets)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}
