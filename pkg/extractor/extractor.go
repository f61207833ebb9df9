// Package extractor runs one table extraction from row count to persisted
// schema.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/snow-extractor/pkg/client"
	"github.com/Sternrassler/snow-extractor/pkg/logging"
	"github.com/Sternrassler/snow-extractor/pkg/output"
	"github.com/Sternrassler/snow-extractor/pkg/pagination"
	"github.com/Sternrassler/snow-extractor/pkg/reconcile"
	"github.com/Sternrassler/snow-extractor/pkg/scratch"
	"github.com/Sternrassler/snow-extractor/pkg/state"
)

// Source is the remote table API. *client.Client implements it.
type Source interface {
	Count(ctx context.Context, table string, q client.Query) (int, error)
	FetchPage(ctx context.Context, table string, q client.Query, offset int, sink client.RecordSink) (client.Page, error)
	PageSize() int
	Host() string
}

// Config describes the table to extract and where to put it.
type Config struct {
	Table string
	Query client.Query

	// Concurrency is the number of pages fetched in parallel.
	Concurrency int

	// Incremental and PrimaryKey are written to the manifest.
	Incremental bool
	PrimaryKey  []string

	// Bucket is the optional output bucket.
	Bucket string

	// TablesDir receives the CSV file and manifest.
	TablesDir string

	// ScratchDir holds per-run scratch stores.
	ScratchDir string
}

// Summary reports a finished run.
type Summary struct {
	Table string

	// Empty is true when the remote table had no rows and nothing was written.
	Empty bool

	Rows       int
	Pages      int
	Columns    []string
	Pruned     []string
	Retained   []string
	Mismatches []reconcile.ShapeMismatch
	OutputPath string
	Duration   time.Duration
}

// Extractor runs extractions of a single table.
type Extractor struct {
	source Source
	store  state.Store
	config Config
	logger zerolog.Logger
}

// New creates an Extractor.
func New(source Source, store state.Store, cfg Config) (*Extractor, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if cfg.Table == "" {
		return nil, errors.New("table is required")
	}
	if cfg.TablesDir == "" {
		return nil, errors.New("tables dir is required")
	}
	if cfg.ScratchDir == "" {
		return nil, errors.New("scratch dir is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = pagination.DefaultConfig().MaxConcurrency
	}
	if cfg.PrimaryKey == nil {
		cfg.PrimaryKey = reconcile.DefaultPrimaryKey
	}

	return &Extractor{
		source: source,
		store:  store,
		config: cfg,
		logger: logging.NewLogger("extractor").With().Str("table", cfg.Table).Logger(),
	}, nil
}

// Run extracts the table.
//
// The output table and the persisted columns are only replaced when every step
// succeeds. A table with zero rows, counted or stored, removes any earlier
// output and leaves the persisted columns unchanged. The scratch store is removed on every path.
func (e *Extractor) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	summary, err := e.run(ctx)
	outcome := "success"
	switch {
	case err != nil:
		outcome = "failure"
	case summary.Empty:
		outcome = "empty"
	}
	runDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, fmt.Errorf("extract table %q: %w", e.config.Table, err)
	}
	summary.Duration = time.Since(start)

	e.logger.Info().
		Bool("empty", summary.Empty).
		Int("rows", summary.Rows).
		Int("pages", summary.Pages).
		Int("columns", len(summary.Columns)).
		Dur("duration", summary.Duration).
		Msg("Extraction finished")

	return summary, nil
}

func (e *Extractor) run(ctx context.Context) (*Summary, error) {
	cfg := e.config
	key := state.Key{Host: e.source.Host(), Table: cfg.Table, Bucket: cfg.Bucket}

	previous, err := e.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	total, err := e.source.Count(ctx, cfg.Table, cfg.Query)
	if err != nil {
		return nil, err
	}

	offsets := pagination.Plan(total, e.source.PageSize())
	if len(offsets) == 0 {
		e.logger.Info().Msg("No rows to extract, removing previous output")
		return e.empty(0)
	}

	store, err := scratch.New(cfg.ScratchDir, uuid.NewString())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Remove(); err != nil {
			e.logger.Warn().Err(err).Str("dir", store.Dir()).Msg("Failed to remove scratch store")
		}
	}()

	e.logger.Info().
		Int("rows", total).
		Int("pages", len(offsets)).
		Int("page_size", e.source.PageSize()).
		Msg("Starting extraction")

	dispatcher := pagination.NewDispatcher(pagination.Config{MaxConcurrency: cfg.Concurrency})
	pages, err := dispatcher.RunAll(ctx, offsets, e.pageFetcher(store))
	if err != nil {
		return nil, err
	}

	stored, err := store.Len()
	if err != nil {
		return nil, err
	}
	e.checkTotals(total, stored, pages)
	if stored == 0 {
		e.logger.Warn().
			Int("expected_rows", total).
			Msg("Pages returned no records, removing previous output")
		return e.empty(len(pages))
	}

	mismatches := reconcile.CheckPageShapes(pages)

	table, err := output.Create(cfg.TablesDir, cfg.Table)
	if err != nil {
		return nil, err
	}

	res, err := reconcile.New(cfg.PrimaryKey).Reconcile(store, previous, table)
	if err != nil {
		table.Abort()
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if err := table.Commit(); err != nil {
		return nil, err
	}

	manifest := output.Manifest{
		Destination: output.Destination(cfg.Bucket, cfg.Table),
		Incremental: cfg.Incremental,
		PrimaryKey:  cfg.PrimaryKey,
	}
	if err := output.WriteManifest(cfg.TablesDir, cfg.Table, manifest); err != nil {
		return nil, err
	}

	if err := e.store.Save(ctx, key, res.Columns); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	rowsExtracted.WithLabelValues(cfg.Table).Add(float64(res.Rows))
	columnsGauge.WithLabelValues(cfg.Table, "output").Set(float64(len(res.Columns)))
	columnsGauge.WithLabelValues(cfg.Table, "pruned").Set(float64(len(res.Pruned)))
	columnsGauge.WithLabelValues(cfg.Table, "retained").Set(float64(len(res.Retained)))

	return &Summary{
		Table:      cfg.Table,
		Rows:       res.Rows,
		Pages:      len(pages),
		Columns:    res.Columns,
		Pruned:     res.Pruned,
		Retained:   res.Retained,
		Mismatches: mismatches,
		OutputPath: table.Path(),
	}, nil
}

func (e *Extractor) pageFetcher(sink client.RecordSink) pagination.PageFetcher {
	return pagination.PageFetcherFunc(func(ctx context.Context, offset int) (pagination.PageResult, error) {
		page, err := e.source.FetchPage(ctx, e.config.Table, e.config.Query, offset, sink)
		if err != nil {
			return pagination.PageResult{Offset: offset, TotalCount: -1}, err
		}

		e.logger.Debug().
			Int("offset", offset).
			Int("records", page.Records).
			Msg("Page stored")

		return pagination.PageResult{
			Offset:     page.Offset,
			Records:    page.Records,
			TotalCount: page.TotalCount,
			Fields:     page.Fields,
			Columns:    page.Columns,
		}, nil
	})
}

// empty removes the output of earlier runs. The persisted columns are left
// unchanged.
func (e *Extractor) empty(pages int) (*Summary, error) {
	if err := output.Remove(e.config.TablesDir, e.config.Table); err != nil {
		return nil, err
	}
	return &Summary{Table: e.config.Table, Empty: true, Pages: pages}, nil
}

// checkTotals warns when the stored records disagree with the row count or
// with the records the pages reported. The remote table may change while a
// run is in progress.
func (e *Extractor) checkTotals(total, stored int, pages []pagination.PageResult) {
	fetched := 0
	for _, p := range pages {
		fetched += p.Records
	}
	if fetched != stored {
		e.logger.Warn().
			Int("fetched_rows", fetched).
			Int("stored_rows", stored).
			Msg("Scratch store holds a different number of records than the pages returned")
	}
	if stored != total {
		e.logger.Warn().
			Int("expected_rows", total).
			Int("stored_rows", stored).
			Msg("Stored row count differs from remote count")
	}

	if len(pages) > 0 && pages[0].TotalCount >= 0 {
		e.logger.Info().
			Int("total_count", pages[0].TotalCount).
			Msg("Remote total count reported by first page")
	}
}
