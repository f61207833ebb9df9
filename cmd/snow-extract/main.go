// Command snow-extract extracts one ServiceNow table into a CSV file in a
// Keboola data folder.
//
// Environment:
//
//	KBC_DATADIR   data folder containing config.json (default /data)
//	REDIS_URL     keep schema state in Redis instead of state.json
//	METRICS_ADDR  serve Prometheus metrics on this address during the run
//	LOG_LEVEL     debug, info, warn or error
//	LOG_PRETTY    human-readable logs
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/snow-extractor/internal/config"
	"github.com/Sternrassler/snow-extractor/pkg/client"
	"github.com/Sternrassler/snow-extractor/pkg/extractor"
	"github.com/Sternrassler/snow-extractor/pkg/logging"
	"github.com/Sternrassler/snow-extractor/pkg/metrics"
	"github.com/Sternrassler/snow-extractor/pkg/state"
)

// Exit codes understood by the job runner.
const (
	exitOK    = 0
	exitUser  = 1
	exitOther = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, config.DataDirFromEnv())
	stop()
	os.Exit(code)
}

func run(ctx context.Context, dataDir string) int {
	logging.Setup(logging.ConfigFromEnv(false))

	cfg, err := config.Load(dataDir)
	if err != nil {
		log.Error().Err(err).Str("data_dir", dataDir).Msg("Failed to load configuration")
		return exitUser
	}
	if cfg.Debug {
		logging.Setup(logging.ConfigFromEnv(true))
	}

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go metrics.Serve(metricsCtx, addr)
	}

	store, closeStore, err := newStateStore(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open state store")
		return exitOther
	}
	defer closeStore()

	snow, err := client.New(client.DefaultConfig(cfg.Server, cfg.User, cfg.Password))
	if err != nil {
		log.Error().Err(err).Msg("Invalid ServiceNow connection settings")
		return exitUser
	}

	ex, err := extractor.New(snow, store, extractor.Config{
		Table:       cfg.Table,
		Query:       client.Query{Filter: cfg.Query, Fields: cfg.Fields},
		Concurrency: cfg.Concurrency,
		Incremental: cfg.Incremental,
		Bucket:      cfg.Bucket,
		TablesDir:   cfg.TablesDir(),
		ScratchDir:  cfg.ScratchDir(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create extractor")
		return exitOther
	}

	summary, err := ex.Run(ctx)
	if rl := snow.RateLimit(); !rl.IsHealthy() {
		log.Warn().
			Int("remaining", rl.Remaining).
			Int("limit", rl.Limit).
			Time("reset_at", rl.ResetAt).
			Msg("ServiceNow rate limit nearly used up")
	}
	if err != nil {
		log.Error().Err(err).Str("table", cfg.Table).Msg("Extraction failed")
		return exitCode(err)
	}

	if summary.Empty {
		fmt.Printf("Table %s is empty, no output written\n", summary.Table)
	} else {
		fmt.Printf("Extracted %d rows with %d columns from %s in %s\n",
			summary.Rows, len(summary.Columns), summary.Table, summary.Duration.Round(time.Millisecond))
	}
	return exitOK
}

// exitCode maps a run error to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var accessErr *client.AccessError
	if errors.As(err, &accessErr) || errors.Is(err, config.ErrInvalid) {
		return exitUser
	}
	return exitOther
}

// newStateStore returns a Redis store when REDIS_URL is set, otherwise the
// state.json files of the data folder.
func newStateStore(ctx context.Context, cfg *config.Config) (state.Store, func(), error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return state.NewFileStore(cfg.StateInPath(), cfg.StateOutPath()), func() {}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis state store")

	return state.NewRedisStore(redisClient), func() { redisClient.Close() }, nil
}
