// Package metrics provides the Prometheus registry and the /metrics listener
// of the extractor. All metrics are defined in their respective packages
// (client, pagination, state, extractor) and registered via promauto.
//
// This package also documents every available metric.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by the extractor.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// Serve listens on addr until ctx is done. A listen failure is logged, not
// returned.
func Serve(ctx context.Context, addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn().Err(err).Str("addr", addr).Msg("Metrics server failed")
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - snow_requests_total{endpoint, status} (Counter): Requests by endpoint (stats, table) and HTTP status
//   - snow_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - snow_errors_total{class} (Counter): Errors by class (client, auth, server, network, parse, shape, storage)
//
// Retry Metrics (pkg/client):
//   - snow_retries_total{op} (Counter): Retry attempts by endpoint
//   - snow_retry_backoff_seconds{op} (Histogram): Backoff duration by endpoint
//   - snow_retry_exhausted_total{op} (Counter): Requests that exhausted their retry budget
//
// Page Metrics (pkg/pagination):
//   - snow_pages_total{outcome} (Counter): Pages by outcome (ok, failed, skipped)
//
// State Metrics (pkg/state):
//   - snow_state_operations_total{backend, operation} (Counter): Loads and saves by backend (file, redis)
//   - snow_state_errors_total{backend, operation} (Counter): Failed state operations
//
// Run Metrics (pkg/extractor):
//   - snow_rows_extracted_total{table} (Counter): Rows written to output tables
//   - snow_columns{table, kind} (Gauge): Output, pruned and retained column counts of the last run
//   - snow_run_duration_seconds{outcome} (Histogram): Run duration by outcome (success, empty, failure)
//
// Example Prometheus Queries:
//
//   # Page Failure Rate
//   sum(rate(snow_pages_total{outcome="failed"}[1h])) / sum(rate(snow_pages_total[1h]))
//
//   # Auth Problems
//   increase(snow_errors_total{class="auth"}[1h]) > 0
//
//   # P95 Page Latency
//   histogram_quantile(0.95, rate(snow_request_duration_seconds_bucket{endpoint="table"}[5m]))
//
//   # Schema Drift
//   snow_columns{kind="retained"} > 0
