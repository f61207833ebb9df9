// Package client provides the ServiceNow HTTP client used by the extractor:
// the row count probe, the single page fetcher and their retry policies.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/snow-extractor/pkg/flatten"
	"github.com/Sternrassler/snow-extractor/pkg/logging"
	"github.com/Sternrassler/snow-extractor/pkg/ratelimit"
	"github.com/Sternrassler/snow-extractor/pkg/scratch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for ServiceNow client operations.
var (
	snowRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snow_requests_total",
		Help: "Total ServiceNow requests by endpoint and status",
	}, []string{"endpoint", "status"})

	snowRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snow_request_duration_seconds",
		Help:    "ServiceNow request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})

	snowErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snow_errors_total",
		Help: "Total ServiceNow errors by class",
	}, []string{"class"})
)

// Logical endpoints, used as the Op of errors and as metric labels.
const (
	opStats = "stats"
	opTable = "table"
)

// DefaultPageSize is the sysparm_limit used for every page.
const DefaultPageSize = 500

// TotalCountHeader carries the total row count on table API responses.
const TotalCountHeader = "X-Total-Count"

// Query is passed through verbatim to ServiceNow. Empty fields are omitted
// from the request.
type Query struct {
	// Filter is the encoded query (sysparm_query).
	Filter string

	// Fields is the comma-separated field list (sysparm_fields).
	Fields string
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.Filter != "" {
		v.Set("sysparm_query", q.Filter)
	}
	if q.Fields != "" {
		v.Set("sysparm_fields", q.Fields)
	}
	return v
}

// RecordSink persists flattened records as they are fetched.
type RecordSink interface {
	Put(key scratch.Key, rec map[string]any) error

	// Trim removes records of the page at offset whose position is keep or
	// higher.
	Trim(offset, keep int) error
}

// Page describes one successfully fetched and stored page.
type Page struct {
	Offset  int
	Records int

	// TotalCount is the X-Total-Count header value, or -1 if absent.
	TotalCount int

	// Fields are the sorted top-level field names of the raw records.
	Fields []string

	// Columns are the sorted flattened columns with at least one non-empty value.
	Columns []string
}

// Client is a ServiceNow table API client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	limiter    *ratelimit.Tracker
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the instance address, e.g. "https://acme.service-now.com".
	// A bare host name gets the https scheme.
	BaseURL string

	// Basic auth credentials.
	Username string
	Password string

	// User-Agent header sent with every request.
	UserAgent string

	// PageSize is the number of records requested per page.
	PageSize int

	// Timeout applies to each HTTP call.
	Timeout time.Duration

	// Retry policies for the row count and for each page.
	CountRetry RetryConfig
	PageRetry  RetryConfig

	// Separator joins nested keys when flattening records.
	Separator string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, username, password string) Config {
	return Config{
		BaseURL:    baseURL,
		Username:   username,
		Password:   password,
		UserAgent:  "snow-extractor/1.0",
		PageSize:   DefaultPageSize,
		Timeout:    60 * time.Second,
		CountRetry: CountRetryConfig(),
		PageRetry:  PageRetryConfig(),
		Separator:  flatten.DefaultSeparator,
	}
}

// New creates a new ServiceNow client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page_size must be > 0 (got %d)", cfg.PageSize)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Separator == "" {
		cfg.Separator = flatten.DefaultSeparator
	}

	base, err := NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger("snow-client").With().Str("host", base.Host).Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		config:  cfg,
		limiter: ratelimit.NewTracker(logger),
		logger:  logger,
	}, nil
}

// apiSuffixes are stripped from configured base URLs that already point into
// the REST API. Longest first.
var apiSuffixes = []string{"/api/now/table", "/api/now"}

// NormalizeBaseURL parses an instance address, adding https:// when no
// scheme is given and dropping a trailing slash. A trailing /api/now/table
// or /api/now is removed.
func NormalizeBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", raw)
	}
	for _, suffix := range apiSuffixes {
		if strings.HasSuffix(strings.ToLower(u.Path), suffix) {
			u.Path = strings.TrimRight(u.Path[:len(u.Path)-len(suffix)], "/")
			u.RawPath = ""
			break
		}
	}
	return u, nil
}

// PageSize returns the configured page size.
func (c *Client) PageSize() int {
	return c.config.PageSize
}

// Host returns the instance host name.
func (c *Client) Host() string {
	return c.baseURL.Host
}

// Count returns the number of rows matching q in table.
//
// The request is retried per Config.CountRetry. If the last failure was a 401
// or 403 the result is an *AccessError, otherwise the wrapped *RemoteError.
func (c *Client) Count(ctx context.Context, table string, q Query) (int, error) {
	params := q.values()
	params.Set("sysparm_count", "true")

	var count int
	err := retryWithBackoff(ctx, opStats, c.config.CountRetry, func(attempt int) error {
		body, _, err := c.get(ctx, opStats, "/api/now/stats/"+url.PathEscape(table), params)
		if err != nil {
			return err
		}

		n, err := parseCount(body)
		if err != nil {
			return c.fail(&RemoteError{
				Op:         opStats,
				StatusCode: http.StatusOK,
				ErrorClass: ErrorClassShape,
				Message:    "invalid stats response",
				Err:        err,
			})
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, asAccessError(table, err)
	}

	c.logger.Info().
		Str("table", table).
		Int("rows", count).
		Msg("Row count retrieved")

	return count, nil
}

// FetchPage requests the page of table starting at offset, flattens every
// record and stores it in sink under scratch.Key{offset, position}.
//
// All records of a page are stored before FetchPage returns. The whole
// request-and-store sequence is retried per Config.PageRetry; a retry writes
// the same keys again.
func (c *Client) FetchPage(ctx context.Context, table string, q Query, offset int, sink RecordSink) (Page, error) {
	params := q.values()
	params.Set("sysparm_limit", strconv.Itoa(c.config.PageSize))
	params.Set("sysparm_offset", strconv.Itoa(offset))

	var page Page
	err := retryWithBackoff(ctx, opTable, c.config.PageRetry, func(attempt int) error {
		var err error
		page, err = c.fetchPageOnce(ctx, table, params, offset, sink)
		return err
	})
	if err != nil {
		return Page{Offset: offset, TotalCount: -1}, err
	}
	return page, nil
}

func (c *Client) fetchPageOnce(ctx context.Context, table string, params url.Values, offset int, sink RecordSink) (Page, error) {
	body, header, err := c.get(ctx, opTable, "/api/now/table/"+url.PathEscape(table), params)
	if err != nil {
		return Page{}, err
	}

	res := parseListResult(body)
	switch res.kind {
	case resultMalformed:
		return Page{}, c.fail(&RemoteError{
			Op:         opTable,
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassParse,
			Message:    res.detail,
			Err:        res.err,
		})
	case resultUnexpected:
		return Page{}, c.fail(&RemoteError{
			Op:         opTable,
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassShape,
			Message:    res.detail,
		})
	}

	fields := make(map[string]struct{})
	columns := make(map[string]struct{})
	for i, raw := range res.records {
		for k := range raw {
			fields[k] = struct{}{}
		}

		flat, collisions := flatten.Record(raw, c.config.Separator)
		if len(collisions) > 0 {
			c.logger.Warn().
				Str("table", table).
				Int("offset", offset).
				Int("position", i).
				Strs("columns", collisions).
				Msg("Flattened columns collide, keeping the lexically last path")
		}
		for k, v := range flat {
			if flatten.NonEmpty(v) {
				columns[k] = struct{}{}
			}
		}

		if err := sink.Put(scratch.Key{Offset: offset, Position: i}, flat); err != nil {
			return Page{}, c.fail(&RemoteError{
				Op:         opTable,
				StatusCode: http.StatusOK,
				ErrorClass: ErrorClassStorage,
				Message:    fmt.Sprintf("store record %d of page at offset %d", i, offset),
				Err:        err,
			})
		}
	}

	// An earlier attempt may have stored more records for this page.
	if err := sink.Trim(offset, len(res.records)); err != nil {
		return Page{}, c.fail(&RemoteError{
			Op:         opTable,
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassStorage,
			Message:    fmt.Sprintf("trim page at offset %d", offset),
			Err:        err,
		})
	}

	totalCount := -1
	if v := header.Get(TotalCountHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			totalCount = n
		}
	}

	c.logger.Debug().
		Str("table", table).
		Int("offset", offset).
		Int("records", len(res.records)).
		Int("processed", offset+len(res.records)).
		Msg("Processed records")

	return Page{
		Offset:     offset,
		Records:    len(res.records),
		TotalCount: totalCount,
		Fields:     sortedKeys(fields),
		Columns:    sortedKeys(columns),
	}, nil
}

// get performs a single GET request and returns the body of a 2xx response.
// Any other outcome is a *RemoteError.
func (c *Client) get(ctx context.Context, op, path string, params url.Values) ([]byte, http.Header, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.config.Username, c.config.Password)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, c.fail(&RemoteError{
			Op:         op,
			ErrorClass: ErrorClassNetwork,
			Message:    "waiting for rate limit",
			Err:        err,
		})
	}

	startTime := time.Now()
	defer func() {
		snowRequestDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("endpoint", op).
		Str("path", u.Path).
		Msg("Executing ServiceNow request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		snowRequestsTotal.WithLabelValues(op, "network_error").Inc()
		return nil, nil, c.fail(&RemoteError{
			Op:         op,
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		})
	}
	defer resp.Body.Close()

	snowRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	c.limiter.UpdateFromResponse(resp.StatusCode, resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, c.fail(&RemoteError{
			Op:         op,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, c.fail(&RemoteError{
			Op:         op,
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Message:    errorMessage(body),
		})
	}

	return body, resp.Header, nil
}

// fail records and logs a remote error before handing it back.
func (c *Client) fail(err *RemoteError) error {
	snowErrorsTotal.WithLabelValues(string(err.ErrorClass)).Inc()

	evt := c.logger.Warn()
	if errors.Is(err.Err, context.Canceled) {
		evt = c.logger.Debug()
	}
	evt.Str("endpoint", err.Op).
		Int("status", err.StatusCode).
		Str("error_class", string(err.ErrorClass)).
		Str("message", err.Message).
		Msg("ServiceNow request error")
	return err
}

// RateLimit returns the last known rate limit state of the instance.
func (c *Client) RateLimit() ratelimit.State {
	return c.limiter.State()
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
