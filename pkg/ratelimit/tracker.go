package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	snowRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snow_rate_limit_remaining",
		Help: "Requests remaining in the current ServiceNow rate limit window",
	})

	snowRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snow_rate_limit_blocks_total",
		Help: "Total number of requests delayed until the rate limit window reset",
	})

	snowRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snow_rate_limit_throttles_total",
		Help: "Total number of requests throttled because few requests remained",
	})
)

// DefaultMaxWait caps a single wait, whatever the headers say.
const DefaultMaxWait = 5 * time.Minute

// Tracker holds the rate limit state shared by all workers of a client.
type Tracker struct {
	mu    sync.Mutex
	state State

	logger   zerolog.Logger
	throttle time.Duration
	maxWait  time.Duration
	now      func() time.Time
}

// NewTracker creates a new rate limit tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		state:    Unknown(),
		logger:   logger,
		throttle: 1 * time.Second,
		maxWait:  DefaultMaxWait,
		now:      time.Now,
	}
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// UpdateFromResponse records the rate limit headers of a response. A 429
// blocks every caller of Wait until Retry-After (or X-RateLimit-Reset) passes.
func (t *Tracker) UpdateFromResponse(statusCode int, headers http.Header) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	updated := false
	if v, ok := parseIntHeader(headers.Get(HeaderLimit)); ok {
		t.state.Limit = v
		updated = true
	}
	if v, ok := parseIntHeader(headers.Get(HeaderRemaining)); ok {
		t.state.Remaining = v
		snowRateLimitRemaining.Set(float64(v))
		updated = true
	}
	if v, ok := parseIntHeader(headers.Get(HeaderReset)); ok {
		t.state.ResetAt = time.Unix(int64(v), 0)
		updated = true
	}

	if statusCode == http.StatusTooManyRequests {
		until := now.Add(t.throttle)
		if v, ok := parseIntHeader(headers.Get(HeaderRetryAfter)); ok {
			until = now.Add(time.Duration(v) * time.Second)
		} else if t.state.ResetAt.After(now) {
			until = t.state.ResetAt
		}
		if until.After(t.state.BlockedUntil) {
			t.state.BlockedUntil = until
		}
		updated = true

		t.logger.Warn().
			Time("blocked_until", t.state.BlockedUntil).
			Int("remaining", t.state.Remaining).
			Msg("ServiceNow rate limit hit - pausing requests")
	}

	if updated {
		t.state.LastUpdate = now
	}
}

// Wait blocks until a request may be sent. It returns ctx.Err() if ctx is
// done first.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()

	now := t.now()
	wait := time.Duration(0)

	switch {
	case state.NeedsBlock(now):
		wait = state.WaitDuration(now)
		snowRateLimitBlocksTotal.Inc()
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", wait).
			Msg("Rate limit active - delaying request")
	case state.NeedsThrottling():
		wait = t.throttle
		snowRateLimitThrottlesTotal.Inc()
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Msg("Rate limit low - throttling request")
	}

	if wait <= 0 {
		return nil
	}
	if wait > t.maxWait {
		wait = t.maxWait
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseIntHeader(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
