// Package ratelimit tracks ServiceNow rate limit rules and gates requests.
// It reads the Retry-After and X-RateLimit-* headers; all workers sharing a
// Tracker pause until the limit allows requests again.
package ratelimit

import (
	"time"
)

// Response headers sent by ServiceNow when a rate limit rule applies.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Thresholds for rate limit decisions, as a fraction of the hourly limit.
const (
	// ThrottleFraction applies throttling when fewer than this share of the
	// limit remains.
	ThrottleFraction = 0.05

	// HealthyFraction is the share of the limit above which the instance is
	// reported healthy.
	HealthyFraction = 0.2
)

// State is the last known rate limit state of the instance.
type State struct {
	// Limit is the number of requests allowed per window, 0 if unknown.
	Limit int

	// Remaining is the number of requests left in the window, -1 if unknown.
	Remaining int

	// ResetAt is when the window resets.
	ResetAt time.Time

	// BlockedUntil is set by a 429 response; no request is sent before it.
	BlockedUntil time.Time

	// LastUpdate is when this state was last updated.
	LastUpdate time.Time
}

// Unknown returns the state before any rate limit header was seen.
func Unknown() State {
	return State{Remaining: -1}
}

// NeedsBlock returns true if requests must wait for BlockedUntil or for the
// window to reset.
func (s State) NeedsBlock(now time.Time) bool {
	if now.Before(s.BlockedUntil) {
		return true
	}
	return s.Remaining == 0 && now.Before(s.ResetAt)
}

// NeedsThrottling returns true if few requests remain in the window.
func (s State) NeedsThrottling() bool {
	if s.Limit <= 0 || s.Remaining < 0 {
		return false
	}
	return float64(s.Remaining) < float64(s.Limit)*ThrottleFraction
}

// IsHealthy returns true when the limit is unknown or well above the throttle
// threshold.
func (s State) IsHealthy() bool {
	if s.Limit <= 0 || s.Remaining < 0 {
		return true
	}
	return float64(s.Remaining) >= float64(s.Limit)*HealthyFraction
}

// WaitDuration returns how long a request has to wait at now.
func (s State) WaitDuration(now time.Time) time.Duration {
	if !s.NeedsBlock(now) {
		return 0
	}
	until := s.BlockedUntil
	if s.Remaining == 0 && s.ResetAt.After(until) {
		until = s.ResetAt
	}
	return until.Sub(now)
}
