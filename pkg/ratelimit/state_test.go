package ratelimit

import (
	"testing"
	"time"
)

func TestState_NeedsBlock(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"unknown", Unknown(), false},
		{"blocked by 429", State{Remaining: -1, BlockedUntil: now.Add(time.Second)}, true},
		{"429 block expired", State{Remaining: -1, BlockedUntil: now.Add(-time.Second)}, false},
		{"window exhausted", State{Limit: 100, Remaining: 0, ResetAt: now.Add(time.Minute)}, true},
		{"window exhausted but reset", State{Limit: 100, Remaining: 0, ResetAt: now.Add(-time.Minute)}, false},
		{"requests left", State{Limit: 100, Remaining: 10, ResetAt: now.Add(time.Minute)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.NeedsBlock(now); got != tt.want {
				t.Errorf("NeedsBlock() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestState_Thresholds(t *testing.T) {
	tests := []struct {
		name         string
		state        State
		wantThrottle bool
		wantHealthy  bool
	}{
		{"unknown", Unknown(), false, true},
		{"plenty left", State{Limit: 1000, Remaining: 800}, false, true},
		{"at healthy threshold", State{Limit: 1000, Remaining: 200}, false, true},
		{"below healthy", State{Limit: 1000, Remaining: 100}, false, false},
		{"below throttle", State{Limit: 1000, Remaining: 49}, true, false},
		{"no limit header", State{Limit: 0, Remaining: 3}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.NeedsThrottling(); got != tt.wantThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.wantThrottle)
			}
			if got := tt.state.IsHealthy(); got != tt.wantHealthy {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.wantHealthy)
			}
		})
	}
}

func TestState_WaitDuration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name  string
		state State
		want  time.Duration
	}{
		{"not blocked", Unknown(), 0},
		{"retry after", State{Remaining: -1, BlockedUntil: now.Add(3 * time.Second)}, 3 * time.Second},
		{"reset later than retry after", State{Remaining: 0, BlockedUntil: now.Add(time.Second), ResetAt: now.Add(10 * time.Second)}, 10 * time.Second},
		{"window exhausted", State{Limit: 10, Remaining: 0, ResetAt: now.Add(5 * time.Second)}, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.WaitDuration(now); got != tt.want {
				t.Errorf("WaitDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
