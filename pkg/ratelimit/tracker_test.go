package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTracker(now time.Time) *Tracker {
	tr := NewTracker(zerolog.New(os.Stderr).Level(zerolog.Disabled))
	tr.now = func() time.Time { return now }
	tr.throttle = 10 * time.Millisecond
	return tr
}

func TestUpdateFromResponse_Headers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := newTestTracker(now)

	h := http.Header{}
	h.Set(HeaderLimit, "1000")
	h.Set(HeaderRemaining, "42")
	h.Set(HeaderReset, "1700000060")
	tr.UpdateFromResponse(http.StatusOK, h)

	s := tr.State()
	if s.Limit != 1000 || s.Remaining != 42 {
		t.Errorf("Limit/Remaining = %d/%d, want 1000/42", s.Limit, s.Remaining)
	}
	if !s.ResetAt.Equal(time.Unix(1_700_000_060, 0)) {
		t.Errorf("ResetAt = %v", s.ResetAt)
	}
	if !s.LastUpdate.Equal(now) {
		t.Errorf("LastUpdate = %v, want %v", s.LastUpdate, now)
	}
	if !s.BlockedUntil.IsZero() {
		t.Errorf("BlockedUntil = %v, want zero for a 200", s.BlockedUntil)
	}
}

func TestUpdateFromResponse_InvalidHeadersIgnored(t *testing.T) {
	tr := newTestTracker(time.Now())

	h := http.Header{}
	h.Set(HeaderLimit, "lots")
	h.Set(HeaderRemaining, "-3")
	tr.UpdateFromResponse(http.StatusOK, h)

	s := tr.State()
	if s.Limit != 0 || s.Remaining != -1 {
		t.Errorf("state changed by invalid headers: %+v", s)
	}
	if !s.LastUpdate.IsZero() {
		t.Error("LastUpdate set without any valid header")
	}
}

func TestUpdateFromResponse_TooManyRequests(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name    string
		headers map[string]string
		want    time.Time
	}{
		{
			name:    "retry after",
			headers: map[string]string{HeaderRetryAfter: "7"},
			want:    now.Add(7 * time.Second),
		},
		{
			name:    "reset only",
			headers: map[string]string{HeaderReset: "1700000030"},
			want:    time.Unix(1_700_000_030, 0),
		},
		{
			name: "no headers",
			want: now.Add(10 * time.Millisecond),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(now)
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}

			tr.UpdateFromResponse(http.StatusTooManyRequests, h)

			if got := tr.State().BlockedUntil; !got.Equal(tt.want) {
				t.Errorf("BlockedUntil = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpdateFromResponse_BlockNeverShortened(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := newTestTracker(now)

	long := http.Header{}
	long.Set(HeaderRetryAfter, "30")
	short := http.Header{}
	short.Set(HeaderRetryAfter, "2")

	tr.UpdateFromResponse(http.StatusTooManyRequests, long)
	tr.UpdateFromResponse(http.StatusTooManyRequests, short)

	if got := tr.State().BlockedUntil; !got.Equal(now.Add(30 * time.Second)) {
		t.Errorf("BlockedUntil = %v, want the longer block", got)
	}
}

func TestWait_Healthy(t *testing.T) {
	tr := newTestTracker(time.Now())

	start := time.Now()
	if err := tr.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Wait() blocked without any rate limit")
	}
}

func TestWait_Throttled(t *testing.T) {
	tr := newTestTracker(time.Now())
	tr.state = State{Limit: 1000, Remaining: 1}

	start := time.Now()
	if err := tr.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Wait() returned after %v, want throttle delay", elapsed)
	}
}

func TestWait_Blocked(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(now)
	tr.state = State{Remaining: -1, BlockedUntil: now.Add(30 * time.Millisecond)}

	start := time.Now()
	if err := tr.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Wait() returned after %v, want ~30ms", elapsed)
	}
}

func TestWait_MaxWait(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(now)
	tr.maxWait = 20 * time.Millisecond
	tr.state = State{Remaining: -1, BlockedUntil: now.Add(time.Hour)}

	done := make(chan error, 1)
	go func() { done <- tr.Wait(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() ignored maxWait")
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(now)
	tr.state = State{Remaining: -1, BlockedUntil: now.Add(time.Minute)}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := tr.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}
