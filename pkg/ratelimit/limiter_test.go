package ratelimit

import (
	"context"
	"testing"
	"time"
)

// fakeClock ручное управление временем limiter'а
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(capacity int, window time.Duration) (*WeightLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewWeightLimiter(capacity, window)
	l.now = clock.now
	l.lastRefill = clock.t
	return l, clock
}

func TestWeightLimiter_AllowAndRefill(t *testing.T) {
	l, clock := newTestLimiter(60, time.Minute) // 1 токен/сек

	if !l.Allow(50) {
		t.Fatal("expected 50 of 60 to be allowed")
	}
	if l.Allow(20) {
		t.Fatal("20 should not fit into remaining 10")
	}

	clock.advance(10 * time.Second)
	if !l.Allow(20) {
		t.Fatal("after 10s there should be 20 tokens")
	}

	clock.advance(time.Hour)
	if got := l.Available(); got != 60 {
		t.Errorf("tokens should be capped at capacity, got %v", got)
	}
}

func TestWeightLimiter_Observe(t *testing.T) {
	l, _ := newTestLimiter(2400, time.Minute)

	l.Observe(2000)
	if got := l.Available(); got > 400 {
		t.Errorf("Available() = %v, want <= 400 after server reported 2000 used", got)
	}

	l.Observe(0) // игнорируется
	l.Observe(5000)
	if got := l.Available(); got != 0 {
		t.Errorf("Available() = %v, want 0 when server reports over capacity", got)
	}
}

func TestWeightLimiter_WaitContextCancel(t *testing.T) {
	l, _ := newTestLimiter(10, time.Hour)
	if !l.Allow(10) {
		t.Fatal("expected full bucket")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, 5); err == nil {
		t.Fatal("expected context error while bucket is empty")
	}
}

func TestWeightLimiter_WaitImmediate(t *testing.T) {
	l, _ := newTestLimiter(100, time.Minute)
	if err := l.Wait(context.Background(), 0); err != nil {
		t.Errorf("zero weight should not wait: %v", err)
	}
	if err := l.Wait(context.Background(), 40); err != nil {
		t.Errorf("Wait(40) with full bucket: %v", err)
	}
}
