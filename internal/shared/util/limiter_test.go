package util

import (
	"context"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// 10 tokens per second, burst of 2
	l := NewLimiter(10, 2)

	if !l.Allow(1) {
		t.Error("expected first token to be allowed")
	}
	if !l.Allow(1) {
		t.Error("expected second token to be allowed (burst)")
	}
	if l.Allow(1) {
		t.Error("expected third token to be rejected (burst exhausted)")
	}

	time.Sleep(150 * time.Millisecond)
	if !l.Allow(1) {
		t.Error("expected token to be refilled after wait")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow(1) {
			t.Fatalf("unlimited limiter rejected token %d", i)
		}
	}
}

func TestLimiterRegistry(t *testing.T) {
	reg := NewLimiterRegistry(100, 10, time.Minute)
	clock := time.Unix(1_700_000_000, 0)
	reg.now = func() time.Time { return clock }

	l1 := reg.Get("github.com")
	l2 := reg.Get("gitlab.com")
	if l1 == l2 {
		t.Error("expected different limiters for different hosts")
	}
	if reg.Get("github.com") != l1 {
		t.Error("expected same limiter for same host")
	}

	clock = clock.Add(2 * time.Minute)
	if reg.Get("github.com") == l1 {
		t.Error("expected idle limiter to be evicted and replaced")
	}
	if reg.Len() != 1 {
		t.Errorf("expected only the fresh limiter to remain, got %d", reg.Len())
	}
}

func TestLimiter_Wait(t *testing.T) {
	l := NewLimiter(100, 1)
	l.Allow(1) // consume burst

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx, 1); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("Wait returned too early")
	}
}
