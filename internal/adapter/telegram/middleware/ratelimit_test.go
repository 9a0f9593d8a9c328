package middleware

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRateLimiter(time.Second)
	r.now = func() time.Time { return now }

	if !r.Allow(1) {
		t.Fatal("first request should pass")
	}
	if r.Allow(1) {
		t.Fatal("second request within rate should be limited")
	}
	if !r.Allow(2) {
		t.Fatal("other users are not affected")
	}

	now = now.Add(time.Second)
	if !r.Allow(1) {
		t.Fatal("request after rate should pass")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	r := NewRateLimiter(time.Hour)
	calls := 0
	h := r.Middleware(counting(&calls))

	ctx := context.Background()
	h(ctx, nil, message(5, 5))
	h(ctx, nil, message(5, 5))
	h(ctx, nil, message(0, -100)) // без отправителя лимит не применяется
	if calls != 2 {
		t.Fatalf("calls=%d want 2", calls)
	}
}
