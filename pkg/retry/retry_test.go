package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBusy = errors.New("database is locked (5) (SQLITE_BUSY)")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

// instant returns a config that never actually sleeps
func instant(attempts int) Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = attempts
	cfg.Jitter = false
	cfg.After = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxAttempts != 5 {
		t.Errorf("expected MaxAttempts=5, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != 50*time.Millisecond {
		t.Errorf("expected InitialDelay=50ms, got %v", cfg.InitialDelay)
	}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("default config must normalize: %v", err)
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero attempts", Config{InitialDelay: time.Millisecond}},
		{"zero delay", Config{MaxAttempts: 1}},
		{"initial above max", Config{MaxAttempts: 1, InitialDelay: time.Second, MaxDelay: time.Millisecond}},
		{"multiplier below one", Config{MaxAttempts: 1, InitialDelay: time.Millisecond, Multiplier: 0.5}},
		{"negative elapsed", Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxElapsedTime: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Normalize(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := cfg.calculateDelay(tt.attempt); got != tt.expected {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestDo_SucceedsAfterBusy(t *testing.T) {
	calls := 0
	var seen []int
	cfg := instant(5)
	cfg.OnRetry = func(attempt int, err error, _ time.Duration) { seen = append(seen, attempt) }

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	}, isBusy)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("unexpected OnRetry attempts: %v", seen)
	}
}

func TestDo_NonRetryableReturnedAsIs(t *testing.T) {
	boom := errors.New("no such table: users")
	calls := 0
	err := Do(context.Background(), instant(5), func(context.Context) error {
		calls++
		return boom
	}, isBusy)

	if err != boom {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_Exhausted(t *testing.T) {
	err := Do(context.Background(), instant(3), func(context.Context) error { return errBusy }, isBusy)

	var exceeded *RetriesExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RetriesExceededError, got %T", err)
	}
	if exceeded.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", exceeded.Attempts)
	}
	if !errors.Is(err, errBusy) {
		t.Error("exceeded error must unwrap to the last error")
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, instant(3), func(context.Context) error { calls++; return nil }, isBusy)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("fn must not run with a canceled context, ran %d times", calls)
	}
}

func TestDo_MaxElapsedTime(t *testing.T) {
	cfg := instant(10)
	cfg.InitialDelay = time.Second
	cfg.MaxElapsedTime = 500 * time.Millisecond

	err := Do(context.Background(), cfg, func(context.Context) error { return errBusy }, isBusy)

	var exceeded *RetriesExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RetriesExceededError, got %v", err)
	}
	if exceeded.Reason != "max elapsed time exceeded" {
		t.Errorf("unexpected reason %q", exceeded.Reason)
	}
}

func TestApplyJitter_Bounds(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Normalize(); err != nil {
		t.Fatal(err)
	}
	base := 400 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := cfg.applyJitter(base)
		if d < 300*time.Millisecond || d > 500*time.Millisecond {
			t.Fatalf("jittered delay %v out of ±25%% range", d)
		}
	}
}
