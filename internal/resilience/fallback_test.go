package resilience

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func testFallbackConfig(maxFailures int) FallbackConfig {
	return FallbackConfig{CircuitBreaker: CircuitBreakerConfig{
		MaxFailures:  maxFailures,
		ResetTimeout: time.Hour,
		Logger:       slog.New(slog.DiscardHandler),
	}}
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "primary", testFallbackConfig(3))
	fg.AddFallback("secondary", "secondary")

	var called string
	err := fg.Execute(context.Background(), func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" {
		t.Fatalf("called = %q, want primary", called)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "primary", testFallbackConfig(3))
	fg.AddFallback("secondary", "secondary")

	err := fg.Execute(context.Background(), func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want wrapped errTest", err)
	}
}

func TestFallbackGroup_CircuitBreakerSkipsOpenProvider(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "primary", testFallbackConfig(2))
	fg.AddFallback("secondary", "secondary")

	for range 2 {
		_ = fg.Execute(context.Background(), func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	var called []string
	err := fg.Execute(context.Background(), func(v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "secondary" {
		t.Fatalf("called = %v, want [secondary] (primary circuit should be open)", called)
	}

	states := fg.States()
	if states["primary"] != StateOpen || states["secondary"] != StateClosed {
		t.Errorf("States() = %v", states)
	}
	if !fg.Healthy() {
		t.Error("Healthy() = false, want true while secondary is closed")
	}
}

func TestFallbackGroup_Healthy(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(1, "only", testFallbackConfig(1))
	if !fg.Healthy() {
		t.Fatal("Healthy() = false before any failure")
	}
	_ = fg.Execute(context.Background(), func(int) error { return errTest })
	if fg.Healthy() {
		t.Fatal("Healthy() = true with the only breaker open")
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(10, "ten", testFallbackConfig(3))
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(context.Background(), fg, func(v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "from-twenty", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-twenty" {
		t.Fatalf("result = %q, want from-twenty", result)
	}
}

func TestExecuteWithResult_StopsWhenContextDone(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(10, "ten", testFallbackConfig(3))
	fg.AddFallback("twenty", 20)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := ExecuteWithResult(ctx, fg, func(int) (string, error) {
		calls++
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if fg.States()["ten"] != StateClosed {
		t.Error("cancellation should not count against the breaker")
	}
}
