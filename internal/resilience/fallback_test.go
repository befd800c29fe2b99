package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

type named struct{ name string }

func TestFallbackGroup_PrimaryServes(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(named{"a"}, "a", FallbackConfig{})
	fg.AddFallback("b", named{"b"})

	var tried []string
	got, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, n named) (string, error) {
		tried = append(tried, n.name)
		return n.name, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a" || !slices.Equal(tried, []string{"a"}) {
		t.Errorf("got %q, tried %v", got, tried)
	}
}

func TestFallbackGroup_FailsOver(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(named{"a"}, "a", FallbackConfig{})
	fg.AddFallback("b", named{"b"})
	fg.AddFallback("c", named{"c"})

	got, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, n named) (string, error) {
		if n.name == "c" {
			return "c", nil
		}
		return "", errTest
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "c" {
		t.Errorf("got %q, want c", got)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(named{"a"}, "a", FallbackConfig{})
	fg.AddFallback("b", named{"b"})

	err := fg.Execute(context.Background(), func(context.Context, named) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want it to wrap the provider errors", err)
	}
}

func TestFallbackGroup_SingleEntryKeepsCause(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(named{"only"}, "only", FallbackConfig{})
	err := fg.Execute(context.Background(), func(context.Context, named) error { return errTest })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Fatalf("err = %v", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fg := NewFallbackGroup(named{"a"}, "a", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("b", named{"b"})

	calls := map[string]int{}
	fn := func(_ context.Context, n named) error {
		calls[n.name]++
		if n.name == "a" {
			return errTest
		}
		return nil
	}
	for range 3 {
		if err := fg.Execute(ctx, fn); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls["a"] != 1 {
		t.Errorf("primary called %d times, want 1 (breaker should open)", calls["a"])
	}
	if calls["b"] != 3 {
		t.Errorf("fallback called %d times, want 3", calls["b"])
	}
	if st := fg.Breaker("a").State(); st != StateOpen {
		t.Errorf("primary breaker = %v, want open", st)
	}
}

func TestFallbackGroup_StopsOnCancellation(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(named{"a"}, "a", FallbackConfig{})
	fg.AddFallback("b", named{"b"})

	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	err := fg.Execute(ctx, func(ctx context.Context, n named) error {
		tried = append(tried, n.name)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("cancellation must not be reported as ErrAllFailed")
	}
	if !slices.Equal(tried, []string{"a"}) {
		t.Errorf("tried = %v, want only a", tried)
	}
}

func TestFallbackGroup_NamesAndPrimary(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(named{"a"}, "primary", FallbackConfig{})
	fg.AddFallback("backup", named{"b"})

	if got := fg.Names(); !slices.Equal(got, []string{"primary", "backup"}) {
		t.Errorf("Names() = %v", got)
	}
	if fg.Primary().name != "a" {
		t.Errorf("Primary() = %v", fg.Primary())
	}
	if fg.Breaker("missing") != nil {
		t.Error("Breaker for unknown name should be nil")
	}
}
