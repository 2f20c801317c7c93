package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func fail(_ context.Context) (int, error) { return 0, errors.New("fail") }
func succeed(_ context.Context) (int, error) { return 1, nil }

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b := NewBreaker("m", DefaultBreakerConfig())

	v, err := Call(context.Background(), b, succeed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Errorf("expected 1, got %d", v)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("m", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, _ = Call(context.Background(), b, fail)
	}
	if b.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", b.State())
	}

	_, err := Call(context.Background(), b, func(_ context.Context) (int, error) {
		t.Error("should not be called when circuit is open")
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("m", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	_, _ = Call(context.Background(), b, fail)
	_, _ = Call(context.Background(), b, fail)
	_, _ = Call(context.Background(), b, succeed)
	_, _ = Call(context.Background(), b, fail)

	if b.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", b.State())
	}
	if b.Failures() != 1 {
		t.Errorf("expected 1 failure, got %d", b.Failures())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker("m", BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	_, _ = Call(context.Background(), b, fail)
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	now = now.Add(11 * time.Second)
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}

	if _, err := Call(context.Background(), b, succeed); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("m", BreakerConfig{FailureThreshold: 2, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	_, _ = Call(context.Background(), b, fail)
	_, _ = Call(context.Background(), b, fail)
	now = now.Add(11 * time.Second)

	_, _ = Call(context.Background(), b, fail)
	if b.State() != CircuitOpen {
		t.Errorf("expected reopened circuit, got %s", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker("m", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	_, _ = Call(context.Background(), b, fail)
	b.Reset()

	if b.State() != CircuitClosed || b.Failures() != 0 {
		t.Errorf("expected reset breaker, got %s with %d failures", b.State(), b.Failures())
	}
}

func TestBreaker_OpenErrorNamesModel(t *testing.T) {
	b := NewBreaker("openai/gpt-4o", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	_, _ = Call(context.Background(), b, fail)

	_, err := Call(context.Background(), b, succeed)
	if err == nil || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if !strings.Contains(err.Error(), "openai/gpt-4o") {
		t.Errorf("expected model name in %q", err.Error())
	}
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := NewBreaker("m", BreakerConfig{FailureThreshold: 100, ResetTimeout: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = Call(context.Background(), b, fail)
			} else {
				_, _ = Call(context.Background(), b, succeed)
			}
			_ = b.State()
		}(i)
	}
	wg.Wait()
}

func TestBreakers_GetOrCreate(t *testing.T) {
	r := NewBreakers(DefaultBreakerConfig())

	a := r.Get("a")
	if r.Get("a") != a {
		t.Error("expected same breaker for same model")
	}
	if r.Get("b") == a {
		t.Error("expected distinct breaker per model")
	}
}

func TestBreakers_States(t *testing.T) {
	r := NewBreakers(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	_, _ = Call(context.Background(), r.Get("bad"), fail)
	_, _ = Call(context.Background(), r.Get("good"), succeed)

	states := r.States()
	if states["bad"] != CircuitOpen {
		t.Errorf("expected bad open, got %s", states["bad"])
	}
	if states["good"] != CircuitClosed {
		t.Errorf("expected good closed, got %s", states["good"])
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half-open",
		CircuitState(99): "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("expected %q, got %q", want, s.String())
		}
	}
}
