package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

var errIgnored = errors.New("ignored")

func newTestBreaker(threshold int, reset time.Duration, listener StateListener) *CircuitBreaker {
	return NewCircuitBreaker("test", BreakerOptions{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
		OnStateChange:    listener,
	}, zap.NewNop(), errIgnored)
}

func TestCircuitBreaker_States(t *testing.T) {
	var transitions []CircuitState
	cb := newTestBreaker(3, 50*time.Millisecond, func(name string, state CircuitState) {
		transitions = append(transitions, state)
	})

	if state := cb.GetState(); state != CircuitClosed {
		t.Fatalf("Expected initial state CLOSED, got %v", state)
	}

	testErr := errors.New("test error")
	ctx := context.Background()

	// Открываем circuit breaker серией ошибок
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, "op", func(ctx context.Context) error { return testErr }); err != testErr {
			t.Fatalf("Expected test error, got %v", err)
		}
	}
	if state := cb.GetState(); state != CircuitOpen {
		t.Fatalf("Expected OPEN after 3 failures, got %v", state)
	}

	// При открытом circuit breaker функция не вызывается
	called := false
	err := cb.Execute(ctx, "op", func(ctx context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Error("Operation was called while circuit is open")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}

	// После таймаута пробный вызов закрывает circuit breaker
	time.Sleep(60 * time.Millisecond)
	if err := cb.Execute(ctx, "op", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Expected probe to succeed, got %v", err)
	}
	if state := cb.GetState(); state != CircuitClosed {
		t.Fatalf("Expected CLOSED after successful probe, got %v", state)
	}

	want := []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}
	if len(transitions) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %v, got %v", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond, nil)
	ctx := context.Background()
	testErr := errors.New("down")

	_ = cb.Execute(ctx, "op", func(ctx context.Context) error { return testErr })
	time.Sleep(20 * time.Millisecond)
	_ = cb.Execute(ctx, "op", func(ctx context.Context) error { return testErr })

	if state := cb.GetState(); state != CircuitOpen {
		t.Errorf("Expected OPEN after failed probe, got %v", state)
	}
}

func TestCircuitBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	cb := newTestBreaker(1, time.Second, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, "lookup", func(ctx context.Context) error { return errIgnored })
		if !errors.Is(err, errIgnored) {
			t.Fatalf("Expected ignored error to be returned, got %v", err)
		}
	}

	if state := cb.GetState(); state != CircuitClosed {
		t.Errorf("Expected CLOSED, ignored errors must not count, got %v", state)
	}
}

func TestCircuitBreaker_SingleProbeInHalfOpen(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond, nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, "op", func(ctx context.Context) error { return errors.New("down") })
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(ctx, "probe", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := cb.Execute(ctx, "second", func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected concurrent call during probe to be rejected, got %v", err)
	}

	close(release)
	wg.Wait()

	if state := cb.GetState(); state != CircuitClosed {
		t.Errorf("Expected CLOSED after probe, got %v", state)
	}
}

func TestCircuitBreaker_ZeroThresholdOpensOnFirstFailure(t *testing.T) {
	cb := newTestBreaker(0, time.Second, nil)

	_ = cb.Execute(context.Background(), "op", func(ctx context.Context) error {
		return errors.New("test error")
	})

	if state := cb.GetState(); state != CircuitOpen {
		t.Errorf("Expected OPEN with zero threshold, got %v", state)
	}
}

func TestCircuitState_String(t *testing.T) {
	if CircuitHalfOpen.String() != "HALF_OPEN" || CircuitState(42).String() != "UNKNOWN" {
		t.Error("unexpected state names")
	}
}
