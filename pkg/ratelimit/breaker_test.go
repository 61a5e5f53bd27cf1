package ratelimit

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream down")

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Minute)

	failing := func() error { return errUpstream }
	for i := 0; i < 4; i++ {
		if err := cb.Execute(failing); !errors.Is(err, errUpstream) {
			t.Fatalf("Expected upstream error, got %v", err)
		}
		if cb.State() != CircuitClosed {
			t.Fatalf("Expected circuit closed after %d failures, got %s", i+1, cb.State())
		}
	}

	// Fifth failure trips the circuit
	if err := cb.Execute(failing); !errors.Is(err, errUpstream) {
		t.Fatalf("Expected upstream error, got %v", err)
	}
	if cb.State() != CircuitOpen {
		t.Errorf("Expected circuit open after threshold, got %s", cb.State())
	}
}

func TestCircuitBreakerRejectsWithoutInvoking(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	_ = cb.Execute(func() error { return errUpstream })
	if cb.State() != CircuitOpen {
		t.Fatalf("Expected open circuit, got %s", cb.State())
	}

	invoked := false
	err := cb.Execute(func() error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Error("Expected operation not to be invoked while circuit open")
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	current := time.Now()
	cb.now = func() time.Time { return current }

	_ = cb.Execute(func() error { return errUpstream })
	if cb.State() != CircuitOpen {
		t.Fatalf("Expected open circuit, got %s", cb.State())
	}

	// After the cooldown a single probe goes through
	current = current.Add(61 * time.Second)
	err := cb.Execute(func() error { return nil })
	if err != nil {
		t.Errorf("Expected probe to succeed, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("Expected circuit closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	current := time.Now()
	cb.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errUpstream })
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("Expected open circuit, got %s", cb.State())
	}

	// A failed probe re-opens immediately, well below the threshold count
	current = current.Add(61 * time.Second)
	_ = cb.Execute(func() error { return errUpstream })
	if cb.State() != CircuitOpen {
		t.Errorf("Expected circuit re-opened after failed probe, got %s", cb.State())
	}

	// And it keeps rejecting within the new cooldown
	invoked := false
	err := cb.Execute(func() error { invoked = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || invoked {
		t.Errorf("Expected rejection after re-open, err=%v invoked=%v", err, invoked)
	}
}
