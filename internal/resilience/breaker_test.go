package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for range 3 {
		_ = b.Execute(func() error { return errBoom })
	}

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("circuit should still be closed: %v", err)
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	current := time.Now()
	b.now = func() time.Time { return current }

	_ = b.Execute(func() error { return errBoom })
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}

	current = current.Add(2 * time.Minute)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe should succeed: %v", err)
	}

	// A successful probe closes the circuit again.
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("circuit should be closed: %v", err)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	current := time.Now()
	b.now = func() time.Time { return current }

	_ = b.Execute(func() error { return errBoom })
	current = current.Add(2 * time.Minute)
	_ = b.Execute(func() error { return errBoom })

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected reopened circuit, got %v", err)
	}
}
