package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.resetAfter != 30*time.Second {
		t.Errorf("resetAfter = %v, want 30s", b.resetAfter)
	}
	if b.probeMax != 3 {
		t.Errorf("probeMax = %d, want 3", b.probeMax)
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3})
	for range 3 {
		if err := b.Do(func() error { return errTest }); !errors.Is(err, errTest) {
			t.Fatalf("Do = %v, want errTest", err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Do while open = %v, want ErrOpen", err)
	}
	if called {
		t.Fatal("fn must not run while the breaker is open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 2})
	b.Do(func() error { return errTest })
	b.Do(func() error { return nil })
	b.Do(func() error { return errTest })
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		Name:        "test",
		MaxFailures: 1,
		ResetAfter:  10 * time.Millisecond,
		ProbeMax:    2,
	})
	b.Do(func() error { return errTest })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	for range 2 {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe failed: %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state after probes = %v, want closed", b.State())
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		Name:        "test",
		MaxFailures: 1,
		ResetAfter:  10 * time.Millisecond,
		ProbeMax:    2,
	})
	b.Do(func() error { return errTest })

	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return errTest }); !errors.Is(err, errTest) {
		t.Fatalf("probe = %v, want errTest", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state after failed probe = %v, want open", b.State())
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("Do after re-open = %v, want ErrOpen", err)
	}
}
