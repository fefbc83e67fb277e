package risk

import (
	"testing"
	"time"
)

func newTestBreaker(max int, window time.Duration) (*CircuitBreaker, *time.Time) {
	clock := time.Unix(1700000000, 0)
	cb := NewCircuitBreaker(CircuitConfig{MaxCrashes: max, Window: window})
	cb.now = func() time.Time { return clock }
	return cb, &clock
}

func TestCircuitBreaker_TripsAfterMaxCrashes(t *testing.T) {
	cb, clock := newTestBreaker(3, 10*time.Minute)

	for i := 0; i < 3; i++ {
		if !cb.RecordCrash(1) {
			t.Fatalf("crash %d should still allow a restart", i+1)
		}
		*clock = clock.Add(time.Minute)
	}

	if cb.RecordCrash(1) {
		t.Fatal("4th crash inside the window should trip")
	}
	if !cb.IsTripped(1) {
		t.Error("breaker should report open")
	}
	if cb.IsTripped(2) {
		t.Error("other bots are unaffected")
	}

	// stays open without a reset
	*clock = clock.Add(time.Hour)
	if cb.RecordCrash(1) {
		t.Error("tripped bot must stay blocked until reset")
	}
}

func TestCircuitBreaker_WindowExpiresCrashes(t *testing.T) {
	cb, clock := newTestBreaker(2, 10*time.Minute)

	cb.RecordCrash(1)
	cb.RecordCrash(1)
	if got := cb.Recent(1); got != 2 {
		t.Fatalf("expected 2 recent crashes, got %d", got)
	}

	// ran cleanly for longer than the window
	*clock = clock.Add(11 * time.Minute)
	if got := cb.Recent(1); got != 0 {
		t.Errorf("expected crashes to expire, got %d", got)
	}
	if !cb.RecordCrash(1) {
		t.Error("budget should be restored after the window")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)

	cb.RecordCrash(1)
	if cb.RecordCrash(1) {
		t.Fatal("Should be tripped")
	}

	cb.Reset(1)
	if cb.IsTripped(1) {
		t.Error("Should not be tripped after reset")
	}
	if cb.State(1) != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State(1))
	}
}

func TestCircuitBreaker_Unlimited(t *testing.T) {
	cb, _ := newTestBreaker(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !cb.RecordCrash(1) {
			t.Fatal("zero max means no limit")
		}
	}
}
