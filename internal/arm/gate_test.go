package arm

import (
	"errors"
	"testing"
	"time"
)

func TestCheckWithinTTL(t *testing.T) {
	gate := NewGate(true, 15*time.Minute)
	armedAt := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	gate.RequestArm(1, armedAt)

	if err := gate.Check(armedAt.Add(14*time.Minute+59*time.Second), true); err != nil {
		t.Fatalf("expected check to pass just before expiry, got %v", err)
	}
}

func TestCheckAfterTTL(t *testing.T) {
	gate := NewGate(true, 15*time.Minute)
	armedAt := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	gate.RequestArm(1, armedAt)

	err := gate.Check(armedAt.Add(15*time.Minute+1*time.Second), true)
	if !errors.Is(err, ErrNotArmed) {
		t.Fatalf("expected ErrNotArmed after expiry, got %v", err)
	}
}

func TestCheckAtExactExpiryFails(t *testing.T) {
	gate := NewGate(true, 15*time.Minute)
	armedAt := time.Now()
	gate.RequestArm(1, armedAt)
	if err := gate.Check(armedAt.Add(15*time.Minute), true); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("expected ErrNotArmed at exact expiry, got %v", err)
	}
}

func TestDestructiveCheckConsumesArm(t *testing.T) {
	gate := NewGate(true, 15*time.Minute)
	now := time.Now()
	gate.RequestArm(1, now)

	if err := gate.Check(now.Add(time.Minute), true); err != nil {
		t.Fatalf("first check should pass, got %v", err)
	}
	if err := gate.Check(now.Add(2*time.Minute), true); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("second check should fail after consumption, got %v", err)
	}
}

func TestNonDestructiveCheckDoesNotConsume(t *testing.T) {
	gate := NewGate(true, 15*time.Minute)
	now := time.Now()
	gate.RequestArm(1, now)

	if err := gate.Check(now.Add(time.Minute), false); err != nil {
		t.Fatalf("non-destructive check should pass, got %v", err)
	}
	if err := gate.Check(now.Add(2*time.Minute), true); err != nil {
		t.Fatalf("arm should survive non-destructive checks, got %v", err)
	}
}

func TestRequireArmDisabled(t *testing.T) {
	gate := NewGate(false, 15*time.Minute)
	if err := gate.Check(time.Now(), true); err != nil {
		t.Fatalf("check should always pass when arming is not required, got %v", err)
	}
}

func TestRearmResetsExpiry(t *testing.T) {
	gate := NewGate(true, 15*time.Minute)
	first := time.Now()
	gate.RequestArm(1, first)
	second := first.Add(10 * time.Minute)
	expires := gate.RequestArm(2, second)
	if !expires.Equal(second.Add(15 * time.Minute)) {
		t.Fatalf("expected expiry reset from second arm, got %v", expires)
	}
	if err := gate.Check(first.Add(20*time.Minute), true); err != nil {
		t.Fatalf("expected re-armed gate to pass, got %v", err)
	}
}

func TestDisarm(t *testing.T) {
	gate := NewGate(true, 15*time.Minute)
	now := time.Now()
	gate.RequestArm(1, now)
	gate.Disarm()
	if err := gate.Check(now.Add(time.Second), true); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("expected ErrNotArmed after disarm, got %v", err)
	}
}

func TestStatusReportsLazyExpiry(t *testing.T) {
	gate := NewGate(true, 15*time.Minute)
	now := time.Now()
	gate.RequestArm(42, now)

	armed, by, expires := gate.Status(now.Add(time.Minute))
	if !armed || by != 42 || expires.IsZero() {
		t.Fatalf("expected armed status, got armed=%v by=%d expires=%v", armed, by, expires)
	}
	armed, _, _ = gate.Status(now.Add(16 * time.Minute))
	if armed {
		t.Fatalf("expected status to report disarmed after expiry")
	}
}
