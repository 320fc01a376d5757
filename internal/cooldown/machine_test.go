package cooldown

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func newArmed() *Machine {
	m := New(Policy{Threshold: 0.8, Debounce: 10 * time.Second, FailureCooldown: 3 * time.Second})
	m.Arm()
	return m
}

func TestIdleUntilArmed(t *testing.T) {
	m := New(Policy{Threshold: 0.8, Debounce: time.Second, FailureCooldown: time.Second})

	if m.Phase() != Idle {
		t.Errorf("initial phase = %v, want IDLE", m.Phase())
	}
	if m.Ready(t0) {
		t.Error("idle machine should not be ready")
	}

	m.Arm()
	if !m.Ready(t0) || m.Phase() != Armed {
		t.Errorf("armed machine not ready, phase %v", m.Phase())
	}
}

func TestThreshold(t *testing.T) {
	m := newArmed()
	tests := []struct {
		score float64
		want  bool
	}{
		{0.79, false},
		{0.8, true},
		{0.95, true},
		{-1, false},
	}
	for _, tt := range tests {
		if got := m.Triggered(tt.score); got != tt.want {
			t.Errorf("Triggered(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestDebounceSuppressesExactly(t *testing.T) {
	m := newArmed()

	until := m.Record(t0, 2)
	if !until.Equal(t0.Add(10 * time.Second)) {
		t.Fatalf("until = %v", until)
	}

	if m.Ready(t0.Add(10*time.Second - time.Nanosecond)) {
		t.Error("tick just before debounce end should be suppressed")
	}
	if m.Phase() != Suppressed {
		t.Errorf("phase = %v, want SUPPRESSED", m.Phase())
	}
	if !m.Ready(t0.Add(10 * time.Second)) {
		t.Error("tick at debounce end should sample")
	}
	if m.Phase() != Armed {
		t.Errorf("phase = %v, want ARMED", m.Phase())
	}
}

func TestFailureCooldownIsShorter(t *testing.T) {
	m := newArmed()

	until := m.Record(t0, 0)
	if !until.Equal(t0.Add(3 * time.Second)) {
		t.Fatalf("until = %v, want failure cooldown", until)
	}
	if m.Ready(t0.Add(2 * time.Second)) {
		t.Error("should be suppressed inside failure cooldown")
	}
	if !m.Ready(t0.Add(3 * time.Second)) {
		t.Error("should sample after failure cooldown")
	}
}

func TestResetClearsCooldown(t *testing.T) {
	m := newArmed()
	m.Record(t0, 1)
	m.Reset()

	if m.Phase() != Idle || !m.Until().IsZero() {
		t.Errorf("after Reset: phase=%v until=%v", m.Phase(), m.Until())
	}

	m.Arm()
	if !m.Ready(t0) {
		t.Error("re-armed machine should not inherit old cooldown")
	}
}

func TestPhaseString(t *testing.T) {
	for p, want := range map[Phase]string{Idle: "IDLE", Armed: "ARMED", Suppressed: "SUPPRESSED"} {
		if p.String() != want {
			t.Errorf("%d.String() = %q, want %q", p, p.String(), want)
		}
	}
}

func TestCooldownFloor(t *testing.T) {
	m := New(Policy{Threshold: 0.5, Debounce: 10 * time.Millisecond, FailureCooldown: time.Millisecond})
	m.Arm()
	if until := m.Record(t0, 0); !until.Equal(t0.Add(MinCooldown)) {
		t.Fatalf("failure cooldown until = %v, want %v", until, t0.Add(MinCooldown))
	}
	if until := m.Record(t0, 1); !until.Equal(t0.Add(MinCooldown)) {
		t.Fatalf("debounce until = %v, want %v", until, t0.Add(MinCooldown))
	}
}
