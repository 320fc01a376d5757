// Package cooldown decides when the detector may sample the screen and
// how long to hold off after a match.
package cooldown

import "time"

// MinCooldown is the shortest hold-off either duration is raised to.
const MinCooldown = time.Second

// Phase is the gate state seen by the worker loop.
type Phase int

const (
	Idle       Phase = iota // not running
	Armed                   // sampling every tick
	Suppressed              // inside a cooldown window
)

func (p Phase) String() string {
	switch p {
	case Armed:
		return "ARMED"
	case Suppressed:
		return "SUPPRESSED"
	default:
		return "IDLE"
	}
}

// Policy is the threshold and the two hold-off durations.
type Policy struct {
	Threshold       float64
	Debounce        time.Duration // after at least one device was reached
	FailureCooldown time.Duration // after nobody was reached
}

// Machine tracks one run. It is owned by the worker goroutine and is not
// safe for concurrent use.
type Machine struct {
	policy Policy
	phase  Phase
	until  time.Time
}

// New returns a machine in Idle.
func New(p Policy) *Machine {
	p.Debounce = max(p.Debounce, MinCooldown)
	p.FailureCooldown = max(p.FailureCooldown, MinCooldown)
	return &Machine{policy: p}
}

// Arm starts a run with no active cooldown.
func (m *Machine) Arm() {
	m.phase = Armed
	m.until = time.Time{}
}

// Reset returns to Idle and forgets any cooldown.
func (m *Machine) Reset() {
	m.phase = Idle
	m.until = time.Time{}
}

// Ready reports whether a tick at now may sample, updating the phase.
// A machine that was never armed is never ready.
func (m *Machine) Ready(now time.Time) bool {
	if m.phase == Idle {
		return false
	}
	if now.Before(m.until) {
		m.phase = Suppressed
		return false
	}
	m.phase = Armed
	return true
}

// Triggered reports whether score meets the threshold.
func (m *Machine) Triggered(score float64) bool {
	return score >= m.policy.Threshold
}

// Record applies a dispatch outcome observed at now and returns the end
// of the new cooldown window.
func (m *Machine) Record(now time.Time, succeeded int) time.Time {
	if succeeded > 0 {
		m.until = now.Add(m.policy.Debounce)
	} else {
		m.until = now.Add(m.policy.FailureCooldown)
	}
	m.phase = Suppressed
	return m.until
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Until returns the end of the current cooldown window; zero when none.
func (m *Machine) Until() time.Time { return m.until }

// Policy returns the configured policy.
func (m *Machine) Policy() Policy { return m.policy }
