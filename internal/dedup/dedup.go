// Package dedup tells a new real-world match apart from a re-alert of
// one that was already counted.
package dedup

import (
	"time"

	"github.com/GriffinCanCode/omnicall/internal/dispatch"
)

// DefaultWindow is how long after a counted match further alerts are
// treated as repeats.
const DefaultWindow = 60 * time.Second

// State is the persisted match counter. TotalMatches only increases and
// LastMatchAt only moves forward.
type State struct {
	TotalMatches int        `json:"total_matches"`
	LastMatchAt  *time.Time `json:"last_match_ts,omitempty"`
}

// Deduplicator applies the repeat window.
type Deduplicator struct {
	window time.Duration
}

// New creates a deduplicator; a non-positive window uses DefaultWindow.
func New(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{window: window}
}

// Window returns the repeat window.
func (d *Deduplicator) Window() time.Duration { return d.window }

// RecordIfNewMatch returns the next state and whether res counts as a new
// match. Nothing is counted unless at least one device was reached. A
// LastMatchAt in the future relative to now is inside the window.
func (d *Deduplicator) RecordIfNewMatch(res dispatch.Result, prev State, now time.Time) (State, bool) {
	if res.Succeeded == 0 {
		return prev, false
	}
	if prev.LastMatchAt != nil && now.Sub(*prev.LastMatchAt) < d.window {
		return prev, false
	}
	at := now
	return State{TotalMatches: prev.TotalMatches + 1, LastMatchAt: &at}, true
}

// Merge combines two views of the same counter without moving it backwards.
func Merge(a, b State) State {
	out := a
	if b.TotalMatches > out.TotalMatches {
		out.TotalMatches = b.TotalMatches
	}
	if b.LastMatchAt != nil && (out.LastMatchAt == nil || b.LastMatchAt.After(*out.LastMatchAt)) {
		t := *b.LastMatchAt
		out.LastMatchAt = &t
	}
	return out
}
