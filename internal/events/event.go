// Package events defines the detector's event stream and a bus that fans
// it out to UI clients and sinks.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes status lines from match reports.
type Kind string

const (
	KindStatus Kind = "status"
	KindMatch  Kind = "match"
)

// Match reports one dispatch triggered by a match.
type Match struct {
	Score     float64 `json:"score" msgpack:"score"`
	Succeeded int     `json:"succeeded" msgpack:"succeeded"`
	Total     int     `json:"total" msgpack:"total"`
	// New is false for a re-alert of an already counted match.
	New          bool `json:"new" msgpack:"new"`
	TotalMatches int  `json:"total_matches" msgpack:"total_matches"`
}

// Event is one entry of the stream.
type Event struct {
	ID     string    `json:"id" msgpack:"id"`
	Kind   Kind      `json:"kind" msgpack:"kind"`
	At     time.Time `json:"at" msgpack:"at"`
	Status string    `json:"status,omitempty" msgpack:"status,omitempty"`
	Match  *Match    `json:"match,omitempty" msgpack:"match,omitempty"`
}

// Status builds a status event.
func Status(at time.Time, text string) Event {
	return Event{ID: uuid.NewString(), Kind: KindStatus, At: at, Status: text}
}

// MatchEvent builds a match event.
func MatchEvent(at time.Time, m Match) Event {
	return Event{ID: uuid.NewString(), Kind: KindMatch, At: at, Match: &m}
}
