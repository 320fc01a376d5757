// Package store defines the persistence surface shared by every backend:
// device tokens, match state, usage counters, user registration and
// feedback. Backends live in subpackages.
package store

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/omnicall/internal/dedup"
	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
)

const (
	// MaxFeedbackLength bounds a feedback message in characters.
	MaxFeedbackLength = 10000
	// SuffixLength is the length of the random part of a user ID.
	SuffixLength = 16
	// DayLayout formats the daily stats key.
	DayLayout = "2006-01-02"
)

// PersonalStats are one user's counters.
type PersonalStats struct {
	UserID            string     `json:"user_id"`
	MatchesFound      int        `json:"matches_found"`
	NotificationsSent int        `json:"notifications_sent"`
	LastMatchAt       *time.Time `json:"last_match_at,omitempty"`
}

// GlobalStats are counters across all users.
type GlobalStats struct {
	TotalUsers   int64      `json:"total_users"`
	TotalSends   int64      `json:"total_sends"`
	TotalMatches int64      `json:"total_matches"`
	UsersToday   int64      `json:"users_today"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// Feedback is a free-text message from a user.
type Feedback struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Message     string `json:"message"`
}

// Backend is implemented by every store. Counter methods apply to the
// backend's owner, the user the detector runs for.
type Backend interface {
	ListTokens(ctx context.Context, userID string) ([]string, error)

	IncrementSends(ctx context.Context, n int) error
	IncrementMatches(ctx context.Context, n int) error
	RecordUserRegistered(ctx context.Context) error

	LoadLastMatch(ctx context.Context, userID string) (dedup.State, error)
	SaveLastMatch(ctx context.Context, userID string, s dedup.State) error

	RegisterUser(ctx context.Context, label string) (string, error)
	SubmitFeedback(ctx context.Context, f Feedback) error
	FetchStats(ctx context.Context, userID string) (PersonalStats, GlobalStats, error)

	Close() error
}

// NewUserID derives a user ID from a display label: the slugged label,
// a dash and a random lowercase suffix. An empty label yields the suffix
// alone.
func NewUserID(label string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:SuffixLength]
	if base := Slug(label); base != "" {
		return base + "-" + suffix
	}
	return suffix
}

// Slug lowercases label and replaces whitespace runs with a dash.
func Slug(label string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(label)), unicode.IsSpace)
	return strings.Join(fields, "-")
}

// DayKey returns the daily stats key for t in local time.
func DayKey(t time.Time) string {
	return t.Local().Format(DayLayout)
}

// ValidateFeedback checks f before it is stored.
func ValidateFeedback(f Feedback) error {
	if strings.TrimSpace(f.UserID) == "" || strings.TrimSpace(f.DisplayName) == "" || strings.TrimSpace(f.Message) == "" {
		return apperrors.New(apperrors.CodeInvalidConfig, "user id, display name and message are required")
	}
	if len([]rune(f.Message)) > MaxFeedbackLength {
		return apperrors.Newf(apperrors.CodeInvalidConfig, "message must be under %d characters", MaxFeedbackLength)
	}
	return nil
}

// TokenWriter is implemented by backends that can register device tokens
// themselves rather than reading them from config.
type TokenWriter interface {
	AddToken(ctx context.Context, userID, token string) error
}
