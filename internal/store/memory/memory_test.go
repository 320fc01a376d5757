package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/omnicall/internal/dedup"
	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/store"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.Local)

func newStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := New(Options{Owner: "me", Tokens: []string{"tok-a", "tok-b"}, StateFile: path, Clock: func() time.Time { return t0 }})
	require.NoError(t, err)
	return s
}

func TestListTokens(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()

	tokens, err := s.ListTokens(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a", "tok-b"}, tokens)

	tokens[0] = "mutated"
	again, _ := s.ListTokens(ctx, "me")
	assert.Equal(t, "tok-a", again[0])

	other, err := s.ListTokens(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMatchStatePersistsAndStaysMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()
	s := newStore(t, path)

	at := t0
	require.NoError(t, s.SaveLastMatch(ctx, "me", dedup.State{TotalMatches: 3, LastMatchAt: &at}))

	earlier := t0.Add(-time.Hour)
	require.NoError(t, s.SaveLastMatch(ctx, "me", dedup.State{TotalMatches: 1, LastMatchAt: &earlier}))

	reopened := newStore(t, path)
	got, err := reopened.LoadLastMatch(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalMatches)
	require.NotNil(t, got.LastMatchAt)
	assert.True(t, got.LastMatchAt.Equal(t0))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"total_matches": 3`)
	assert.Contains(t, string(raw), `"last_match_ts"`)
}

func TestCountersAndStats(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "")

	require.NoError(t, s.IncrementSends(ctx, 2))
	require.NoError(t, s.IncrementSends(ctx, 1))
	require.NoError(t, s.IncrementMatches(ctx, 1))

	id, err := s.RegisterUser(ctx, "Living Room PC")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "living-room-pc-"))

	personal, global, err := s.FetchStats(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, 3, personal.NotificationsSent)
	assert.Equal(t, store.GlobalStats{TotalUsers: 1, TotalSends: 3, TotalMatches: 1, UsersToday: 1, UpdatedAt: global.UpdatedAt}, global)

	p2, _, err := s.FetchStats(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, p2.UserID)

	_, _, err = s.FetchStats(ctx, "ghost")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestSubmitFeedback(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "")

	require.NoError(t, s.SubmitFeedback(ctx, store.Feedback{UserID: "me", DisplayName: "Amr", Message: "love it"}))
	assert.Len(t, s.state.Feedback, 1)

	err := s.SubmitFeedback(ctx, store.Feedback{UserID: "me"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidConfig))
}

func TestCorruptStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := New(Options{Owner: "me", StateFile: path})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStoreUnavailable))
}
