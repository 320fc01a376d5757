package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/omnicall/internal/dedup"
	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/store"
)

func TestAsInt(t *testing.T) {
	assert.Equal(t, int64(7), asInt(int64(7)))
	assert.Equal(t, int64(3), asInt(3.0))
	assert.Equal(t, int64(0), asInt("7"))
	assert.Equal(t, int64(0), asInt(nil))
}

func TestStateFrom(t *testing.T) {
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	got := stateFrom(map[string]any{fieldMatchesFound: int64(4), fieldLastMatchAt: at})
	assert.Equal(t, 4, got.TotalMatches)
	require.NotNil(t, got.LastMatchAt)
	assert.True(t, got.LastMatchAt.Equal(at))

	assert.Equal(t, dedup.State{}, stateFrom(map[string]any{fieldLastMatchAt: time.Time{}}))
}

// openEmulator connects to FIRESTORE_EMULATOR_HOST or skips.
func openEmulator(t *testing.T, owner string) *Store {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	client, err := firestore.NewClient(context.Background(), "omnicall-test")
	require.NoError(t, err)
	s := New(client, owner)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEmulatorRoundTrip(t *testing.T) {
	owner := store.NewUserID("emulator")
	s := openEmulator(t, owner)
	ctx := context.Background()

	require.NoError(t, s.AddToken(ctx, owner, "tok-1"))
	require.NoError(t, s.AddToken(ctx, owner, "tok-1"))
	tokens, err := s.ListTokens(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-1"}, tokens)

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.SaveLastMatch(ctx, owner, dedup.State{TotalMatches: 2, LastMatchAt: &at}))
	require.NoError(t, s.SaveLastMatch(ctx, owner, dedup.State{TotalMatches: 1}))

	st, err := s.LoadLastMatch(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalMatches)

	require.NoError(t, s.IncrementSends(ctx, 2))
	p, _, err := s.FetchStats(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, p.NotificationsSent)

	_, _, err = s.FetchStats(ctx, "ghost-"+owner)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}
