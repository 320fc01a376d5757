package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/omnicall/internal/dedup"
	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/resilience"
)

func TestNewUserID(t *testing.T) {
	id := NewUserID("  Amr  Khaled ")
	require.True(t, strings.HasPrefix(id, "amr-khaled-"), id)
	assert.Len(t, strings.TrimPrefix(id, "amr-khaled-"), SuffixLength)

	bare := NewUserID("")
	assert.Len(t, bare, SuffixLength)
	assert.NotEqual(t, bare, NewUserID(""))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "my-gaming-pc", Slug("My  Gaming\tPC"))
	assert.Equal(t, "", Slug("   "))
}

func TestDayKey(t *testing.T) {
	d := time.Date(2026, 2, 3, 12, 0, 0, 0, time.Local)
	assert.Equal(t, "2026-02-03", DayKey(d))
}

func TestValidateFeedback(t *testing.T) {
	ok := Feedback{UserID: "u", DisplayName: "n", Message: "works great"}
	assert.NoError(t, ValidateFeedback(ok))

	missing := ok
	missing.DisplayName = " "
	assert.True(t, apperrors.IsCode(ValidateFeedback(missing), apperrors.CodeInvalidConfig))

	long := ok
	long.Message = strings.Repeat("x", MaxFeedbackLength+1)
	assert.Error(t, ValidateFeedback(long))
}

// failingBackend fails every guarded call and counts attempts.
type failingBackend struct {
	Backend
	calls int
}

func (f *failingBackend) IncrementSends(context.Context, int) error {
	f.calls++
	return errors.New("connection refused")
}

func (f *failingBackend) LoadLastMatch(context.Context, string) (dedup.State, error) {
	f.calls++
	return dedup.State{}, errors.New("connection refused")
}

func TestGuardOpensAfterFailures(t *testing.T) {
	fb := &failingBackend{}
	g := Guard(fb, resilience.Config{Name: "test", Threshold: 2, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := g.IncrementSends(ctx, 1)
		require.Error(t, err)
		assert.False(t, apperrors.IsCode(err, apperrors.CodeStoreUnavailable))
	}
	assert.Equal(t, resilience.Open, g.Breaker().State())

	err := g.IncrementSends(ctx, 1)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStoreUnavailable), "err = %v", err)
	_, err = g.LoadLastMatch(ctx, "u")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStoreUnavailable))
	assert.Equal(t, 2, fb.calls, "open breaker skips the backend")
}
