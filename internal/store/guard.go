package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/GriffinCanCode/omnicall/internal/dedup"
	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/resilience"
)

// Guarded wraps a Backend so that the calls made on every match go through
// a circuit breaker. While the breaker is open they fail immediately with
// STORE_UNAVAILABLE. Registration, feedback and stats pass straight
// through.
type Guarded struct {
	Backend
	breaker *resilience.Breaker
}

// Guard wraps b with a breaker built from cfg.
func Guard(b Backend, cfg resilience.Config) *Guarded {
	breaker := resilience.New(cfg).WithHook(func(from, to resilience.State) {
		slog.Warn("store circuit breaker state change", "store", cfg.Name, "from", from.String(), "to", to.String())
	})
	return &Guarded{Backend: b, breaker: breaker}
}

// Breaker exposes the underlying breaker.
func (g *Guarded) Breaker() *resilience.Breaker { return g.breaker }

func (g *Guarded) ListTokens(ctx context.Context, userID string) ([]string, error) {
	tokens, err := resilience.ExecuteWithResult(g.breaker, func() ([]string, error) {
		return g.Backend.ListTokens(ctx, userID)
	})
	return tokens, g.wrap(err)
}

func (g *Guarded) IncrementSends(ctx context.Context, n int) error {
	return g.wrap(g.breaker.Execute(func() error { return g.Backend.IncrementSends(ctx, n) }))
}

func (g *Guarded) IncrementMatches(ctx context.Context, n int) error {
	return g.wrap(g.breaker.Execute(func() error { return g.Backend.IncrementMatches(ctx, n) }))
}

func (g *Guarded) RecordUserRegistered(ctx context.Context) error {
	return g.wrap(g.breaker.Execute(func() error { return g.Backend.RecordUserRegistered(ctx) }))
}

func (g *Guarded) LoadLastMatch(ctx context.Context, userID string) (dedup.State, error) {
	s, err := resilience.ExecuteWithResult(g.breaker, func() (dedup.State, error) {
		return g.Backend.LoadLastMatch(ctx, userID)
	})
	return s, g.wrap(err)
}

func (g *Guarded) SaveLastMatch(ctx context.Context, userID string, s dedup.State) error {
	return g.wrap(g.breaker.Execute(func() error { return g.Backend.SaveLastMatch(ctx, userID, s) }))
}

func (g *Guarded) wrap(err error) error {
	if errors.Is(err, resilience.ErrOpen) {
		return apperrors.Wrap(err, apperrors.CodeStoreUnavailable, "store temporarily unavailable").WithMetadata("store", g.breaker.Name())
	}
	return err
}
