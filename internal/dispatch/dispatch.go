// Package dispatch fans one notification out to every device a user has
// registered and reports what happened to each send.
package dispatch

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/trace"
)

// Notification is the payload delivered to each device.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// TokenRegistry resolves a user's current device tokens.
type TokenRegistry interface {
	ListTokens(ctx context.Context, userID string) ([]string, error)
}

// Transport performs one send. The deadline arrives through ctx.
// detail is a short human-readable reason, never the token.
type Transport interface {
	SendOne(ctx context.Context, token string, n Notification) (ok bool, detail string)
}

// StatsSink records aggregate counters.
type StatsSink interface {
	IncrementSends(ctx context.Context, n int) error
	IncrementMatches(ctx context.Context, n int) error
	RecordUserRegistered(ctx context.Context) error
}

// Outcome is the result of one send.
type Outcome struct {
	TokenPrefix string `json:"token"`
	OK          bool   `json:"ok"`
	Detail      string `json:"detail,omitempty"`
}

// Result aggregates one fan-out. Outcomes are in token order.
type Result struct {
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Outcomes  []Outcome `json:"outcomes,omitempty"`
}

// Options tune a Dispatcher.
type Options struct {
	SendTimeout    time.Duration
	MaxConcurrency int
}

// Dispatcher sends to every token of a user, once each.
type Dispatcher struct {
	tokens    TokenRegistry
	transport Transport
	stats     StatsSink
	opts      Options
}

// New creates a dispatcher. stats may be nil.
func New(tokens TokenRegistry, transport Transport, stats StatsSink, opts Options) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Dispatcher{tokens: tokens, transport: transport, stats: stats, opts: opts}
}

// Dispatch resolves userID's tokens and sends n to each of them.
// A user with no tokens yields an empty result and no error. A registry
// failure yields an empty result and a DISPATCH_TRANSPORT error.
// Sends are never retried.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, n Notification) (Result, error) {
	ctx, span := trace.StartSpan(ctx, "dispatch")
	log := trace.Logger(ctx)

	tokens, err := d.tokens.ListTokens(ctx, userID)
	if err != nil {
		err = apperrors.Wrap(err, apperrors.CodeDispatchTransport, "list device tokens").WithMetadata("user", userID)
		span.End(err)
		return Result{}, err
	}
	if len(tokens) == 0 {
		log.Info("no registered devices", "user", userID)
		span.End(nil)
		return Result{}, nil
	}

	res := Result{Attempted: len(tokens), Outcomes: make([]Outcome, len(tokens))}
	sem := make(chan struct{}, d.opts.MaxConcurrency)
	var wg sync.WaitGroup
	for i, token := range tokens {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, token string) {
			defer wg.Done()
			defer func() { <-sem }()
			res.Outcomes[i] = d.sendOne(ctx, token, n)
		}(i, token)
	}
	wg.Wait()

	for _, o := range res.Outcomes {
		if o.OK {
			res.Succeeded++
		} else {
			log.Warn("push send failed", "token", o.TokenPrefix, "detail", o.Detail)
		}
	}

	if res.Succeeded > 0 && d.stats != nil {
		if err := d.stats.IncrementSends(ctx, res.Succeeded); err != nil {
			log.Warn("stats update failed", "error", apperrors.Wrap(err, apperrors.CodeStatsUpdate, "increment sends"))
		}
	}

	span.SetAttr("attempted", res.Attempted)
	span.SetAttr("succeeded", res.Succeeded)
	span.End(nil)
	log.Info("dispatch complete", "user", userID, "attempted", res.Attempted, "succeeded", res.Succeeded)
	return res, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, token string, n Notification) (out Outcome) {
	out.TokenPrefix = TokenPrefix(token)

	// A panicking transport counts as a failed send.
	defer func() {
		if r := recover(); r != nil {
			out.OK = false
			out.Detail = "transport panic"
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	ok, detail := d.transport.SendOne(sendCtx, token, n)
	if !ok && detail == "" && sendCtx.Err() != nil {
		detail = sendCtx.Err().Error()
	}
	out.OK = ok
	out.Detail = truncate(detail, MaxDetailLength)
	return out
}

// TokenPrefix returns a loggable identifier for a token: its first
// TokenPrefixLength characters followed by an ellipsis. Tokens too short to
// truncate that way are cut to half their length so the full secret never
// appears.
func TokenPrefix(token string) string {
	n := utf8.RuneCountInString(token)
	keep := TokenPrefixLength
	if n <= keep {
		keep = n / 2
	}
	return string([]rune(token)[:keep]) + "…"
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}
