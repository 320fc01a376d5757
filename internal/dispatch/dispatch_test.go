package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
)

type staticRegistry struct {
	tokens []string
	err    error
}

func (r staticRegistry) ListTokens(context.Context, string) ([]string, error) {
	return r.tokens, r.err
}

// scriptedTransport fails every token listed in fail.
type scriptedTransport struct {
	fail     map[string]string
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	sent     []string
}

func (s *scriptedTransport) SendOne(ctx context.Context, token string, n Notification) (bool, string) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if cur <= peak || s.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return false, ""
		}
	}

	s.mu.Lock()
	s.sent = append(s.sent, token)
	s.mu.Unlock()

	if reason, bad := s.fail[token]; bad {
		return false, reason
	}
	return true, "ok"
}

type countingStats struct {
	sends   atomic.Int64
	matches atomic.Int64
	err     error
}

func (c *countingStats) IncrementSends(_ context.Context, n int) error {
	c.sends.Add(int64(n))
	return c.err
}

func (c *countingStats) IncrementMatches(_ context.Context, n int) error {
	c.matches.Add(int64(n))
	return c.err
}

func (c *countingStats) RecordUserRegistered(context.Context) error { return c.err }

func tokens(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("fcm-token-%02d-abcdefghijklmnopqrstuvwxyz", i)
	}
	return out
}

var note = Notification{Title: "Game Alert!", Message: "Match found"}

func TestDispatchCounts(t *testing.T) {
	tests := []struct {
		name      string
		tokens    int
		failing   []int
		succeeded int
	}{
		{"no devices", 0, nil, 0},
		{"all succeed", 3, nil, 3},
		{"partial", 4, []int{1, 3}, 2},
		{"all fail", 2, []int{0, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks := tokens(tt.tokens)
			tr := &scriptedTransport{fail: map[string]string{}}
			for _, i := range tt.failing {
				tr.fail[toks[i]] = "Requested entity was not found."
			}
			stats := &countingStats{}
			d := New(staticRegistry{tokens: toks}, tr, stats, Options{})

			res, err := d.Dispatch(context.Background(), "user-1", note)
			require.NoError(t, err)

			assert.Equal(t, tt.tokens, res.Attempted)
			assert.Equal(t, tt.succeeded, res.Succeeded)
			assert.Len(t, res.Outcomes, tt.tokens)
			assert.Equal(t, int64(tt.succeeded), stats.sends.Load())

			for i, o := range res.Outcomes {
				assert.Equal(t, TokenPrefix(toks[i]), o.TokenPrefix, "outcomes keep token order")
			}
			for _, i := range tt.failing {
				assert.False(t, res.Outcomes[i].OK)
				assert.Equal(t, "Requested entity was not found.", res.Outcomes[i].Detail)
			}
		})
	}
}

func TestDispatchNoDevicesSkipsTransport(t *testing.T) {
	tr := &scriptedTransport{}
	res, err := New(staticRegistry{}, tr, nil, Options{}).Dispatch(context.Background(), "u", note)

	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, tr.sent)
}

func TestDispatchRegistryFailure(t *testing.T) {
	d := New(staticRegistry{err: errors.New("firestore unavailable")}, &scriptedTransport{}, nil, Options{})

	res, err := d.Dispatch(context.Background(), "u", note)

	assert.True(t, apperrors.IsCode(err, apperrors.CodeDispatchTransport))
	assert.Equal(t, Result{}, res)
}

func TestDispatchSendsEachTokenOnce(t *testing.T) {
	toks := tokens(20)
	tr := &scriptedTransport{fail: map[string]string{toks[5]: "boom"}}

	_, err := New(staticRegistry{tokens: toks}, tr, nil, Options{}).Dispatch(context.Background(), "u", note)
	require.NoError(t, err)

	assert.ElementsMatch(t, toks, tr.sent, "one attempt per token, no retries")
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	tr := &scriptedTransport{delay: 20 * time.Millisecond}
	d := New(staticRegistry{tokens: tokens(12)}, tr, nil, Options{MaxConcurrency: 3})

	res, err := d.Dispatch(context.Background(), "u", note)
	require.NoError(t, err)

	assert.Equal(t, 12, res.Succeeded)
	assert.LessOrEqual(t, tr.peak.Load(), int32(3))
	assert.Greater(t, tr.peak.Load(), int32(1), "sends should overlap")
}

func TestDispatchPerSendTimeout(t *testing.T) {
	tr := &scriptedTransport{delay: time.Second}
	d := New(staticRegistry{tokens: tokens(2)}, tr, nil, Options{SendTimeout: 10 * time.Millisecond})

	start := time.Now()
	res, err := d.Dispatch(context.Background(), "u", note)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, context.DeadlineExceeded.Error(), res.Outcomes[0].Detail)
}

type panicTransport struct{}

func (panicTransport) SendOne(context.Context, string, Notification) (bool, string) {
	panic("nil client")
}

func TestDispatchTransportPanicIsFailure(t *testing.T) {
	res, err := New(staticRegistry{tokens: tokens(2)}, panicTransport{}, nil, Options{}).
		Dispatch(context.Background(), "u", note)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, "transport panic", res.Outcomes[0].Detail)
}

func TestDispatchStatsErrorIgnored(t *testing.T) {
	stats := &countingStats{err: errors.New("stats down")}
	res, err := New(staticRegistry{tokens: tokens(1)}, &scriptedTransport{}, stats, Options{}).
		Dispatch(context.Background(), "u", note)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}

func TestTokenPrefix(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"abcdefghijklmnopqrstuvwxyz", "abcdefghijkl…"},
		{"abcdefghijklm", "abcdefghijkl…"},
		{"abcdefghijkl", "abcdef…"},
		{"abcd", "ab…"},
		{"", "…"},
	}
	for _, tt := range tests {
		got := TokenPrefix(tt.token)
		assert.Equal(t, tt.want, got, tt.token)
		if tt.token != "" {
			assert.False(t, strings.Contains(got, tt.token), "prefix must not reveal the full token")
		}
	}
}

func TestTruncateDetail(t *testing.T) {
	long := strings.Repeat("x", MaxDetailLength+10)
	assert.Equal(t, MaxDetailLength+1, len([]rune(truncate(long, MaxDetailLength))))
	assert.Equal(t, "short", truncate("short", MaxDetailLength))
}
