package app

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/omnicall/internal/config"
	"github.com/GriffinCanCode/omnicall/internal/dispatch"
	"github.com/GriffinCanCode/omnicall/internal/engine"
	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/events"
	"github.com/GriffinCanCode/omnicall/internal/match"
	"github.com/GriffinCanCode/omnicall/internal/screen"
	"github.com/GriffinCanCode/omnicall/internal/server"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []dispatch.Notification
}

func (r *recordingTransport) SendOne(_ context.Context, _ string, n dispatch.Notification) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return true, ""
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type staticSource struct{}

func (staticSource) Capture(context.Context) (screen.Frame, error) {
	return screen.Frame{Image: image.NewRGBA(image.Rect(0, 0, 32, 32)), CapturedAt: time.Now()}, nil
}

type constScorer float64

func (s constScorer) Score(*image.RGBA, *match.Template) float64 { return float64(s) }

func loadTemplate(string) (*match.Template, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.Gray{Y: uint8(x * 30)})
		}
	}
	return match.FromImage(img)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Engine: config.DefaultEngine("owner", filepath.Join(dir, "template.png")),
		Store: config.StoreConfig{
			Driver:    "memory",
			Tokens:    []string{"token-a", "token-b"},
			StateFile: filepath.Join(dir, "state.json"),
		},
		Push:   config.PushConfig{Driver: "log"},
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		MQTT:   config.MQTTConfig{Encoding: "json"},
		Log:    config.LogConfig{Level: "info", Format: "text"},
	}
}

func newTestApp(t *testing.T, score float64) (*App, *recordingTransport) {
	t.Helper()
	transport := &recordingTransport{}
	a, err := New(context.Background(), testConfig(t), Options{
		Source:    staticSource{},
		Transport: transport,
		Engine: engine.Options{
			Scorer:       constScorer(score),
			LoadTemplate: loadTemplate,
			Sleep: func(ctx context.Context, _ time.Duration) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, transport
}

func TestStartDispatchesToRegisteredDevices(t *testing.T) {
	a, transport := newTestApp(t, 0.95)

	sub, err := a.Bus().Subscribe("test", 16)
	require.NoError(t, err)

	require.NoError(t, a.StartEngine(context.Background(), server.StartRequest{}))
	assert.True(t, a.Status().Running)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Kind == events.KindMatch && ev.Match.Succeeded > 0 {
				assert.Equal(t, 2, ev.Match.Succeeded)
				assert.Equal(t, 2, transport.count())

				status, err := a.health.Check(context.Background())
				require.NoError(t, err)
				assert.Equal(t, "SERVING", status.String())

				require.NoError(t, a.StopEngine())
				assert.False(t, a.Status().Running)
				return
			}
		case <-deadline:
			t.Fatal("no match event")
		}
	}
}

func TestStartOverridesThreshold(t *testing.T) {
	a, _ := newTestApp(t, 0.1)

	err := a.StartEngine(context.Background(), server.StartRequest{Threshold: 2})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidConfig), "err = %v", err)
	assert.False(t, a.Status().Running)

	require.NoError(t, a.StartEngine(context.Background(), server.StartRequest{Threshold: 0.5}))
	assert.Equal(t, 0.5, a.Status().Threshold)
	require.NoError(t, a.StopEngine())
}

func TestSendTestAndStats(t *testing.T) {
	a, transport := newTestApp(t, 0)

	res, err := a.SendTest(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 2, res.Succeeded)
	require.Equal(t, 2, transport.count())
	assert.Equal(t, "ping", transport.sent[0].Message)
	assert.Equal(t, config.DefaultTitle, transport.sent[0].Title)

	personal, global, err := a.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "owner", personal.UserID)
	assert.Equal(t, 2, personal.NotificationsSent)
	assert.Equal(t, int64(2), global.TotalSends)
}

func TestRegisterAndFeedback(t *testing.T) {
	a, _ := newTestApp(t, 0)
	ctx := context.Background()

	id, err := a.Register(ctx, "Desk PC")
	require.NoError(t, err)
	assert.Contains(t, id, "desk-pc-")

	_, global, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), global.TotalUsers)
	assert.Equal(t, int64(1), global.UsersToday)

	require.NoError(t, a.SubmitFeedback(ctx, "Sam", "works well"))
	err = a.SubmitFeedback(ctx, "Sam", "")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidConfig))
}

func TestAddTokenUnsupportedByMemoryStore(t *testing.T) {
	a, _ := newTestApp(t, 0)

	err := a.AddToken(context.Background(), "new-token")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidConfig), "err = %v", err)
}

func TestServeStopsWithContext(t *testing.T) {
	a, _ := newTestApp(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Serve did not return")
	}
}
