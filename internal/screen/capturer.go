// Package screen captures the union of all active displays as one frame.
package screen

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // fallback tools may write JPEG
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kbinani/screenshot"

	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
)

// ErrNoDisplay is wrapped into capture errors when no display is active.
var ErrNoDisplay = errors.New("no active display")

// Frame is one full-screen RGBA snapshot. Its origin is always (0,0).
type Frame struct {
	Image      *image.RGBA
	CapturedAt time.Time
}

// Width returns the frame width in pixels.
func (f Frame) Width() int { return f.Image.Rect.Dx() }

// Height returns the frame height in pixels.
func (f Frame) Height() int { return f.Image.Rect.Dy() }

// nativeCapture grabs a rectangle of the virtual desktop.
type nativeCapture interface {
	bounds() (image.Rectangle, error)
	grab(r image.Rectangle) (*image.RGBA, error)
}

// fallback writes a screenshot of the desktop to a file with an
// external tool. Platforms without one return nil from newFallback.
type fallback interface {
	name() string
	captureFile(ctx context.Context, path string) error
}

// Capturer captures frames natively and falls back to a platform tool.
type Capturer struct {
	native   nativeCapture
	fallback fallback
	tempDir  string
	now      func() time.Time

	mu     sync.Mutex
	warned bool
}

// New creates a capturer with a private temp dir for fallback captures.
func New() (*Capturer, error) {
	tmpDir, err := os.MkdirTemp("", "omnicall-screen-*")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "create capture temp dir")
	}
	return &Capturer{
		native:   kbinaniCapture{},
		fallback: newFallback(),
		tempDir:  tmpDir,
		now:      time.Now,
	}, nil
}

// Capture returns the current desktop. It never retries.
func (c *Capturer) Capture(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	img, nativeErr := c.captureNative()
	if nativeErr == nil {
		return Frame{Image: img, CapturedAt: c.now()}, nil
	}

	if c.fallback == nil {
		return Frame{}, apperrors.Wrap(nativeErr, apperrors.CodeCaptureFailed, "capture screen")
	}
	c.warnOnce(nativeErr)

	img, err := c.captureFallback(ctx)
	if err != nil {
		return Frame{}, apperrors.Wrap(errors.Join(nativeErr, err), apperrors.CodeCaptureFailed, "capture screen").
			WithMetadata("fallback", c.fallback.name())
	}
	return Frame{Image: img, CapturedAt: c.now()}, nil
}

// Bounds returns the union rectangle of all displays.
func (c *Capturer) Bounds() (r image.Rectangle, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r, err = image.Rectangle{}, apperrors.New(apperrors.CodeCaptureFailed, fmt.Sprintf("query display bounds panicked: %v", rec))
		}
	}()

	r, err = c.native.bounds()
	if err != nil {
		return image.Rectangle{}, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "query display bounds")
	}
	return r, nil
}

// Close removes the temp dir.
func (c *Capturer) Close() error {
	if c.tempDir == "" {
		return nil
	}
	return os.RemoveAll(c.tempDir)
}

func (c *Capturer) captureNative() (img *image.RGBA, err error) {
	// Native backends panic on some headless X servers.
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("native capture panicked: %v", r)
		}
	}()

	r, err := c.native.bounds()
	if err != nil {
		return nil, err
	}
	raw, err := c.native.grab(r)
	if err != nil {
		return nil, err
	}
	return normalize(raw), nil
}

func (c *Capturer) captureFallback(ctx context.Context) (*image.RGBA, error) {
	path := filepath.Join(c.tempDir, "frame.png")
	defer os.Remove(path)

	if err := c.fallback.captureFile(ctx, path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s output: %w", c.fallback.name(), err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s output: %w", c.fallback.name(), err)
	}
	return normalize(img), nil
}

func (c *Capturer) warnOnce(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warned {
		return
	}
	c.warned = true
	slog.Warn("native screen capture unavailable, using fallback", "fallback", c.fallback.name(), "error", err)
}

// normalize returns an RGBA image whose bounds start at the origin.
func normalize(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}

type kbinaniCapture struct{}

func (kbinaniCapture) bounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return image.Rectangle{}, ErrNoDisplay
	}
	var all image.Rectangle
	for i := 0; i < n; i++ {
		all = all.Union(screenshot.GetDisplayBounds(i))
	}
	if all.Empty() {
		return image.Rectangle{}, ErrNoDisplay
	}
	return all, nil
}

func (kbinaniCapture) grab(r image.Rectangle) (*image.RGBA, error) {
	return screenshot.CaptureRect(r)
}
