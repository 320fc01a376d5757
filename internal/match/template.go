// Package match scores screen frames against a reference template using
// normalized cross-correlation with mean subtraction over the RGB channels.
package match

import (
	"image"
	_ "image/jpeg" // templates may be JPEG
	_ "image/png"
	"os"
	"sync"

	"github.com/corona10/goimagehash"

	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
)

// MaxTemplatePixels bounds template area so the integer correlation sums
// cannot overflow.
const MaxTemplatePixels = 4_000_000

// Template is an immutable reference image with precomputed statistics.
type Template struct {
	path string
	ras  raster
	n    int64
	sum  [3]int64
	// tN is n times the sum of squared deviations from the channel means.
	tN   int64
	hash *goimagehash.ImageHash

	mu     sync.Mutex
	coarse map[int]*Template
}

// Load decodes a PNG or JPEG template from disk.
func Load(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidTemplate, "open template").WithMetadata("path", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidTemplate, "decode template").WithMetadata("path", path)
	}

	t, err := FromImage(img)
	if err != nil {
		return nil, err
	}
	t.path = path
	return t, nil
}

// FromImage builds a template from a decoded image.
func FromImage(img image.Image) (*Template, error) {
	if img == nil {
		return nil, apperrors.New(apperrors.CodeInvalidTemplate, "template image is nil")
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, apperrors.New(apperrors.CodeInvalidTemplate, "template is empty")
	}
	if b.Dx()*b.Dy() > MaxTemplatePixels {
		return nil, apperrors.Newf(apperrors.CodeInvalidTemplate, "template has %d pixels, limit is %d", b.Dx()*b.Dy(), MaxTemplatePixels)
	}

	t, err := fromRaster(toRaster(img, nil))
	if err != nil {
		return nil, err
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidTemplate, "fingerprint template")
	}
	t.hash = hash
	return t, nil
}

func fromRaster(r raster) (*Template, error) {
	t := &Template{ras: r, n: int64(r.w * r.h)}

	var sq int64
	for i := 0; i < len(r.pix); i += 3 {
		for c := 0; c < 3; c++ {
			v := int64(r.pix[i+c])
			t.sum[c] += v
			sq += v * v
		}
	}
	t.tN = t.n * sq
	for c := 0; c < 3; c++ {
		t.tN -= t.sum[c] * t.sum[c]
	}
	if t.tN <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidTemplate, "template has zero variance")
	}
	return t, nil
}

// Width returns the template width in pixels.
func (t *Template) Width() int { return t.ras.w }

// Height returns the template height in pixels.
func (t *Template) Height() int { return t.ras.h }

// Path returns the file the template was loaded from, if any.
func (t *Template) Path() string { return t.path }

// Fingerprint returns the perceptual hash, e.g. "p:8f3c...".
func (t *Template) Fingerprint() string {
	if t.hash == nil {
		return ""
	}
	return t.hash.ToString()
}

// Hash returns the perceptual hash for distance comparisons.
func (t *Template) Hash() *goimagehash.ImageHash { return t.hash }

// reduced returns the template box-filtered by f, or nil when the reduced
// template is too small or flat to correlate.
func (t *Template) reduced(f int) *Template {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.coarse[f]; ok {
		return c
	}
	if t.coarse == nil {
		t.coarse = make(map[int]*Template)
	}

	var c *Template
	if t.ras.w/f >= MinCoarseSide && t.ras.h/f >= MinCoarseSide {
		c, _ = fromRaster(downsample(t.ras, f, nil))
	}
	t.coarse[f] = c
	return c
}
