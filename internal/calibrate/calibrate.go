// Package calibrate scores sample screenshots against a template so a
// threshold can be chosen before a live run.
package calibrate

import (
	"context"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/corona10/goimagehash"
	"github.com/schollz/progressbar/v3"

	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/match"
	"github.com/GriffinCanCode/omnicall/internal/trace"
)

// DefaultSkipDistance is the pHash Hamming distance at or below which a
// frame counts as a near-duplicate of the previous scored frame.
const DefaultSkipDistance = 4

// Scorer scores one frame against a template.
type Scorer interface {
	Score(frame *image.RGBA, t *match.Template) float64
}

// Options control a calibration run.
type Options struct {
	Threshold float64
	// SkipDistance < 0 disables near-duplicate skipping.
	SkipDistance int
	Scorer       Scorer
	Progress     io.Writer
}

// Sample is the score of one file.
type Sample struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// Report summarizes a run. Min, Max and Mean cover scored samples only.
type Report struct {
	Samples        []Sample `json:"samples"`
	Skipped        int      `json:"skipped"`
	Failed         int      `json:"failed"`
	Min            float64  `json:"min"`
	Max            float64  `json:"max"`
	Mean           float64  `json:"mean"`
	Threshold      float64  `json:"threshold"`
	AboveThreshold int      `json:"above_threshold"`
}

// Images lists the PNG and JPEG files in dir, sorted by name.
func Images(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidConfig, "read sample directory").WithMetadata("dir", dir)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Run scores every path against tmpl. Unreadable files are logged and
// counted in Failed.
func Run(ctx context.Context, tmpl *match.Template, paths []string, opts Options) (Report, error) {
	if opts.Scorer == nil {
		opts.Scorer = match.NewScorer(match.Options{})
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	if len(paths) == 0 {
		return Report{Threshold: opts.Threshold}, nil
	}
	ctx, span := trace.StartSpan(ctx, "calibrate")
	span.SetAttr("files", len(paths))
	log := trace.Logger(ctx)

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetWriter(opts.Progress),
		progressbar.OptionSetDescription("scoring"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	rep := Report{Threshold: opts.Threshold, Min: math.Inf(1), Max: math.Inf(-1)}
	var prev *goimagehash.ImageHash
	var sum float64

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			span.End(err)
			return Report{}, err
		}
		_ = bar.Add(1)

		img, err := decode(path)
		if err != nil {
			log.Warn("skipping unreadable sample", "path", path, "error", err)
			rep.Failed++
			continue
		}

		if opts.SkipDistance >= 0 {
			hash, err := goimagehash.PerceptionHash(img)
			if err == nil {
				if prev != nil {
					if d, err := prev.Distance(hash); err == nil && d <= opts.SkipDistance {
						rep.Skipped++
						continue
					}
				}
				prev = hash
			}
		}

		score := opts.Scorer.Score(img, tmpl)
		rep.Samples = append(rep.Samples, Sample{Path: path, Score: score})
		sum += score
		rep.Min = math.Min(rep.Min, score)
		rep.Max = math.Max(rep.Max, score)
		if score >= opts.Threshold {
			rep.AboveThreshold++
		}
	}
	_ = bar.Finish()

	if n := len(rep.Samples); n > 0 {
		rep.Mean = sum / float64(n)
	} else {
		// every file failed or was skipped
		rep.Min, rep.Max = 0, 0
	}
	span.SetAttr("scored", len(rep.Samples))
	span.SetAttr("skipped", rep.Skipped)
	span.End(nil)
	return rep, nil
}

func decode(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}
