package match

import (
	"image"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
)

// Options tune a Scorer.
type Options struct {
	// Downsample > 1 enables a coarse search on a box-filtered frame
	// followed by an exact search around the best coarse hits.
	// 1 (or 0) always searches every offset at full resolution.
	Downsample int
	// Workers bounds row parallelism; 0 means GOMAXPROCS.
	Workers int
	// Candidates is the number of coarse hits refined; 0 means DefaultCandidates.
	Candidates int
}

// Result is the best correlation found and where the template's top-left
// corner sat in the frame.
type Result struct {
	Score float64
	X, Y  int
}

// Scorer computes the best normalized correlation of a template over a frame.
// Scratch buffers are reused between calls, so one Scorer serializes its
// callers; the search inside a call is parallel.
type Scorer struct {
	opts Options

	mu        sync.Mutex
	frameBuf  []uint8
	coarseBuf []uint8
	iiBuf     []int64
	ciiBuf    []int64
}

// NewScorer creates a scorer.
func NewScorer(opts Options) *Scorer {
	if opts.Downsample < 1 {
		opts.Downsample = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Candidates <= 0 {
		opts.Candidates = DefaultCandidates
	}
	return &Scorer{opts: opts}
}

// Score returns the best score in [-1, 1]; 0 when the template does not fit.
func (s *Scorer) Score(frame *image.RGBA, t *Template) float64 {
	return s.Match(frame, t).Score
}

// Match returns the best score and its position.
// Identical inputs always give bit-identical results.
func (s *Scorer) Match(frame *image.RGBA, t *Template) Result {
	if frame == nil || t == nil {
		return Result{}
	}
	b := frame.Bounds()
	if b.Dx() < t.Width() || b.Dy() < t.Height() {
		return Result{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	full := toRaster(frame, s.frameBuf)
	s.frameBuf = full.pix
	ii, buf := newIntegral(full, s.iiBuf)
	s.iiBuf = buf

	if f := s.opts.Downsample; f > 1 {
		if res, ok := s.coarseToFine(full, &ii, t, f); ok {
			return res
		}
	}
	offsets := image.Rect(0, 0, full.w-t.ras.w+1, full.h-t.ras.h+1)
	return s.search(&full, &ii, t, offsets, 1)[0]
}

func (s *Scorer) coarseToFine(full raster, ii *integral, t *Template, f int) (Result, bool) {
	ct := t.reduced(f)
	if ct == nil {
		return Result{}, false
	}
	cr := downsample(full, f, s.coarseBuf)
	s.coarseBuf = cr.pix
	if cr.w < ct.ras.w || cr.h < ct.ras.h {
		return Result{}, false
	}
	cii, buf := newIntegral(cr, s.ciiBuf)
	s.ciiBuf = buf

	coarse := s.search(&cr, &cii, ct, image.Rect(0, 0, cr.w-ct.ras.w+1, cr.h-ct.ras.h+1), s.opts.Candidates)

	limit := image.Rect(0, 0, full.w-t.ras.w+1, full.h-t.ras.h+1)
	var out Result
	found := false
	for _, c := range coarse {
		region := image.Rect(c.X*f-f, c.Y*f-f, c.X*f+2*f, c.Y*f+2*f).Intersect(limit)
		if region.Empty() {
			continue
		}
		r := s.search(&full, ii, t, region, 1)[0]
		if !found || better(r, out) {
			out, found = r, true
		}
	}
	return out, found
}

// search evaluates every offset in region and returns the best keep results,
// best first. Rows are spread over workers; the merge orders by score, then
// row, then column, so the outcome does not depend on scheduling.
func (s *Scorer) search(r *raster, ii *integral, t *Template, region image.Rectangle, keep int) []Result {
	rows := region.Dy()
	workers := min(s.opts.Workers, rows)
	if workers < 1 {
		workers = 1
	}

	var next atomic.Int64
	partial := make([][]Result, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			var top []Result
			for {
				row := int(next.Add(1)) - 1
				if row >= rows {
					break
				}
				y := region.Min.Y + row
				for x := region.Min.X; x < region.Max.X; x++ {
					top = insertTop(top, Result{Score: scoreAt(r, ii, t, x, y), X: x, Y: y}, keep)
				}
			}
			partial[w] = top
		}(w)
	}
	wg.Wait()

	var all []Result
	for _, p := range partial {
		all = append(all, p...)
	}
	sort.Slice(all, func(i, j int) bool { return better(all[i], all[j]) })
	if len(all) > keep {
		all = all[:keep]
	}
	if len(all) == 0 {
		all = append(all, Result{})
	}
	return all
}

// scoreAt is the mean-subtracted correlation at one offset. Every sum is an
// exact integer scaled by n; only the final division is floating point.
func scoreAt(r *raster, ii *integral, t *Template, x, y int) float64 {
	w, h := t.ras.w, t.ras.h
	rowLen := w * 3

	var cross int64
	for ty := 0; ty < h; ty++ {
		fi := ((y+ty)*r.w + x) * 3
		frow := r.pix[fi : fi+rowLen]
		trow := t.ras.pix[ty*rowLen : (ty+1)*rowLen]
		var acc int64
		for i, tv := range trow {
			acc += int64(tv) * int64(frow[i])
		}
		cross += acc
	}

	s0 := ii.window(ii.sum[0], x, y, w, h)
	s1 := ii.window(ii.sum[1], x, y, w, h)
	s2 := ii.window(ii.sum[2], x, y, w, h)
	q := ii.window(ii.sq, x, y, w, h)

	wN := t.n*q - s0*s0 - s1*s1 - s2*s2
	if wN <= 0 {
		return 0
	}
	num := t.n*cross - t.sum[0]*s0 - t.sum[1]*s1 - t.sum[2]*s2
	denom := math.Sqrt(float64(t.tN)) * math.Sqrt(float64(wN))
	if denom <= eps {
		return 0
	}
	return clamp(float64(num) / denom)
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}

func better(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}

// insertTop keeps top sorted best first with at most keep entries.
func insertTop(top []Result, r Result, keep int) []Result {
	if len(top) == keep && !better(r, top[len(top)-1]) {
		return top
	}
	if len(top) < keep {
		top = append(top, r)
	} else {
		top[len(top)-1] = r
	}
	for i := len(top) - 1; i > 0 && better(top[i], top[i-1]); i-- {
		top[i], top[i-1] = top[i-1], top[i]
	}
	return top
}
