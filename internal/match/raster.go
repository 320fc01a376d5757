package match

import (
	"image"
	"image/color"
)

// raster is a tightly packed 8-bit RGB image. Alpha is dropped without
// compositing so a template saved with transparency keeps its colour values.
type raster struct {
	w, h int
	pix  []uint8 // len = w*h*3
}

func (r *raster) at(x, y int) (uint8, uint8, uint8) {
	i := (y*r.w + x) * 3
	return r.pix[i], r.pix[i+1], r.pix[i+2]
}

// toRaster converts img into a raster, reusing buf when it is large enough.
func toRaster(img image.Image, buf []uint8) raster {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	n := w * h * 3
	if cap(buf) < n {
		buf = make([]uint8, n)
	}
	buf = buf[:n]

	switch src := img.(type) {
	case *image.RGBA:
		copyRows(buf, src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y), w, h)
	case *image.NRGBA:
		copyRows(buf, src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y), w, h)
	default:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				buf[i], buf[i+1], buf[i+2] = c.R, c.G, c.B
				i += 3
			}
		}
	}
	return raster{w: w, h: h, pix: buf}
}

// copyRows drops the alpha byte of 4-byte pixels.
func copyRows(dst, src []uint8, stride, offset, w, h int) {
	i := 0
	for y := 0; y < h; y++ {
		row := src[offset+y*stride:]
		for x := 0; x < w; x++ {
			p := row[x*4:]
			dst[i], dst[i+1], dst[i+2] = p[0], p[1], p[2]
			i += 3
		}
	}
}

// downsample box-filters r by factor f using integer means.
// Trailing rows and columns that do not fill a block are dropped.
func downsample(r raster, f int, buf []uint8) raster {
	w, h := r.w/f, r.h/f
	n := w * h * 3
	if cap(buf) < n {
		buf = make([]uint8, n)
	}
	buf = buf[:n]

	area := uint32(f * f)
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sr, sg, sb uint32
			for dy := 0; dy < f; dy++ {
				row := ((y*f+dy)*r.w + x*f) * 3
				for dx := 0; dx < f; dx++ {
					p := row + dx*3
					sr += uint32(r.pix[p])
					sg += uint32(r.pix[p+1])
					sb += uint32(r.pix[p+2])
				}
			}
			buf[i], buf[i+1], buf[i+2] = uint8(sr/area), uint8(sg/area), uint8(sb/area)
			i += 3
		}
	}
	return raster{w: w, h: h, pix: buf}
}

// integral holds summed-area tables of each channel and of the summed
// squares over all channels, with one row and column of zero padding.
type integral struct {
	stride int
	sum    [3][]int64
	sq     []int64
}

func newIntegral(r raster, buf []int64) (integral, []int64) {
	stride := r.w + 1
	size := stride * (r.h + 1)
	if cap(buf) < size*4 {
		buf = make([]int64, size*4)
	}
	buf = buf[:size*4]
	clear(buf)

	ii := integral{
		stride: stride,
		sum:    [3][]int64{buf[:size], buf[size : 2*size], buf[2*size : 3*size]},
		sq:     buf[3*size:],
	}

	for y := 0; y < r.h; y++ {
		var rs [3]int64
		var rq int64
		src := y * r.w * 3
		above := y * stride
		here := (y + 1) * stride
		for x := 0; x < r.w; x++ {
			p := src + x*3
			cr, cg, cb := int64(r.pix[p]), int64(r.pix[p+1]), int64(r.pix[p+2])
			rs[0] += cr
			rs[1] += cg
			rs[2] += cb
			rq += cr*cr + cg*cg + cb*cb
			i := x + 1
			ii.sum[0][here+i] = ii.sum[0][above+i] + rs[0]
			ii.sum[1][here+i] = ii.sum[1][above+i] + rs[1]
			ii.sum[2][here+i] = ii.sum[2][above+i] + rs[2]
			ii.sq[here+i] = ii.sq[above+i] + rq
		}
	}
	return ii, buf
}

func (ii *integral) window(p []int64, x, y, w, h int) int64 {
	top := y * ii.stride
	bottom := (y + h) * ii.stride
	return p[bottom+x+w] - p[top+x+w] - p[bottom+x] + p[top+x]
}
