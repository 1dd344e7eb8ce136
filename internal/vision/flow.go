package vision

import (
	"errors"
	"image"
	"math"
)

// ErrSizeMismatch is returned when two frames handed to a pairwise primitive differ in size
var ErrSizeMismatch = errors.New("frame sizes differ")

// Field is a dense motion field, one (U, V) vector per pixel
type Field struct {
	W, H int
	U, V []float64
}

// Norm is the L2 norm of the whole field
func (f Field) Norm() float64 {
	var s float64
	for i := range f.U {
		s += f.U[i]*f.U[i] + f.V[i]*f.V[i]
	}
	return math.Sqrt(s)
}

// FlowEstimator computes dense motion between two frames
type FlowEstimator interface {
	Flow(prev, next *image.Gray) (Field, error)
}

// LucasKanade is a windowed dense Lucas-Kanade estimator.
// Window sums come from integral images, so cost does not grow with Window.
type LucasKanade struct {
	Window int
}

// NewLucasKanade returns the estimator with a 15 pixel window
func NewLucasKanade() *LucasKanade {
	return &LucasKanade{Window: 15}
}

// Flow solves the 2x2 normal equations at every pixel. Pixels whose
// structure tensor is near singular get zero motion.
func (lk *LucasKanade) Flow(prev, next *image.Gray) (Field, error) {
	if !sameSize(prev, next) {
		return Field{}, ErrSizeMismatch
	}
	a := newPlane(prev)
	b := newPlane(next)
	w, h := a.w, a.h
	n := w * h

	ix, iy := gradients(a)
	xx := make([]float64, n)
	xy := make([]float64, n)
	yy := make([]float64, n)
	xt := make([]float64, n)
	yt := make([]float64, n)
	for i := 0; i < n; i++ {
		it := b.pix[i] - a.pix[i]
		xx[i] = ix.pix[i] * ix.pix[i]
		xy[i] = ix.pix[i] * iy.pix[i]
		yy[i] = iy.pix[i] * iy.pix[i]
		xt[i] = ix.pix[i] * it
		yt[i] = iy.pix[i] * it
	}
	sxx := newIntegral(xx, w, h)
	sxy := newIntegral(xy, w, h)
	syy := newIntegral(yy, w, h)
	sxt := newIntegral(xt, w, h)
	syt := newIntegral(yt, w, h)

	r := max(lk.Window, 1) / 2
	f := Field{W: w, H: h, U: make([]float64, n), V: make([]float64, n)}
	for y := 0; y < h; y++ {
		y0, y1 := max(y-r, 0), min(y+r+1, h)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-r, 0), min(x+r+1, w)

			gxx := sxx.box(x0, y0, x1, y1)
			gxy := sxy.box(x0, y0, x1, y1)
			gyy := syy.box(x0, y0, x1, y1)
			det := gxx*gyy - gxy*gxy
			if det < 1e-6 {
				continue
			}
			bx := -sxt.box(x0, y0, x1, y1)
			by := -syt.box(x0, y0, x1, y1)

			f.U[y*w+x] = (gyy*bx - gxy*by) / det
			f.V[y*w+x] = (gxx*by - gxy*bx) / det
		}
	}
	return f, nil
}
