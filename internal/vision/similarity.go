package vision

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// MaxFidelity is reported for identical frames, where PSNR is unbounded
const MaxFidelity = 100.0

const (
	ssimK1    = 0.01
	ssimK2    = 0.03
	dataRange = 255.0
)

// Comparator scores how alike two frames are
type Comparator interface {
	// Similarity is a structural similarity in [0, 1] for natural images
	Similarity(a, b *image.Gray) (float64, error)
	// Fidelity is a pixel fidelity in dB
	Fidelity(a, b *image.Gray) (float64, error)
}

// Structural computes SSIM over a uniform window and PSNR
type Structural struct {
	Window int
}

// NewStructural returns a comparator with a 7x7 window
func NewStructural() *Structural {
	return &Structural{Window: 7}
}

// Similarity is the mean SSIM over every full window position, using
// sample statistics within each window.
func (s *Structural) Similarity(a, b *image.Gray) (float64, error) {
	if !sameSize(a, b) {
		return 0, ErrSizeMismatch
	}
	win := s.Window
	if win < 2 {
		win = 7
	}
	pa, pb := newPlane(a), newPlane(b)
	w, h := pa.w, pa.h
	if w < win || h < win {
		return 0, fmt.Errorf("frame %dx%d is smaller than the %d pixel window", w, h, win)
	}

	n := w * h
	aa := make([]float64, n)
	bb := make([]float64, n)
	ab := make([]float64, n)
	for i := 0; i < n; i++ {
		aa[i] = pa.pix[i] * pa.pix[i]
		bb[i] = pb.pix[i] * pb.pix[i]
		ab[i] = pa.pix[i] * pb.pix[i]
	}
	sa := newIntegral(pa.pix, w, h)
	sb := newIntegral(pb.pix, w, h)
	saa := newIntegral(aa, w, h)
	sbb := newIntegral(bb, w, h)
	sab := newIntegral(ab, w, h)

	np := float64(win * win)
	covNorm := np / (np - 1)
	c1 := (ssimK1 * dataRange) * (ssimK1 * dataRange)
	c2 := (ssimK2 * dataRange) * (ssimK2 * dataRange)

	var total float64
	var count int
	for y := 0; y+win <= h; y++ {
		for x := 0; x+win <= w; x++ {
			ux := sa.box(x, y, x+win, y+win) / np
			uy := sb.box(x, y, x+win, y+win) / np
			vx := covNorm * (saa.box(x, y, x+win, y+win)/np - ux*ux)
			vy := covNorm * (sbb.box(x, y, x+win, y+win)/np - uy*uy)
			vxy := covNorm * (sab.box(x, y, x+win, y+win)/np - ux*uy)

			num := (2*ux*uy + c1) * (2*vxy + c2)
			den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
			total += num / den
			count++
		}
	}
	return total / float64(count), nil
}

// Fidelity is PSNR in dB, capped at MaxFidelity
func (s *Structural) Fidelity(a, b *image.Gray) (float64, error) {
	if !sameSize(a, b) {
		return 0, ErrSizeMismatch
	}
	pa, pb := newPlane(a), newPlane(b)
	if len(pa.pix) == 0 {
		return 0, errors.New("empty frame")
	}

	var mse float64
	for i := range pa.pix {
		d := pa.pix[i] - pb.pix[i]
		mse += d * d
	}
	mse /= float64(len(pa.pix))
	if mse == 0 {
		return MaxFidelity, nil
	}
	return math.Min(10*math.Log10(dataRange*dataRange/mse), MaxFidelity), nil
}
