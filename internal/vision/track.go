package vision

import (
	"image"
	"math"
)

// Tracker finds trackable points and follows them between frames
type Tracker interface {
	TrackPoints(img *image.Gray) ([]Point, error)
	// TrackFlow returns the new location of every point and whether it was tracked.
	TrackFlow(prev, next *image.Gray, pts []Point) ([]Point, []bool, error)
}

// FeatureTracker pairs FAST corners with pyramidal Lucas-Kanade tracking
type FeatureTracker struct {
	Threshold    int
	MaxKeypoints int
	Window       int
	Levels       int
	Iterations   int
	Epsilon      float64
	// MinEigen rejects points whose neighbourhood is too flat to track
	MinEigen float64
}

// NewFeatureTracker returns a tracker with the usual settings:
// FAST threshold 10, 21 pixel window, 3 pyramid levels.
func NewFeatureTracker(threshold, maxKeypoints int) *FeatureTracker {
	return &FeatureTracker{
		Threshold:    threshold,
		MaxKeypoints: maxKeypoints,
		Window:       21,
		Levels:       3,
		Iterations:   20,
		Epsilon:      0.03,
		MinEigen:     1e-4,
	}
}

// TrackPoints detects FAST corners on img
func (t *FeatureTracker) TrackPoints(img *image.Gray) ([]Point, error) {
	return detectFAST(img, t.Threshold, t.MaxKeypoints), nil
}

type level struct {
	img, ix, iy plane
}

func pyramid(g *image.Gray, levels int) []level {
	p := newPlane(g)
	out := make([]level, 0, levels)
	for l := 0; l < levels; l++ {
		ix, iy := gradients(p)
		out = append(out, level{img: p, ix: ix, iy: iy})
		if p.w < 16 || p.h < 16 {
			break
		}
		p = p.downsample()
	}
	return out
}

// TrackFlow runs coarse-to-fine Lucas-Kanade for each point
func (t *FeatureTracker) TrackFlow(prev, next *image.Gray, pts []Point) ([]Point, []bool, error) {
	if !sameSize(prev, next) {
		return nil, nil, ErrSizeMismatch
	}
	out := make([]Point, len(pts))
	status := make([]bool, len(pts))
	if len(pts) == 0 {
		return out, status, nil
	}

	levels := max(t.Levels, 1)
	pa := pyramid(prev, levels)
	pb := pyramid(next, levels)
	levels = min(len(pa), len(pb))

	w, h := float64(pa[0].img.w), float64(pa[0].img.h)
	for i, pt := range pts {
		d, ok := t.trackOne(pa[:levels], pb[:levels], pt)
		np := Point{X: pt.X + d.X, Y: pt.Y + d.Y}
		out[i] = np
		status[i] = ok && np.X >= 0 && np.Y >= 0 && np.X <= w-1 && np.Y <= h-1
	}
	return out, status, nil
}

// trackOne returns the displacement of pt from the first pyramid to the second
func (t *FeatureTracker) trackOne(pa, pb []level, pt Point) (Point, bool) {
	r := max(t.Window, 3) / 2
	area := float64((2*r + 1) * (2*r + 1))
	iters := max(t.Iterations, 1)

	var gx, gy float64
	for l := len(pa) - 1; l >= 0; l-- {
		scale := math.Pow(2, float64(l))
		cx, cy := pt.X/scale, pt.Y/scale
		A, B := pa[l], pb[l]

		var sxx, sxy, syy float64
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				x, y := cx+float64(dx), cy+float64(dy)
				ix, iy := A.ix.sample(x, y), A.iy.sample(x, y)
				sxx += ix * ix
				sxy += ix * iy
				syy += iy * iy
			}
		}
		det := sxx*syy - sxy*sxy
		minEig := (sxx + syy - math.Sqrt((sxx-syy)*(sxx-syy)+4*sxy*sxy)) / 2
		if det < 1e-9 || minEig/area < t.MinEigen {
			return Point{}, false
		}

		var vx, vy float64
		for k := 0; k < iters; k++ {
			var bx, by float64
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					x, y := cx+float64(dx), cy+float64(dy)
					diff := A.img.sample(x, y) - B.img.sample(x+gx+vx, y+gy+vy)
					bx += diff * A.ix.sample(x, y)
					by += diff * A.iy.sample(x, y)
				}
			}
			ex := (syy*bx - sxy*by) / det
			ey := (sxx*by - sxy*bx) / det
			vx += ex
			vy += ey
			if ex*ex+ey*ey < t.Epsilon*t.Epsilon {
				break
			}
		}

		if l > 0 {
			gx, gy = 2*(gx+vx), 2*(gy+vy)
		} else {
			gx, gy = gx+vx, gy+vy
		}
	}

	if math.IsNaN(gx) || math.IsNaN(gy) || math.IsInf(gx, 0) || math.IsInf(gy, 0) {
		return Point{}, false
	}
	return Point{X: gx, Y: gy}, true
}
