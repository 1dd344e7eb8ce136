package vision

import (
	"image"
	"sort"
)

// circle16 is the Bresenham circle of radius 3 used by FAST, clockwise from the top
var circle16 = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

const fastArc = 9

type corner struct {
	x, y  int
	score float64
}

// detectFAST finds FAST-9 corners with 3x3 non-maximum suppression,
// strongest first, at most limit of them.
func detectFAST(g *image.Gray, threshold, limit int) []Point {
	p := newPlane(g)
	if p.w < 7 || p.h < 7 {
		return nil
	}
	t := float64(threshold)

	scores := make([]float64, p.w*p.h)
	for y := 3; y < p.h-3; y++ {
		for x := 3; x < p.w-3; x++ {
			scores[y*p.w+x] = fastScore(p, x, y, t)
		}
	}

	var found []corner
	for y := 3; y < p.h-3; y++ {
		for x := 3; x < p.w-3; x++ {
			s := scores[y*p.w+x]
			if s == 0 || !isLocalMax(scores, p.w, x, y, s) {
				continue
			}
			found = append(found, corner{x: x, y: y, score: s})
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].score > found[j].score })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	pts := make([]Point, len(found))
	for i, c := range found {
		pts[i] = Point{X: float64(c.x), Y: float64(c.y)}
	}
	return pts
}

// fastScore returns zero when (x, y) is not a corner, otherwise the summed
// contrast of the circle pixels that clear the threshold.
func fastScore(p plane, x, y int, t float64) float64 {
	c := p.pix[y*p.w+x]
	var brighter, darker [16]bool
	var bs, ds float64
	for i, o := range circle16 {
		v := p.pix[(y+o[1])*p.w+x+o[0]]
		switch {
		case v > c+t:
			brighter[i] = true
			bs += v - c - t
		case v < c-t:
			darker[i] = true
			ds += c - v - t
		}
	}
	switch {
	case hasArc(brighter):
		return bs
	case hasArc(darker):
		return ds
	}
	return 0
}

// hasArc reports a run of at least fastArc set flags around the circle
func hasArc(flags [16]bool) bool {
	run := 0
	for i := 0; i < 16+fastArc-1; i++ {
		if flags[i%16] {
			run++
			if run >= fastArc {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

func isLocalMax(scores []float64, w, x, y int, s float64) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := scores[(y+dy)*w+x+dx]
			// ties go to the earlier pixel in scan order
			if n > s || (n == s && (dy < 0 || (dy == 0 && dx < 0))) {
				return false
			}
		}
	}
	return true
}
