// Package vision provides the image primitives the quality metrics are built
// on: dense motion, frame similarity, feature points, sparse tracking and
// object confidence. All primitives work on 8-bit grayscale frames.
package vision

import (
	"image"
	"image/draw"
	"math"
)

// FrameSet is the ordered frames sampled from one artifact
type FrameSet []image.Image

// Gray converts every frame once so the metrics can share the result
func (fs FrameSet) Gray() []*image.Gray {
	out := make([]*image.Gray, len(fs))
	for i, f := range fs {
		out[i] = ToGray(f)
	}
	return out
}

// ToGray returns img as an 8-bit luma image anchored at the origin
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// Point is a sub-pixel image location
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// plane is a float copy of a grayscale image used for numeric work
type plane struct {
	w, h int
	pix  []float64
}

func newPlane(g *image.Gray) plane {
	b := g.Bounds()
	p := plane{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < p.h; y++ {
		row := g.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < p.w; x++ {
			p.pix[y*p.w+x] = float64(g.Pix[row+x])
		}
	}
	return p
}

func makePlane(w, h int) plane {
	return plane{w: w, h: h, pix: make([]float64, w*h)}
}

// at reads a pixel, clamping coordinates to the border
func (p plane) at(x, y int) float64 {
	x = min(max(x, 0), p.w-1)
	y = min(max(y, 0), p.h-1)
	return p.pix[y*p.w+x]
}

// sample reads a bilinearly interpolated value
func (p plane) sample(x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	a := p.at(x0, y0)
	b := p.at(x0+1, y0)
	c := p.at(x0, y0+1)
	d := p.at(x0+1, y0+1)
	return (a*(1-fx)+b*fx)*(1-fy) + (c*(1-fx)+d*fx)*fy
}

// downsample halves the plane with a 2x2 box filter
func (p plane) downsample() plane {
	w, h := max(p.w/2, 1), max(p.h/2, 1)
	out := makePlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := 2*x, 2*y
			out.pix[y*w+x] = (p.at(sx, sy) + p.at(sx+1, sy) + p.at(sx, sy+1) + p.at(sx+1, sy+1)) / 4
		}
	}
	return out
}

// gradients returns central-difference derivatives along x and y
func gradients(p plane) (ix, iy plane) {
	ix = makePlane(p.w, p.h)
	iy = makePlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			ix.pix[y*p.w+x] = (p.at(x+1, y) - p.at(x-1, y)) / 2
			iy.pix[y*p.w+x] = (p.at(x, y+1) - p.at(x, y-1)) / 2
		}
	}
	return ix, iy
}

// integral is a summed-area table with a zero row and column in front
type integral struct {
	w   int
	sum []float64
}

func newIntegral(vals []float64, w, h int) integral {
	it := integral{w: w + 1, sum: make([]float64, (w+1)*(h+1))}
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += vals[y*w+x]
			it.sum[(y+1)*it.w+x+1] = it.sum[y*it.w+x+1] + row
		}
	}
	return it
}

// box sums the half-open rectangle [x0,x1) x [y0,y1)
func (it integral) box(x0, y0, x1, y1 int) float64 {
	return it.sum[y1*it.w+x1] - it.sum[y0*it.w+x1] - it.sum[y1*it.w+x0] + it.sum[y0*it.w+x0]
}

func sameSize(a, b *image.Gray) bool {
	return a.Bounds().Size() == b.Bounds().Size()
}
