// Package metrics reduces a frame set to four quality sub-scores.
//
// Every metric is failure tolerant: it never returns an error or panics past
// its own boundary. Instead each result carries an Outcome telling the caller
// whether the value was computed, whether there was too little data, or
// whether a primitive failed. In the last two cases the value is zero.
package metrics

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/sourcegraph/conc/panics"

	"github.com/bdougie/roastbench/internal/models"
)

// Kind says how a metric ended
type Kind string

const (
	KindOK               Kind = "ok"
	KindInsufficientData Kind = "insufficient_data"
	KindFailed           Kind = "failed"
)

// Minimum frame counts per metric
const (
	MinWarpFrames       = 2
	MinMeltFrames       = 1
	MinCoherenceFrames  = 2
	MinTrajectoryFrames = 3
)

// Outcome is embedded in every metric result
type Outcome struct {
	Kind Kind  `json:"kind"`
	Err  error `json:"-"`
}

// OK reports whether the metric produced a real value
func (o Outcome) OK() bool { return o.Kind == KindOK }

// Message returns the recorded failure text, empty when OK
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func ok() Outcome { return Outcome{Kind: KindOK} }

func insufficient(detail string) Outcome {
	return Outcome{Kind: KindInsufficientData, Err: models.InsufficientData(detail)}
}

func failed(primitive string, err error) Outcome {
	var mie *models.ModelInferenceError
	if !errors.As(err, &mie) {
		err = &models.ModelInferenceError{Primitive: primitive, Err: err}
	}
	return Outcome{Kind: KindFailed, Err: err}
}

// Thresholds configures the per-metric flags
type Thresholds struct {
	// Warp is the flow magnitude above which a pair counts as warped
	Warp float64
	// Melt is the detector confidence below which a frame counts as deformed
	Melt float64
	// MeltDeform is the deformed-frame rate above which the video is melted
	MeltDeform float64
	// Trajectory is the jump in mean displacement that counts as inconsistent
	Trajectory float64
	// Inconsistent is the inconsistency rate above which the video is flagged
	Inconsistent float64
}

// DefaultThresholds returns the stock thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		Warp:         50.0,
		Melt:         0.7,
		MeltDeform:   0.3,
		Trajectory:   10.0,
		Inconsistent: 0.3,
	}
}

// guard runs fn and turns a panic into a model inference error
func guard(primitive string, fn func()) error {
	if r := panics.Try(fn); r != nil {
		return &models.ModelInferenceError{Primitive: primitive, Err: r.AsError()}
	}
	return nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// flat reports whether every pixel of g has the same value
func flat(g *image.Gray) bool {
	b := g.Bounds()
	if b.Empty() {
		return true
	}
	first := g.GrayAt(b.Min.X, b.Min.Y).Y
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, y) : g.PixOffset(b.Max.X-1, y)+1]
		for _, v := range row {
			if v != first {
				return false
			}
		}
	}
	return true
}

// zeroVariancePair returns an insufficient-data outcome for the first
// consecutive pair in which both frames have no pixel variance.
func zeroVariancePair(frames []*image.Gray) (Outcome, bool) {
	for i := 0; i+1 < len(frames); i++ {
		if flat(frames[i]) && flat(frames[i+1]) {
			return insufficient(fmt.Sprintf("zero-variance frame pair %d", i)), true
		}
	}
	return Outcome{}, false
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func subScore(value float64, samples []float64, o Outcome) models.SubScore {
	return models.SubScore{
		Value:        value,
		NormalizedOK: o.OK(),
		RawSamples:   samples,
		Error:        o.Message(),
	}
}
