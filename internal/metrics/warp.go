package metrics

import (
	"errors"
	"fmt"
	"image"

	"github.com/bdougie/roastbench/internal/models"
)

// WarpResult is the optical-flow distortion of a frame set.
// Score is unbounded; larger means more distortion.
type WarpResult struct {
	Outcome
	Score      float64   `json:"score"`
	Rate       float64   `json:"rate"`
	Warped     bool      `json:"warped"`
	Magnitudes []float64 `json:"magnitudes,omitempty"`
}

// SubScore flattens the result for export
func (r WarpResult) SubScore() models.SubScore {
	return subScore(r.Score, r.Magnitudes, r.Outcome)
}

// Warp averages the flow-field norm over consecutive frame pairs.
// A pair of flat frames carries no motion signal and yields insufficient data.
func (e *Engine) Warp(frames []*image.Gray) WarpResult {
	if len(frames) < MinWarpFrames {
		return WarpResult{Outcome: insufficient(fmt.Sprintf("warp needs %d frames, got %d", MinWarpFrames, len(frames)))}
	}
	if o, bad := zeroVariancePair(frames); bad {
		return WarpResult{Outcome: o}
	}

	mags := make([]float64, 0, len(frames)-1)
	var flowErr error
	panicErr := guard("optical_flow", func() {
		for i := 0; i+1 < len(frames); i++ {
			f, err := e.flow.Flow(frames[i], frames[i+1])
			if err != nil {
				flowErr = fmt.Errorf("pair %d: %w", i, err)
				return
			}
			mags = append(mags, f.Norm())
		}
	})
	if err := errors.Join(panicErr, flowErr); err != nil {
		return WarpResult{Outcome: failed("optical_flow", err)}
	}

	score := mean(mags)
	if !finite(score) {
		return WarpResult{Outcome: failed("optical_flow", fmt.Errorf("non-finite flow magnitude %v", score))}
	}

	var over int
	for _, m := range mags {
		if m > e.thresholds.Warp {
			over++
		}
	}
	return WarpResult{
		Outcome:    ok(),
		Score:      score,
		Rate:       float64(over) / float64(len(mags)),
		Warped:     score > e.thresholds.Warp,
		Magnitudes: mags,
	}
}
