package metrics

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/bdougie/roastbench/internal/models"
)

// MeltResult is detector-confidence degradation over a frame set.
// Low confidence is read as object deformation.
type MeltResult struct {
	Outcome
	// Score is the mean per-frame confidence
	Score       float64   `json:"score"`
	Rate        float64   `json:"rate"`
	Melted      bool      `json:"melted"`
	Confidences []float64 `json:"confidences,omitempty"`
}

// SubScore flattens the result for export
func (r MeltResult) SubScore() models.SubScore {
	return subScore(r.Score, r.Confidences, r.Outcome)
}

// Melt runs the detector on every frame. Frames are passed as decoded so a
// detector can use colour.
func (e *Engine) Melt(ctx context.Context, frames []image.Image) MeltResult {
	if len(frames) < MinMeltFrames {
		return MeltResult{Outcome: insufficient("melt needs at least one frame")}
	}

	confs := make([]float64, 0, len(frames))
	var detectErr error
	panicErr := guard("detector", func() {
		for i, f := range frames {
			c, err := e.detector.Confidence(ctx, f)
			if err != nil {
				detectErr = fmt.Errorf("frame %d: %w", i, err)
				return
			}
			if !finite(c) {
				detectErr = fmt.Errorf("frame %d: non-finite confidence %v", i, c)
				return
			}
			confs = append(confs, c)
		}
	})
	if err := errors.Join(panicErr, detectErr); err != nil {
		return MeltResult{Outcome: failed("detector", err)}
	}

	var low int
	for _, c := range confs {
		if c < e.thresholds.Melt {
			low++
		}
	}
	rate := float64(low) / float64(len(confs))
	return MeltResult{
		Outcome:     ok(),
		Score:       mean(confs),
		Rate:        rate,
		Melted:      rate > e.thresholds.MeltDeform,
		Confidences: confs,
	}
}
