package metrics

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/bdougie/roastbench/internal/models"
	"github.com/bdougie/roastbench/internal/vision"
)

// TrajectoryResult measures how steadily tracked points move
type TrajectoryResult struct {
	Outcome
	Score             float64 `json:"score"`
	InconsistencyRate float64 `json:"inconsistency_rate"`
	Inconsistent      bool    `json:"inconsistent"`
	// Displacements is the mean point displacement per tracked step
	Displacements []float64 `json:"displacements,omitempty"`
	// Tracked is the number of surviving points per tracked step
	Tracked []int `json:"tracked,omitempty"`
}

// SubScore flattens the result for export
func (r TrajectoryResult) SubScore() models.SubScore {
	return subScore(r.Score, r.Displacements, r.Outcome)
}

// Trajectory detects points on the first frame and follows them through the
// sequence. Points that lose tracking are dropped for good. Consecutive steps
// whose mean displacement differs by more than the threshold are inconsistent.
//
// At least two tracked steps are needed to make one comparison. When tracking
// is lost after a single step there is nothing to compare, so the result is
// insufficient data with score 0 rather than a perfect 100.
func (e *Engine) Trajectory(frames []*image.Gray) TrajectoryResult {
	if len(frames) < MinTrajectoryFrames {
		return TrajectoryResult{Outcome: insufficient(fmt.Sprintf("trajectory needs %d frames, got %d", MinTrajectoryFrames, len(frames)))}
	}

	var (
		points   []vision.Point
		detected int
		steps    []float64
		tracked  []int
		trackErr error
	)
	panicErr := guard("tracker", func() {
		points, trackErr = e.tracker.TrackPoints(frames[0])
		detected = len(points)
		if trackErr != nil || detected == 0 {
			return
		}
		for i := 1; i < len(frames) && len(points) > 0; i++ {
			next, status, err := e.tracker.TrackFlow(frames[i-1], frames[i], points)
			if err != nil {
				trackErr = fmt.Errorf("step %d: %w", i, err)
				return
			}

			kept := make([]vision.Point, 0, len(points))
			var sum float64
			for j := range points {
				if j >= len(status) || !status[j] {
					continue
				}
				sum += math.Hypot(next[j].X-points[j].X, next[j].Y-points[j].Y)
				kept = append(kept, next[j])
			}
			if len(kept) > 0 {
				steps = append(steps, sum/float64(len(kept)))
				tracked = append(tracked, len(kept))
			}
			points = kept
		}
	})
	if err := errors.Join(panicErr, trackErr); err != nil {
		return TrajectoryResult{Outcome: failed("tracker", err)}
	}

	switch {
	case detected == 0:
		return TrajectoryResult{Outcome: insufficient("no keypoints detected on the first frame")}
	case len(steps) < 2:
		return TrajectoryResult{
			Outcome: insufficient(fmt.Sprintf("trajectory needs 2 tracked steps, got %d", len(steps))),
			Tracked: tracked,
		}
	}

	var jumps int
	for i := 0; i+1 < len(steps); i++ {
		if math.Abs(steps[i+1]-steps[i]) > e.thresholds.Trajectory {
			jumps++
		}
	}
	rate := float64(jumps) / float64(len(steps)-1)
	return TrajectoryResult{
		Outcome:           ok(),
		Score:             (1 - rate) * 100,
		InconsistencyRate: rate,
		Inconsistent:      rate > e.thresholds.Inconsistent,
		Displacements:     steps,
		Tracked:           tracked,
	}
}
