package metrics

import (
	"errors"
	"fmt"
	"image"

	"github.com/bdougie/roastbench/internal/models"
)

// CoherenceResult blends pairwise similarity and fidelity.
// Score is roughly 0 to 100 but is not clamped: fidelity above 50 dB pushes
// it past 100, and identical frames land at 150.
type CoherenceResult struct {
	Outcome
	Score         float64   `json:"score"`
	AvgSimilarity float64   `json:"avg_similarity"`
	AvgFidelity   float64   `json:"avg_fidelity"`
	Similarities  []float64 `json:"similarities,omitempty"`
	Fidelities    []float64 `json:"fidelities,omitempty"`
}

// SubScore flattens the result for export
func (r CoherenceResult) SubScore() models.SubScore {
	return subScore(r.Score, r.Similarities, r.Outcome)
}

// Coherence is (avg_fidelity/50 + avg_similarity) * 50 over consecutive pairs.
// A pair of flat frames yields insufficient data rather than a perfect score.
func (e *Engine) Coherence(frames []*image.Gray) CoherenceResult {
	if len(frames) < MinCoherenceFrames {
		return CoherenceResult{Outcome: insufficient(fmt.Sprintf("coherence needs %d frames, got %d", MinCoherenceFrames, len(frames)))}
	}
	if o, bad := zeroVariancePair(frames); bad {
		return CoherenceResult{Outcome: o}
	}

	sims := make([]float64, 0, len(frames)-1)
	fids := make([]float64, 0, len(frames)-1)
	var cmpErr error
	panicErr := guard("similarity", func() {
		for i := 0; i+1 < len(frames); i++ {
			s, err := e.comparator.Similarity(frames[i], frames[i+1])
			if err != nil {
				cmpErr = fmt.Errorf("pair %d similarity: %w", i, err)
				return
			}
			f, err := e.comparator.Fidelity(frames[i], frames[i+1])
			if err != nil {
				cmpErr = fmt.Errorf("pair %d fidelity: %w", i, err)
				return
			}
			if !finite(s) || !finite(f) {
				cmpErr = fmt.Errorf("pair %d: non-finite similarity %v or fidelity %v", i, s, f)
				return
			}
			sims = append(sims, s)
			fids = append(fids, f)
		}
	})
	if err := errors.Join(panicErr, cmpErr); err != nil {
		return CoherenceResult{Outcome: failed("similarity", err)}
	}

	avgSim, avgFid := mean(sims), mean(fids)
	return CoherenceResult{
		Outcome:       ok(),
		Score:         (avgFid/50.0 + avgSim) * 50.0,
		AvgSimilarity: avgSim,
		AvgFidelity:   avgFid,
		Similarities:  sims,
		Fidelities:    fids,
	}
}
