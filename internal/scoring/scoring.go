// Package scoring combines metric sub-scores into an overall score and
// decides whether an artifact is flagged.
package scoring

import (
	"math"

	"github.com/bdougie/roastbench/internal/metrics"
	"github.com/bdougie/roastbench/internal/models"
)

const (
	// WarpSoftMax is the warp score that normalizes to 0
	WarpSoftMax = 200.0

	DefaultRoastThreshold = 5.0
	DefaultSevereWarp     = 100.0
	DefaultSevereMelt     = 0.5
)

// Trigger names a flagging rule that fired
type Trigger string

const (
	TriggerLowScore   Trigger = "low_score"
	TriggerSevereWarp Trigger = "severe_warp"
	TriggerSevereMelt Trigger = "severe_melt"
)

// Weights are the per-metric multipliers. They are not required to sum to 1.
type Weights struct {
	Warp       float64 `json:"warp"`
	Melt       float64 `json:"melt"`
	Coherence  float64 `json:"coherence"`
	Trajectory float64 `json:"trajectory"`
}

// DefaultWeights returns 0.3 / 0.3 / 0.2 / 0.2
func DefaultWeights() Weights {
	return Weights{Warp: 0.3, Melt: 0.3, Coherence: 0.2, Trajectory: 0.2}
}

// NormalizeWarp maps warp score onto 0-100, higher is better.
// Scores at or above WarpSoftMax clamp to 0.
func NormalizeWarp(warpScore float64) float64 {
	return math.Max(0, 100-(warpScore/WarpSoftMax)*100)
}

// NormalizeMelt maps melt rate onto 0-100, higher is better
func NormalizeMelt(meltRate float64) float64 {
	return (1 - meltRate) * 100
}

// Inputs are the raw values the aggregator needs
type Inputs struct {
	WarpScore       float64
	MeltRate        float64
	CoherenceScore  float64
	TrajectoryScore float64
}

// InputsFromReport picks the aggregator inputs out of a metric report
func InputsFromReport(r metrics.Report) Inputs {
	return Inputs{
		WarpScore:       r.Warp.Score,
		MeltRate:        r.Melt.Rate,
		CoherenceScore:  r.Coherence.Score,
		TrajectoryScore: r.Trajectory.Score,
	}
}

// Verdict is the aggregator's decision for one artifact
type Verdict struct {
	OverallScore float64   `json:"overall_score"`
	ShouldFlag   bool      `json:"should_flag"`
	Triggers     []Trigger `json:"triggers,omitempty"`
}

// Aggregator applies weights and the flagging rule
type Aggregator struct {
	Weights        Weights
	RoastThreshold float64
	SevereWarp     float64
	SevereMelt     float64
}

// NewAggregator returns an aggregator with the stock severity limits
func NewAggregator(w Weights, roastThreshold float64) *Aggregator {
	return &Aggregator{
		Weights:        w,
		RoastThreshold: roastThreshold,
		SevereWarp:     DefaultSevereWarp,
		SevereMelt:     DefaultSevereMelt,
	}
}

// Aggregate computes the weighted overall score and evaluates every flag
// trigger. Any trigger flags the artifact.
func (a *Aggregator) Aggregate(in Inputs) (Verdict, error) {
	for field, v := range map[string]float64{
		"warp_score":       in.WarpScore,
		"melt_rate":        in.MeltRate,
		"coherence_score":  in.CoherenceScore,
		"trajectory_score": in.TrajectoryScore,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Verdict{}, &models.AggregationError{Field: field, Reason: "not a finite number"}
		}
	}

	w := a.Weights
	overall := NormalizeWarp(in.WarpScore)*w.Warp +
		NormalizeMelt(in.MeltRate)*w.Melt +
		in.CoherenceScore*w.Coherence +
		in.TrajectoryScore*w.Trajectory

	v := Verdict{OverallScore: overall}
	if overall < a.RoastThreshold {
		v.Triggers = append(v.Triggers, TriggerLowScore)
	}
	if in.WarpScore > a.SevereWarp {
		v.Triggers = append(v.Triggers, TriggerSevereWarp)
	}
	if in.MeltRate > a.SevereMelt {
		v.Triggers = append(v.Triggers, TriggerSevereMelt)
	}
	v.ShouldFlag = len(v.Triggers) > 0
	return v, nil
}

// DefectCount counts the per-metric defect flags that are set
func DefectCount(r metrics.Report) int {
	n := 0
	if r.Warp.Warped {
		n++
	}
	if r.Melt.Melted {
		n++
	}
	return n
}
