package metrics

import (
	"context"
	"log/slog"

	"github.com/bdougie/roastbench/internal/logging"
	"github.com/bdougie/roastbench/internal/models"
	"github.com/bdougie/roastbench/internal/vision"
)

// Engine computes the four sub-scores. The primitives it holds are shared
// across items; none of them keeps per-call state.
type Engine struct {
	thresholds Thresholds
	flow       vision.FlowEstimator
	comparator vision.Comparator
	tracker    vision.Tracker
	detector   vision.Detector
	logger     *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithFlowEstimator replaces the dense motion primitive
func WithFlowEstimator(f vision.FlowEstimator) Option {
	return func(e *Engine) { e.flow = f }
}

// WithComparator replaces the similarity and fidelity primitives
func WithComparator(c vision.Comparator) Option {
	return func(e *Engine) { e.comparator = c }
}

// WithTracker replaces the feature point and sparse tracking primitives
func WithTracker(t vision.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// WithDetector replaces the object confidence primitive
func WithDetector(d vision.Detector) Option {
	return func(e *Engine) { e.detector = d }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine with the local primitives unless overridden
func NewEngine(t Thresholds, opts ...Option) *Engine {
	e := &Engine{
		thresholds: t,
		flow:       vision.NewLucasKanade(),
		comparator: vision.NewStructural(),
		tracker:    vision.NewFeatureTracker(10, 500),
		detector:   vision.NewSharpnessDetector(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrDefault(e.logger).With("component", "metrics")
	return e
}

// Report holds every metric for one frame set
type Report struct {
	Warp       WarpResult       `json:"warp"`
	Melt       MeltResult       `json:"melt"`
	Coherence  CoherenceResult  `json:"coherence"`
	Trajectory TrajectoryResult `json:"trajectory"`
	FrameCount int              `json:"frame_count"`
}

// SubScores flattens the report for export
func (r Report) SubScores() models.SubScores {
	return models.SubScores{
		Warp:       r.Warp.SubScore(),
		Melt:       r.Melt.SubScore(),
		Coherence:  r.Coherence.SubScore(),
		Trajectory: r.Trajectory.SubScore(),
	}
}

// Evaluate runs all four metrics. Frames are converted to grayscale once.
func (e *Engine) Evaluate(ctx context.Context, frames vision.FrameSet) Report {
	gray := frames.Gray()

	r := Report{
		Warp:       e.Warp(gray),
		Melt:       e.Melt(ctx, frames),
		Coherence:  e.Coherence(gray),
		Trajectory: e.Trajectory(gray),
		FrameCount: len(frames),
	}

	for name, o := range map[string]Outcome{
		"warp":       r.Warp.Outcome,
		"melt":       r.Melt.Outcome,
		"coherence":  r.Coherence.Outcome,
		"trajectory": r.Trajectory.Outcome,
	} {
		if !o.OK() {
			e.logger.Warn("metric degraded", "metric", name, "kind", o.Kind, "error", o.Message())
		}
	}
	return r
}
