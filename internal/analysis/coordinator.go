// Package analysis grades the artifacts produced by a dispatch run.
//
// Each item moves pending -> downloading -> extracting -> scoring and ends
// scored, skipped (no artifact to grade) or errored (with the stage that
// failed). Items run under the same bounded fan-out as generation.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/bdougie/roastbench/internal/dispatcher"
	"github.com/bdougie/roastbench/internal/logging"
	"github.com/bdougie/roastbench/internal/metrics"
	"github.com/bdougie/roastbench/internal/models"
	"github.com/bdougie/roastbench/internal/scoring"
	"github.com/bdougie/roastbench/internal/vision"
)

// ReasonNoArtifact is recorded on items that never produced a video
const ReasonNoArtifact = "no artifact"

// Downloader fetches an artifact to a local path
type Downloader interface {
	Download(ctx context.Context, url, dest string) error
}

// Extractor samples frames from a local video
type Extractor interface {
	Extract(ctx context.Context, videoPath string, fps float64, maxFrames int) (vision.FrameSet, error)
}

// Evaluator computes the metric report for a frame set
type Evaluator interface {
	Evaluate(ctx context.Context, frames vision.FrameSet) metrics.Report
}

// Coordinator wires download, extraction, metrics and aggregation.
// One Evaluator, and so one set of scoring primitives, serves the whole batch.
type Coordinator struct {
	downloader    Downloader
	extractor     Extractor
	evaluator     Evaluator
	aggregator    *scoring.Aggregator
	concurrency   int
	tempDir       string
	keepArtifacts bool
	fps           float64
	maxFrames     int
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithConcurrency caps the number of items analyzed at once
func WithConcurrency(n int) Option {
	return func(c *Coordinator) { c.concurrency = n }
}

// WithTempDir sets where artifacts are downloaded
func WithTempDir(dir string) Option {
	return func(c *Coordinator) { c.tempDir = dir }
}

// WithKeepArtifacts leaves downloaded videos on disk after scoring
func WithKeepArtifacts(keep bool) Option {
	return func(c *Coordinator) { c.keepArtifacts = keep }
}

// WithSampling sets the frame rate and cap handed to the extractor
func WithSampling(fps float64, maxFrames int) Option {
	return func(c *Coordinator) {
		c.fps = fps
		c.maxFrames = maxFrames
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a coordinator
func New(dl Downloader, ex Extractor, ev Evaluator, agg *scoring.Aggregator, opts ...Option) *Coordinator {
	c := &Coordinator{
		downloader:  dl,
		extractor:   ex,
		evaluator:   ev,
		aggregator:  agg,
		concurrency: 10,
		tempDir:     os.TempDir(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger).With("component", "analysis")
	return c
}

// ProcessBatch analyzes every dispatch result. The output is index-aligned
// with results and always has the same length.
func (c *Coordinator) ProcessBatch(ctx context.Context, results []models.DispatchResult) []models.AnalysisResult {
	c.logger.Info("analyzing batch", "items", len(results), "concurrency", c.concurrency)

	out := dispatcher.FanOut(ctx, results, c.concurrency, func(ctx context.Context, _ int, dr models.DispatchResult) models.AnalysisResult {
		return c.Analyze(ctx, dr)
	})

	var scored, skipped, errored int
	for _, r := range out {
		switch r.Status {
		case models.AnalysisScored:
			scored++
		case models.AnalysisSkipped:
			skipped++
		default:
			errored++
		}
	}
	c.logger.Info("batch analyzed", "scored", scored, "skipped", skipped, "errored", errored)
	return out
}

// Analyze runs one item through the state machine. It never panics and
// never returns without a terminal status.
func (c *Coordinator) Analyze(ctx context.Context, dr models.DispatchResult) models.AnalysisResult {
	res := models.AnalysisResult{
		ItemID:      dr.ItemID,
		Prompt:      dr.Prompt,
		ArtifactRef: dr.ArtifactRef,
		Stage:       models.StagePending,
	}
	log := c.logger.With("item_id", dr.ItemID)

	if !dr.HasArtifact() {
		res.Status = models.AnalysisSkipped
		res.Reason = ReasonNoArtifact
		res.AnalyzedAt = c.now().UTC()
		return res
	}
	if err := ctx.Err(); err != nil {
		return c.errored(log, res, fmt.Errorf("cancelled: %w", err))
	}

	var err error
	if r := panics.Try(func() { err = c.run(ctx, dr, &res) }); r != nil {
		err = r.AsError()
	}
	if err != nil {
		return c.errored(log, res, err)
	}

	res.Status = models.AnalysisScored
	res.Stage = models.StageDone
	res.AnalyzedAt = c.now().UTC()
	log.Info("item scored", "overall_score", res.OverallScore, "should_flag", res.ShouldFlag)
	return res
}

func (c *Coordinator) run(ctx context.Context, dr models.DispatchResult, res *models.AnalysisResult) error {
	path := filepath.Join(c.tempDir, uuid.New().String()+".mp4")

	res.Stage = models.StageDownloading
	if !c.keepArtifacts {
		defer os.Remove(path)
	}
	if err := c.downloader.Download(ctx, dr.ArtifactRef, path); err != nil {
		return err
	}

	res.Stage = models.StageExtracting
	frames, err := c.extractor.Extract(ctx, path, c.fps, c.maxFrames)
	if err != nil {
		return err
	}
	res.FrameCount = len(frames)

	res.Stage = models.StageScoring
	report := c.evaluator.Evaluate(ctx, frames)
	res.SubScores = report.SubScores()
	res.WarpRate = report.Warp.Rate
	res.IsWarped = report.Warp.Warped
	res.MeltRate = report.Melt.Rate
	res.IsMelted = report.Melt.Melted
	res.AvgSimilarity = report.Coherence.AvgSimilarity
	res.AvgFidelity = report.Coherence.AvgFidelity
	res.InconsistencyRate = report.Trajectory.InconsistencyRate
	res.IsInconsistent = report.Trajectory.Inconsistent
	res.DefectCount = scoring.DefectCount(report)

	verdict, err := c.aggregator.Aggregate(scoring.InputsFromReport(report))
	if err != nil {
		return err
	}
	res.OverallScore = verdict.OverallScore
	res.ShouldFlag = verdict.ShouldFlag
	for _, t := range verdict.Triggers {
		res.Triggers = append(res.Triggers, string(t))
	}
	return nil
}

func (c *Coordinator) errored(log *slog.Logger, res models.AnalysisResult, err error) models.AnalysisResult {
	res.Status = models.AnalysisErrored
	res.Error = err.Error()
	res.AnalyzedAt = c.now().UTC()
	log.Error("item analysis failed", "stage", res.Stage, "error", err)
	return res
}
