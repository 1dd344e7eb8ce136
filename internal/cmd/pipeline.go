package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bdougie/roastbench/internal/analysis"
	"github.com/bdougie/roastbench/internal/config"
	"github.com/bdougie/roastbench/internal/dispatcher"
	"github.com/bdougie/roastbench/internal/downloader"
	"github.com/bdougie/roastbench/internal/extractor"
	"github.com/bdougie/roastbench/internal/generation"
	"github.com/bdougie/roastbench/internal/metrics"
	"github.com/bdougie/roastbench/internal/models"
	"github.com/bdougie/roastbench/internal/scoring"
	"github.com/bdougie/roastbench/internal/storage"
	"github.com/bdougie/roastbench/internal/vision"
)

// ReadPrompts loads one prompt per line. Blank lines and lines starting
// with # are ignored. Item ids are 1-based line order among kept prompts.
func ReadPrompts(path string) ([]models.WorkItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prompts file: %w", err)
	}
	defer f.Close()

	var items []models.WorkItem
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, models.WorkItem{ID: len(items) + 1, Payload: line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	return items, nil
}

// newDispatcher builds the generation client and the dispatcher around it.
// Fan-out mode shares one pooled session sized to the concurrency limit;
// queue mode lets every worker open its own.
func newDispatcher(cfg *config.Config, logger *slog.Logger) (*dispatcher.Dispatcher, error) {
	g := cfg.Generation
	opts := []generation.Option{
		generation.WithDelay(g.MinDelay(), g.MaxDelay()),
		generation.WithTimeout(g.Timeout()),
		generation.WithLogger(logger),
	}
	if dispatcher.Mode(cfg.Dispatch.Mode) != dispatcher.ModeQueue {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = cfg.Dispatch.Concurrency
		opts = append(opts, generation.WithHTTPClient(&http.Client{Transport: transport, Timeout: g.Timeout()}))
	}

	client, err := generation.NewClient(g.Endpoint, g.APIKey, opts...)
	if err != nil {
		return nil, err
	}

	alloc, err := dispatcher.AllocatorByName(cfg.Dispatch.Allocation, cfg.Dispatch.Devices)
	if err != nil {
		return nil, err
	}

	return dispatcher.New(client,
		dispatcher.WithConcurrency(cfg.Dispatch.Concurrency),
		dispatcher.WithQueueSize(cfg.Dispatch.QueueSize),
		dispatcher.WithDevices(cfg.Dispatch.Devices, alloc),
		dispatcher.WithLogger(logger),
	), nil
}

// newDetector builds the configured melt detector
func newDetector(ctx context.Context, cfg *config.Config, logger *slog.Logger) vision.Detector {
	m := cfg.Metrics
	var d vision.Detector
	switch m.DetectorKind() {
	case "remote":
		d = vision.NewRemoteDetector(m.DetectorEndpoint, m.DetectorTimeout())
	case "ollama":
		model := vision.NewOllamaModel(ctx, vision.OllamaConfig{
			BaseURL: m.OllamaBaseURL,
			Port:    m.OllamaPort,
			Model:   m.OllamaModel,
		}, logger)
		d = vision.NewOllamaDetector(model, cfg.Analysis.TempDir, logger)
	default:
		d = vision.NewSharpnessDetector()
	}
	if cfg.Analysis.SerializeDetector {
		d = vision.Serialize(d)
	}
	return d
}

// newCoordinator wires download, extraction, metrics and scoring from cfg
func newCoordinator(ctx context.Context, cfg *config.Config, logger *slog.Logger) *analysis.Coordinator {
	m := cfg.Metrics
	thresholds := metrics.DefaultThresholds()
	thresholds.Warp = m.WarpThreshold
	thresholds.Melt = m.MeltThreshold
	thresholds.MeltDeform = m.MeltDeformThreshold
	thresholds.Trajectory = m.TrajectoryThreshold

	engine := metrics.NewEngine(thresholds,
		metrics.WithDetector(newDetector(ctx, cfg, logger)),
		metrics.WithTracker(vision.NewFeatureTracker(m.FASTThreshold, m.MaxKeypoints)),
		metrics.WithLogger(logger),
	)

	w := cfg.Scoring.Weights
	agg := scoring.NewAggregator(scoring.Weights{
		Warp:       w.Warp,
		Melt:       w.Melt,
		Coherence:  w.Coherence,
		Trajectory: w.Trajectory,
	}, cfg.Scoring.RoastThreshold)

	return analysis.New(
		downloader.New(cfg.Analysis.DownloadTimeout()),
		extractor.New(cfg.Frames.FFmpegPath, cfg.Frames.Width, logger),
		engine,
		agg,
		analysis.WithConcurrency(cfg.Analysis.Concurrency),
		analysis.WithTempDir(cfg.Analysis.TempDir),
		analysis.WithKeepArtifacts(cfg.Analysis.KeepArtifacts),
		analysis.WithSampling(cfg.Frames.FPS, cfg.Frames.MaxFrames),
		analysis.WithLogger(logger),
	)
}

// generate dispatches items and saves the results into runDir
func generate(ctx context.Context, cfg *config.Config, logger *slog.Logger, items []models.WorkItem, runDir string) ([]models.DispatchResult, error) {
	d, err := newDispatcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	results, err := d.Run(ctx, dispatcher.Mode(cfg.Dispatch.Mode), items)
	if err != nil {
		return nil, err
	}

	stats := dispatcher.Summarize(results)
	logger.Info("generation finished",
		"total", stats.Total,
		"success", stats.Success,
		"failed", stats.Failed,
		"errors", stats.Errors,
		"success_rate", stats.SuccessRate,
	)

	if err := storage.WriteDispatch(filepath.Join(runDir, storage.DispatchFile), results); err != nil {
		return nil, err
	}
	return results, nil
}

// analyze grades dispatched results and writes every export into runDir
func analyze(ctx context.Context, cfg *config.Config, logger *slog.Logger, dispatched []models.DispatchResult, runDir string) (scoring.Summary, error) {
	if err := os.MkdirAll(cfg.Analysis.TempDir, 0o755); err != nil {
		return scoring.Summary{}, fmt.Errorf("failed to create temp dir: %w", err)
	}

	results := newCoordinator(ctx, cfg, logger).ProcessBatch(ctx, dispatched)

	// exports are written even when the batch was interrupted
	ctx = context.WithoutCancel(ctx)

	store := storage.NewStorage(filepath.Dir(runDir), filepath.Base(runDir), logger)
	if err := os.Remove(filepath.Join(runDir, storage.ResultsFile)); err != nil && !os.IsNotExist(err) {
		return scoring.Summary{}, err
	}
	for _, r := range results {
		if err := store.AddResult(ctx, r); err != nil {
			return scoring.Summary{}, err
		}
	}
	if err := store.Flush(); err != nil {
		return scoring.Summary{}, err
	}

	if err := storage.WriteCSV(filepath.Join(runDir, storage.CSVFile), results); err != nil {
		return scoring.Summary{}, err
	}
	if err := storage.WriteFlagged(filepath.Join(runDir, storage.FlaggedFile), results); err != nil {
		return scoring.Summary{}, err
	}

	summary := scoring.Summarize(results)
	if err := storage.WriteJSON(filepath.Join(runDir, storage.SummaryFile), summary); err != nil {
		return scoring.Summary{}, err
	}

	logger.Info("analysis finished",
		"scored", summary.Scored,
		"skipped", summary.Skipped,
		"errored", summary.Errored,
		"flagged", summary.FlaggedCount,
		"avg_overall_score", summary.AvgOverallScore,
		"output", runDir,
	)
	return summary, nil
}
