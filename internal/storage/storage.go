// Package storage writes dispatch and analysis results for one run.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdougie/roastbench/internal/logging"
	"github.com/bdougie/roastbench/internal/models"
)

const batchSize = 10 // Number of results to batch write

// ResultsFile is the JSON array of every analysis result in a run
const ResultsFile = "analysis_results.json"

// Storage defines the interface for storing analysis results
type Storage interface {
	// AddResult adds a single analysis result
	AddResult(ctx context.Context, result models.AnalysisResult) error

	// Flush ensures all pending results are saved
	Flush() error
}

// storageImpl batches results in memory and appends them to ResultsFile
type storageImpl struct {
	results []models.AnalysisResult
	mu      sync.Mutex
	runDir  string
	logger  *slog.Logger
}

// NewStorage creates a storage manager rooted at outputDir/runID
func NewStorage(outputDir, runID string, logger *slog.Logger) *storageImpl {
	return &storageImpl{
		results: []models.AnalysisResult{},
		runDir:  filepath.Join(outputDir, runID),
		logger:  logging.OrDefault(logger).With("component", "storage"),
	}
}

// Dir is the run directory every export lands in
func (s *storageImpl) Dir() string { return s.runDir }

// AddResult adds a result to the batch and flushes if the batch is full
func (s *storageImpl) AddResult(ctx context.Context, result models.AnalysisResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)

	// Write to disk when batch is full
	if len(s.results) >= batchSize {
		if err := s.flush(); err != nil {
			s.logger.Error("failed to flush results", "error", err)
			return err
		}
	}
	return nil
}

// Flush writes all pending results to disk
func (s *storageImpl) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *storageImpl) flush() error {
	if len(s.results) == 0 {
		return nil
	}

	path := filepath.Join(s.runDir, ResultsFile)

	existing, err := ReadResults(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	all := append(existing, s.results...)
	if err := WriteJSON(path, all); err != nil {
		return err
	}

	s.logger.Debug("results flushed", "batch", len(s.results), "total", len(all))
	s.results = nil
	return nil
}

// ReadResults loads a results file written by Flush
func ReadResults(path string) ([]models.AnalysisResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var results []models.AnalysisResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal results in '%s': %w", path, err)
	}
	return results, nil
}

// WriteJSON writes v as indented JSON, creating parent directories
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", path, err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", path, err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode '%s': %w", path, err)
	}
	return nil
}
