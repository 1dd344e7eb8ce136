package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bdougie/roastbench/internal/models"
)

// Export file names inside a run directory
const (
	DispatchFile = "dispatch_results.json"
	CSVFile      = "analysis_results.csv"
	FlaggedFile  = "flagged.json"
	SummaryFile  = "summary.json"
)

// WriteDispatch saves the generation phase output
func WriteDispatch(path string, results []models.DispatchResult) error {
	return WriteJSON(path, results)
}

// ReadDispatch loads a file written by WriteDispatch
func ReadDispatch(path string) ([]models.DispatchResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dispatch results: %w", err)
	}
	var results []models.DispatchResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dispatch results in '%s': %w", path, err)
	}
	return results, nil
}

// WriteCSV writes one row per result using the flattened column set
func WriteCSV(path string, results []models.AnalysisResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(models.Columns); err != nil {
		return err
	}
	for _, r := range results {
		if err := w.Write(r.Record()); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteFlagged writes only the results that should be flagged. An empty
// batch still produces a file holding an empty array.
func WriteFlagged(path string, results []models.AnalysisResult) error {
	flagged := []models.AnalysisResult{}
	for _, r := range results {
		if r.ShouldFlag {
			flagged = append(flagged, r)
		}
	}
	return WriteJSON(path, flagged)
}
