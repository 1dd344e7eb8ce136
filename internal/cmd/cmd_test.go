package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/roastbench/internal/models"
	"github.com/bdougie/roastbench/internal/scoring"
	"github.com/bdougie/roastbench/internal/storage"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeConfig(t *testing.T, dir, endpoint string) string {
	t.Helper()
	return writeFile(t, dir, "roastbench.yaml", fmt.Sprintf(`
generation:
  endpoint: %s
  api_key: test-key
  min_delay_seconds: 0
  max_delay_seconds: 0
dispatch:
  concurrency: 2
analysis:
  temp_dir: %s
output:
  dir: %s
logging:
  level: ERROR
`, endpoint, filepath.Join(dir, "temp"), filepath.Join(dir, "results")))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestReadPrompts(t *testing.T) {
	path := writeFile(t, t.TempDir(), "prompts.txt", "a cat surfing\n\n# comment\n  a dog skiing  \n")

	items, err := ReadPrompts(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.WorkItem{ID: 1, Payload: "a cat surfing"}, items[0])
	assert.Equal(t, models.WorkItem{ID: 2, Payload: "a dog skiing"}, items[1])

	_, err = ReadPrompts(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestGenerateCommand(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["prompt"] == "refuse me" {
			http.Error(w, "content policy", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"video_url": "https://cdn.example/" + body["prompt"] + ".mp4"})
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := writeConfig(t, dir, srv.URL)
	prompts := writeFile(t, dir, "prompts.txt", "one\nrefuse me\nthree\n")

	out, err := execute(t, "generate", "--config", cfg, "--prompts", prompts, "--run-id", "r1")
	require.NoError(t, err)

	path := filepath.Join(dir, "results", "r1", storage.DispatchFile)
	assert.Equal(t, path, strings.TrimSpace(out))
	assert.Equal(t, int32(3), calls.Load())

	results, err := storage.ReadDispatch(path)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, models.DispatchSuccess, results[0].Status)
	assert.Equal(t, "https://cdn.example/one.mp4", results[0].ArtifactRef)
	assert.Equal(t, models.DispatchFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "400")
	assert.Equal(t, models.DispatchSuccess, results[2].Status)
}

func TestRunCommand_NothingToGrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := writeConfig(t, dir, srv.URL)
	prompts := writeFile(t, dir, "prompts.txt", "one\ntwo\n")

	out, err := execute(t, "run", "--config", cfg, "--prompts", prompts, "--run-id", "r2")
	require.NoError(t, err)
	assert.Contains(t, out, "0 scored, 2 skipped, 0 errored, 0 flagged")

	runDir := filepath.Join(dir, "results", "r2")
	for _, name := range []string{storage.DispatchFile, storage.ResultsFile, storage.CSVFile, storage.FlaggedFile, storage.SummaryFile} {
		assert.FileExists(t, filepath.Join(runDir, name))
	}

	results, err := storage.ReadResults(filepath.Join(runDir, storage.ResultsFile))
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, models.AnalysisSkipped, r.Status)
		assert.Equal(t, "no artifact", r.Reason)
	}

	data, err := os.ReadFile(filepath.Join(runDir, storage.SummaryFile))
	require.NoError(t, err)
	var summary scoring.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Skipped)
}

func TestAnalyzeCommand_WritesBesideInput(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "http://127.0.0.1:1")

	runDir := filepath.Join(dir, "results", "prior")
	input := filepath.Join(runDir, storage.DispatchFile)
	require.NoError(t, storage.WriteDispatch(input, []models.DispatchResult{
		{ItemID: 1, Prompt: "p", Status: models.DispatchError, Error: "generate: timeout"},
	}))

	out, err := execute(t, "analyze", "--config", cfg, "--input", input)
	require.NoError(t, err)
	assert.Equal(t, runDir, strings.TrimSpace(out))
	assert.FileExists(t, filepath.Join(runDir, storage.CSVFile))

	// analyzing twice does not duplicate results
	_, err = execute(t, "analyze", "--config", cfg, "--input", input)
	require.NoError(t, err)
	results, err := storage.ReadResults(filepath.Join(runDir, storage.ResultsFile))
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestInvalidConfigAborts(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "bad.yaml", "dispatch:\n  concurrency: 0\n  mode: sideways\n")
	prompts := writeFile(t, dir, "prompts.txt", "one\n")

	_, err := execute(t, "generate", "--config", cfg, "--prompts", prompts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch.concurrency")
	assert.Contains(t, err.Error(), "dispatch.mode")
}

func TestMissingAPIKeyAborts(t *testing.T) {
	t.Setenv("XAI_API_KEY", "")
	t.Setenv("ROASTBENCH_GENERATION_API_KEY", "")
	dir := t.TempDir()
	cfg := writeFile(t, dir, "nokey.yaml", "generation:\n  endpoint: http://127.0.0.1:1\n")
	prompts := writeFile(t, dir, "prompts.txt", "one\n")

	_, err := execute(t, "generate", "--config", cfg, "--prompts", prompts, "--output", filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMissingCredentials)
	assert.NoDirExists(t, filepath.Join(dir, "out"))
}
