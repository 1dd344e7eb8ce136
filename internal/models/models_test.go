package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchResult_HasArtifact(t *testing.T) {
	assert.True(t, DispatchResult{Status: DispatchSuccess, ArtifactRef: "http://x/v.mp4"}.HasArtifact())
	assert.False(t, DispatchResult{Status: DispatchSuccess}.HasArtifact())
	assert.False(t, DispatchResult{Status: DispatchFailed, ArtifactRef: "http://x/v.mp4"}.HasArtifact())
	assert.False(t, DispatchResult{Status: DispatchError}.HasArtifact())
}

func TestAnalysisResult_RecordAlignsWithColumns(t *testing.T) {
	r := AnalysisResult{
		ItemID:       7,
		Prompt:       "samurai vs T-rex",
		Status:       AnalysisScored,
		Stage:        StageDone,
		OverallScore: 61.25,
		ShouldFlag:   true,
		DefectCount:  1,
		FrameCount:   24,
		AnalyzedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	r.SubScores.Warp.Value = 150

	rec := r.Record()
	require.Len(t, rec, len(Columns))

	byName := make(map[string]string, len(Columns))
	for i, c := range Columns {
		byName[c] = rec[i]
	}
	assert.Equal(t, "7", byName["item_id"])
	assert.Equal(t, "scored", byName["status"])
	assert.Equal(t, "150.0000", byName["warp_score"])
	assert.Equal(t, "61.2500", byName["overall_score"])
	assert.Equal(t, "true", byName["should_flag"])
	assert.Equal(t, "2026-01-02T03:04:05Z", byName["analyzed_at"])
	assert.Equal(t, "", byName["error"])
}

func TestAnalysisResult_RecordFallsBackToSubScoreError(t *testing.T) {
	r := AnalysisResult{Status: AnalysisScored}
	r.SubScores.Coherence.Error = "insufficient data: need 2 frames"

	rec := r.Record()
	assert.Equal(t, "insufficient data: need 2 frames", rec[len(rec)-1])
	assert.Equal(t, "", rec[len(Columns)-3], "analyzed_at stays empty when unset")
}

func TestErrorTaxonomy(t *testing.T) {
	err := fmt.Errorf("warp: %w", InsufficientData("need 2 frames, got 1"))
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.Contains(t, err.Error(), "need 2 frames")

	rejected := &TransportError{Op: "generate", StatusCode: 429, Body: "slow down"}
	assert.True(t, rejected.Rejected())
	assert.Equal(t, "generate: status 429: slow down", rejected.Error())

	cause := errors.New("connection reset")
	broken := &TransportError{Op: "download", Err: cause}
	assert.False(t, broken.Rejected())
	assert.ErrorIs(t, broken, cause)

	var mie *ModelInferenceError
	wrapped := fmt.Errorf("melt: %w", &ModelInferenceError{Primitive: "confidence", Err: cause})
	require.True(t, errors.As(wrapped, &mie))
	assert.Equal(t, "confidence", mie.Primitive)

	agg := &AggregationError{Field: "warp_score", Reason: "not a number"}
	assert.Equal(t, "aggregation: warp_score: not a number", agg.Error())
}
