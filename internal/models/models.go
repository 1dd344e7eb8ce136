package models

import (
	"strconv"
	"time"
)

// WorkItem represents a prompt to be sent to the generation backend
type WorkItem struct {
	ID       int            `json:"id"`
	Payload  string         `json:"payload"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DispatchStatus is the outcome of one generation call
type DispatchStatus string

const (
	DispatchSuccess DispatchStatus = "success"
	DispatchFailed  DispatchStatus = "failed"
	DispatchError   DispatchStatus = "error"
)

// DispatchResult is created exactly once per WorkItem by the dispatcher
type DispatchResult struct {
	ItemID      int            `json:"item_id"`
	Prompt      string         `json:"prompt"`
	Status      DispatchStatus `json:"status"`
	ArtifactRef string         `json:"artifact_ref,omitempty"`
	Error       string         `json:"error,omitempty"`
	WorkerID    int            `json:"worker_id"`
	DeviceID    *int           `json:"device_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// HasArtifact reports whether the generation produced something to grade
func (r DispatchResult) HasArtifact() bool {
	return r.Status == DispatchSuccess && r.ArtifactRef != ""
}

// AnalysisStatus is the terminal state of an item in the analysis phase
type AnalysisStatus string

const (
	AnalysisScored  AnalysisStatus = "scored"
	AnalysisSkipped AnalysisStatus = "skipped"
	AnalysisErrored AnalysisStatus = "errored"
)

// Stage names the step an item is in while it is being analyzed
type Stage string

const (
	StagePending     Stage = "pending"
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
	StageScoring     Stage = "scoring"
	StageDone        Stage = "done"
)

// SubScore is the outcome of a single quality metric
type SubScore struct {
	Value        float64   `json:"value"`
	NormalizedOK bool      `json:"normalized_ok"`
	RawSamples   []float64 `json:"raw_samples,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// SubScores groups the four metrics computed for one artifact
type SubScores struct {
	Warp       SubScore `json:"warp"`
	Melt       SubScore `json:"melt"`
	Coherence  SubScore `json:"coherence"`
	Trajectory SubScore `json:"trajectory"`
}

// AnalysisResult represents the graded outcome for one dispatched item
type AnalysisResult struct {
	ItemID      int            `json:"item_id"`
	Prompt      string         `json:"prompt"`
	ArtifactRef string         `json:"artifact_ref,omitempty"`
	Status      AnalysisStatus `json:"status"`
	Stage       Stage          `json:"stage"`
	SubScores   SubScores      `json:"sub_scores"`

	WarpRate          float64 `json:"warp_rate"`
	IsWarped          bool    `json:"is_warped"`
	MeltRate          float64 `json:"melt_rate"`
	IsMelted          bool    `json:"is_melted"`
	AvgSimilarity     float64 `json:"avg_similarity"`
	AvgFidelity       float64 `json:"avg_fidelity"`
	InconsistencyRate float64 `json:"inconsistency_rate"`
	IsInconsistent    bool    `json:"is_inconsistent"`

	OverallScore float64   `json:"overall_score"`
	ShouldFlag   bool      `json:"should_flag"`
	Triggers     []string  `json:"triggers,omitempty"`
	DefectCount  int       `json:"defect_count"`
	FrameCount   int       `json:"frame_count"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
	Reason       string    `json:"reason,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Columns is the flattened export schema, one scalar per column
var Columns = []string{
	"item_id",
	"prompt",
	"artifact_ref",
	"status",
	"stage",
	"warp_score",
	"warp_rate",
	"is_warped",
	"melt_score",
	"melt_rate",
	"is_melted",
	"coherence_score",
	"avg_similarity",
	"avg_fidelity",
	"trajectory_score",
	"inconsistency_rate",
	"overall_score",
	"should_flag",
	"defect_count",
	"frame_count",
	"analyzed_at",
	"reason",
	"error",
}

// Record flattens the result into values aligned with Columns
func (r AnalysisResult) Record() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	analyzedAt := ""
	if !r.AnalyzedAt.IsZero() {
		analyzedAt = r.AnalyzedAt.Format(time.RFC3339)
	}
	errMsg := r.Error
	if errMsg == "" {
		errMsg = r.firstSubScoreError()
	}

	return []string{
		strconv.Itoa(r.ItemID),
		r.Prompt,
		r.ArtifactRef,
		string(r.Status),
		string(r.Stage),
		f(r.SubScores.Warp.Value),
		f(r.WarpRate),
		strconv.FormatBool(r.IsWarped),
		f(r.SubScores.Melt.Value),
		f(r.MeltRate),
		strconv.FormatBool(r.IsMelted),
		f(r.SubScores.Coherence.Value),
		f(r.AvgSimilarity),
		f(r.AvgFidelity),
		f(r.SubScores.Trajectory.Value),
		f(r.InconsistencyRate),
		f(r.OverallScore),
		strconv.FormatBool(r.ShouldFlag),
		strconv.Itoa(r.DefectCount),
		strconv.Itoa(r.FrameCount),
		analyzedAt,
		r.Reason,
		errMsg,
	}
}

func (r AnalysisResult) firstSubScoreError() string {
	for _, s := range []SubScore{r.SubScores.Warp, r.SubScores.Melt, r.SubScores.Coherence, r.SubScores.Trajectory} {
		if s.Error != "" {
			return s.Error
		}
	}
	return ""
}
