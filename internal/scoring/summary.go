package scoring

import "github.com/bdougie/roastbench/internal/models"

// Summary aggregates a batch of analysis results. Averages cover scored items only.
type Summary struct {
	Total   int `json:"total"`
	Scored  int `json:"scored"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`

	AvgWarpScore       float64 `json:"avg_warp_score"`
	AvgMeltRate        float64 `json:"avg_melt_rate"`
	AvgCoherenceScore  float64 `json:"avg_coherence_score"`
	AvgTrajectoryScore float64 `json:"avg_trajectory_score"`
	AvgOverallScore    float64 `json:"avg_overall_score"`

	FlaggedCount      int `json:"flagged_count"`
	WarpCount         int `json:"warp_count"`
	MeltCount         int `json:"melt_count"`
	InconsistentCount int `json:"inconsistent_count"`
}

// Summarize builds the batch summary
func Summarize(results []models.AnalysisResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case models.AnalysisScored:
		case models.AnalysisSkipped:
			s.Skipped++
			continue
		default:
			s.Errored++
			continue
		}

		s.Scored++
		s.AvgWarpScore += r.SubScores.Warp.Value
		s.AvgMeltRate += r.MeltRate
		s.AvgCoherenceScore += r.SubScores.Coherence.Value
		s.AvgTrajectoryScore += r.SubScores.Trajectory.Value
		s.AvgOverallScore += r.OverallScore
		if r.ShouldFlag {
			s.FlaggedCount++
		}
		if r.IsWarped {
			s.WarpCount++
		}
		if r.IsMelted {
			s.MeltCount++
		}
		if r.IsInconsistent {
			s.InconsistentCount++
		}
	}

	if s.Scored > 0 {
		n := float64(s.Scored)
		s.AvgWarpScore /= n
		s.AvgMeltRate /= n
		s.AvgCoherenceScore /= n
		s.AvgTrajectoryScore /= n
		s.AvgOverallScore /= n
	}
	return s
}
