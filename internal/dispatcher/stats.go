package dispatcher

import "github.com/bdougie/roastbench/internal/models"

// Stats summarizes a dispatch run. Total is zero only for an empty batch,
// which keeps "nothing submitted" apart from "everything failed".
type Stats struct {
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Failed      int     `json:"failed"`
	Errors      int     `json:"errors"`
	SuccessRate float64 `json:"success_rate"`
	Devices     int     `json:"devices,omitempty"`
}

// Summarize counts results by status
func Summarize(results []models.DispatchResult) Stats {
	s := Stats{Total: len(results)}
	devices := map[int]struct{}{}
	for _, r := range results {
		switch r.Status {
		case models.DispatchSuccess:
			s.Success++
		case models.DispatchFailed:
			s.Failed++
		default:
			s.Errors++
		}
		if r.DeviceID != nil {
			devices[*r.DeviceID] = struct{}{}
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Success) / float64(s.Total)
	}
	s.Devices = len(devices)
	return s
}
