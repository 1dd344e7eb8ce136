package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "dispatch.concurrency")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidDispatchModes returns the accepted dispatch.mode values
func ValidDispatchModes() []string {
	return []string{"fanout", "queue"}
}

// ValidAllocations returns the accepted dispatch.allocation values
func ValidAllocations() []string {
	return []string{"round_robin", "random"}
}

// ValidDetectors returns the accepted metrics.detector values
func ValidDetectors() []string {
	return []string{"sharpness", "remote", "ollama"}
}

// ValidLogFormats returns the accepted logging.format values
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// Validate checks the Config for invalid values and returns all validation errors found.
// Credentials are not checked here; the generation client rejects a missing key when it is built.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	g := c.Generation
	if g.Endpoint == "" {
		add("generation.endpoint", g.Endpoint, "must not be empty")
	}
	if g.TimeoutSeconds <= 0 {
		add("generation.timeout_seconds", g.TimeoutSeconds, "must be positive")
	}
	if g.MinDelaySeconds < 0 {
		add("generation.min_delay_seconds", g.MinDelaySeconds, "must not be negative")
	}
	if g.MaxDelaySeconds < g.MinDelaySeconds {
		add("generation.max_delay_seconds", g.MaxDelaySeconds, "must be >= min_delay_seconds")
	}

	d := c.Dispatch
	if !slices.Contains(ValidDispatchModes(), d.Mode) {
		add("dispatch.mode", d.Mode, "must be one of "+strings.Join(ValidDispatchModes(), ", "))
	}
	if d.Concurrency < 1 {
		add("dispatch.concurrency", d.Concurrency, "must be at least 1")
	}
	if d.QueueSize < 1 {
		add("dispatch.queue_size", d.QueueSize, "must be at least 1")
	}
	if d.Devices < 0 {
		add("dispatch.devices", d.Devices, "must not be negative")
	}
	if !slices.Contains(ValidAllocations(), d.Allocation) {
		add("dispatch.allocation", d.Allocation, "must be one of "+strings.Join(ValidAllocations(), ", "))
	}

	a := c.Analysis
	if a.Concurrency < 1 {
		add("analysis.concurrency", a.Concurrency, "must be at least 1")
	}
	if a.TempDir == "" {
		add("analysis.temp_dir", a.TempDir, "must not be empty")
	}
	if a.DownloadTimeoutSeconds <= 0 {
		add("analysis.download_timeout_seconds", a.DownloadTimeoutSeconds, "must be positive")
	}

	f := c.Frames
	if f.FFmpegPath == "" {
		add("frames.ffmpeg_path", f.FFmpegPath, "must not be empty")
	}
	if f.FPS < 0 {
		add("frames.fps", f.FPS, "must not be negative")
	}
	if f.MaxFrames < 0 {
		add("frames.max_frames", f.MaxFrames, "must not be negative")
	}
	if f.Width < 0 {
		add("frames.width", f.Width, "must not be negative")
	}

	m := c.Metrics
	if m.MeltThreshold < 0 || m.MeltThreshold > 1 {
		add("metrics.melt_threshold", m.MeltThreshold, "must be within [0, 1]")
	}
	if m.MeltDeformThreshold < 0 || m.MeltDeformThreshold > 1 {
		add("metrics.melt_deform_threshold", m.MeltDeformThreshold, "must be within [0, 1]")
	}
	if m.Detector != "" && !slices.Contains(ValidDetectors(), m.Detector) {
		add("metrics.detector", m.Detector, "must be one of "+strings.Join(ValidDetectors(), ", "))
	}
	if m.DetectorKind() == "remote" && m.DetectorEndpoint == "" {
		add("metrics.detector_endpoint", m.DetectorEndpoint, "required when metrics.detector is remote")
	}
	if m.DetectorKind() == "ollama" && (m.OllamaPort < 1 || m.OllamaPort > 65535) {
		add("metrics.ollama_port", m.OllamaPort, "must be a valid port")
	}
	if m.FASTThreshold < 1 {
		add("metrics.fast_threshold", m.FASTThreshold, "must be at least 1")
	}
	if m.MaxKeypoints < 1 {
		add("metrics.max_keypoints", m.MaxKeypoints, "must be at least 1")
	}

	w := c.Scoring.Weights
	for field, val := range map[string]float64{
		"scoring.weights.warp":       w.Warp,
		"scoring.weights.melt":       w.Melt,
		"scoring.weights.coherence":  w.Coherence,
		"scoring.weights.trajectory": w.Trajectory,
	} {
		if val < 0 {
			add(field, val, "must not be negative")
		}
	}

	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Logging.Format)) {
		add("logging.format", c.Logging.Format, "must be one of "+strings.Join(ValidLogFormats(), ", "))
	}

	return errs
}
