package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. ROASTBENCH_DISPATCH_CONCURRENCY
const EnvPrefix = "ROASTBENCH"

// APIKeyEnv is read directly so existing generation-service credentials keep working
const APIKeyEnv = "XAI_API_KEY"

// Config represents the complete roastbench configuration
type Config struct {
	Generation GenerationConfig `mapstructure:"generation"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Frames     FramesConfig     `mapstructure:"frames"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Output     OutputConfig     `mapstructure:"output"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// GenerationConfig controls the rate-limited client for the video generation backend
type GenerationConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	// TimeoutSeconds bounds a single generation request
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
	// MinDelaySeconds and MaxDelaySeconds bound the jittered pause before every call
	MinDelaySeconds float64 `mapstructure:"min_delay_seconds"`
	MaxDelaySeconds float64 `mapstructure:"max_delay_seconds"`
}

// DispatchConfig controls the bounded dispatcher
type DispatchConfig struct {
	// Mode is "fanout" or "queue"
	Mode        string `mapstructure:"mode"`
	Concurrency int    `mapstructure:"concurrency"`
	QueueSize   int    `mapstructure:"queue_size"`
	// Devices is informational routing metadata only (0 disables allocation)
	Devices int `mapstructure:"devices"`
	// Allocation is "round_robin" or "random"
	Allocation string `mapstructure:"allocation"`
}

// AnalysisConfig controls the batch analysis coordinator
type AnalysisConfig struct {
	Concurrency            int     `mapstructure:"concurrency"`
	TempDir                string  `mapstructure:"temp_dir"`
	KeepArtifacts          bool    `mapstructure:"keep_artifacts"`
	DownloadTimeoutSeconds float64 `mapstructure:"download_timeout_seconds"`
	// SerializeDetector guards the shared detector with a mutex
	SerializeDetector bool `mapstructure:"serialize_detector"`
}

// FramesConfig controls frame sampling
type FramesConfig struct {
	FFmpegPath string  `mapstructure:"ffmpeg_path"`
	FPS        float64 `mapstructure:"fps"`
	MaxFrames  int     `mapstructure:"max_frames"`
	Width      int     `mapstructure:"width"`
}

// MetricsConfig holds metric thresholds and primitive settings
type MetricsConfig struct {
	WarpThreshold       float64 `mapstructure:"warp_threshold"`
	MeltThreshold       float64 `mapstructure:"melt_threshold"`
	MeltDeformThreshold float64 `mapstructure:"melt_deform_threshold"`
	TrajectoryThreshold float64 `mapstructure:"trajectory_threshold"`
	FASTThreshold       int     `mapstructure:"fast_threshold"`
	MaxKeypoints        int     `mapstructure:"max_keypoints"`
	// Detector is "sharpness", "remote" or "ollama". Empty picks remote when
	// DetectorEndpoint is set and sharpness otherwise.
	Detector            string  `mapstructure:"detector"`
	DetectorEndpoint    string  `mapstructure:"detector_endpoint"`
	DetectorTimeoutSecs float64 `mapstructure:"detector_timeout_seconds"`
	OllamaBaseURL       string  `mapstructure:"ollama_base_url"`
	OllamaPort          int     `mapstructure:"ollama_port"`
	OllamaModel         string  `mapstructure:"ollama_model"`
}

// WeightsConfig mirrors scoring.Weights
type WeightsConfig struct {
	Warp       float64 `mapstructure:"warp"`
	Melt       float64 `mapstructure:"melt"`
	Coherence  float64 `mapstructure:"coherence"`
	Trajectory float64 `mapstructure:"trajectory"`
}

// ScoringConfig controls aggregation and flagging
type ScoringConfig struct {
	Weights        WeightsConfig `mapstructure:"weights"`
	RoastThreshold float64       `mapstructure:"roast_threshold"`
}

// OutputConfig controls where exports land
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig controls the logger
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns a Config with the stock pipeline values
func Default() *Config {
	return &Config{
		Generation: GenerationConfig{
			Endpoint:        "https://api.x.ai/v1/video/generate",
			TimeoutSeconds:  300,
			MinDelaySeconds: 1.0,
			MaxDelaySeconds: 5.0,
		},
		Dispatch: DispatchConfig{
			Mode:        "fanout",
			Concurrency: 100,
			QueueSize:   10000,
			Devices:     0,
			Allocation:  "round_robin",
		},
		Analysis: AnalysisConfig{
			Concurrency:            10,
			TempDir:                "./temp",
			KeepArtifacts:          false,
			DownloadTimeoutSeconds: 60,
			SerializeDetector:      false,
		},
		Frames: FramesConfig{
			FFmpegPath: "ffmpeg",
			FPS:        0, // Native rate
			MaxFrames:  0, // No cap
			Width:      320,
		},
		Metrics: MetricsConfig{
			WarpThreshold:       50.0,
			MeltThreshold:       0.7,
			MeltDeformThreshold: 0.3,
			TrajectoryThreshold: 10.0,
			FASTThreshold:       10,
			MaxKeypoints:        500,
			DetectorTimeoutSecs: 30,
			OllamaBaseURL:       "http://localhost",
			OllamaPort:          11434,
			OllamaModel:         "llama3.2-vision:11b",
		},
		Scoring: ScoringConfig{
			Weights: WeightsConfig{
				Warp:       0.3,
				Melt:       0.3,
				Coherence:  0.2,
				Trajectory: 0.2,
			},
			RoastThreshold: 5.0,
		},
		Output: OutputConfig{
			Dir: "./results",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Timeout returns the request timeout as a time.Duration
func (c GenerationConfig) Timeout() time.Duration { return seconds(c.TimeoutSeconds) }

// MinDelay returns the lower jitter bound
func (c GenerationConfig) MinDelay() time.Duration { return seconds(c.MinDelaySeconds) }

// MaxDelay returns the upper jitter bound
func (c GenerationConfig) MaxDelay() time.Duration { return seconds(c.MaxDelaySeconds) }

// DownloadTimeout returns the artifact download timeout
func (c AnalysisConfig) DownloadTimeout() time.Duration { return seconds(c.DownloadTimeoutSeconds) }

// DetectorKind resolves an empty Detector setting
func (c MetricsConfig) DetectorKind() string {
	if c.Detector != "" {
		return c.Detector
	}
	if c.DetectorEndpoint != "" {
		return "remote"
	}
	return "sharpness"
}

// DetectorTimeout returns the remote detector request timeout
func (c MetricsConfig) DetectorTimeout() time.Duration { return seconds(c.DetectorTimeoutSecs) }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// SetDefaults registers default values and environment bindings with v
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("generation.endpoint", d.Generation.Endpoint)
	v.SetDefault("generation.api_key", d.Generation.APIKey)
	v.SetDefault("generation.timeout_seconds", d.Generation.TimeoutSeconds)
	v.SetDefault("generation.min_delay_seconds", d.Generation.MinDelaySeconds)
	v.SetDefault("generation.max_delay_seconds", d.Generation.MaxDelaySeconds)

	v.SetDefault("dispatch.mode", d.Dispatch.Mode)
	v.SetDefault("dispatch.concurrency", d.Dispatch.Concurrency)
	v.SetDefault("dispatch.queue_size", d.Dispatch.QueueSize)
	v.SetDefault("dispatch.devices", d.Dispatch.Devices)
	v.SetDefault("dispatch.allocation", d.Dispatch.Allocation)

	v.SetDefault("analysis.concurrency", d.Analysis.Concurrency)
	v.SetDefault("analysis.temp_dir", d.Analysis.TempDir)
	v.SetDefault("analysis.keep_artifacts", d.Analysis.KeepArtifacts)
	v.SetDefault("analysis.download_timeout_seconds", d.Analysis.DownloadTimeoutSeconds)
	v.SetDefault("analysis.serialize_detector", d.Analysis.SerializeDetector)

	v.SetDefault("frames.ffmpeg_path", d.Frames.FFmpegPath)
	v.SetDefault("frames.fps", d.Frames.FPS)
	v.SetDefault("frames.max_frames", d.Frames.MaxFrames)
	v.SetDefault("frames.width", d.Frames.Width)

	v.SetDefault("metrics.warp_threshold", d.Metrics.WarpThreshold)
	v.SetDefault("metrics.melt_threshold", d.Metrics.MeltThreshold)
	v.SetDefault("metrics.melt_deform_threshold", d.Metrics.MeltDeformThreshold)
	v.SetDefault("metrics.trajectory_threshold", d.Metrics.TrajectoryThreshold)
	v.SetDefault("metrics.fast_threshold", d.Metrics.FASTThreshold)
	v.SetDefault("metrics.max_keypoints", d.Metrics.MaxKeypoints)
	v.SetDefault("metrics.detector", d.Metrics.Detector)
	v.SetDefault("metrics.detector_endpoint", d.Metrics.DetectorEndpoint)
	v.SetDefault("metrics.detector_timeout_seconds", d.Metrics.DetectorTimeoutSecs)
	v.SetDefault("metrics.ollama_base_url", d.Metrics.OllamaBaseURL)
	v.SetDefault("metrics.ollama_port", d.Metrics.OllamaPort)
	v.SetDefault("metrics.ollama_model", d.Metrics.OllamaModel)

	v.SetDefault("scoring.weights.warp", d.Scoring.Weights.Warp)
	v.SetDefault("scoring.weights.melt", d.Scoring.Weights.Melt)
	v.SetDefault("scoring.weights.coherence", d.Scoring.Weights.Coherence)
	v.SetDefault("scoring.weights.trajectory", d.Scoring.Weights.Trajectory)
	v.SetDefault("scoring.roast_threshold", d.Scoring.RoastThreshold)

	v.SetDefault("output.dir", d.Output.Dir)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("generation.api_key", EnvPrefix+"_GENERATION_API_KEY", APIKeyEnv)
}

// Load reads an optional config file plus environment overrides and validates the result.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}
