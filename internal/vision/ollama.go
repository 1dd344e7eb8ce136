package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"

	"github.com/bdougie/roastbench/internal/logging"
	"github.com/bdougie/roastbench/internal/models"
)

// DefaultOllamaModel is a vision-capable model served by a local Ollama
const DefaultOllamaModel = "llama3.2-vision:11b"

const confidencePrompt = "Look at the main subject of this image. How confident are you that it is a " +
	"well-formed, recognizable object or person with a plausible shape? " +
	"Answer with a single number between 0 and 1 and nothing else."

const systemPrompt = "You are a visual quality inspector for generated video frames. " +
	"You answer only with a number between 0 and 1."

// VisionModel answers a text prompt about an image on disk
type VisionModel interface {
	Ask(ctx context.Context, imagePath, prompt string) (string, error)
}

// OllamaConfig locates the Ollama server
type OllamaConfig struct {
	BaseURL string
	Port    int
	Model   string
}

// agentModel runs each question through a fresh agent so no conversation
// history is shared between frames or goroutines.
type agentModel struct {
	newAgent func() *agent.DefaultAgent
}

// NewOllamaModel connects a provider to the configured model
func NewOllamaModel(ctx context.Context, cfg OllamaConfig, logger *slog.Logger) VisionModel {
	logger = logging.OrDefault(logger).With("component", "ollama")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}

	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: cfg.BaseURL,
		Port:    cfg.Port,
	})
	provider.UseModel(ctx, &types.Model{ID: cfg.Model})

	return &agentModel{newAgent: func() *agent.DefaultAgent {
		return agent.NewAgent(&agent.NewAgentConfig{
			Provider:     provider,
			Logger:       logger,
			SystemPrompt: systemPrompt,
		})
	}}
}

func (m *agentModel) Ask(ctx context.Context, imagePath, prompt string) (string, error) {
	response := m.newAgent().Run(ctx,
		agent.WithInput(prompt),
		agent.WithImagePath(imagePath),
	)
	if response.Err != nil {
		return "", response.Err
	}
	if len(response.Messages) == 0 {
		return "", errors.New("no response messages received from model")
	}
	return response.Messages[len(response.Messages)-1].Content, nil
}

// OllamaDetector asks a vision language model how confident it is that a
// frame shows a well-formed subject. The reply is parsed as a number in [0, 1].
type OllamaDetector struct {
	model   VisionModel
	tempDir string
	logger  *slog.Logger
}

// NewOllamaDetector wraps model. Frames are written to tempDir as JPEG for
// the duration of a call.
func NewOllamaDetector(model VisionModel, tempDir string, logger *slog.Logger) *OllamaDetector {
	return &OllamaDetector{
		model:   model,
		tempDir: tempDir,
		logger:  logging.OrDefault(logger).With("component", "ollama_detector"),
	}
}

// Confidence writes the frame to disk, asks the model and parses its answer
func (d *OllamaDetector) Confidence(ctx context.Context, img image.Image) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f, err := os.CreateTemp(d.tempDir, "frame-*.jpg")
	if err != nil {
		return 0, &models.ModelInferenceError{Primitive: "detector", Err: fmt.Errorf("failed to create frame file: %w", err)}
	}
	path := f.Name()
	defer os.Remove(path)

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		return 0, &models.ModelInferenceError{Primitive: "detector", Err: fmt.Errorf("failed to encode frame: %w", err)}
	}
	if err := f.Close(); err != nil {
		return 0, &models.ModelInferenceError{Primitive: "detector", Err: err}
	}

	reply, err := d.model.Ask(ctx, path, confidencePrompt)
	if err != nil {
		return 0, &models.ModelInferenceError{Primitive: "detector", Err: err}
	}

	c, err := ParseConfidence(reply)
	if err != nil {
		d.logger.Debug("unparseable model reply", "reply", reply)
		return 0, &models.ModelInferenceError{Primitive: "detector", Err: err}
	}
	return c, nil
}

var numberRe = regexp.MustCompile(`(?:\d+(?:\.\d+)?|\.\d+)\s*%?`)

// ParseConfidence takes the first number in reply. Percentages and bare
// numbers above 1 are read on a 0-100 scale; the result is clamped to [0, 1].
func ParseConfidence(reply string) (float64, error) {
	m := numberRe.FindString(reply)
	if m == "" {
		return 0, fmt.Errorf("no confidence value in reply %q", truncateReply(reply))
	}

	percent := strings.HasSuffix(m, "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(m, "%")), 64)
	if err != nil {
		return 0, fmt.Errorf("bad confidence value %q: %w", m, err)
	}
	if percent || v > 1 {
		v /= 100
	}
	return min(max(v, 0), 1), nil
}

func truncateReply(s string) string {
	if r := []rune(s); len(r) > 80 {
		return string(r[:80]) + "..."
	}
	return s
}
