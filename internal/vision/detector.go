package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bdougie/roastbench/internal/models"
)

// Detector reports how confident an object detector is about a frame.
// The value is the maximum detection confidence, 0 when nothing is found.
type Detector interface {
	Confidence(ctx context.Context, img image.Image) (float64, error)
}

// SharpnessDetector scores frames by Sobel edge energy. Crisp object
// boundaries read as high confidence; smeared or melted ones read low.
// It holds no per-call state and is safe for concurrent use.
type SharpnessDetector struct {
	// Saturation is the mean gradient, in grey levels per pixel, that maps to confidence 1
	Saturation float64
}

// NewSharpnessDetector returns the local detector
func NewSharpnessDetector() *SharpnessDetector {
	return &SharpnessDetector{Saturation: 40}
}

// Confidence returns mean gradient magnitude over Saturation, clamped to [0, 1]
func (d *SharpnessDetector) Confidence(ctx context.Context, img image.Image) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p := newPlane(ToGray(img))
	if p.w < 3 || p.h < 3 {
		return 0, nil
	}

	var sum float64
	for y := 1; y < p.h-1; y++ {
		for x := 1; x < p.w-1; x++ {
			gx := p.at(x+1, y-1) + 2*p.at(x+1, y) + p.at(x+1, y+1) -
				p.at(x-1, y-1) - 2*p.at(x-1, y) - p.at(x-1, y+1)
			gy := p.at(x-1, y+1) + 2*p.at(x, y+1) + p.at(x+1, y+1) -
				p.at(x-1, y-1) - 2*p.at(x, y-1) - p.at(x+1, y-1)
			// a Sobel response is eight times the per-pixel gradient
			sum += math.Hypot(gx, gy) / 8
		}
	}
	mean := sum / float64((p.w-2)*(p.h-2))

	sat := d.Saturation
	if sat <= 0 {
		sat = 40
	}
	return math.Min(mean/sat, 1), nil
}

// RemoteDetector sends frames to an HTTP inference endpoint.
// The endpoint receives a JPEG body and answers
// {"detections": [{"label": "...", "score": 0.93}, ...]}.
type RemoteDetector struct {
	endpoint   string
	httpClient *http.Client
}

// NewRemoteDetector builds a detector for endpoint. The client is shared by
// every call so connections are pooled across a batch.
func NewRemoteDetector(endpoint string, timeout time.Duration) *RemoteDetector {
	return &RemoteDetector{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type detectResponse struct {
	Detections []struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	} `json:"detections"`
}

// Confidence posts the frame and returns the highest detection score
func (d *RemoteDetector) Confidence(ctx context.Context, img image.Image) (float64, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return 0, &models.ModelInferenceError{Primitive: "detector", Err: fmt.Errorf("failed to encode frame: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, &buf)
	if err != nil {
		return 0, &models.ModelInferenceError{Primitive: "detector", Err: err}
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, &models.ModelInferenceError{Primitive: "detector", Err: &models.TransportError{Op: "detect", Err: err}}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, &models.ModelInferenceError{Primitive: "detector", Err: &models.TransportError{
			Op:         "detect",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(text)),
		}}
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, &models.ModelInferenceError{Primitive: "detector", Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	var best float64
	for _, det := range out.Detections {
		best = math.Max(best, det.Score)
	}
	return best, nil
}

// serialized guards a detector that is not safe for concurrent calls
type serialized struct {
	mu sync.Mutex
	d  Detector
}

// Serialize wraps d so that only one Confidence call runs at a time
func Serialize(d Detector) Detector {
	return &serialized{d: d}
}

func (s *serialized) Confidence(ctx context.Context, img image.Image) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Confidence(ctx, img)
}
