package extractor

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bdougie/roastbench/internal/logging"
	"github.com/bdougie/roastbench/internal/vision"
)

// Extractor samples frames from a video file with ffmpeg
type Extractor struct {
	ffmpegPath string
	width      int
	logger     *slog.Logger
	run        func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New creates an extractor. width scales frames down before analysis; 0 keeps
// the native size.
func New(ffmpegPath string, width int, logger *slog.Logger) *Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Extractor{
		ffmpegPath: ffmpegPath,
		width:      width,
		logger:     logging.OrDefault(logger).With("component", "extractor"),
		run:        runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Extract decodes frames from videoPath at fps (0 keeps the native rate),
// stopping after maxFrames when it is positive. On failure it returns an
// empty frame set together with the error.
func (e *Extractor) Extract(ctx context.Context, videoPath string, fps float64, maxFrames int) (vision.FrameSet, error) {
	// Check if video file exists
	if _, err := os.Stat(videoPath); err != nil {
		return vision.FrameSet{}, fmt.Errorf("video file does not exist at path: '%s': %w", videoPath, err)
	}

	frameDir, err := os.MkdirTemp(filepath.Dir(videoPath), "frames-*")
	if err != nil {
		return vision.FrameSet{}, fmt.Errorf("failed to create frame directory: %w", err)
	}
	defer os.RemoveAll(frameDir)

	e.logger.Debug("extracting frames", "video", videoPath, "fps", fps, "max_frames", maxFrames)

	// Capture output for better error reporting
	output, err := e.run(ctx, e.ffmpegPath, e.args(videoPath, frameDir, fps, maxFrames)...)
	if err != nil {
		return vision.FrameSet{}, fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, strings.TrimSpace(string(output)))
	}

	frames, err := LoadFrames(frameDir, maxFrames)
	if err != nil {
		return vision.FrameSet{}, err
	}
	e.logger.Debug("frames extracted", "video", videoPath, "frames", len(frames))
	return frames, nil
}

func (e *Extractor) args(videoPath, frameDir string, fps float64, maxFrames int) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", videoPath}

	var filters []string
	if fps > 0 {
		filters = append(filters, "fps="+strconv.FormatFloat(fps, 'f', -1, 64))
	}
	if e.width > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:-2", e.width))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	if maxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(maxFrames))
	}
	return append(args, filepath.Join(frameDir, "frame_%05d.png"))
}

// LoadFrames decodes every PNG or JPEG in dir in file name order
func LoadFrames(dir string, maxFrames int) (vision.FrameSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return vision.FrameSet{}, fmt.Errorf("failed to read frames directory '%s': %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !entry.IsDir() && (ext == ".png" || ext == ".jpg" || ext == ".jpeg") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if maxFrames > 0 && len(names) > maxFrames {
		names = names[:maxFrames]
	}

	frames := make(vision.FrameSet, 0, len(names))
	for _, name := range names {
		img, err := decode(filepath.Join(dir, name))
		if err != nil {
			return vision.FrameSet{}, err
		}
		frames = append(frames, img)
	}
	return frames, nil
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame '%s': %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame '%s': %w", path, err)
	}
	return img, nil
}
