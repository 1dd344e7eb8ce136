package metrics

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/roastbench/internal/logging"
	"github.com/bdougie/roastbench/internal/models"
	"github.com/bdougie/roastbench/internal/vision"
)

func grayFrames(n, w, h int) []*image.Gray {
	out := make([]*image.Gray, n)
	for i := range out {
		out[i] = image.NewGray(image.Rect(0, 0, w, h))
	}
	return out
}

func texturedFrames(n, w, h int) []*image.Gray {
	out := make([]*image.Gray, n)
	for i := range out {
		out[i] = textured(w, h)
	}
	return out
}

func textured(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.SetGray(x, y, color.Gray{Y: uint8((x*37 + y*91 + x*y*7) % 256)})
		}
	}
	return g
}

// scriptedFlow returns one magnitude per call, in order
type scriptedFlow struct {
	norms []float64
	calls int
	err   error
	boom  bool
}

func (s *scriptedFlow) Flow(a, b *image.Gray) (vision.Field, error) {
	if s.boom {
		panic("flow kernel crashed")
	}
	if s.err != nil {
		return vision.Field{}, s.err
	}
	n := s.norms[s.calls]
	s.calls++
	return vision.Field{W: 1, H: 1, U: []float64{n}, V: []float64{0}}, nil
}

type scriptedDetector struct {
	confs []float64
	calls int
	err   error
}

func (s *scriptedDetector) Confidence(ctx context.Context, img image.Image) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	c := s.confs[s.calls]
	s.calls++
	return c, nil
}

type fixedComparator struct {
	sim, fid float64
}

func (f fixedComparator) Similarity(a, b *image.Gray) (float64, error) { return f.sim, nil }
func (f fixedComparator) Fidelity(a, b *image.Gray) (float64, error)   { return f.fid, nil }

// scriptedTracker moves every point right by shifts[step]; points listed in
// lose are dropped on that step.
type scriptedTracker struct {
	points []vision.Point
	shifts []float64
	lose   map[int]bool
	step   int
}

func (s *scriptedTracker) TrackPoints(img *image.Gray) ([]vision.Point, error) {
	return s.points, nil
}

func (s *scriptedTracker) TrackFlow(prev, next *image.Gray, pts []vision.Point) ([]vision.Point, []bool, error) {
	out := make([]vision.Point, len(pts))
	status := make([]bool, len(pts))
	for i, p := range pts {
		out[i] = vision.Point{X: p.X + s.shifts[s.step], Y: p.Y}
		status[i] = !s.lose[s.step]
	}
	s.step++
	return out, status, nil
}

func newTestEngine(opts ...Option) *Engine {
	return NewEngine(DefaultThresholds(), append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func assertInsufficient(t *testing.T, o Outcome, value float64) {
	t.Helper()
	assert.Equal(t, KindInsufficientData, o.Kind)
	assert.True(t, errors.Is(o.Err, models.ErrInsufficientData))
	assert.Equal(t, 0.0, value)
}

func TestBelowMinimumFrames(t *testing.T) {
	e := newTestEngine()

	for n := 0; n < MinWarpFrames; n++ {
		r := e.Warp(grayFrames(n, 8, 8))
		assertInsufficient(t, r.Outcome, r.Score)
	}
	for n := 0; n < MinCoherenceFrames; n++ {
		r := e.Coherence(grayFrames(n, 8, 8))
		assertInsufficient(t, r.Outcome, r.Score)
	}
	for n := 0; n < MinTrajectoryFrames; n++ {
		r := e.Trajectory(grayFrames(n, 8, 8))
		assertInsufficient(t, r.Outcome, r.Score)
	}

	m := e.Melt(context.Background(), nil)
	assertInsufficient(t, m.Outcome, m.Score)
	assert.Equal(t, 0.0, m.Rate)
}

func TestIdenticalFrames(t *testing.T) {
	e := newTestEngine()
	img := textured(32, 32)
	frames := []*image.Gray{img, img}

	w := e.Warp(frames)
	require.True(t, w.OK())
	assert.InDelta(t, 0.0, w.Score, 1e-9)
	assert.False(t, w.Warped)

	c := e.Coherence(frames)
	require.True(t, c.OK())
	assert.InDelta(t, 1.0, c.AvgSimilarity, 1e-9)
	assert.Equal(t, vision.MaxFidelity, c.AvgFidelity)
	// soft ceiling: identical frames score above 100
	assert.InDelta(t, 150.0, c.Score, 1e-6)
}

func TestZeroVarianceFrames(t *testing.T) {
	e := newTestEngine()

	var black vision.FrameSet
	for _, g := range grayFrames(4, 32, 32) {
		black = append(black, g)
	}

	r := e.Evaluate(context.Background(), black)
	assertInsufficient(t, r.Warp.Outcome, r.Warp.Score)
	assert.Contains(t, r.Warp.Message(), "zero-variance frame pair 0")
	assertInsufficient(t, r.Coherence.Outcome, r.Coherence.Score)
	assert.Equal(t, 0.0, r.Coherence.AvgSimilarity)
	assert.Contains(t, r.Coherence.SubScore().Error, "zero-variance")
	assertInsufficient(t, r.Trajectory.Outcome, r.Trajectory.Score)

	// a flat frame next to a textured one is still compared
	mixed := []*image.Gray{grayFrames(1, 32, 32)[0], textured(32, 32)}
	c := e.Coherence(mixed)
	assert.True(t, c.OK())
	w := e.Warp(mixed)
	assert.True(t, w.OK())

	// frozen textured clip is still fully coherent
	frozen := e.Coherence(texturedFrames(3, 32, 32))
	require.True(t, frozen.OK())
	assert.InDelta(t, 1.0, frozen.AvgSimilarity, 1e-9)
}

func TestWarp(t *testing.T) {
	flow := &scriptedFlow{norms: []float64{10, 60, 80}}
	e := newTestEngine(WithFlowEstimator(flow))

	r := e.Warp(texturedFrames(4, 4, 4))
	require.True(t, r.OK())
	assert.InDelta(t, 50.0, r.Score, 1e-9)
	assert.InDelta(t, 2.0/3.0, r.Rate, 1e-9)
	assert.False(t, r.Warped, "average equal to the threshold is not warped")
	assert.Equal(t, []float64{10, 60, 80}, r.Magnitudes)

	sub := r.SubScore()
	assert.True(t, sub.NormalizedOK)
	assert.Empty(t, sub.Error)
}

func TestWarp_Failures(t *testing.T) {
	e := newTestEngine(WithFlowEstimator(&scriptedFlow{err: errors.New("bad frame")}))
	r := e.Warp(texturedFrames(3, 4, 4))
	assert.Equal(t, KindFailed, r.Kind)
	assert.Equal(t, 0.0, r.Score)
	var mie *models.ModelInferenceError
	require.True(t, errors.As(r.Err, &mie))
	assert.Equal(t, "optical_flow", mie.Primitive)
	assert.Contains(t, r.SubScore().Error, "bad frame")

	e = newTestEngine(WithFlowEstimator(&scriptedFlow{boom: true}))
	r = e.Warp(texturedFrames(3, 4, 4))
	assert.Equal(t, KindFailed, r.Kind)
	assert.Contains(t, r.Message(), "flow kernel crashed")

	e = newTestEngine(WithFlowEstimator(&scriptedFlow{norms: []float64{math.NaN()}}))
	r = e.Warp(texturedFrames(2, 4, 4))
	assert.Equal(t, KindFailed, r.Kind)
	assert.Equal(t, 0.0, r.Score)
}

func TestMelt(t *testing.T) {
	e := newTestEngine(WithDetector(&scriptedDetector{confs: []float64{0.9, 0.5, 0.8, 0.2}}))
	frames := make([]image.Image, 4)
	for i := range frames {
		frames[i] = image.NewGray(image.Rect(0, 0, 2, 2))
	}

	r := e.Melt(context.Background(), frames)
	require.True(t, r.OK())
	assert.InDelta(t, 0.6, r.Score, 1e-9)
	assert.InDelta(t, 0.5, r.Rate, 1e-9)
	assert.True(t, r.Melted)
}

func TestMelt_DetectorFailure(t *testing.T) {
	det := &scriptedDetector{err: &models.ModelInferenceError{Primitive: "detector", Err: errors.New("cuda oom")}}
	e := newTestEngine(WithDetector(det))

	r := e.Melt(context.Background(), []image.Image{image.NewGray(image.Rect(0, 0, 2, 2))})
	assert.Equal(t, KindFailed, r.Kind)
	assert.Equal(t, 0.0, r.Rate)
	assert.False(t, r.Melted)
	assert.Contains(t, r.Message(), "cuda oom")
}

func TestCoherence(t *testing.T) {
	e := newTestEngine(WithComparator(fixedComparator{sim: 0.8, fid: 30}))
	r := e.Coherence(texturedFrames(3, 4, 4))
	require.True(t, r.OK())
	assert.InDelta(t, 70.0, r.Score, 1e-9)
	assert.Len(t, r.Similarities, 2)

	e = newTestEngine(WithComparator(fixedComparator{sim: 1, fid: math.Inf(1)}))
	r = e.Coherence(texturedFrames(2, 4, 4))
	assert.Equal(t, KindFailed, r.Kind)
	assert.Equal(t, 0.0, r.Score)
}

func TestTrajectory(t *testing.T) {
	tr := &scriptedTracker{
		points: []vision.Point{{X: 5, Y: 5}, {X: 9, Y: 2}},
		shifts: []float64{1, 1, 15},
	}
	e := newTestEngine(WithTracker(tr))

	r := e.Trajectory(grayFrames(4, 4, 4))
	require.True(t, r.OK())
	assert.Equal(t, []float64{1, 1, 15}, r.Displacements)
	assert.Equal(t, []int{2, 2, 2}, r.Tracked)
	assert.InDelta(t, 0.5, r.InconsistencyRate, 1e-9)
	assert.InDelta(t, 50.0, r.Score, 1e-9)
	assert.True(t, r.Inconsistent)
}

func TestTrajectory_Steady(t *testing.T) {
	tr := &scriptedTracker{points: []vision.Point{{X: 1, Y: 1}}, shifts: []float64{2, 3, 4}}
	r := newTestEngine(WithTracker(tr)).Trajectory(grayFrames(4, 4, 4))
	require.True(t, r.OK())
	assert.Equal(t, 100.0, r.Score)
	assert.False(t, r.Inconsistent)
}

func TestTrajectory_Degraded(t *testing.T) {
	t.Run("no keypoints", func(t *testing.T) {
		r := newTestEngine(WithTracker(&scriptedTracker{})).Trajectory(grayFrames(3, 4, 4))
		assertInsufficient(t, r.Outcome, r.Score)
		assert.Contains(t, r.Message(), "no keypoints")
	})

	t.Run("all tracking lost", func(t *testing.T) {
		tr := &scriptedTracker{
			points: []vision.Point{{X: 1, Y: 1}},
			shifts: []float64{1, 1},
			lose:   map[int]bool{0: true},
		}
		r := newTestEngine(WithTracker(tr)).Trajectory(grayFrames(3, 4, 4))
		assertInsufficient(t, r.Outcome, r.Score)
		assert.Equal(t, 1, tr.step, "tracking stops once every point is lost")
	})

	t.Run("single tracked step", func(t *testing.T) {
		tr := &scriptedTracker{
			points: []vision.Point{{X: 1, Y: 1}},
			shifts: []float64{3, 3, 3},
			lose:   map[int]bool{1: true},
		}
		r := newTestEngine(WithTracker(tr)).Trajectory(grayFrames(4, 4, 4))
		assertInsufficient(t, r.Outcome, r.Score)
		assert.Equal(t, []int{1}, r.Tracked)
		assert.Contains(t, r.Message(), "got 1")
	})

	t.Run("flat frames with the real tracker", func(t *testing.T) {
		r := newTestEngine().Trajectory(grayFrames(3, 32, 32))
		assertInsufficient(t, r.Outcome, r.Score)
	})
}

func TestEvaluate(t *testing.T) {
	img := textured(32, 32)
	frames := vision.FrameSet{img, img, img}

	r := newTestEngine().Evaluate(context.Background(), frames)
	assert.Equal(t, 3, r.FrameCount)
	assert.True(t, r.Warp.OK())
	assert.True(t, r.Melt.OK())
	assert.True(t, r.Coherence.OK())
	assert.Len(t, r.Melt.Confidences, 3)

	subs := r.SubScores()
	assert.Equal(t, r.Warp.Score, subs.Warp.Value)
	assert.Equal(t, r.Melt.Score, subs.Melt.Value)
	assert.Equal(t, r.Coherence.Score, subs.Coherence.Value)
	assert.Equal(t, r.Trajectory.Score, subs.Trajectory.Value)
	assert.Equal(t, r.Trajectory.OK(), subs.Trajectory.NormalizedOK)
}

func TestEvaluate_EmptyFrameSet(t *testing.T) {
	r := newTestEngine().Evaluate(context.Background(), nil)
	assert.Equal(t, 0, r.FrameCount)
	for _, o := range []Outcome{r.Warp.Outcome, r.Melt.Outcome, r.Coherence.Outcome, r.Trajectory.Outcome} {
		assert.Equal(t, KindInsufficientData, o.Kind)
	}
}
