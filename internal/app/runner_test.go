package app

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stereo-calib/internal/calib"
	"stereo-calib/internal/capture"
	"stereo-calib/internal/config"
	"stereo-calib/internal/frame"
	"stereo-calib/internal/pattern"
	"stereo-calib/internal/sink"
	"stereo-calib/internal/source"
	"stereo-calib/pkg/geometry"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var testSize = geometry.Size{Width: 800, Height: 600}

// sceneFrame is a uniform frame whose gray level names the board pose shown in
// it; 0 means no board.
func sceneFrame(scene byte) frame.VideoFrame {
	f := frame.New(testSize.Width, testSize.Height)
	for i := range f.Pix {
		f.Pix[i] = scene
	}
	return f
}

// sceneDetector reads the pose number back from the frame and returns a flat
// board at a distinct place for every pose.
type sceneDetector struct {
	geom pattern.Geometry
}

func (d sceneDetector) Detect(gray gocv.Mat) (pattern.Pattern, bool) {
	scene := int(gray.GetUCharAt(0, 0))
	if scene == 0 {
		return nil, false
	}
	k := scene - 1
	x0 := 20 + float64(k%4)*180
	y0 := 20 + float64((k/4)%3)*160

	p := make(pattern.Pattern, 0, d.geom.CornerCount())
	for r := 0; r < d.geom.Rows; r++ {
		for c := 0; c < d.geom.Cols; c++ {
			p = append(p, geometry.Point2D{X: x0 + float64(c)*20, Y: y0 + float64(r)*20})
		}
	}
	return p, true
}

type fakeSource struct {
	mu      sync.Mutex
	scenes  []byte
	next    int
	loop    bool
	missing bool

	begins atomic.Int32
	ends   atomic.Int32
}

func (s *fakeSource) Next(ctx context.Context) (frame.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.missing {
		return frame.Pair{}, source.ErrNoFrame
	}
	if s.next >= len(s.scenes) {
		if !s.loop {
			return frame.Pair{}, source.ErrEndOfStream
		}
		s.next = 0
	}
	f := sceneFrame(s.scenes[s.next])
	s.next++
	return frame.Pair{Left: f, Right: f}, nil
}

func (s *fakeSource) Close() error       { return nil }
func (s *fakeSource) BeginCapture() error { s.begins.Add(1); return nil }
func (s *fakeSource) EndCapture() error   { s.ends.Add(1); return nil }

type recordingSink struct {
	mu  sync.Mutex
	got []sink.Calibration
}

func (s *recordingSink) Publish(_ context.Context, c sink.Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, c)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func goodSolve(_ context.Context, p calib.Problem) (calib.Result, error) {
	return calib.Result{
		Matrix:            calib.NewCameraMatrix(700, 700, 400, 300),
		ReprojectionError: 0.2,
		SampleCount:       len(p.Views),
	}, nil
}

func allScenes() []byte {
	scenes := make([]byte, 12)
	for i := range scenes {
		scenes[i] = byte(i + 1)
	}
	return scenes
}

func newTestRunner(t *testing.T, src source.Source, out sink.Sink, solve capture.SolveFunc) (*Runner, *config.Prefs) {
	t.Helper()
	prefs := config.LoadPrefsFrom(filepath.Join(t.TempDir(), "prefs.json"))
	run := config.DefaultRun()
	run.TickIntervalMs = 1
	run.MaxFrameFailures = 5
	r := NewRunner(Options{
		Run:       run,
		Source:    src,
		Sink:      out,
		Prefs:     prefs,
		FrameSize: testSize,
		NewDetector: func(_ frame.Side, g pattern.Geometry) pattern.Detector {
			return sceneDetector{geom: g}
		},
		Solve: solve,
	})
	return r, prefs
}

func startRunner(t *testing.T, r *Runner) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return ctx
}

func TestReplayPublishes(t *testing.T) {
	out := &recordingSink{}
	src := &fakeSource{scenes: append([]byte{0}, allScenes()...)}
	r, prefs := newTestRunner(t, src, out, goodSolve)

	cal, err := r.Replay(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 30.0, cal.SquareLengthMm)
	assert.Equal(t, "tracker0", cal.TrackerID)
	assert.Equal(t, 12, cal.Left.SampleCount)
	assert.Equal(t, 12, cal.Right.SampleCount)

	require.Equal(t, 1, out.count())
	assert.Equal(t, cal.ID, out.got[0].ID)
	assert.Equal(t, 30.0, prefs.SquareLength())
	assert.Equal(t, "complete", r.Status().State)
	assert.Equal(t, cal.ID.String(), r.Status().CalibrationID)
	assert.EqualValues(t, 1, src.begins.Load())
}

func TestReplayTooFewPairs(t *testing.T) {
	out := &recordingSink{}
	r, _ := newTestRunner(t, &fakeSource{scenes: []byte{1, 2, 3}}, out, goodSolve)

	_, err := r.Replay(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only 3/12 left")
	assert.Zero(t, out.count())
}

func TestReplaySolveFailure(t *testing.T) {
	out := &recordingSink{}
	failing := func(context.Context, calib.Problem) (calib.Result, error) {
		return calib.Result{}, errors.Wrap(calib.ErrNumericalFailure, "diverged")
	}
	r, _ := newTestRunner(t, &fakeSource{scenes: allScenes()}, out, failing)

	_, err := r.Replay(context.Background(), 24)
	require.Error(t, err)
	assert.True(t, errors.Is(err, calib.ErrNumericalFailure))
	assert.Zero(t, out.count())
}

func TestRunnerCommands(t *testing.T) {
	src := &fakeSource{scenes: []byte{1}, loop: true}
	r, _ := newTestRunner(t, src, &recordingSink{}, goodSolve)
	ctx := startRunner(t, r)

	ok, err := r.Commit(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "commit is ignored while idle")

	ok, err = r.Begin(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "awaiting_board_settings", r.Status().State)
	assert.Equal(t, config.DefaultSquareLengthMm, r.Status().SquareLengthMm)

	_, err = r.SetSquareLength(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, config.MaxSquareLengthMm, r.Status().SquareLengthMm)
	_, err = r.SetSquareLength(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, config.MinSquareLengthMm, r.Status().SquareLengthMm)
	_, err = r.SetSquareLength(ctx, 500)
	require.NoError(t, err)

	ok, err = r.Confirm(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "capturing", r.Status().State)
	assert.EqualValues(t, 1, src.begins.Load())

	require.Eventually(t, func() bool { return r.Status().BothValid }, 5*time.Second, time.Millisecond)

	ok, err = r.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	st := r.Status()
	assert.Equal(t, 1, st.Cameras[frame.SideLeft].Count)
	assert.Equal(t, 1, st.Cameras[frame.SideRight].Count)
	assert.Equal(t, 12, st.Cameras[frame.SideLeft].Target)

	// The board has not moved since the commit.
	require.Eventually(t, func() bool {
		return r.Status().Cameras[frame.SideLeft].LastCheck == capture.CheckRelocation.String()
	}, 5*time.Second, time.Millisecond)

	png, err := r.Preview(ctx, frame.SideLeft, nil)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	ok, err = r.Exit(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "idle", r.Status().State)
	assert.EqualValues(t, 1, src.ends.Load())

	_, err = r.Preview(ctx, frame.SideLeft, nil)
	assert.True(t, errors.Is(err, ErrNoSession))
}

func TestRunnerFailsWithoutFrames(t *testing.T) {
	src := &fakeSource{missing: true}
	r, _ := newTestRunner(t, src, &recordingSink{}, goodSolve)

	var missed atomic.Int32
	r.On(capture.EventFrameUnavailable, func(capture.Event) { missed.Add(1) })

	ctx := startRunner(t, r)
	_, err := r.Begin(ctx)
	require.NoError(t, err)
	_, err = r.Confirm(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.Status().State == "failed" }, 5*time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, missed.Load(), int32(5))
	assert.NotEmpty(t, r.Status().Error)

	ok, err := r.Exit(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "idle", r.Status().State)
}

func TestRunnerStopped(t *testing.T) {
	r, _ := newTestRunner(t, &fakeSource{}, nil, goodSolve)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		r.Run(ctx)
	}()
	cancel()
	<-stopped

	_, err := r.Begin(context.Background())
	assert.True(t, errors.Is(err, ErrStopped))
}

func TestRunnerListeners(t *testing.T) {
	r, _ := newTestRunner(t, &fakeSource{}, nil, goodSolve)
	var got []capture.EventType
	r.OnAll(func(e capture.Event) { got = append(got, e.Type) })

	r.Emit(capture.Event{Type: capture.EventSampleAccepted})
	r.Emit(capture.Event{Type: capture.EventSolveFailed})
	assert.Equal(t, []capture.EventType{capture.EventSampleAccepted, capture.EventSolveFailed}, got)
}

func (s *fakeSource) setMissing(missing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missing = missing
}

// heldScenes shows every pose for two consecutive pairs.
func heldScenes() []byte {
	var scenes []byte
	for _, s := range allScenes() {
		scenes = append(scenes, s, s)
	}
	return scenes
}

// captureAll drives the runner by hand through a full capture of heldScenes.
func captureAll(t *testing.T, ctx context.Context, r *Runner) {
	t.Helper()
	require.True(t, r.machine.Begin())
	require.True(t, r.confirm())
	for i := 0; i < 12; i++ {
		r.tick(ctx)
		r.tick(ctx)
		require.True(t, r.machine.Commit(), "pose %d", i+1)
	}
	require.IsType(t, capture.Computing{}, r.machine.State())
}

func TestRunnerCompletesWhileFramesAreMissing(t *testing.T) {
	release := make(chan struct{})
	solve := func(ctx context.Context, p calib.Problem) (calib.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return calib.Result{}, ctx.Err()
		}
		return goodSolve(ctx, p)
	}
	out := &recordingSink{}
	src := &fakeSource{scenes: heldScenes()}
	r, _ := newTestRunner(t, src, out, solve)
	defer r.machine.Close()
	ctx := context.Background()

	captureAll(t, ctx, r)

	src.setMissing(true)
	for i := 0; i < 3*r.opts.Run.MaxFrameFailures; i++ {
		r.tick(ctx)
	}
	assert.IsType(t, capture.Computing{}, r.machine.State(), "frame loss does not abort a solve")

	close(release)
	require.Eventually(t, func() bool {
		r.tick(ctx)
		_, ok := r.machine.State().(capture.Complete)
		return ok
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, out.count())
}

func TestNextCaptureStartsFromPublishedCalibration(t *testing.T) {
	solved := func(_ context.Context, p calib.Problem) (calib.Result, error) {
		return calib.Result{
			Matrix:            calib.NewCameraMatrix(650, 650, 390, 310),
			Distortion:        calib.Distortion{K1: -0.1},
			ReprojectionError: 0.2,
			SampleCount:       len(p.Views),
		}, nil
	}
	out := &recordingSink{}
	r, _ := newTestRunner(t, &fakeSource{scenes: heldScenes()}, out, solved)
	defer r.machine.Close()
	ctx := context.Background()

	captureAll(t, ctx, r)
	require.NoError(t, r.machine.Wait(ctx))
	require.IsType(t, capture.Complete{}, r.machine.State())
	cal, ok := r.Published()
	require.True(t, ok)
	assert.Equal(t, cal.Intrinsics(), r.machine.Baseline())

	require.True(t, r.exit())
	require.True(t, r.machine.Begin())
	require.True(t, r.confirm())
	for _, side := range frame.Sides {
		sess := r.machine.Session(side)
		assert.Equal(t, calib.NewCameraMatrix(650, 650, 390, 310), sess.Intrinsics().Matrix, side.String())
		assert.False(t, sess.DistortionMap().IsIdentity(), "%s map built from the published calibration", side)
	}
}

type failingSink struct{}

func (failingSink) Publish(context.Context, sink.Calibration) error {
	return errors.New("broker unreachable")
}

func TestFailedPublishKeepsBaseline(t *testing.T) {
	r, _ := newTestRunner(t, &fakeSource{scenes: heldScenes()}, failingSink{}, goodSolve)
	defer r.machine.Close()
	ctx := context.Background()

	captureAll(t, ctx, r)
	require.NoError(t, r.machine.Wait(ctx))
	require.IsType(t, capture.Complete{}, r.machine.State())

	assert.Equal(t, [2]calib.Intrinsics{}, r.machine.Baseline())
	r.publishStatus()
	assert.Equal(t, "broker unreachable", r.Status().Error)
}
