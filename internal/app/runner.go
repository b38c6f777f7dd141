// Package app runs the calibration workflow against a frame source: it owns
// the capture machine, serializes operator commands onto the tick loop, and
// publishes finished calibrations.
package app

import (
	"context"
	"sync"
	"time"

	"stereo-calib/internal/calib"
	"stereo-calib/internal/capture"
	"stereo-calib/internal/config"
	"stereo-calib/internal/frame"
	"stereo-calib/internal/pattern"
	"stereo-calib/internal/report"
	"stereo-calib/internal/sink"
	"stereo-calib/internal/source"
	"stereo-calib/pkg/geometry"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrStopped is returned by commands submitted after the runner stopped.
	ErrStopped = errors.New("runner stopped")

	// ErrNoSession is returned for previews while no capture is in progress.
	ErrNoSession = errors.New("no capture session")
)

const publishTimeout = 10 * time.Second

// Options configures a Runner.
type Options struct {
	Run config.Run

	Source source.Source

	// Sink receives every completed calibration. Optional.
	Sink sink.Sink

	// Prefs, when set, remembers the confirmed square length and preview mode.
	Prefs *config.Prefs

	FrameSize geometry.Size
	Baseline  [2]calib.Intrinsics

	// NewDetector and Solve override the capture defaults, mainly for tests.
	NewDetector func(side frame.Side, g pattern.Geometry) pattern.Detector
	Solve       capture.SolveFunc
}

// Runner owns the capture machine. Run drives it from a ticker; everything
// else talks to it through the command queue.
type Runner struct {
	opts     Options
	machine  *capture.Machine
	commands chan func()

	listeners listeners

	mu     sync.RWMutex
	status Status

	done chan struct{}

	// Owned by the runner goroutine.
	failures      int
	previewMode   capture.PreviewMode
	calibrationID string
	lastErr       string

	// Guarded by mu.
	published *sink.Calibration
}

// NewRunner creates a runner with its machine in the Idle state.
func NewRunner(opts Options) *Runner {
	if opts.Run.TickIntervalMs <= 0 {
		opts.Run.TickIntervalMs = config.DefaultTickIntervalMs
	}
	if opts.Run.MaxFrameFailures <= 0 {
		opts.Run.MaxFrameFailures = config.DefaultMaxFrameFailures
	}

	r := &Runner{
		opts:     opts,
		commands: make(chan func()),
		done:     make(chan struct{}),
	}
	if opts.Prefs != nil {
		r.previewMode = capture.ParsePreviewMode(opts.Prefs.String(config.PrefPreviewMode))
	}
	r.machine = capture.NewMachine(capture.Options{
		Config:      opts.Run.Capture,
		FrameSize:   opts.FrameSize,
		Baseline:    opts.Baseline,
		NewDetector: opts.NewDetector,
		Solve:       opts.Solve,
		Notify:      r.handle,
	})
	r.publishStatus()
	return r
}

func (r *Runner) lastSquareLength() float64 {
	if r.opts.Prefs == nil {
		return config.DefaultSquareLengthMm
	}
	return r.opts.Prefs.SquareLength()
}

// handle reacts to machine events and forwards them to listeners.
func (r *Runner) handle(e capture.Event) {
	switch e.Type {
	case capture.EventStateChanged:
		r.onStateChanged(e.State)
	case capture.EventCalibrationComplete:
		r.onComplete(e.Results)
	}
	r.publishStatus()
	r.Emit(e)
}

func (r *Runner) onStateChanged(state string) {
	ctl, ok := r.opts.Source.(source.CaptureControl)
	if !ok {
		return
	}
	var err error
	switch r.machine.State().(type) {
	case capture.Capturing:
		err = ctl.BeginCapture()
	case capture.Idle, capture.Complete, capture.Failed:
		err = ctl.EndCapture()
	}
	if err != nil {
		logrus.WithError(err).WithField("state", state).Warn("failed to adjust capture settings")
	}
}

func (r *Runner) onComplete(results [2]calib.Result) {
	cal := sink.NewCalibration(r.opts.Run.TrackerID, r.machine.Config().SquareLengthMm, results)
	r.mu.Lock()
	r.published = &cal
	r.mu.Unlock()
	r.calibrationID = cal.ID.String()
	r.lastErr = ""

	log := logrus.WithFields(logrus.Fields{
		"id":      cal.ID.String(),
		"tracker": cal.TrackerID,
	})
	for _, side := range frame.Sides {
		res := cal.Get(side)
		log.WithFields(logrus.Fields{
			"side":               side.String(),
			"fx":                 res.Matrix.Fx(),
			"fy":                 res.Matrix.Fy(),
			"cx":                 res.Matrix.Cx(),
			"cy":                 res.Matrix.Cy(),
			"reprojection_error": res.ReprojectionError,
		}).Info("camera calibrated")
	}

	if dir := r.opts.Run.ReportDir; dir != "" {
		if _, err := report.WriteAll(dir, r.calibrationID, r.coverage(results)); err != nil {
			log.WithError(err).Warn("failed to write coverage report")
		}
	}

	if r.opts.Sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := r.opts.Sink.Publish(ctx, cal); err != nil {
			r.lastErr = err.Error()
			log.WithError(err).Error("failed to publish calibration")
			return
		}
	}
	// The published calibration is now the active one.
	r.machine.SetBaseline(cal.Intrinsics())
}

func (r *Runner) coverage(results [2]calib.Result) [2]report.Coverage {
	var cov [2]report.Coverage
	for _, side := range frame.Sides {
		res := results[side]
		cov[side] = report.Coverage{Side: side, Result: &res, FrameSize: r.opts.FrameSize}
		if sess := r.machine.Session(side); sess != nil {
			cov[side].Outlines = sess.Overlay()
			dm := sess.DistortionMap()
			cov[side].FrameSize = geometry.Size{Width: dm.Width, Height: dm.Height}
		}
	}
	return cov
}

// Run polls the source every tick interval until ctx is done. Commands are
// executed between ticks.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.machine.Close()

	ticker := time.NewTicker(time.Duration(r.opts.Run.TickIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	logrus.WithField("interval_ms", r.opts.Run.TickIntervalMs).Info("runner started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("runner stopped")
			return nil
		case cmd := <-r.commands:
			cmd()
		case <-ticker.C:
			r.tick(ctx)
			r.publishStatus()
		}
	}
}

// tick applies finished solves, then pulls one pair and feeds it to the
// machine while a capture is active.
func (r *Runner) tick(ctx context.Context) {
	r.machine.Poll()

	switch r.machine.State().(type) {
	case capture.Capturing, capture.Computing, capture.Complete:
	default:
		r.failures = 0
		return
	}

	pair, err := r.opts.Source.Next(ctx)
	if err == nil {
		err = r.machine.Tick(pair)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.frameMissed(err)
		return
	}
	r.failures = 0
}

func (r *Runner) frameMissed(err error) {
	// Solves do not need frames; only capture and preview stall.
	if _, ok := r.machine.State().(capture.Computing); ok {
		logrus.WithError(err).Debug("frame unavailable while computing")
		return
	}

	r.failures++
	log := logrus.WithError(err).WithField("failures", r.failures)
	if r.failures == 1 || r.failures%30 == 0 {
		log.Warn("frame unavailable")
	} else {
		log.Debug("frame unavailable")
	}
	r.publishStatus()
	r.Emit(capture.Event{Type: capture.EventFrameUnavailable, State: r.machine.State().Name(), Count: r.failures, Err: err})

	if r.failures >= r.opts.Run.MaxFrameFailures {
		r.machine.Fail(errors.Wrapf(err, "no frames for %d ticks", r.failures))
		r.failures = 0
	}
}

// do runs fn on the runner goroutine and waits for it.
func (r *Runner) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
		r.publishStatus()
	}
	select {
	case r.commands <- cmd:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (r *Runner) command(ctx context.Context, name string, fn func() bool) (bool, error) {
	var ok bool
	if err := r.do(ctx, func() { ok = fn() }); err != nil {
		return false, err
	}
	logrus.WithFields(logrus.Fields{"command": name, "accepted": ok}).Debug("command handled")
	return ok, nil
}

// Begin enters board settings.
func (r *Runner) Begin(ctx context.Context) (bool, error) {
	return r.command(ctx, "begin", r.machine.Begin)
}

// SetSquareLength updates the pending square length.
func (r *Runner) SetSquareLength(ctx context.Context, mm float64) (bool, error) {
	return r.command(ctx, "set_square_length", func() bool { return r.machine.SetSquareLength(mm) })
}

// Confirm confirms the board settings and starts capturing.
func (r *Runner) Confirm(ctx context.Context) (bool, error) {
	return r.command(ctx, "confirm", r.confirm)
}

func (r *Runner) confirm() bool {
	if !r.machine.Confirm() {
		return false
	}
	if p := r.opts.Prefs; p != nil {
		p.SetFloat(config.PrefSquareLengthMm, r.machine.Config().SquareLengthMm)
		if err := p.Save(); err != nil {
			logrus.WithError(err).Warn("failed to save preferences")
		}
	}
	return true
}

// Commit captures the current pattern of each camera.
func (r *Runner) Commit(ctx context.Context) (bool, error) {
	return r.command(ctx, "commit", r.machine.Commit)
}

// Restart discards all samples.
func (r *Runner) Restart(ctx context.Context) (bool, error) {
	return r.command(ctx, "restart", r.restart)
}

func (r *Runner) restart() bool {
	if !r.machine.Restart() {
		return false
	}
	r.calibrationID = ""
	r.mu.Lock()
	r.published = nil
	r.mu.Unlock()
	r.lastErr = ""
	return true
}

// Retry relaunches failed solves.
func (r *Runner) Retry(ctx context.Context) (bool, error) {
	return r.command(ctx, "retry", r.machine.Retry)
}

// Exit abandons the workflow without publishing.
func (r *Runner) Exit(ctx context.Context) (bool, error) {
	return r.command(ctx, "exit", r.exit)
}

func (r *Runner) exit() bool {
	if !r.machine.Exit() {
		return false
	}
	r.failures = 0
	return true
}

// SetPreviewMode changes the default preview mode.
func (r *Runner) SetPreviewMode(ctx context.Context, mode capture.PreviewMode) error {
	return r.do(ctx, func() {
		r.previewMode = mode
		if p := r.opts.Prefs; p != nil {
			p.SetString(config.PrefPreviewMode, mode.String())
			if err := p.Save(); err != nil {
				logrus.WithError(err).Warn("failed to save preferences")
			}
		}
	})
}

// Preview returns a PNG of one camera's latest frame. A nil mode uses the
// runner's preview mode.
func (r *Runner) Preview(ctx context.Context, side frame.Side, mode *capture.PreviewMode) ([]byte, error) {
	var (
		png []byte
		err error
	)
	doErr := r.do(ctx, func() {
		sess := r.machine.Session(side)
		if sess == nil {
			err = ErrNoSession
			return
		}
		m := r.previewMode
		if mode != nil {
			m = *mode
		}
		png, err = sess.Preview(m)
	})
	if doErr != nil {
		return nil, doErr
	}
	return png, err
}

// Published returns the last calibration completed by this runner.
func (r *Runner) Published() (sink.Calibration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.published == nil {
		return sink.Calibration{}, false
	}
	return *r.published, true
}
