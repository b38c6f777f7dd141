// Package capture runs the interactive stereo calibration workflow: frame
// ingest, sample gating and commit for each camera, and the solve join.
package capture

import (
	"context"

	"stereo-calib/internal/calib"
	"stereo-calib/internal/config"
	"stereo-calib/internal/frame"
	"stereo-calib/internal/pattern"
	"stereo-calib/pkg/geometry"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SolveFunc runs one camera's calibration solve.
type SolveFunc func(ctx context.Context, p calib.Problem) (calib.Result, error)

// Options configures a Machine.
type Options struct {
	Config config.Capture

	// FrameSize is the resolution agreed with the video source at session start.
	FrameSize geometry.Size

	// Baseline is the pre-capture calibration of each camera, indexed by frame.Side.
	Baseline [2]calib.Intrinsics

	// NewDetector creates the pattern detector of one camera. Detectors that
	// implement io.Closer are closed with their session. Defaults to the
	// OpenCV chessboard detector.
	NewDetector func(side frame.Side, g pattern.Geometry) pattern.Detector

	SolveOptions calib.Options

	// Solve defaults to calib.Solve.
	Solve SolveFunc

	// Notify, when set, receives every workflow event on the calling goroutine.
	Notify func(Event)
}

type solveOutcome struct {
	side       frame.Side
	generation int
	result     calib.Result
	err        error
}

// Machine drives both camera sessions through the calibration workflow. It is
// not safe for concurrent use: every method must be called from the goroutine
// that delivers frames. Solves run in their own goroutines and are applied by
// Tick or Wait.
type Machine struct {
	opts     Options
	cfg      config.Capture
	state    State
	sessions [2]*Session

	outcomes   chan solveOutcome
	generation int
	cancel     context.CancelFunc
}

// NewMachine returns a machine in the Idle state.
func NewMachine(opts Options) *Machine {
	if opts.Solve == nil {
		opts.Solve = calib.Solve
	}
	if opts.NewDetector == nil {
		opts.NewDetector = func(_ frame.Side, g pattern.Geometry) pattern.Detector {
			return pattern.NewChessboardDetector(g, pattern.DefaultDetectorParams())
		}
	}
	if opts.SolveOptions.MaxIterations == 0 {
		opts.SolveOptions = calib.Options{
			MaxIterations:        opts.Config.SolverMaxIterations,
			Epsilon:              config.SolverEpsilon,
			MaxReprojectionError: opts.Config.MaxReprojectionError,
		}
	}
	return &Machine{
		opts:     opts,
		cfg:      opts.Config,
		state:    Idle{},
		outcomes: make(chan solveOutcome, 4),
	}
}

// State returns the current workflow state.
func (m *Machine) State() State {
	return m.state
}

// Config returns the capture configuration, including the confirmed square length.
func (m *Machine) Config() config.Capture {
	return m.cfg
}

// Session returns the session of one camera, or nil outside a capture.
func (m *Machine) Session(side frame.Side) *Session {
	return m.sessions[side]
}

func (m *Machine) emit(e Event) {
	if m.opts.Notify != nil {
		m.opts.Notify(e)
	}
}

func (m *Machine) transition(next State) {
	prev := m.state
	m.state = next
	if prev.Name() != next.Name() {
		logrus.WithFields(logrus.Fields{
			"from": prev.Name(),
			"to":   next.Name(),
		}).Info("calibration state changed")
	}
	m.emit(Event{Type: EventStateChanged, State: next.Name()})
}

// SetBaseline replaces the calibration the next capture starts from. Running
// sessions keep the baseline they were created with.
func (m *Machine) SetBaseline(baseline [2]calib.Intrinsics) {
	m.opts.Baseline = baseline
}

// Baseline returns the calibration the next capture starts from.
func (m *Machine) Baseline() [2]calib.Intrinsics {
	return m.opts.Baseline
}

// Begin starts the workflow: Idle to AwaitingBoardSettings with the default square length.
func (m *Machine) Begin() bool {
	if _, ok := m.state.(Idle); !ok {
		return false
	}
	m.transition(AwaitingBoardSettings{SquareLengthMm: config.DefaultSquareLengthMm})
	return true
}

// SetSquareLength updates the pending square length, clamped to the supported range.
func (m *Machine) SetSquareLength(mm float64) bool {
	if _, ok := m.state.(AwaitingBoardSettings); !ok {
		return false
	}
	m.state = AwaitingBoardSettings{SquareLengthMm: config.ClampSquareLength(mm)}
	return true
}

// Confirm accepts the board settings, creates both sessions from the baseline
// calibration and starts capturing.
func (m *Machine) Confirm() bool {
	s, ok := m.state.(AwaitingBoardSettings)
	if !ok {
		return false
	}
	m.cfg = m.opts.Config.WithSquareLength(s.SquareLengthMm)

	geom := pattern.Geometry{Rows: m.cfg.PatternRows, Cols: m.cfg.PatternCols}
	for _, side := range frame.Sides {
		det := m.opts.NewDetector(side, geom)
		sess, err := NewSession(side, m.cfg, det, m.opts.Baseline[side], m.opts.FrameSize)
		if err != nil {
			m.closeSessions()
			m.Fail(errors.Wrapf(err, "create %s session", side))
			return false
		}
		m.sessions[side] = sess
	}

	logrus.WithField("square_length_mm", m.cfg.SquareLengthMm).Info("board settings confirmed")
	m.transition(Capturing{})
	return true
}

// Tick advances the workflow with one frame per camera. While capturing it
// detects and gates patterns; afterwards it only refreshes the previews. Tick
// also applies any finished solves.
func (m *Machine) Tick(pair frame.Pair) error {
	m.drainOutcomes()

	switch m.state.(type) {
	case Capturing, Computing, Complete:
		for _, side := range frame.Sides {
			if err := pair.Get(side).Validate(); err != nil {
				return errors.Wrapf(err, "%s frame", side)
			}
		}
	}

	switch m.state.(type) {
	case Capturing:
		for _, side := range frame.Sides {
			if _, err := m.sessions[side].Observe(pair.Get(side)); err != nil {
				return errors.Wrapf(err, "%s frame", side)
			}
		}
		m.checkJoin()
	case Computing, Complete:
		for _, side := range frame.Sides {
			if err := m.sessions[side].Ingest(pair.Get(side)); err != nil {
				return errors.Wrapf(err, "%s frame", side)
			}
		}
	}
	return nil
}

// Poll applies finished solves without a frame. Callers that may go several
// ticks without frames call it on every tick.
func (m *Machine) Poll() {
	m.drainOutcomes()
}

// Commit tries to add the current pattern of each camera to its sample set.
// It reports whether either camera accepted a sample.
func (m *Machine) Commit() bool {
	if _, ok := m.state.(Capturing); !ok {
		return false
	}

	accepted := false
	for _, side := range frame.Sides {
		sess := m.sessions[side]
		if sess.TryCommit() {
			accepted = true
			m.emit(Event{Type: EventSampleAccepted, State: m.state.Name(), Side: side, Count: sess.Count()})
		}
	}
	m.checkJoin()
	return accepted
}

func (m *Machine) checkJoin() {
	if _, ok := m.state.(Capturing); !ok {
		return
	}
	if !bothFull(m.sessions[frame.SideLeft].Count(), m.sessions[frame.SideRight].Count(), m.cfg.TargetSamples) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.generation++

	c := Computing{}
	for _, side := range frame.Sides {
		m.launch(ctx, side)
		c.Pending++
	}
	m.transition(c)
}

func (m *Machine) launch(ctx context.Context, side frame.Side) {
	problem := m.sessions[side].Problem(m.opts.SolveOptions)
	gen := m.generation
	solve := m.opts.Solve
	out := m.outcomes

	logrus.WithFields(logrus.Fields{
		"side":    side.String(),
		"samples": len(problem.Views),
	}).Info("starting calibration solve")

	go func() {
		res, err := solve(ctx, problem)
		out <- solveOutcome{side: side, generation: gen, result: res, err: err}
	}()
}

func (m *Machine) drainOutcomes() {
	for {
		select {
		case o := <-m.outcomes:
			m.apply(o)
		default:
			return
		}
	}
}

// apply installs one finished solve. Results of an earlier capture are dropped.
func (m *Machine) apply(o solveOutcome) {
	c, ok := m.state.(Computing)
	if !ok || o.generation != m.generation {
		return
	}
	c.Pending--

	log := logrus.WithField("side", o.side.String())
	if o.err == nil {
		o.err = m.sessions[o.side].ApplyResult(o.result)
	}
	if o.err != nil {
		log.WithError(o.err).Error("calibration solve failed")
		c.Failed[o.side] = o.err
		m.state = c
		m.emit(Event{Type: EventSolveFailed, State: c.Name(), Side: o.side, Err: o.err})
		return
	}

	res := o.result
	c.Results[o.side] = &res
	c.Failed[o.side] = nil
	log.WithFields(logrus.Fields{
		"fx":                 res.Matrix.Fx(),
		"fy":                 res.Matrix.Fy(),
		"reprojection_error": res.ReprojectionError,
	}).Info("calibration solve finished")

	if c.Pending == 0 && !c.HasFailures() && c.Results[0] != nil && c.Results[1] != nil {
		done := Complete{Left: *c.Results[frame.SideLeft], Right: *c.Results[frame.SideRight]}
		m.transition(done)
		m.emit(Event{Type: EventCalibrationComplete, State: done.Name(), Results: [2]calib.Result{done.Left, done.Right}})
		return
	}
	m.state = c
}

// Wait blocks until every pending solve has finished and been applied.
func (m *Machine) Wait(ctx context.Context) error {
	for {
		c, ok := m.state.(Computing)
		if !ok || c.Pending == 0 {
			return nil
		}
		select {
		case o := <-m.outcomes:
			m.apply(o)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Retry relaunches the solves that failed, once no solve is pending.
func (m *Machine) Retry() bool {
	c, ok := m.state.(Computing)
	if !ok || !c.Retryable() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = cancel
	for _, side := range frame.Sides {
		if c.Failed[side] != nil {
			c.Failed[side] = nil
			m.launch(ctx, side)
			c.Pending++
		}
	}
	m.state = c
	return true
}

// Restart clears both sessions and restores the pre-capture calibration. It is
// accepted while capturing, after completion, and after a failed solve.
func (m *Machine) Restart() bool {
	switch s := m.state.(type) {
	case Capturing, Complete:
	case Computing:
		if !s.Retryable() {
			return false
		}
	default:
		return false
	}

	m.stopSolves()
	for _, side := range frame.Sides {
		if err := m.sessions[side].Reset(); err != nil {
			m.Fail(errors.Wrapf(err, "reset %s session", side))
			return false
		}
	}
	m.transition(Capturing{})
	return true
}

// Exit abandons the workflow, releasing both sessions. Nothing is published.
func (m *Machine) Exit() bool {
	if _, ok := m.state.(Idle); ok {
		return false
	}
	m.stopSolves()
	m.closeSessions()
	m.transition(Idle{})
	return true
}

// Fail moves the machine to Failed, for example when the frame source is lost.
func (m *Machine) Fail(err error) bool {
	if _, ok := m.state.(Failed); ok {
		return false
	}
	m.stopSolves()
	m.closeSessions()
	logrus.WithError(err).Error("calibration failed")
	m.transition(Failed{Err: err})
	return true
}

// Close releases all resources.
func (m *Machine) Close() error {
	m.stopSolves()
	m.closeSessions()
	return nil
}

func (m *Machine) stopSolves() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.generation++
}

func (m *Machine) closeSessions() {
	for i, sess := range m.sessions {
		if sess != nil {
			sess.Close()
			m.sessions[i] = nil
		}
	}
}
