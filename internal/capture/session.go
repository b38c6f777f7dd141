package capture

import (
	"io"

	"stereo-calib/internal/calib"
	"stereo-calib/internal/config"
	"stereo-calib/internal/frame"
	"stereo-calib/internal/pattern"
	"stereo-calib/pkg/geometry"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Observation is the outcome of one tick for one camera.
type Observation struct {
	Found   bool
	Verdict Verdict
}

// Session is the capture state of one camera. It owns its ingest buffers and
// shares nothing mutable with the other camera's session.
type Session struct {
	side     frame.Side
	cfg      config.Capture
	geom     pattern.Geometry
	gate     Gate
	detector pattern.Detector
	buffers  *Buffers
	object   []geometry.Point3D

	// baseline is the pre-capture calibration restored on reset.
	baseline calib.Intrinsics

	lastAccepted pattern.Pattern
	current      pattern.Pattern
	currentValid bool
	last         Observation

	overlay []geometry.Point2D
	samples []pattern.Pattern

	intrinsics        calib.Intrinsics
	reprojectionError float64
	distortionMap     calib.DistortionMap
}

// NewSession creates a session for width x height frames, starting from the
// baseline calibration. A baseline without a usable camera matrix is replaced
// by a guess from the frame size.
func NewSession(side frame.Side, cfg config.Capture, detector pattern.Detector, baseline calib.Intrinsics, size geometry.Size) (*Session, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, errors.Wrapf(frame.ErrFrameSize, "session size %dx%d", size.Width, size.Height)
	}
	if !baseline.Matrix.Valid() {
		baseline = calib.Intrinsics{Matrix: calib.GuessCameraMatrix(size.Width, size.Height)}
	}

	geom := pattern.Geometry{Rows: cfg.PatternRows, Cols: cfg.PatternCols}
	s := &Session{
		side:       side,
		cfg:        cfg,
		geom:       geom,
		gate:       NewGate(cfg),
		detector:   detector,
		buffers:    NewBuffers(size.Width, size.Height),
		object:     pattern.ObjectGrid(geom, cfg.SquareLengthMm),
		baseline:   baseline,
		intrinsics: baseline,
		samples:    make([]pattern.Pattern, 0, cfg.TargetSamples),
		overlay:    make([]geometry.Point2D, 0, 4*cfg.TargetSamples),
	}
	if err := s.rebuildMap(); err != nil {
		s.buffers.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) log() *logrus.Entry {
	return logrus.WithField("side", s.side.String())
}

// rebuildMap recomputes the distortion map from the current camera model and
// uploads it to the ingest buffers.
func (s *Session) rebuildMap() error {
	size := s.buffers.Size()
	s.distortionMap.BuildInto(s.intrinsics.Matrix, s.intrinsics.Distortion, size.Width, size.Height)
	return s.buffers.LoadMap(s.distortionMap)
}

// Ingest refreshes the ingest buffers from f. A frame of a new resolution
// reallocates the buffers and rebuilds the distortion map first.
func (s *Session) Ingest(f frame.VideoFrame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if !s.buffers.Fits(f) {
		s.log().WithFields(logrus.Fields{
			"from": s.buffers.Size(),
			"to":   f.Size(),
		}).Info("frame size changed, reallocating buffers")
		s.buffers.Resize(f.Width, f.Height)
		if err := s.rebuildMap(); err != nil {
			return err
		}
	}
	return s.buffers.Apply(f)
}

// Observe ingests f and, while the sample set is not full, detects the board
// and runs the gate. The new detection always replaces the current pattern.
func (s *Session) Observe(f frame.VideoFrame) (Observation, error) {
	if err := s.Ingest(f); err != nil {
		return Observation{}, err
	}
	if s.Full() {
		return Observation{}, nil
	}

	next, found := s.detector.Detect(s.buffers.Gray())
	if !found || len(next) != s.geom.CornerCount() {
		s.last = Observation{}
		return s.last, nil
	}

	v := s.gate.Evaluate(next, s.current, s.lastAccepted)
	s.current = next
	s.currentValid = v.Accepted()
	s.last = Observation{Found: true, Verdict: v}

	if !v.Accepted() {
		s.log().WithFields(logrus.Fields{
			"check": v.Failed.String(),
			"value": v.Value,
			"limit": v.Limit,
		}).Debug("sample rejected")
	}
	return s.last, nil
}

// TryCommit appends the current pattern to the sample set when it passed the
// gate and the set is not full. It reports whether a sample was added.
func (s *Session) TryCommit() bool {
	if !s.currentValid || s.current == nil || s.Full() {
		return false
	}

	sample := s.current.Clone()
	s.samples = append(s.samples, sample)
	outline := sample.Outline(s.geom)
	s.overlay = append(s.overlay, outline[:]...)
	s.lastAccepted = sample
	s.currentValid = false

	s.log().WithField("count", len(s.samples)).Info("sample accepted")
	return true
}

// Full reports whether the sample set reached the target count.
func (s *Session) Full() bool {
	return len(s.samples) >= s.cfg.TargetSamples
}

// Count returns the number of accepted samples.
func (s *Session) Count() int {
	return len(s.samples)
}

// CurrentValid reports whether the latest detection passed the gate and is
// still available for commit.
func (s *Session) CurrentValid() bool {
	return s.currentValid
}

// Current returns the latest detection, or nil.
func (s *Session) Current() pattern.Pattern {
	return s.current
}

// LastAccepted returns the most recently committed sample, or nil.
func (s *Session) LastAccepted() pattern.Pattern {
	return s.lastAccepted
}

// LastObservation returns the outcome of the most recent Observe.
func (s *Session) LastObservation() Observation {
	return s.last
}

// Overlay returns a copy of the accepted sample outlines, four points per sample.
func (s *Session) Overlay() []geometry.Point2D {
	out := make([]geometry.Point2D, len(s.overlay))
	copy(out, s.overlay)
	return out
}

// Intrinsics returns the session's current camera model.
func (s *Session) Intrinsics() calib.Intrinsics {
	return s.intrinsics
}

// ReprojectionError returns the error of the last applied solve.
func (s *Session) ReprojectionError() float64 {
	return s.reprojectionError
}

// DistortionMap returns the current remap tables. The caller must not modify them.
func (s *Session) DistortionMap() calib.DistortionMap {
	return s.distortionMap
}

// Problem returns the solve input for the accepted samples. It shares no
// memory with the session, so it can be handed to another goroutine.
func (s *Session) Problem(opts calib.Options) calib.Problem {
	views := make([][]geometry.Point2D, len(s.samples))
	for i, sample := range s.samples {
		views[i] = []geometry.Point2D(sample.Clone())
	}
	object := make([]geometry.Point3D, len(s.object))
	copy(object, s.object)

	return calib.Problem{
		Object:    object,
		Views:     views,
		ImageSize: s.buffers.Size(),
		Initial:   s.intrinsics.Matrix,
		Options:   opts,
	}
}

// ApplyResult installs a solved camera model and rebuilds the distortion map.
func (s *Session) ApplyResult(res calib.Result) error {
	s.intrinsics = res.Intrinsics()
	s.reprojectionError = res.ReprojectionError
	return s.rebuildMap()
}

// Reset clears the sample set and restores the pre-capture calibration.
func (s *Session) Reset() error {
	s.samples = s.samples[:0]
	s.overlay = s.overlay[:0]
	s.lastAccepted = nil
	s.current = nil
	s.currentValid = false
	s.last = Observation{}
	s.intrinsics = s.baseline
	s.reprojectionError = 0
	return s.rebuildMap()
}

// Preview returns the PNG encoding of the ingest buffer for mode.
func (s *Session) Preview(mode PreviewMode) ([]byte, error) {
	return s.buffers.EncodePNG(mode)
}

// Close releases the session's buffers, and its detector when it holds resources.
func (s *Session) Close() error {
	if c, ok := s.detector.(io.Closer); ok {
		c.Close()
	}
	return s.buffers.Close()
}
