package app

import (
	"context"

	"stereo-calib/internal/capture"
	"stereo-calib/internal/frame"
	"stereo-calib/internal/sink"
	"stereo-calib/internal/source"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Replay calibrates from a finite source without an operator: every pair is
// shown twice, so the second detection is perfectly still, then committed.
// Replay drives the machine on the calling goroutine and must not be used
// together with Run.
func (r *Runner) Replay(ctx context.Context, squareLengthMm float64) (sink.Calibration, error) {
	defer r.machine.Close()

	r.machine.Begin()
	r.machine.SetSquareLength(squareLengthMm)
	if !r.confirm() {
		return sink.Calibration{}, errors.Errorf("cannot start capture in state %s", r.machine.State().Name())
	}

	pairs := 0
	for r.isCapturing() {
		pair, err := r.opts.Source.Next(ctx)
		if errors.Is(err, source.ErrEndOfStream) {
			break
		}
		if errors.Is(err, source.ErrNoFrame) {
			continue
		}
		if err != nil {
			return sink.Calibration{}, errors.Wrap(err, "read frame pair")
		}
		pairs++

		for i := 0; i < 2; i++ {
			if err := r.machine.Tick(pair); err != nil {
				return sink.Calibration{}, errors.Wrapf(err, "pair %d", pairs)
			}
		}
		if !r.machine.Commit() {
			logrus.WithField("pair", pairs).Debug("pair not used")
		}
	}

	if r.isCapturing() {
		left := r.machine.Session(frame.SideLeft).Count()
		right := r.machine.Session(frame.SideRight).Count()
		return sink.Calibration{}, errors.Errorf("only %d/%d left and %d/%d right samples accepted from %d pairs",
			left, r.machine.Config().TargetSamples, right, r.machine.Config().TargetSamples, pairs)
	}

	if err := r.machine.Wait(ctx); err != nil {
		return sink.Calibration{}, err
	}
	r.publishStatus()

	switch s := r.machine.State().(type) {
	case capture.Complete:
		cal, _ := r.Published()
		return cal, nil
	case capture.Computing:
		for _, err := range s.Failed {
			if err != nil {
				return sink.Calibration{}, err
			}
		}
	case capture.Failed:
		return sink.Calibration{}, s.Err
	}
	return sink.Calibration{}, errors.Errorf("calibration ended in state %s", r.machine.State().Name())
}

func (r *Runner) isCapturing() bool {
	_, ok := r.machine.State().(capture.Capturing)
	return ok
}
