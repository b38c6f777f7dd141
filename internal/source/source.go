// Package source delivers stereo frame pairs to the calibration runner.
package source

import (
	"context"

	"stereo-calib/internal/frame"

	"github.com/pkg/errors"
)

var (
	// ErrNoFrame means no pair is available right now. The tick is skipped.
	ErrNoFrame = errors.New("no frame available")

	// ErrEndOfStream means the source is exhausted and will never deliver again.
	ErrEndOfStream = errors.New("end of stream")
)

// Source is polled once per tick for the next pair of frames.
type Source interface {
	Next(ctx context.Context) (frame.Pair, error)
	Close() error
}

// CaptureControl is implemented by sources that adjust device settings while
// samples are being collected.
type CaptureControl interface {
	BeginCapture() error
	EndCapture() error
}
