// Package sink publishes finished stereo calibrations to the tracker's
// consumers: the local calibration store, an MQTT broker and plain files.
package sink

import (
	"context"
	stderrors "errors"
	"time"

	"stereo-calib/internal/calib"
	"stereo-calib/internal/frame"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a tracker has no stored calibration.
var ErrNotFound = errors.New("calibration not found")

// Calibration is one completed stereo calibration run.
type Calibration struct {
	ID             uuid.UUID    `json:"id"`
	TrackerID      string       `json:"tracker_id"`
	CreatedAt      time.Time    `json:"created_at"`
	SquareLengthMm float64      `json:"square_length_mm"`
	Left           calib.Result `json:"left"`
	Right          calib.Result `json:"right"`
}

// NewCalibration stamps a new run with a fresh ID and the current time.
func NewCalibration(trackerID string, squareLengthMm float64, results [2]calib.Result) Calibration {
	return Calibration{
		ID:             uuid.New(),
		TrackerID:      trackerID,
		CreatedAt:      time.Now().UTC(),
		SquareLengthMm: squareLengthMm,
		Left:           results[frame.SideLeft],
		Right:          results[frame.SideRight],
	}
}

// Get returns the result of one camera.
func (c Calibration) Get(side frame.Side) calib.Result {
	if side == frame.SideRight {
		return c.Right
	}
	return c.Left
}

// Intrinsics returns both camera models, indexed by frame.Side.
func (c Calibration) Intrinsics() [2]calib.Intrinsics {
	return [2]calib.Intrinsics{c.Left.Intrinsics(), c.Right.Intrinsics()}
}

// Sink receives completed calibrations. Publish is only called once both
// cameras solved successfully.
type Sink interface {
	Publish(ctx context.Context, c Calibration) error
}

// Multi publishes to every sink in order, even when one of them fails.
type Multi []Sink

// Publish implements Sink. The returned error joins every sink failure.
func (m Multi) Publish(ctx context.Context, c Calibration) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.WithStack(stderrors.Join(errs...))
}
