package capture

import (
	"stereo-calib/internal/calib"
)

// State is one step of the calibration workflow. The set of implementations
// is closed: Idle, AwaitingBoardSettings, Capturing, Computing, Complete and Failed.
type State interface {
	Name() string
	state()
}

// Idle is the state before the workflow starts and after it exits.
type Idle struct{}

// AwaitingBoardSettings waits for the operator to confirm the board's square length.
type AwaitingBoardSettings struct {
	SquareLengthMm float64
}

// Capturing accumulates samples on both cameras.
type Capturing struct{}

// Computing waits for both solves. Failed holds the error of each side whose
// solve failed; once nothing is pending those sides can be retried.
type Computing struct {
	Pending int
	Failed  [2]error
	Results [2]*calib.Result
}

// Complete holds both calibration results.
type Complete struct {
	Left  calib.Result
	Right calib.Result
}

// Failed is entered when the caller reports an unrecoverable frame source error.
type Failed struct {
	Err error
}

func (Idle) Name() string                  { return "idle" }
func (AwaitingBoardSettings) Name() string { return "awaiting_board_settings" }
func (Capturing) Name() string             { return "capturing" }
func (Computing) Name() string             { return "computing" }
func (Complete) Name() string              { return "complete" }
func (Failed) Name() string                { return "failed" }

func (Idle) state()                  {}
func (AwaitingBoardSettings) state() {}
func (Capturing) state()             {}
func (Computing) state()             {}
func (Complete) state()              {}
func (Failed) state()                {}

// HasFailures reports whether any side's solve failed.
func (c Computing) HasFailures() bool {
	return c.Failed[0] != nil || c.Failed[1] != nil
}

// Retryable reports whether Retry can relaunch failed solves.
func (c Computing) Retryable() bool {
	return c.Pending == 0 && c.HasFailures()
}

// bothFull is the join condition between the two camera sessions.
func bothFull(left, right, target int) bool {
	return left >= target && right >= target
}
