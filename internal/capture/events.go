package capture

import (
	"stereo-calib/internal/calib"
	"stereo-calib/internal/frame"
)

// EventType identifies workflow events.
type EventType int

const (
	EventStateChanged EventType = iota
	EventSampleAccepted
	EventSolveFailed
	EventCalibrationComplete
	EventFrameUnavailable
)

func (e EventType) String() string {
	switch e {
	case EventStateChanged:
		return "state_changed"
	case EventSampleAccepted:
		return "sample_accepted"
	case EventSolveFailed:
		return "solve_failed"
	case EventCalibrationComplete:
		return "calibration_complete"
	case EventFrameUnavailable:
		return "frame_unavailable"
	default:
		return "unknown"
	}
}

// Event describes something that happened in the workflow.
type Event struct {
	Type  EventType
	State string
	Side  frame.Side
	Count int
	Err   error

	// Results is set on EventCalibrationComplete, indexed by frame.Side.
	Results [2]calib.Result
}
