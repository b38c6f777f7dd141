package app

import (
	"time"

	"stereo-calib/internal/capture"
	"stereo-calib/internal/frame"
)

// CameraStatus is the per-camera part of a Status snapshot.
type CameraStatus struct {
	Side              string  `json:"side"`
	Count             int     `json:"count"`
	Target            int     `json:"target"`
	Found             bool    `json:"found"`
	Valid             bool    `json:"valid"`
	LastCheck         string  `json:"last_check,omitempty"`
	Fx                float64 `json:"fx,omitempty"`
	Fy                float64 `json:"fy,omitempty"`
	Cx                float64 `json:"cx,omitempty"`
	Cy                float64 `json:"cy,omitempty"`
	ReprojectionError float64 `json:"reprojection_error,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// Status is an immutable snapshot of the runner, safe to hand to other goroutines.
type Status struct {
	State              string          `json:"state"`
	SquareLengthMm     float64         `json:"square_length_mm"`
	LastSquareLengthMm float64         `json:"last_square_length_mm"`
	Cameras            [2]CameraStatus `json:"cameras"`
	BothValid          bool            `json:"both_valid"`
	PreviewMode        string          `json:"preview_mode"`
	FrameFailures      int             `json:"frame_failures"`
	CalibrationID      string          `json:"calibration_id,omitempty"`
	Error              string          `json:"error,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// snapshot builds a Status from the machine. Runs on the runner goroutine.
func (r *Runner) snapshot() Status {
	st := Status{
		State:              r.machine.State().Name(),
		SquareLengthMm:     r.machine.Config().SquareLengthMm,
		LastSquareLengthMm: r.lastSquareLength(),
		PreviewMode:        r.previewMode.String(),
		FrameFailures:      r.failures,
		CalibrationID:      r.calibrationID,
		Error:              r.lastErr,
		UpdatedAt:          time.Now(),
	}

	var computing *capture.Computing
	switch s := r.machine.State().(type) {
	case capture.AwaitingBoardSettings:
		st.SquareLengthMm = s.SquareLengthMm
	case capture.Computing:
		computing = &s
	case capture.Failed:
		if s.Err != nil {
			st.Error = s.Err.Error()
		}
	}

	for _, side := range frame.Sides {
		cs := CameraStatus{Side: side.String(), Target: r.machine.Config().TargetSamples}
		if sess := r.machine.Session(side); sess != nil {
			obs := sess.LastObservation()
			in := sess.Intrinsics()
			cs.Count = sess.Count()
			cs.Found = obs.Found
			cs.Valid = sess.CurrentValid()
			if obs.Found && !obs.Verdict.Accepted() {
				cs.LastCheck = obs.Verdict.Failed.String()
			}
			cs.Fx, cs.Fy = in.Matrix.Fx(), in.Matrix.Fy()
			cs.Cx, cs.Cy = in.Matrix.Cx(), in.Matrix.Cy()
			cs.ReprojectionError = sess.ReprojectionError()
		}
		if computing != nil && computing.Failed[side] != nil {
			cs.Error = computing.Failed[side].Error()
		}
		st.Cameras[side] = cs
	}
	st.BothValid = st.Cameras[frame.SideLeft].Valid && st.Cameras[frame.SideRight].Valid
	return st
}

func (r *Runner) publishStatus() {
	st := r.snapshot()
	r.mu.Lock()
	r.status = st
	r.mu.Unlock()
}

// Status returns the latest snapshot.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}
