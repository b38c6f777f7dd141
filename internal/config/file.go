package config

import (
	"encoding/json"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RawFile is the on-disk form of a run configuration. Nil fields keep their defaults.
type RawFile struct {
	SquareLengthMm       *float64 `json:"square_length_mm,omitempty"`
	TargetSamples        *int     `json:"target_samples,omitempty"`
	PatternRows          *int     `json:"pattern_rows,omitempty"`
	PatternCols          *int     `json:"pattern_cols,omitempty"`
	MaxReprojectionError *float64 `json:"max_reprojection_error,omitempty"`

	TrackerID        *string `json:"tracker_id,omitempty"`
	TickIntervalMs   *int    `json:"tick_interval_ms,omitempty"`
	MaxFrameFailures *int    `json:"max_frame_failures,omitempty"`

	DatabasePath *string `json:"database_path,omitempty"`
	ResultFile   *string `json:"result_file,omitempty"`
	ReportDir    *string `json:"report_dir,omitempty"`

	MQTTBroker      *string `json:"mqtt_broker,omitempty"`
	MQTTClientID    *string `json:"mqtt_client_id,omitempty"`
	MQTTTopicPrefix *string `json:"mqtt_topic_prefix,omitempty"`

	ListenAddr *string `json:"listen_addr,omitempty"`
}

// Run is the resolved configuration of a calibration run.
type Run struct {
	Capture Capture

	TrackerID        string
	TickIntervalMs   int
	MaxFrameFailures int

	DatabasePath string
	ResultFile   string
	ReportDir    string

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	ListenAddr string
}

// DefaultRun returns the run configuration used when no file is given.
func DefaultRun() Run {
	return Run{
		Capture:          Default(),
		TrackerID:        "tracker0",
		TickIntervalMs:   DefaultTickIntervalMs,
		MaxFrameFailures: DefaultMaxFrameFailures,
		MQTTClientID:     "stereo-calib",
		MQTTTopicPrefix:  "trackers",
	}
}

// LoadFile reads a JSON run configuration and merges it over DefaultRun.
func LoadFile(path string) (Run, error) {
	run := DefaultRun()

	data, err := os.ReadFile(path)
	if err != nil {
		return run, pkgerrors.Wrapf(err, "failed to read config %s", path)
	}

	var raw RawFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return run, pkgerrors.Wrapf(err, "failed to parse config %s", path)
	}

	run = raw.Merge(run)
	logrus.WithField("path", path).Debugf("config loaded: %+v", run)
	return run, nil
}

// Merge applies every non-nil field of r onto base.
func (r RawFile) Merge(base Run) Run {
	if r.SquareLengthMm != nil {
		base.Capture = base.Capture.WithSquareLength(*r.SquareLengthMm)
	}
	if r.TargetSamples != nil {
		base.Capture = base.Capture.WithTargetSamples(*r.TargetSamples)
	}
	if r.PatternRows != nil && r.PatternCols != nil && *r.PatternRows > 2 && *r.PatternCols > 2 {
		base.Capture = base.Capture.WithPattern(*r.PatternRows, *r.PatternCols)
	}
	if r.MaxReprojectionError != nil && *r.MaxReprojectionError > 0 {
		base.Capture.MaxReprojectionError = *r.MaxReprojectionError
	}
	if r.TrackerID != nil {
		base.TrackerID = *r.TrackerID
	}
	if r.TickIntervalMs != nil && *r.TickIntervalMs > 0 {
		base.TickIntervalMs = *r.TickIntervalMs
	}
	if r.MaxFrameFailures != nil && *r.MaxFrameFailures > 0 {
		base.MaxFrameFailures = *r.MaxFrameFailures
	}
	if r.DatabasePath != nil {
		base.DatabasePath = *r.DatabasePath
	}
	if r.ResultFile != nil {
		base.ResultFile = *r.ResultFile
	}
	if r.ReportDir != nil {
		base.ReportDir = *r.ReportDir
	}
	if r.MQTTBroker != nil {
		base.MQTTBroker = *r.MQTTBroker
	}
	if r.MQTTClientID != nil {
		base.MQTTClientID = *r.MQTTClientID
	}
	if r.MQTTTopicPrefix != nil {
		base.MQTTTopicPrefix = *r.MQTTTopicPrefix
	}
	if r.ListenAddr != nil {
		base.ListenAddr = *r.ListenAddr
	}
	return base
}
