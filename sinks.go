package main

import (
	"context"
	"io"

	"stereo-calib/internal/calib"
	"stereo-calib/internal/config"
	"stereo-calib/internal/sink"

	"github.com/sirupsen/logrus"
)

// openSinks builds the sink fan-out for run and, when a database is
// configured, loads the tracker's active calibration as the baseline. The
// returned closers must be closed by the caller.
func openSinks(ctx context.Context, run config.Run) (sink.Multi, [2]calib.Intrinsics, []io.Closer, error) {
	var (
		sinks    sink.Multi
		baseline [2]calib.Intrinsics
		closers  []io.Closer
	)
	fail := func(err error) (sink.Multi, [2]calib.Intrinsics, []io.Closer, error) {
		for _, c := range closers {
			c.Close()
		}
		return nil, baseline, nil, err
	}

	if run.DatabasePath != "" {
		store, err := sink.OpenStore(run.DatabasePath)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, store)
		sinks = append(sinks, store)

		if baseline, err = store.Baseline(ctx, run.TrackerID); err != nil {
			return fail(err)
		}
		if baseline[0].Matrix.Valid() {
			logrus.WithField("tracker", run.TrackerID).Info("starting from the stored calibration")
		}
	}
	if run.MQTTBroker != "" {
		m, err := sink.DialMQTT(run.MQTTBroker, run.MQTTClientID, run.MQTTTopicPrefix)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, m)
		sinks = append(sinks, m)
	}
	if run.ResultFile != "" {
		sinks = append(sinks, sink.File{Path: run.ResultFile})
	}
	return sinks, baseline, closers, nil
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logrus.WithError(err).Warn("close failed")
		}
	}
}
