// Package main provides the stereo-calib command line: live stereo
// checkerboard calibration, offline replay and calibration history.
package main

import (
	"fmt"
	"os"

	"stereo-calib/internal/config"
	"stereo-calib/internal/version"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel   = "info"
	configPath = ""
)

// Flags shared by every command that touches the run configuration.
var (
	trackerID    string
	databasePath string
	resultFile   string
	reportDir    string
	mqttBroker   string
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrap(err, "failed to parse log level")
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
		FullTimestamp:   true,
	})
	return nil
}

// loadRun resolves the run configuration: defaults, then the config file,
// then command line flags.
func loadRun(cmd *cobra.Command) (config.Run, error) {
	run := config.DefaultRun()
	if configPath != "" {
		var err error
		if run, err = config.LoadFile(configPath); err != nil {
			return run, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("tracker") {
		run.TrackerID = trackerID
	}
	if flags.Changed("db") {
		run.DatabasePath = databasePath
	}
	if flags.Changed("result-file") {
		run.ResultFile = resultFile
	}
	if flags.Changed("report-dir") {
		run.ReportDir = reportDir
	}
	if flags.Changed("mqtt-broker") {
		run.MQTTBroker = mqttBroker
	}
	return run, nil
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&trackerID, "tracker", "", "tracker ID the calibration belongs to")
	f.StringVar(&databasePath, "db", "", "calibration database (SQLite) path")
	f.StringVar(&resultFile, "result-file", "", "also write the calibration to this JSON file")
	f.StringVar(&reportDir, "report-dir", "", "write sample coverage plots to this directory")
	f.StringVar(&mqttBroker, "mqtt-broker", "", "publish the calibration to this MQTT broker, e.g. tcp://localhost:1883")
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stereo-calib",
		Short: "stereo-calib calibrates the two cameras of a stereo tracker",
		Long: `stereo-calib calibrates the intrinsics of both cameras of a stereo tracker
from a checkerboard shown to the cameras.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "run config file path (JSON)")

	cmd.AddCommand(
		NewRunCommand(),
		NewSolveCommand(),
		NewHistoryCommand(),
		NewVersionCommand(),
	)
	return cmd
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
