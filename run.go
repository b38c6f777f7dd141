package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stereo-calib/internal/app"
	"stereo-calib/internal/config"
	"stereo-calib/internal/server"
	"stereo-calib/internal/source"
	"stereo-calib/pkg/geometry"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewRunCommand() *cobra.Command {
	var (
		device     int
		dir        string
		loop       bool
		width      int
		height     int
		listenAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an interactive calibration, controlled over HTTP",
		Long: `Run an interactive calibration. Frames come from a side-by-side stereo video
device, or from recorded left/right images with --dir. The operator drives the
workflow through the HTTP control API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, err := loadRun(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") || run.ListenAddr == "" {
				run.ListenAddr = listenAddr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			size := geometry.Size{Width: width, Height: height}
			var src source.Source
			if dir != "" {
				d, err := source.OpenDir(dir, loop)
				if err != nil {
					return err
				}
				if size, err = firstPairSize(ctx, d); err != nil {
					return err
				}
				src = d
			} else {
				if src, err = source.OpenCamera(device, size); err != nil {
					return err
				}
			}
			defer src.Close()

			sinks, baseline, closers, err := openSinks(ctx, run)
			if err != nil {
				return err
			}
			defer closeAll(closers)

			runner := app.NewRunner(app.Options{
				Run:       run,
				Source:    src,
				Sink:      sinks,
				Prefs:     config.LoadPrefs(),
				FrameSize: size,
				Baseline:  baseline,
			})

			srv := server.New(runner, 500*time.Millisecond)
			go func() {
				if err := srv.ListenAndServe(ctx, run.ListenAddr); err != nil {
					logrus.WithError(err).Error("control API failed")
					stop()
				}
			}()

			return runner.Run(ctx)
		},
	}

	addRunFlags(cmd)
	f := cmd.Flags()
	f.IntVar(&device, "device", 0, "video device index")
	f.StringVar(&dir, "dir", "", "replay recorded images from this directory instead of a device")
	f.BoolVar(&loop, "loop", true, "restart the replay after the last image pair")
	f.IntVar(&width, "width", 640, "width of one camera section")
	f.IntVar(&height, "height", 480, "frame height")
	f.StringVar(&listenAddr, "listen", "127.0.0.1:8080", "control API listen address")
	return cmd
}

// firstPairSize reads the first pair to learn the frame size, then rewinds.
func firstPairSize(ctx context.Context, d *source.Dir) (geometry.Size, error) {
	pair, err := d.Next(ctx)
	if err != nil {
		return geometry.Size{}, errors.Wrap(err, "failed to read first image pair")
	}
	d.Rewind()
	if pair.Left.Size() != pair.Right.Size() {
		return geometry.Size{}, errors.Errorf("left and right images differ in size: %v vs %v", pair.Left.Size(), pair.Right.Size())
	}
	return pair.Left.Size(), nil
}
