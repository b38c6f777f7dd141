package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"stereo-calib/internal/app"
	"stereo-calib/internal/calib"
	"stereo-calib/internal/config"
	"stereo-calib/internal/frame"
	"stereo-calib/internal/sink"
	"stereo-calib/internal/source"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewSolveCommand() *cobra.Command {
	var (
		dir    string
		square float64
	)

	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Calibrate offline from recorded image pairs",
		Long: `Calibrate offline from recorded image pairs. Every pair that passes the sample
gate is committed automatically until both cameras have enough samples.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, err := loadRun(cmd)
			if err != nil {
				return err
			}
			prefs := config.LoadPrefs()
			if !cmd.Flags().Changed("square") {
				square = prefs.SquareLength()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			src, err := source.OpenDir(dir, false)
			if err != nil {
				return err
			}
			defer src.Close()
			size, err := firstPairSize(ctx, src)
			if err != nil {
				return err
			}

			sinks, baseline, closers, err := openSinks(ctx, run)
			if err != nil {
				return err
			}
			defer closeAll(closers)

			runner := app.NewRunner(app.Options{
				Run:       run,
				Source:    src,
				Sink:      sinks,
				Prefs:     prefs,
				FrameSize: size,
				Baseline:  baseline,
			})
			cal, err := runner.Replay(ctx, square)
			if err != nil {
				return err
			}
			printCalibration(cmd.OutOrStdout(), cal)
			if st := runner.Status(); st.Error != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.YellowString("warning:"), st.Error)
			}
			return nil
		},
	}

	addRunFlags(cmd)
	f := cmd.Flags()
	f.StringVar(&dir, "dir", "", "directory with left/right image pairs")
	f.Float64Var(&square, "square", config.DefaultSquareLengthMm, "checkerboard square length in mm")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func printCalibration(w io.Writer, cal sink.Calibration) {
	fmt.Fprintf(w, "%s %s\n", bold("Calibration"), cal.ID)
	fmt.Fprintf(w, "  tracker:  %s\n", cal.TrackerID)
	fmt.Fprintf(w, "  created:  %s\n", cal.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  square:   %.1f mm\n", cal.SquareLengthMm)
	for _, side := range frame.Sides {
		printResult(w, side, cal.Get(side))
	}
}

func printResult(w io.Writer, side frame.Side, r calib.Result) {
	rms := color.New(color.Bold, color.FgGreen).Sprintf("%.3f px", r.ReprojectionError)
	if r.ReprojectionError > 1 {
		rms = color.New(color.Bold, color.FgRed).Sprintf("%.3f px", r.ReprojectionError)
	}
	d := r.Distortion
	fmt.Fprintf(w, "  %s (%d samples, RMS %s)\n", bold("%s camera", side), r.SampleCount, rms)
	fmt.Fprintf(w, "    fx %.2f  fy %.2f  cx %.2f  cy %.2f\n", r.Matrix.Fx(), r.Matrix.Fy(), r.Matrix.Cx(), r.Matrix.Cy())
	fmt.Fprintf(w, "    k1 %.5f  k2 %.5f  p1 %.5f  p2 %.5f  k3 %.5f\n", d.K1, d.K2, d.P1, d.P2, d.K3)
}
