package main

import (
	"context"
	"fmt"

	"stereo-calib/internal/sink"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewHistoryCommand() *cobra.Command {
	var (
		limit   int
		all     bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored calibrations, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, err := loadRun(cmd)
			if err != nil {
				return err
			}
			if run.DatabasePath == "" {
				return errors.New("no calibration database configured, use --db")
			}

			store, err := sink.OpenStore(run.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			tracker := run.TrackerID
			if all {
				tracker = ""
			}
			list, err := store.History(context.Background(), tracker, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "no calibrations stored")
				return nil
			}
			for i, cal := range list {
				if verbose {
					printCalibration(out, cal)
					continue
				}
				marker := "  "
				// The newest entry of a tracker is its active calibration.
				if i == 0 && !all {
					marker = color.GreenString("* ")
				}
				fmt.Fprintf(out, "%s%s  %-10s  %s  left %.3f px  right %.3f px\n",
					marker, cal.CreatedAt.Local().Format("2006-01-02 15:04"), cal.TrackerID, cal.ID,
					cal.Left.ReprojectionError, cal.Right.ReprojectionError)
			}
			return nil
		},
	}

	addRunFlags(cmd)
	f := cmd.Flags()
	f.IntVarP(&limit, "limit", "n", 20, "maximum number of entries, 0 for all")
	f.BoolVar(&all, "all", false, "list every tracker")
	f.BoolVarP(&verbose, "verbose", "v", false, "print full camera models")
	return cmd
}
