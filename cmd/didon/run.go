package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/airbreizh/didon/pkg/measure"
)

func newRunCommand(v *viper.Viper, stderr io.Writer) *cobra.Command {
	var (
		dryRun  bool
		runDate string
	)

	cmd := &cobra.Command{
		Use:   "run <A|M|D|H>",
		Short: "Aggregate one granularity and replace its window",
		Long: `Computes the window of the granularity for the run date, then for every
configured identifier fetches the raw readings, aggregates them and replaces
the stored rows at the computed timestamps.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Checked before anything is opened
			g, err := measure.ParseGranularity(args[0])
			if err != nil {
				return err
			}

			var date civil.Date
			if runDate != "" {
				date, err = civil.ParseDate(runDate)
				if err != nil {
					return errors.Wrap(err, "--run-date")
				}
			}

			cfg, logger, err := setup(v, stderr)
			if err != nil {
				return err
			}
			defer logger.Close()

			if dryRun {
				cfg.Processing.InsertEnabled = false
			}

			logger.WithFields(cfg.LogFields()).WithField("granularity", g).Info("Initialisation")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, logger)
			if err != nil {
				logger.WithError(err).Error("Initialisation failed")
				return err
			}
			defer a.Close()

			if runDate == "" {
				date = a.job.Today()
			}

			summary, err := a.job.Run(ctx, g, date)
			if summary != nil {
				logger.Info(summary.Report())
			}
			if err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{
				"run_id":  summary.RunID,
				"elapsed": summary.Elapsed.Round(time.Millisecond).String(),
				"failed":  len(summary.Failed),
			}).Info("Finalisation")
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Aggregate without writing to the destination")
	cmd.Flags().StringVar(&runDate, "run-date", "", "Run date (YYYY-MM-DD), defaults to today")
	return cmd
}
