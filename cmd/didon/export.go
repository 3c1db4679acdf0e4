package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/airbreizh/didon/pkg/config"
	"github.com/airbreizh/didon/pkg/export"
	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/server"
	"github.com/airbreizh/didon/pkg/storage"
)

func newExportCommand(v *viper.Viper, stdout, stderr io.Writer) *cobra.Command {
	var (
		identifier string
		start, end string
		format     string
		output     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "export <A|M|D|H>",
		Short: "Dump stored records as CSV or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := measure.ParseGranularity(args[0])
			if err != nil {
				return err
			}
			table, err := storage.TableFor(g)
			if err != nil {
				return err
			}

			opts := export.Options{
				Table:      table,
				Identifier: identifier,
				Limit:      limit,
				Format:     format,
			}
			if opts.Start, err = export.ParseTime(start, false); err != nil {
				return errors.Wrap(err, "--start")
			}
			if opts.End, err = export.ParseTime(end, true); err != nil {
				return errors.Wrap(err, "--end")
			}

			cfg, logger, err := setup(v, stderr)
			if err != nil {
				return err
			}
			defer logger.Close()

			loc, err := cfg.Processing.Location()
			if err != nil {
				return err
			}
			store, err := server.OpenStore(cmd.Context(), cfg.Destination, loc, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			w := stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return errors.Wrap(err, "creating export file")
				}
				defer f.Close()
				w = f
			}

			result, err := export.NewExporter(store).Export(cmd.Context(), w, opts)
			if err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{
				"table":      result.Table,
				"records":    result.RecordsExported,
				"time_range": result.TimeRange,
				"format":     result.Format,
			}).Info("Export completed")
			return nil
		},
	}

	cmd.Flags().StringVar(&identifier, "identifier", "", "Only export this identifier")
	cmd.Flags().StringVar(&start, "start", "", "First date or timestamp (inclusive)")
	cmd.Flags().StringVar(&end, "end", "", "Last date or timestamp (inclusive)")
	cmd.Flags().StringVar(&format, "format", config.DefaultExportFormat, "csv or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, defaults to stdout")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of records, 0 for all")
	return cmd
}
