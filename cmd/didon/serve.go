package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/airbreizh/didon/pkg/config"
	"github.com/airbreizh/didon/pkg/export"
	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/server"
	"github.com/airbreizh/didon/pkg/server/monitor"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 60 * time.Second
	shutdownTimeout    = 30 * time.Second
	storageCacheTTL    = 10 * time.Second
)

func newServeCommand(v *viper.Viper, stderr io.Writer) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the job on an interval and expose the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(v, stderr)
			if err != nil {
				return err
			}
			defer logger.Close()

			if dryRun {
				cfg.Processing.InsertEnabled = false
			}

			granularities := make([]measure.Granularity, 0, len(cfg.Server.Granularities))
			for _, s := range cfg.Server.Granularities {
				g, err := measure.ParseGranularity(s)
				if err != nil {
					return err
				}
				granularities = append(granularities, g)
			}

			logger.WithFields(cfg.LogFields()).Info("Initialisation")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := server.NewEventHub(logger)
			a, err := openApp(ctx, cfg, logger, hub)
			if err != nil {
				logger.WithError(err).Error("Initialisation failed")
				return err
			}
			defer a.Close()

			runs := monitor.NewRunMonitor(cfg.Server.Interval, config.MonitorHistory)
			storageMonitor := monitor.NewStorageMonitor(a.store, storageCacheTTL)
			scheduler := &server.Scheduler{
				Job:           a.job,
				Granularities: granularities,
				Interval:      cfg.Server.Interval,
				Runs:          runs,
				Storage:       storageMonitor,
				Logger:        logger,
			}

			var wg sync.WaitGroup
			wg.Add(3)
			go func() {
				defer wg.Done()
				hub.Run(ctx)
			}()
			go scheduler.Start(ctx, &wg)
			go server.RunBadgerGC(ctx, a.store, config.BadgerGCInterval, logger, &wg)

			_, port, perr := net.SplitHostPort(cfg.Server.Listen)
			if perr != nil {
				port = "8080"
			}

			router := mux.NewRouter()
			server.SetupRoutes(router, server.Deps{
				Context:        ctx,
				Store:          a.store,
				Scheduler:      scheduler,
				Runs:           runs,
				StorageMonitor: storageMonitor,
				Export:         export.NewHandler(a.store, config.MaxExportRecords, logger),
				Hub:            hub,
				Port:           port,
				Logger:         logger,
			})

			srv := &http.Server{
				Addr:         cfg.Server.Listen,
				Handler:      router,
				ReadTimeout:  serverReadTimeout,
				WriteTimeout: serverWriteTimeout,
			}

			errc := make(chan error, 1)
			go func() {
				logger.WithField("listen", cfg.Server.Listen).Info("Status API listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errc <- err
				}
			}()

			select {
			case <-ctx.Done():
				logger.Info("Shutdown signal received")
			case err = <-errc:
				logger.WithError(err).Error("Status API failed")
				stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.WithError(serr).Warn("Server shutdown")
			}

			// Wait for background goroutines, with a bound
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				logger.Info("All background tasks stopped cleanly")
			case <-time.After(5 * time.Second):
				logger.Warn("Some background tasks did not stop in time")
			}

			logger.Info("Finalisation")
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Aggregate without writing to the destination")
	cmd.Flags().String("listen", config.DefaultListenAddr, "Status API listen address")
	cmd.Flags().Duration("interval", config.DefaultRunInterval, "Time between scheduled runs")
	bind(v, cmd.Flags(), map[string]string{
		"listen":   "server.listen",
		"interval": "server.interval",
	})
	return cmd
}
