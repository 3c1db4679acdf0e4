package main

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/airbreizh/didon/pkg/config"
	"github.com/airbreizh/didon/pkg/coordinator"
	"github.com/airbreizh/didon/pkg/logging"
	"github.com/airbreizh/didon/pkg/server"
	"github.com/airbreizh/didon/pkg/source"
	"github.com/airbreizh/didon/pkg/storage"
)

var (
	// Version of this software, filled in by ldflags.
	Version string
	// BuildTime of this software, filled in by ldflags.
	BuildTime string
)

// NewRootCommand creates the didon command with its run, serve and export
// subcommands. Every subcommand reads its configuration through one viper
// instance.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	if Version == "" {
		Version = "v0.0.0"
	}
	if BuildTime == "" {
		BuildTime = "not recorded"
	}

	v := viper.New()
	rc := &cobra.Command{
		Use:   "didon",
		Short: "didon - air quality aggregation",
		Long: `Fetches raw readings from the XR measurement server, aggregates them
per granularity and replaces the matching rows of the destination tables.

Version: ` + Version + `
Build Time: ` + BuildTime + "\n",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rc.PersistentFlags()
	flags.String("profile", config.DefaultProfile, "Connection profile (PROD or LOCAL)")
	flags.String("config", "", "Configuration file (yaml, toml or json)")
	flags.String("log-level", "", "Log level, overrides log.level")
	bind(v, flags, map[string]string{
		"profile":   "profile",
		"config":    "config",
		"log-level": "log.level",
	})

	rc.AddCommand(
		newRunCommand(v, stderr),
		newServeCommand(v, stderr),
		newExportCommand(v, stdout, stderr),
	)
	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// bind maps flag names onto configuration keys. A flag only overrides the
// configuration when it is set on the command line.
func bind(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// setup loads the configuration and builds the logger from it
func setup(v *viper.Viper, stderr io.Writer) (config.Config, *logging.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Dir:     cfg.Log.Dir,
		Program: cfg.Log.Program,
		Output:  stderr,
	})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// app holds the components shared by run and serve
type app struct {
	loc    *time.Location
	src    source.Source
	store  storage.Store
	job    *server.Job
	logger *logging.Logger
}

// openApp connects both ends and builds the job. A connection failure is fatal.
func openApp(ctx context.Context, cfg config.Config, logger *logging.Logger, observers ...coordinator.Observer) (*app, error) {
	loc, err := cfg.Processing.Location()
	if err != nil {
		return nil, err
	}

	src, err := server.OpenSource(cfg, loc)
	if err != nil {
		return nil, err
	}

	store, err := server.OpenStore(ctx, cfg.Destination, loc, logger)
	if err != nil {
		src.Close()
		return nil, errors.Wrap(err, "opening destination")
	}

	if err := server.Connect(ctx, src, store, logger); err != nil {
		src.Close()
		store.Close()
		return nil, err
	}

	engine, err := server.NewEngine(cfg, loc, logger)
	if err != nil {
		src.Close()
		store.Close()
		return nil, err
	}

	c := coordinator.New(src, engine, store, logger, observers...)
	return &app{
		loc:    loc,
		src:    src,
		store:  store,
		job:    server.NewJob(cfg, c, loc, logger),
		logger: logger,
	}, nil
}

func (a *app) Close() {
	if err := a.src.Close(); err != nil {
		a.logger.WithError(err).Warn("Closing measurement source")
	}
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("Closing destination")
	}
}
