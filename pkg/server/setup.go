// Package server wires configuration into running components: the source,
// the destination store, the aggregation engine and the coordinator. It also
// hosts the scheduler and status API of "didon serve".
package server

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/airbreizh/didon/pkg/aggregation"
	"github.com/airbreizh/didon/pkg/config"
	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/source"
	"github.com/airbreizh/didon/pkg/source/csvfile"
	"github.com/airbreizh/didon/pkg/source/xair"
	"github.com/airbreizh/didon/pkg/storage"
	"github.com/airbreizh/didon/pkg/storage/badger"
	"github.com/airbreizh/didon/pkg/storage/memory"
	"github.com/airbreizh/didon/pkg/storage/sqlstore"
)

// OpenStore opens the destination described by dest. Embedded SQL databases
// get their tables created. SQL timestamps are stored as wall clock in loc.
func OpenStore(ctx context.Context, dest config.Destination, loc *time.Location, logger logrus.FieldLogger) (storage.Store, error) {
	switch dest.Driver {
	case "memory":
		logger.Warn("Using in-memory destination, nothing will be kept")
		return memory.New(), nil

	case "badger":
		logger.WithField("path", dest.DataSource()).Info("Opening BadgerDB destination")
		store, err := badger.New(badger.Config{Path: dest.DataSource()})
		if err != nil {
			return nil, err
		}
		return store, nil

	case "postgres", "sqlite3", "duckdb":
		store, err := sqlstore.Open(sqlstore.Config{
			Driver:    dest.Driver,
			DSN:       dest.DataSource(),
			Schema:    dest.Schema,
			ChunkSize: config.DeleteChunkSize,
			Location:  loc,
		}, logger)
		if err != nil {
			return nil, err
		}
		if dest.Driver != "postgres" {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil
	}
	return nil, errors.Errorf("unknown destination driver %q", dest.Driver)
}

// OpenSource creates the measurement source described by cfg.Source
func OpenSource(cfg config.Config, loc *time.Location) (source.Source, error) {
	src := cfg.Source
	switch src.Kind {
	case "xair":
		client, err := xair.New(xair.Config{
			Endpoint: src.Endpoint,
			User:     src.User,
			Password: src.Password,
			Base:     src.Base,
			Timeout:  src.Timeout,
			Location: loc,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "csv":
		opts := []csvfile.Option{
			csvfile.WithSanitizer(aggregation.NewSanitizer(cfg.Sanitize.ValueMap(), cfg.Sanitize.CodeMap())),
		}
		if daily, err := cfg.Params(measure.Daily); err == nil {
			opts = append(opts, csvfile.WithDaily(daily))
		}
		return csvfile.New(src.Dir, loc, opts...), nil
	}
	return nil, errors.Errorf("unknown source kind %q", src.Kind)
}

// NewEngine builds the aggregation engine from the configured sanitize tables
// and per-granularity parameters
func NewEngine(cfg config.Config, loc *time.Location, logger logrus.FieldLogger) (*aggregation.Engine, error) {
	params, err := cfg.ParamsByGranularity()
	if err != nil {
		return nil, err
	}
	sanitizer := aggregation.NewSanitizer(cfg.Sanitize.ValueMap(), cfg.Sanitize.CodeMap())
	return aggregation.NewEngine(sanitizer, params, loc, logger), nil
}

// Connect checks both ends before any identifier is processed. Either failure
// is fatal for the run.
func Connect(ctx context.Context, src source.Source, store storage.Store, logger logrus.FieldLogger) error {
	srcErr := src.Ping(ctx)
	storeErr := store.Ping(ctx)

	logger.WithFields(logrus.Fields{
		"source_connected":      srcErr == nil,
		"destination_connected": storeErr == nil,
	}).Info("Connection status")

	if srcErr != nil {
		return errors.Wrap(srcErr, "measurement source unreachable")
	}
	if storeErr != nil {
		return errors.Wrap(storeErr, "destination unreachable")
	}
	return nil
}
