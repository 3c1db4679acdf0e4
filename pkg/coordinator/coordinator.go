// Package coordinator runs one aggregation job: for every configured
// identifier it fetches the window from the source, aggregates it, and
// replaces the matching rows of the destination table.
//
// Per identifier:
//
//	Fetch → Aggregate → Count existing → Drop missing codes → Replace (one transaction)
//
// An identifier without data is "not processed". An identifier that fails at
// any stage is logged and left out of both tallies; the loop goes on.
package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/airbreizh/didon/pkg/aggregation"
	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/source"
	"github.com/airbreizh/didon/pkg/storage"
)

// Aggregator turns one fetch into records
type Aggregator interface {
	Aggregate(identifier string, g measure.Granularity, fetch *measure.Fetch) ([]measure.Record, error)
}

// Observer is told about run progress. IdentifierDone may be called from
// several goroutines when Workers > 1.
type Observer interface {
	RunStarted(s Summary)
	IdentifierDone(runID string, r Result)
	RunFinished(s Summary)
}

// Options describes one run
type Options struct {
	Granularity   measure.Granularity
	Window        measure.Window
	Identifiers   []string
	InsertEnabled bool

	// Workers processes identifiers concurrently (0 or 1 = sequential)
	Workers int
}

// Coordinator ties a source, an aggregator and a store together
type Coordinator struct {
	source    source.Source
	engine    Aggregator
	store     storage.Store
	logger    logrus.FieldLogger
	observers []Observer
	now       func() time.Time
}

// New creates a coordinator
func New(src source.Source, engine Aggregator, store storage.Store, logger logrus.FieldLogger, observers ...Observer) *Coordinator {
	return &Coordinator{
		source:    src,
		engine:    engine,
		store:     store,
		logger:    logger,
		observers: observers,
		now:       time.Now,
	}
}

// Run processes every identifier of opts in order. The returned error is only
// set when the run could not start or was cancelled; per-identifier failures
// are reported in the summary.
func (c *Coordinator) Run(ctx context.Context, opts Options) (*Summary, error) {
	table, err := storage.TableFor(opts.Granularity)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	start := c.now()
	summary := &Summary{
		RunID:       uuid.NewString(),
		Granularity: opts.Granularity,
		Table:       table.Name,
		Window:      opts.Window,
		DryRun:      !opts.InsertEnabled,
		Started:     start,
		Total:       len(opts.Identifiers),
		Results:     make([]Result, len(opts.Identifiers)),
	}

	logger := c.logger.WithFields(logrus.Fields{
		"run_id":      summary.RunID,
		"granularity": opts.Granularity,
		"window":      opts.Window.String(),
		"table":       table.Name,
	})
	logger.WithFields(logrus.Fields{
		"identifiers": len(opts.Identifiers),
		"workers":     workers,
		"dry_run":     summary.DryRun,
	}).Info("Run started")

	for _, o := range c.observers {
		o.RunStarted(*summary)
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)

	for i, id := range opts.Identifiers {
		summary.Results[i] = Result{Identifier: id, Outcome: Skipped}
		if ctx.Err() != nil {
			continue
		}

		g.Go(func() error {
			r := c.process(ctx, logger.WithField("identifier", id), opts, table, id)
			summary.Results[i] = r
			for _, o := range c.observers {
				o.IdentifierDone(summary.RunID, r)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.tally()
	summary.Elapsed = c.now().Sub(start)

	logger.WithFields(logrus.Fields{
		"processed":     len(summary.Processed),
		"not_processed": len(summary.NotProcessed),
		"failed":        len(summary.Failed),
		"elapsed":       summary.Elapsed.Round(time.Millisecond).String(),
	}).Info("Run finished")

	for _, o := range c.observers {
		o.RunFinished(*summary)
	}

	if err := ctx.Err(); err != nil {
		return summary, errors.Wrap(err, "run interrupted")
	}
	return summary, nil
}

func (c *Coordinator) process(ctx context.Context, logger logrus.FieldLogger, opts Options, table storage.Table, id string) Result {
	if ctx.Err() != nil {
		return Result{Identifier: id, Outcome: Skipped}
	}

	fail := func(stage Stage, err error) Result {
		serr := &StageError{Identifier: id, Stage: stage, Err: err}
		logger.WithField("stage", stage).WithError(err).Error("Identifier failed")
		return Result{Identifier: id, Outcome: Failed, Stage: stage, Error: serr.Error()}
	}

	fetch, err := c.source.Fetch(ctx, source.Request{
		Identifier:  id,
		Window:      opts.Window,
		Granularity: opts.Granularity.FetchGranularity(),
	})
	if err != nil {
		return fail(StageFetch, err)
	}

	records, err := c.engine.Aggregate(id, opts.Granularity, fetch)
	if errors.Is(err, aggregation.ErrNoData) {
		logger.Info("No data returned by the source")
		return Result{Identifier: id, Outcome: NotProcessed}
	}
	if err != nil {
		return fail(StageAggregate, err)
	}

	p := storage.PredicateFor(id, records)
	existing, err := c.store.Count(ctx, table, p)
	if err != nil {
		return fail(StageCountExisting, err)
	}

	kept := make([]measure.Record, 0, len(records))
	for _, r := range records {
		if r.Code.Valid {
			kept = append(kept, r)
		}
	}

	result := Result{
		Identifier: id,
		Outcome:    Processed,
		Existing:   existing,
		Dropped:    len(records) - len(kept),
	}

	if !opts.InsertEnabled {
		logger.WithFields(logrus.Fields{
			"existing": existing,
			"records":  len(kept),
		}).Warn("Insertion disabled, nothing written")
		return result
	}

	deleted, err := c.store.Replace(ctx, table, p, kept)
	if err != nil {
		return fail(StageReplace, err)
	}
	result.Deleted = deleted
	result.Inserted = len(kept)

	logger.WithFields(logrus.Fields{
		"existing": existing,
		"deleted":  deleted,
		"inserted": len(kept),
		"dropped":  result.Dropped,
	}).Info("Identifier replaced")
	return result
}
