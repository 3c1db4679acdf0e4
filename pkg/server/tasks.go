package server

import (
	"context"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/airbreizh/didon/pkg/config"
	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/server/monitor"
	"github.com/airbreizh/didon/pkg/storage"
	"github.com/airbreizh/didon/pkg/storage/badger"
)

// Scheduler runs the job periodically for a set of granularities
type Scheduler struct {
	Job           *Job
	Granularities []measure.Granularity
	Interval      time.Duration
	Runs          *monitor.RunMonitor
	Storage       *monitor.StorageMonitor
	Logger        logrus.FieldLogger

	// One run at a time, scheduled or triggered
	mu sync.Mutex
}

// Start runs every granularity once, then again on every tick, until ctx is done.
func (s *Scheduler) Start(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Logger.WithFields(logrus.Fields{
		"interval":      s.Interval.String(),
		"granularities": s.Granularities,
	}).Info("Run scheduler started")

	s.RunAll(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunAll(ctx)
		case <-ctx.Done():
			s.Logger.Info("Stopping run scheduler")
			return
		}
	}
}

// RunAll runs the job once for every granularity, coarsest first
func (s *Scheduler) RunAll(ctx context.Context) {
	for _, g := range s.Granularities {
		if ctx.Err() != nil {
			return
		}
		s.RunOnce(ctx, g)
	}
}

// RunOnce runs the job for g on today's window and records the outcome
func (s *Scheduler) RunOnce(ctx context.Context, g measure.Granularity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, config.RunTimeout)
	defer cancel()

	summary, err := s.Job.Run(ctx, g, s.Job.Today())
	if s.Storage != nil {
		s.Storage.Invalidate()
	}
	if err != nil {
		s.Runs.RecordFailure(summary, err)
		s.Logger.WithError(err).WithField("granularity", g).Error("Scheduled run failed")

		if status := s.Runs.Status(); status.ConsecutiveErrors > 3 {
			s.Logger.WithField("consecutive_errors", status.ConsecutiveErrors).Error("Scheduled runs keep failing")
		}
		return err
	}

	s.Runs.RecordSuccess(summary)
	s.Logger.Info(summary.Report())
	return nil
}

// RunBadgerGC runs BadgerDB garbage collection periodically to reclaim disk space.
// Replace deletes rows on every run, leaving garbage in the value log.
func RunBadgerGC(ctx context.Context, store storage.Store, interval time.Duration, logger logrus.FieldLogger, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerStore, ok := store.(*badger.Store)
	if !ok {
		logger.Debug("Destination is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.WithField("interval", interval.String()).Info("BadgerDB GC scheduler started")

	for {
		select {
		case <-ticker.C:
			collectGarbage(badgerStore, logger)
		case <-ctx.Done():
			logger.Info("Stopping BadgerDB GC scheduler")
			return
		}
	}
}

// collectGarbage reclaims one value log file if 50% of it is garbage.
func collectGarbage(store *badger.Store, logger logrus.FieldLogger) {
	start := time.Now()
	err := store.RunGC(0.5)
	entry := logger.WithField("took", time.Since(start).Round(time.Millisecond).String())

	switch {
	case err == nil:
		entry.Info("GC completed (disk space reclaimed)")
	case errors.Is(err, badgerdb.ErrNoRewrite):
		entry.Debug("GC completed (no rewrite needed)")
	default:
		entry.WithError(err).Warn("GC failed")
	}
}
