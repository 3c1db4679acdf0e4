package server

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/sirupsen/logrus"

	"github.com/airbreizh/didon/pkg/config"
	"github.com/airbreizh/didon/pkg/coordinator"
	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/window"
)

// Job runs the coordinator for one granularity over the window of a run date
type Job struct {
	coordinator   *coordinator.Coordinator
	calculator    window.Calculator
	identifiers   []string
	insertEnabled bool
	workers       int
	loc           *time.Location
	logger        logrus.FieldLogger
}

// NewJob creates a job from the processing configuration
func NewJob(cfg config.Config, c *coordinator.Coordinator, loc *time.Location, logger logrus.FieldLogger) *Job {
	return &Job{
		coordinator: c,
		calculator: window.Calculator{
			LastYear:  cfg.Processing.LastYear,
			YearsBack: cfg.Processing.YearsBack,
			DaysBack:  cfg.Processing.DaysBack,
		},
		identifiers:   cfg.Identifiers,
		insertEnabled: cfg.Processing.InsertEnabled,
		workers:       cfg.Processing.Workers,
		loc:           loc,
		logger:        logger,
	}
}

// Today returns the current date in the job's timezone
func (j *Job) Today() civil.Date {
	return civil.DateOf(time.Now().In(j.loc))
}

// Run computes the window of g for runDate and processes every identifier
func (j *Job) Run(ctx context.Context, g measure.Granularity, runDate civil.Date) (*coordinator.Summary, error) {
	w, err := j.calculator.Window(g, runDate)
	if err != nil {
		return nil, err
	}

	j.logger.WithFields(logrus.Fields{
		"granularity": g,
		"run_date":    runDate.String(),
		"start":       w.Start.String(),
		"end":         w.End.String(),
	}).Info("Processing window")

	return j.coordinator.Run(ctx, coordinator.Options{
		Granularity:   g,
		Window:        w,
		Identifiers:   j.identifiers,
		InsertEnabled: j.insertEnabled,
		Workers:       j.workers,
	})
}
