package aggregation

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/airbreizh/didon/pkg/measure"
)

// Engine turns one fetch into the records of one identifier
type Engine struct {
	sanitizer *Sanitizer
	params    map[measure.Granularity]measure.Params
	loc       *time.Location
	logger    logrus.FieldLogger
}

// NewEngine creates an engine. A nil loc means UTC, a nil logger the standard
// logrus logger.
func NewEngine(sanitizer *Sanitizer, params map[measure.Granularity]measure.Params, loc *time.Location, logger logrus.FieldLogger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := make(map[measure.Granularity]measure.Params, len(params))
	for g, v := range params {
		p[g] = v
	}
	return &Engine{
		sanitizer: sanitizer,
		params:    p,
		loc:       loc,
		logger:    logger,
	}
}

// Aggregate produces the records for g. Hourly and daily fetches are passed
// through, monthly and annual ones are resampled. Returns ErrNoData when the
// fetch holds nothing.
func (e *Engine) Aggregate(identifier string, g measure.Granularity, fetch *measure.Fetch) ([]measure.Record, error) {
	params, ok := e.params[g]
	if !ok {
		return nil, errors.Errorf("no parameters for granularity %s", g)
	}
	if fetch.Empty() {
		return nil, ErrNoData
	}

	if g.Coarse() {
		return e.Resampled(identifier, params, fetch.Values)
	}
	return e.PassThrough(identifier, fetch)
}

// PassThrough keeps the source values and their mapped codes as they are.
func (e *Engine) PassThrough(identifier string, fetch *measure.Fetch) ([]measure.Record, error) {
	if fetch.Empty() {
		return nil, ErrNoData
	}

	values := e.sanitizer.Values(fetch.Values)
	sort.SliceStable(values, func(i, j int) bool {
		return values[i].At.Before(values[j].At)
	})
	codes := AlignCodes(values, e.sanitizer.Codes(fetch.Codes))

	e.logger.WithFields(logrus.Fields{
		"identifier": identifier,
		"values":     len(values),
		"codes":      len(fetch.Codes),
	}).Debug("Pass-through")

	return Assemble(identifier, values, codes)
}

// Resampled averages samples over params.Period, suppresses periods below
// params.Threshold and derives their codes.
func (e *Engine) Resampled(identifier string, params measure.Params, samples []measure.Sample) ([]measure.Record, error) {
	if !params.Period.Valid() {
		return nil, errors.Errorf("invalid resampling period %q", params.Period)
	}

	values := e.sanitizer.Values(samples)
	if len(values) == 0 {
		return nil, ErrNoData
	}

	points := Resample(values, params.Period, params.Precision, e.loc)
	counts := Tally(values, params.Period, e.loc)
	kept, err := Suppress(points, counts, params.Threshold)
	if err != nil {
		return nil, err
	}

	suppressed := 0
	for i := range kept {
		if points[i].Value.Valid && !kept[i].Value.Valid {
			suppressed++
		}
	}
	e.logger.WithFields(logrus.Fields{
		"identifier": identifier,
		"period":     params.Period,
		"periods":    len(kept),
		"suppressed": suppressed,
	}).Debug("Resampled")

	return Assemble(identifier, kept, DeriveCodes(kept))
}
