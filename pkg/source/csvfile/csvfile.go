// Package csvfile replays XR exports stored as CSV files, one file per
// identifier named <identifier>.csv with a date,valeur,etat header.
//
// Exports are usually hourly. Daily requests get one row per day computed
// from the hourly rows, as the XR server does for freq=D.
package csvfile

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/pkg/errors"
	"github.com/relvacode/iso8601"

	"github.com/airbreizh/didon/pkg/aggregation"
	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/source"
)

// Codes given to collapsed days
const (
	codeValid   = "A"
	codeInvalid = "N"
)

// DefaultDaily is how hourly rows are collapsed when no WithDaily option is given
var DefaultDaily = measure.Params{Period: measure.Day, Threshold: 75, Precision: 1}

// Source reads <Dir>/<identifier>.csv
type Source struct {
	dir       string
	loc       *time.Location
	daily     measure.Params
	sanitizer *aggregation.Sanitizer
}

var _ source.Source = (*Source)(nil)

// Option configures a Source
type Option func(*Source)

// WithDaily sets the threshold and precision of collapsed days.
func WithDaily(p measure.Params) Option {
	return func(s *Source) {
		s.daily = p
	}
}

// WithSanitizer cleans hourly rows before they are collapsed. Rows whose
// mapped code is "0" do not count as present.
func WithSanitizer(z *aggregation.Sanitizer) Option {
	return func(s *Source) {
		s.sanitizer = z
	}
}

// New creates a CSV source rooted at dir. A nil loc means UTC.
func New(dir string, loc *time.Location, opts ...Option) *Source {
	if loc == nil {
		loc = time.UTC
	}
	s := &Source{
		dir:       dir,
		loc:       loc,
		daily:     DefaultDaily,
		sanitizer: aggregation.NewSanitizer(nil, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the directory exists
func (s *Source) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return errors.Wrap(err, "csv source")
	}
	if !info.IsDir() {
		return errors.Errorf("csv source: %s is not a directory", s.dir)
	}
	return nil
}

// Fetch reads the readings of req.Identifier falling inside req.Window.
// A missing file yields an empty fetch. Daily requests are collapsed to one
// row per day.
func (s *Source) Fetch(ctx context.Context, req source.Request) (*measure.Fetch, error) {
	if strings.ContainsAny(req.Identifier, `/\`) {
		return nil, errors.Errorf("invalid identifier %q", req.Identifier)
	}

	f, err := os.Open(filepath.Join(s.dir, req.Identifier+".csv"))
	if os.IsNotExist(err) {
		return &measure.Fetch{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", req.Identifier)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return &measure.Fetch{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s header", req.Identifier)
	}
	cols, err := columns(header)
	if err != nil {
		return nil, errors.Wrap(err, req.Identifier)
	}

	withCodes := source.WantsCodes(req.Granularity)
	fetch := &measure.Fetch{}

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", req.Identifier)
		}
		if len(row) <= cols.value || len(row) <= cols.date {
			return nil, errors.Errorf("%s line %d: %d fields", req.Identifier, line, len(row))
		}

		at, err := iso8601.ParseString(row[cols.date])
		if err != nil {
			return nil, errors.Wrapf(err, "%s line %d", req.Identifier, line)
		}
		at = at.In(s.loc)
		if !req.Window.Contains(at, s.loc) {
			continue
		}

		value, err := parseValue(row[cols.value])
		if err != nil {
			return nil, errors.Wrapf(err, "%s line %d", req.Identifier, line)
		}
		fetch.Values = append(fetch.Values, measure.Sample{At: at, Value: value})

		if withCodes {
			code := ""
			if cols.state >= 0 && cols.state < len(row) {
				code = row[cols.state]
			}
			fetch.Codes = append(fetch.Codes, measure.CodeSample{At: at, Code: code})
		}
	}

	if req.Granularity == measure.Daily {
		fetch.Values, fetch.Codes = s.collapse(fetch.Values, fetch.Codes)
	}
	return fetch, nil
}

// collapse turns hourly rows into one row per day. The day value is the mean
// of its present hours, missing with code N when too few hours are present.
// A lone row at midnight is already daily and is kept as it is.
func (s *Source) collapse(values []measure.Sample, codes []measure.CodeSample) ([]measure.Sample, []measure.CodeSample) {
	if len(values) == 0 {
		return values, codes
	}

	type day struct {
		start time.Time
		rows  []int
	}
	var days []*day
	index := make(map[int64]*day)
	for i, v := range values {
		start := measure.Day.Floor(v.At, s.loc)
		d, ok := index[start.Unix()]
		if !ok {
			d = &day{start: start}
			index[start.Unix()] = d
			days = append(days, d)
		}
		d.rows = append(d.rows, i)
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].start.Before(days[j].start)
	})

	clean := s.sanitizer.Values(values)
	mapped := s.sanitizer.Codes(codes)

	outValues := make([]measure.Sample, 0, len(days))
	outCodes := make([]measure.CodeSample, 0, len(days))
	for _, d := range days {
		if first := d.rows[0]; len(d.rows) == 1 && values[first].At.Equal(d.start) {
			outValues = append(outValues, values[first])
			outCodes = append(outCodes, codes[first])
			continue
		}

		hours := make([]measure.Sample, len(d.rows))
		for j, i := range d.rows {
			hours[j] = clean[i]
			if mapped[i].Code == "0" {
				hours[j].Value = null.Float{}
			}
		}

		value := aggregation.Resample(hours, measure.Day, s.daily.Precision, s.loc)[0].Value
		code := codeValid
		if !aggregation.Tally(hours, measure.Day, s.loc)[0].Representative(s.daily.Threshold) {
			value = null.Float{}
			code = codeInvalid
		}
		outValues = append(outValues, measure.Sample{At: d.start, Value: value})
		outCodes = append(outCodes, measure.CodeSample{At: d.start, Code: code})
	}
	return outValues, outCodes
}

// Close is a no-op
func (s *Source) Close() error {
	return nil
}

type layout struct {
	date, value, state int
}

func columns(header []string) (layout, error) {
	l := layout{date: -1, value: -1, state: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "date":
			l.date = i
		case "valeur":
			l.value = i
		case "etat":
			l.state = i
		}
	}
	if l.date < 0 || l.value < 0 {
		return l, errors.Errorf("header %v: date and valeur columns are required", header)
	}
	return l, nil
}

func parseValue(s string) (null.Float, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "null":
		return null.Float{}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}, errors.Wrapf(err, "invalid value %q", s)
	}
	return null.FloatFrom(f), nil
}
