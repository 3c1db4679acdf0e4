package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/guregu/null/v6"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airbreizh/didon/pkg/aggregation"
	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/source"
	"github.com/airbreizh/didon/pkg/storage"
	"github.com/airbreizh/didon/pkg/storage/memory"
)

type fakeSource struct {
	mu       sync.Mutex
	fetches  map[string]*measure.Fetch
	errs     map[string]error
	requests []source.Request
}

func newFakeSource() *fakeSource {
	return &fakeSource{fetches: map[string]*measure.Fetch{}, errs: map[string]error{}}
}

func (f *fakeSource) Ping(ctx context.Context) error { return nil }
func (f *fakeSource) Close() error                   { return nil }

func (f *fakeSource) Fetch(ctx context.Context, req source.Request) (*measure.Fetch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.errs[req.Identifier]; err != nil {
		return nil, err
	}
	if fetch, ok := f.fetches[req.Identifier]; ok {
		return fetch, nil
	}
	return &measure.Fetch{}, nil
}

// failingCount makes Count fail for every call
type failingCount struct {
	storage.Store
}

func (f failingCount) Count(ctx context.Context, table storage.Table, p storage.Predicate) (int, error) {
	return 0, errors.New("relation does not exist")
}

type recorder struct {
	mu       sync.Mutex
	started  int
	done     []Result
	finished []Summary
}

func (r *recorder) RunStarted(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recorder) IdentifierDone(runID string, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, res)
}

func (r *recorder) RunFinished(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
}

var (
	jan1   = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	window = measure.Window{Start: civil.Date{Year: 2017, Month: 1, Day: 1}, End: civil.Date{Year: 2017, Month: 1, Day: 2}}
)

// hours returns one hourly reading per code starting at jan1, valued 10, 11, ...
func hours(codes ...string) *measure.Fetch {
	f := &measure.Fetch{}
	for i, code := range codes {
		at := jan1.Add(time.Duration(i) * time.Hour)
		f.Values = append(f.Values, measure.Sample{At: at, Value: null.FloatFrom(float64(10 + i))})
		f.Codes = append(f.Codes, measure.CodeSample{At: at, Code: code})
	}
	return f
}

func newTestCoordinator(t *testing.T, src source.Source, store storage.Store, observers ...Observer) (*Coordinator, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	sanitizer := aggregation.NewSanitizer(map[float64]null.Float{100001: {}}, map[string]string{
		"Z": "0", "C": "0", "D": "0", "M": "0", "I": "0", "N": "0",
		"A": "1", "O": "1", "R": "1", "P": "1", "W": "1",
	})
	engine := aggregation.NewEngine(sanitizer, map[measure.Granularity]measure.Params{
		measure.Annual:  {Period: measure.YearStart, Threshold: 85, Precision: 0},
		measure.Monthly: {Period: measure.MonthStart, Threshold: 85, Precision: 0},
		measure.Daily:   {Period: measure.Day, Threshold: 75, Precision: 1},
		measure.Hourly:  {Period: measure.Hour, Threshold: 75, Precision: 1},
	}, time.UTC, logger)

	return New(src, engine, store, logger, observers...), hook
}

func hourlyRows(t *testing.T, store storage.Store, id string) []measure.Record {
	rows, err := store.Query(context.Background(), storage.HourlyTable, storage.QueryRequest{Identifier: id})
	require.NoError(t, err)
	return rows
}

func TestCoordinator_Run(t *testing.T) {
	src := newFakeSource()
	src.fetches["O3_BAL"] = hours("A", "A", "I")
	src.fetches["CO_HAL"] = hours("A", "?") // unknown code is dropped
	src.errs["NO2_STB"] = errors.New("connection refused")

	store := memory.New()
	rec := &recorder{}
	c, hook := newTestCoordinator(t, src, store, rec)

	summary, err := c.Run(context.Background(), Options{
		Granularity:   measure.Hourly,
		Window:        window,
		Identifiers:   []string{"O3_BAL", "EMPTY", "NO2_STB", "CO_HAL"},
		InsertEnabled: true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, "mesure_horaire", summary.Table)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, []string{"O3_BAL", "CO_HAL"}, summary.Processed)
	assert.Equal(t, []string{"EMPTY"}, summary.NotProcessed)
	assert.Equal(t, []string{"NO2_STB"}, summary.Failed)

	failed := summary.Results[2]
	assert.Equal(t, Failed, failed.Outcome)
	assert.Equal(t, StageFetch, failed.Stage)
	assert.Contains(t, failed.Error, "connection refused")

	o3 := hourlyRows(t, store, "O3_BAL")
	require.Len(t, o3, 3)
	assert.Equal(t, null.IntFrom(1), o3[0].Code)
	assert.Equal(t, null.IntFrom(0), o3[2].Code)
	assert.Equal(t, null.FloatFrom(12), o3[2].Value, "pass-through keeps invalidated values")

	co := hourlyRows(t, store, "CO_HAL")
	require.Len(t, co, 1)
	assert.Equal(t, 1, summary.Results[3].Dropped)

	// Raw hourly data is requested for the whole window
	require.Len(t, src.requests, 4)
	assert.Equal(t, measure.Hourly, src.requests[0].Granularity)
	assert.Equal(t, window, src.requests[0].Window)

	assert.Equal(t, 1, rec.started)
	assert.Len(t, rec.done, 4)
	require.Len(t, rec.finished, 1)
	assert.Equal(t, summary.RunID, rec.finished[0].RunID)

	var stageLogged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["stage"] == StageFetch && e.Data["identifier"] == "NO2_STB" {
			stageLogged = true
		}
	}
	assert.True(t, stageLogged, "failure is logged with identifier and stage")
}

// TestCoordinator_ReplacesExisting: NO2BAL already has three rows in the
// window and the source now returns five hours. Exactly the five remain.
func TestCoordinator_ReplacesExisting(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var stale []measure.Record
	for i := 0; i < 3; i++ {
		stale = append(stale, measure.Record{
			Identifier: "NO2BAL",
			Timestamp:  jan1.Add(time.Duration(i) * time.Hour),
			Value:      null.FloatFrom(99),
			Code:       null.IntFrom(1),
		})
	}
	require.NoError(t, store.Append(ctx, storage.HourlyTable, stale))

	src := newFakeSource()
	src.fetches["NO2BAL"] = hours("A", "A", "A", "A", "A")
	c, _ := newTestCoordinator(t, src, store)

	summary, err := c.Run(ctx, Options{
		Granularity:   measure.Hourly,
		Window:        window,
		Identifiers:   []string{"NO2BAL"},
		InsertEnabled: true,
	})
	require.NoError(t, err)

	r := summary.Results[0]
	assert.Equal(t, 3, r.Existing)
	assert.Equal(t, 3, r.Deleted)
	assert.Equal(t, 5, r.Inserted)

	rows := hourlyRows(t, store, "NO2BAL")
	require.Len(t, rows, 5)
	for i, row := range rows {
		assert.Equal(t, null.FloatFrom(float64(10+i)), row.Value)
	}
}

func TestCoordinator_Idempotent(t *testing.T) {
	store := memory.New()
	src := newFakeSource()
	src.fetches["O3_BAL"] = hours("A", "W", "N", "A")
	c, _ := newTestCoordinator(t, src, store)

	opts := Options{
		Granularity:   measure.Hourly,
		Window:        window,
		Identifiers:   []string{"O3_BAL"},
		InsertEnabled: true,
	}

	_, err := c.Run(context.Background(), opts)
	require.NoError(t, err)
	first := hourlyRows(t, store, "O3_BAL")

	summary, err := c.Run(context.Background(), opts)
	require.NoError(t, err)
	second := hourlyRows(t, store, "O3_BAL")

	assert.Equal(t, first, second)
	assert.Equal(t, 4, summary.Results[0].Existing)
	assert.Equal(t, 4, summary.Results[0].Deleted)
}

func TestCoordinator_DryRun(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	existing := []measure.Record{{Identifier: "O3_BAL", Timestamp: jan1, Value: null.FloatFrom(99), Code: null.IntFrom(1)}}
	require.NoError(t, store.Append(ctx, storage.HourlyTable, existing))

	src := newFakeSource()
	src.fetches["O3_BAL"] = hours("A", "A")
	c, _ := newTestCoordinator(t, src, store)

	summary, err := c.Run(ctx, Options{
		Granularity: measure.Hourly,
		Window:      window,
		Identifiers: []string{"O3_BAL"},
	})
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, []string{"O3_BAL"}, summary.Processed)
	assert.Equal(t, 1, summary.Results[0].Existing)
	assert.Equal(t, 0, summary.Results[0].Inserted)
	assert.Equal(t, existing, hourlyRows(t, store, "O3_BAL"), "dry run writes nothing")
}

func TestCoordinator_CountFailure(t *testing.T) {
	src := newFakeSource()
	src.fetches["O3_BAL"] = hours("A")
	c, _ := newTestCoordinator(t, src, failingCount{memory.New()})

	summary, err := c.Run(context.Background(), Options{
		Granularity:   measure.Hourly,
		Window:        window,
		Identifiers:   []string{"O3_BAL"},
		InsertEnabled: true,
	})
	require.NoError(t, err)
	assert.Empty(t, summary.Processed)
	assert.Empty(t, summary.NotProcessed)
	assert.Equal(t, StageCountExisting, summary.Results[0].Stage)
}

func TestCoordinator_Coarse(t *testing.T) {
	// Every hour of January present: one representative monthly mean
	f := &measure.Fetch{}
	for h := 0; h < 31*24; h++ {
		f.Values = append(f.Values, measure.Sample{At: jan1.Add(time.Duration(h) * time.Hour), Value: null.FloatFrom(20)})
	}
	src := newFakeSource()
	src.fetches["PM10_BAL"] = f

	store := memory.New()
	c, _ := newTestCoordinator(t, src, store)

	summary, err := c.Run(context.Background(), Options{
		Granularity:   measure.Monthly,
		Window:        measure.Window{Start: window.Start, End: civil.Date{Year: 2017, Month: 1, Day: 31}},
		Identifiers:   []string{"PM10_BAL"},
		InsertEnabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "mesure_mensuelle", summary.Table)
	assert.Equal(t, measure.Hourly, src.requests[0].Granularity, "coarse runs pull hourly data")

	rows, err := store.Query(context.Background(), storage.MonthlyTable, storage.QueryRequest{Identifier: "PM10_BAL"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, null.FloatFrom(20), rows[0].Value)
	assert.Equal(t, null.IntFrom(1), rows[0].Code)
}

func TestCoordinator_Workers(t *testing.T) {
	src := newFakeSource()
	var ids []string
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("ID%02d", i)
		ids = append(ids, id)
		if i%3 != 0 {
			src.fetches[id] = hours("A", "A")
		}
	}

	store := memory.New()
	c, _ := newTestCoordinator(t, src, store)

	summary, err := c.Run(context.Background(), Options{
		Granularity:   measure.Hourly,
		Window:        window,
		Identifiers:   ids,
		InsertEnabled: true,
		Workers:       4,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ID01", "ID02", "ID04", "ID05", "ID07", "ID08", "ID10", "ID11"}, summary.Processed)
	assert.Equal(t, []string{"ID00", "ID03", "ID06", "ID09"}, summary.NotProcessed)

	stats, err := store.Stats(context.Background(), storage.HourlyTable)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), stats.Records)
}

func TestCoordinator_Cancelled(t *testing.T) {
	src := newFakeSource()
	c, _ := newTestCoordinator(t, src, memory.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := c.Run(ctx, Options{
		Granularity: measure.Hourly,
		Window:      window,
		Identifiers: []string{"O3_BAL", "NO2BAL"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, src.requests)
	assert.Equal(t, Skipped, summary.Results[0].Outcome)
	assert.Empty(t, summary.Processed)
}

func TestCoordinator_UnknownGranularity(t *testing.T) {
	c, _ := newTestCoordinator(t, newFakeSource(), memory.New())
	_, err := c.Run(context.Background(), Options{Granularity: "W"})
	assert.True(t, errors.Is(err, measure.ErrUnknownGranularity))
}

func TestSummary_Report(t *testing.T) {
	s := &Summary{
		RunID:       "run-1",
		Granularity: measure.Daily,
		Table:       "mesure_quotidienne",
		Window:      window,
		Started:     jan1,
		Elapsed:     42 * time.Second,
		Total:       3,
		Results: []Result{
			{Identifier: "O3_BAL", Outcome: Processed},
			{Identifier: "NO2BAL", Outcome: NotProcessed},
			{Identifier: "CO_HAL", Outcome: Failed},
		},
	}
	s.tally()

	report := s.Report()
	assert.Contains(t, report, `Granularity "D" (table mesure_quotidienne)`)
	assert.Contains(t, report, "Start date: 2017-01-01")
	assert.Contains(t, report, "End date: 2017-01-02")
	assert.Contains(t, report, "Elapsed: 42 seconds")
	assert.Contains(t, report, "1 identifiers processed out of 3")
	assert.Contains(t, report, "Processed: [O3_BAL]")
	assert.Contains(t, report, "Not processed: [NO2BAL]")
	assert.Contains(t, report, "Failed: [CO_HAL]")
}

func TestStageError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&StageError{Identifier: "O3_BAL", Stage: StageReplace, Err: cause})

	assert.Equal(t, "O3_BAL failed at replace: boom", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, errors.Cause(err))
}
