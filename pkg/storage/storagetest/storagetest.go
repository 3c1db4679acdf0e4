// Package storagetest holds the behavior every storage.Store must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/storage"
)

// Days returns one daily record per day starting at start.
func Days(identifier string, start time.Time, values ...float64) []measure.Record {
	records := make([]measure.Record, len(values))
	for i, v := range values {
		records[i] = measure.Record{
			Identifier: identifier,
			Timestamp:  start.AddDate(0, 0, i),
			Value:      null.FloatFrom(v),
			Code:       null.IntFrom(1),
		}
	}
	return records
}

// Run exercises a store created by open. Each subtest gets a fresh store.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("AppendAndQuery", func(t *testing.T) { testAppendAndQuery(t, open(t)) })
	t.Run("NullValues", func(t *testing.T) { testNullValues(t, open(t)) })
	t.Run("CountAndDelete", func(t *testing.T) { testCountAndDelete(t, open(t)) })
	t.Run("ReplaceExisting", func(t *testing.T) { testReplaceExisting(t, open(t)) })
	t.Run("ReplaceIdempotent", func(t *testing.T) { testReplaceIdempotent(t, open(t)) })
	t.Run("TablesAreSeparate", func(t *testing.T) { testTablesAreSeparate(t, open(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, open(t)) })
}

var jan1 = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

func testAppendAndQuery(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Append(ctx, storage.DailyTable, Days("NO2BAL", jan1, 1, 2, 3)))
	require.NoError(t, s.Append(ctx, storage.DailyTable, Days("O3_BAL", jan1, 4)))

	all, err := s.Query(ctx, storage.DailyTable, storage.QueryRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	got, err := s.Query(ctx, storage.DailyTable, storage.QueryRequest{
		Identifier: "NO2BAL",
		Start:      jan1.AddDate(0, 0, 1),
		End:        jan1.AddDate(0, 0, 2),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "NO2BAL", got[0].Identifier)
	assert.True(t, got[0].Timestamp.Equal(jan1.AddDate(0, 0, 1)))
	assert.Equal(t, null.FloatFrom(2), got[0].Value)
	assert.Equal(t, null.IntFrom(1), got[0].Code)

	limited, err := s.Query(ctx, storage.DailyTable, storage.QueryRequest{Identifier: "NO2BAL", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testNullValues(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	rec := measure.Record{Identifier: "CO_HAL", Timestamp: jan1, Code: null.IntFrom(0)}
	require.NoError(t, s.Append(ctx, storage.MonthlyTable, []measure.Record{rec}))

	got, err := s.Query(ctx, storage.MonthlyTable, storage.QueryRequest{Identifier: "CO_HAL"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Value.Valid)
	assert.Equal(t, null.IntFrom(0), got[0].Code)
}

func testCountAndDelete(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	records := Days("NO2BAL", jan1, 1, 2, 3, 4)
	require.NoError(t, s.Append(ctx, storage.DailyTable, records))
	require.NoError(t, s.Append(ctx, storage.DailyTable, Days("O3_BAL", jan1, 9)))

	p := storage.PredicateFor("NO2BAL", records[:2])
	n, err := s.Count(ctx, storage.DailyTable, p)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(ctx, storage.DailyTable, storage.Predicate{Identifier: "NO2BAL"})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "empty predicate matches nothing")

	deleted, err := s.Delete(ctx, storage.DailyTable, p)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	left, err := s.Query(ctx, storage.DailyTable, storage.QueryRequest{})
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

// testReplaceExisting: three rows already stored for NO2BAL in the window,
// a re-run computes five. Exactly the five must remain.
func testReplaceExisting(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, storage.DailyTable, Days("NO2BAL", jan1, 7, 7, 7)))
	require.NoError(t, s.Append(ctx, storage.DailyTable, Days("NO2BAL", jan1.AddDate(0, 1, 0), 8)))

	fresh := Days("NO2BAL", jan1, 1, 2, 3, 4, 5)
	deleted, err := s.Replace(ctx, storage.DailyTable, storage.PredicateFor("NO2BAL", fresh), fresh)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	got, err := s.Query(ctx, storage.DailyTable, storage.QueryRequest{
		Identifier: "NO2BAL",
		Start:      jan1,
		End:        jan1.AddDate(0, 0, 4),
	})
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, r := range got {
		assert.Equal(t, null.FloatFrom(float64(i+1)), r.Value)
	}

	outside, err := s.Query(ctx, storage.DailyTable, storage.QueryRequest{Identifier: "NO2BAL", Start: jan1.AddDate(0, 1, 0)})
	require.NoError(t, err)
	assert.Len(t, outside, 1, "rows outside the window are kept")
}

func testReplaceIdempotent(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	records := Days("O3_BAL", jan1, 10, 11, 12)
	p := storage.PredicateFor("O3_BAL", records)

	deleted, err := s.Replace(ctx, storage.HourlyTable, p, records)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	first, err := s.Query(ctx, storage.HourlyTable, storage.QueryRequest{Identifier: "O3_BAL"})
	require.NoError(t, err)

	deleted, err = s.Replace(ctx, storage.HourlyTable, p, records)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	second, err := s.Query(ctx, storage.HourlyTable, storage.QueryRequest{Identifier: "O3_BAL"})
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Timestamp.Equal(second[i].Timestamp))
		assert.Equal(t, first[i].Value, second[i].Value)
	}
}

func testTablesAreSeparate(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, storage.AnnualTable, Days("NO2BAL", jan1, 1)))

	n, err := s.Count(ctx, storage.MonthlyTable, storage.PredicateFor("NO2BAL", Days("NO2BAL", jan1, 1)))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testStats(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, storage.DailyTable, Days("NO2BAL", jan1, 1, 2)))
	require.NoError(t, s.Append(ctx, storage.DailyTable, Days("O3_BAL", jan1, 3)))

	stats, err := s.Stats(ctx, storage.DailyTable)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.Records)
	assert.Equal(t, uint64(2), stats.Identifiers)
}
