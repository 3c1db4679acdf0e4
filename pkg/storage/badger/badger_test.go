package badger

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airbreizh/didon/pkg/storage"
	"github.com/airbreizh/didon/pkg/storage/storagetest"
)

func TestBadgerStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		// Use in-memory mode for tests
		store, err := New(Config{InMemory: true})
		require.NoError(t, err)
		return store
	})
}

func TestBadgerStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	jan1 := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

	store, err := New(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, storage.HourlyTable, storagetest.Days("NO2BAL", jan1, 1, 2, 3)))
	require.NoError(t, store.Close())
	assert.Error(t, store.Ping(ctx))

	reopened, err := New(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Query(ctx, storage.HourlyTable, storage.QueryRequest{Identifier: "NO2BAL"})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestBadgerStore_QueryStopsAtEnd(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	jan1 := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, storage.DailyTable, storagetest.Days("P25E_STG", jan1, 1, 2, 3, 4, 5, 6)))

	got, err := store.Query(ctx, storage.DailyTable, storage.QueryRequest{
		Identifier: "P25E_STG",
		Start:      jan1.AddDate(0, 0, 2),
		End:        jan1.AddDate(0, 0, 3),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.Equal(jan1.AddDate(0, 0, 2)))
	assert.True(t, got[1].Timestamp.Equal(jan1.AddDate(0, 0, 3)))
}

func TestBadgerStore_Cancelled(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records := storagetest.Days("NO2BAL", time.Now(), 1)
	_, err = store.Replace(ctx, storage.DailyTable, storage.PredicateFor("NO2BAL", records), records)
	assert.Error(t, err)
}

// cancelAfter is a context reporting Canceled once Err has been called n times
type cancelAfter struct {
	context.Context
	n int
}

func (c *cancelAfter) Err() error {
	if c.n <= 0 {
		return context.Canceled
	}
	c.n--
	return nil
}

func TestBadgerStore_CancelledMidReplace(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	start := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	previous := storagetest.Days("NO2BAL", start, 1, 2, 3)
	_, err = store.Replace(context.Background(), storage.DailyTable, storage.PredicateFor("NO2BAL", previous), previous)
	require.NoError(t, err)

	// Cancelled while writing the third hundred records
	ctx := &cancelAfter{Context: context.Background(), n: 4}
	values := make([]float64, 250)
	for i := range values {
		values[i] = float64(i)
	}
	records := storagetest.Days("NO2BAL", start, values...)
	_, err = store.Replace(ctx, storage.DailyTable, storage.PredicateFor("NO2BAL", records), records)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	got, err := store.Query(context.Background(), storage.DailyTable, storage.QueryRequest{Identifier: "NO2BAL"})
	require.NoError(t, err)
	assert.Equal(t, previous, got, "nothing of the cancelled replace is committed")
}

func TestMakeKey(t *testing.T) {
	ts := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

	a := makeKey(storage.DailyTable, "NO2BAL", ts.UnixNano())
	b := makeKey(storage.DailyTable, "NO2BAL", ts.Add(time.Hour).UnixNano())
	c := makeKey(storage.HourlyTable, "NO2BAL", ts.UnixNano())

	assert.Len(t, a, 17)
	assert.Equal(t, storage.DailyTable.ID, a[0])
	assert.Equal(t, a[:9], b[:9], "same series shares a prefix")
	assert.Equal(t, seriesPrefix(storage.DailyTable, "NO2BAL"), a[:9])
	assert.NotEqual(t, a[:9], c[:9])
	assert.Less(t, string(a), string(b), "keys sort by timestamp")
}

func TestBadgerStore_RunGC(t *testing.T) {
	store, err := New(Config{Path: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	// Nothing to reclaim on a fresh database
	assert.Error(t, store.RunGC(0.5))
}
