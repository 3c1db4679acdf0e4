package sqlstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/guregu/null/v6"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/storage"
	"github.com/airbreizh/didon/pkg/storage/storagetest"
)

func TestSQLiteStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		logger, _ := test.NewNullLogger()
		store, err := Open(Config{Driver: "sqlite3", DSN: ":memory:"}, logger)
		require.NoError(t, err)
		require.NoError(t, store.EnsureSchema(context.Background()))
		return store
	})
}

func TestSQLiteStore_EnsureSchemaTwice(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store, err := Open(Config{Driver: "sqlite3", DSN: ":memory:"}, logger)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx))
}

func TestSQLiteStore_LocalWallClock(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	store, err := Open(Config{Driver: "sqlite3", DSN: ":memory:", Location: paris}, logger)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))

	feb := time.Date(2017, time.February, 1, 0, 0, 0, 0, paris)
	p := storage.Predicate{Identifier: "NO2BAL", Timestamps: []time.Time{feb}}
	records := []measure.Record{{Identifier: "NO2BAL", Timestamp: feb, Value: null.FloatFrom(21), Code: null.IntFrom(1)}}

	_, err = store.Replace(ctx, storage.MonthlyTable, p, records)
	require.NoError(t, err)

	var stored time.Time
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT date_mesure FROM mesure_mensuelle").Scan(&stored))
	assert.Equal(t, "2017-02-01 00:00:00", stored.UTC().Format("2006-01-02 15:04:05"), "month start as local wall clock")

	got, err := store.Query(ctx, storage.MonthlyTable, storage.QueryRequest{Identifier: "NO2BAL", Start: feb, End: feb})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(feb), "got %s", got[0].Timestamp)
	assert.Equal(t, paris, got[0].Timestamp.Location())

	deleted, err := store.Replace(ctx, storage.MonthlyTable, p, records)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	// A row written by another tool in local time is matched too
	march := time.Date(2017, time.March, 1, 0, 0, 0, 0, time.UTC)
	_, err = store.db.ExecContext(ctx, "INSERT INTO mesure_mensuelle (nom_mes_court, date_mesure, valeur_mesure, code_validation) VALUES (?, ?, ?, ?)",
		"NO2BAL", march, 19.0, 1)
	require.NoError(t, err)

	n, err := store.Count(ctx, storage.MonthlyTable, storage.Predicate{
		Identifier: "NO2BAL",
		Timestamps: []time.Time{time.Date(2017, time.March, 1, 0, 0, 0, 0, paris)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpen_UnknownDriver(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := Open(Config{Driver: "oracle", DSN: "x"}, logger)
	assert.Error(t, err)
}

func newMockStore(t *testing.T, chunkSize int) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err, "Failed to create sqlmock")

	logger, _ := test.NewNullLogger()
	store, err := New(db, Config{Driver: "postgres", Schema: "mesure", ChunkSize: chunkSize}, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet(), "SQL mock expectations not met")
		db.Close()
	})
	return store, mock
}

var jan1 = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

func TestStore_ReplaceCommits(t *testing.T) {
	store, mock := newMockStore(t, 0)
	records := storagetest.Days("NO2BAL", jan1, 1, 2)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM mesure.mesure_quotidienne WHERE nom_mes_court = $1 AND date_mesure IN ($2, $3)").
		WithArgs("NO2BAL", jan1, jan1.AddDate(0, 0, 1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	insert := "INSERT INTO mesure.mesure_quotidienne (nom_mes_court, date_mesure, valeur_mesure, code_validation) VALUES ($1, $2, $3, $4)"
	mock.ExpectExec(insert).WithArgs("NO2BAL", jan1, 1.0, int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).WithArgs("NO2BAL", jan1.AddDate(0, 0, 1), 2.0, int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deleted, err := store.Replace(context.Background(), storage.DailyTable, storage.PredicateFor("NO2BAL", records), records)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestStore_ReplaceRollsBack(t *testing.T) {
	store, mock := newMockStore(t, 0)
	records := storagetest.Days("NO2BAL", jan1, 1)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM mesure.mesure_quotidienne WHERE nom_mes_court = $1 AND date_mesure IN ($2)").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO mesure.mesure_quotidienne (nom_mes_court, date_mesure, valeur_mesure, code_validation) VALUES ($1, $2, $3, $4)").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	deleted, err := store.Replace(context.Background(), storage.DailyTable, storage.PredicateFor("NO2BAL", records), records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 0, deleted)
}

func TestStore_DeleteChunks(t *testing.T) {
	store, mock := newMockStore(t, 2)
	records := storagetest.Days("O3_BAL", jan1, 1, 2, 3, 4, 5)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM mesure.mesure_horaire WHERE nom_mes_court = $1 AND date_mesure IN ($2, $3)").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM mesure.mesure_horaire WHERE nom_mes_court = $1 AND date_mesure IN ($2, $3)").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM mesure.mesure_horaire WHERE nom_mes_court = $1 AND date_mesure IN ($2)").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deleted, err := store.Delete(context.Background(), storage.HourlyTable, storage.PredicateFor("O3_BAL", records))
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
}

func TestStore_Count(t *testing.T) {
	store, mock := newMockStore(t, 0)
	records := storagetest.Days("NO2BAL", jan1, 1, 2)
	// Duplicate timestamps are bound once
	p := storage.PredicateFor("NO2BAL", append(records, records[0]))

	mock.ExpectQuery("SELECT COUNT(*) FROM mesure.mesure_annuelle WHERE nom_mes_court = $1 AND date_mesure IN ($2, $3)").
		WithArgs("NO2BAL", jan1, jan1.AddDate(0, 0, 1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := store.Count(context.Background(), storage.AnnualTable, p)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// No statement for an empty predicate
	n, err = store.Count(context.Background(), storage.AnnualTable, storage.Predicate{Identifier: "NO2BAL"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_Query(t *testing.T) {
	store, mock := newMockStore(t, 0)
	end := jan1.AddDate(0, 0, 1)

	mock.ExpectQuery("SELECT nom_mes_court, date_mesure, valeur_mesure, code_validation FROM mesure.mesure_quotidienne WHERE nom_mes_court = $1 AND date_mesure >= $2 AND date_mesure <= $3 ORDER BY nom_mes_court, date_mesure LIMIT 10").
		WithArgs("NO2BAL", jan1, end).
		WillReturnRows(sqlmock.NewRows([]string{"nom_mes_court", "date_mesure", "valeur_mesure", "code_validation"}).
			AddRow("NO2BAL", jan1, 12.5, int64(1)).
			AddRow("NO2BAL", end, nil, int64(0)))

	got, err := store.Query(context.Background(), storage.DailyTable, storage.QueryRequest{
		Identifier: "NO2BAL",
		Start:      jan1,
		End:        end,
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 12.5, got[0].Value.Float64)
	assert.False(t, got[1].Value.Valid)
	assert.Equal(t, int64(0), got[1].Code.Int64)
	assert.True(t, got[1].Code.Valid)
}

func TestStore_Stats(t *testing.T) {
	store, mock := newMockStore(t, 0)

	mock.ExpectQuery("SELECT COUNT(*), COUNT(DISTINCT nom_mes_court) FROM mesure.mesure_mensuelle").
		WillReturnRows(sqlmock.NewRows([]string{"count", "count"}).AddRow(120, 41))

	stats, err := store.Stats(context.Background(), storage.MonthlyTable)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), stats.Records)
	assert.Equal(t, uint64(41), stats.Identifiers)
}

func TestStore_TransactionPanics(t *testing.T) {
	store, mock := newMockStore(t, 0)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		store.Transaction(context.Background(), func(tx *sql.Tx) error {
			panic("boom")
		})
	})
}

func TestDialect(t *testing.T) {
	pg, err := dialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "$2, $3, $4", pg.placeholders(2, 3))
	assert.Equal(t, "mesure.mesure_horaire", pg.table(storage.HourlyTable, "mesure"))

	lite, err := dialectFor("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, "?, ?", lite.placeholders(1, 2))
	assert.Equal(t, "mesure_horaire", lite.table(storage.HourlyTable, "mesure"))

	_, err = dialectFor("mysql")
	assert.Error(t, err)
}
