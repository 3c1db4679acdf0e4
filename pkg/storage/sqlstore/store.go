// Package sqlstore stores measurement records in a SQL database.
// PostgreSQL is the production destination; sqlite3 and duckdb serve local runs.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/storage"
)

// DefaultChunkSize bounds the number of timestamps bound in one IN list
const DefaultChunkSize = 500

// Config holds the SQL store configuration
type Config struct {
	Driver string // postgres, sqlite3 or duckdb
	DSN    string
	Schema string

	// ChunkSize bounds IN lists (0 = DefaultChunkSize)
	ChunkSize int

	// Location is the zone of the wall clock stored in date_mesure (nil = UTC)
	Location *time.Location
}

// Store implements storage.Store on top of database/sql
type Store struct {
	db        *sql.DB
	dialect   dialect
	schema    string
	chunkSize int
	loc       *time.Location
	logger    logrus.FieldLogger
}

var _ storage.Store = (*Store)(nil)

// Open connects to the database described by cfg
func Open(cfg Config, logger logrus.FieldLogger) (*Store, error) {
	if _, err := dialectFor(cfg.Driver); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", cfg.Driver)
	}

	if cfg.Driver == "sqlite3" {
		// SQLite single-writer limitation, and one shared :memory: database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	return New(db, cfg, logger)
}

// New wraps an open database handle
func New(db *sql.DB, cfg Config, logger logrus.FieldLogger) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Store{
		db:        db,
		dialect:   d,
		schema:    cfg.Schema,
		chunkSize: chunkSize,
		loc:       loc,
		logger:    logger.WithField("driver", cfg.Driver),
	}, nil
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrapf(err, "failed to reach %s database", s.dialect.driver)
	}
	return nil
}

// Transaction runs fn in a transaction. The transaction is rolled back when
// fn fails or panics, committed otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Error("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// Query retrieves records of table ordered by identifier then timestamp
func (s *Store) Query(ctx context.Context, table storage.Table, req storage.QueryRequest) ([]measure.Record, error) {
	var (
		where []string
		args  []interface{}
	)
	if req.Identifier != "" {
		args = append(args, req.Identifier)
		where = append(where, fmt.Sprintf("%s = %s", storage.ColumnIdentifier, s.dialect.placeholder(len(args))))
	}
	if !req.Start.IsZero() {
		args = append(args, s.wall(req.Start))
		where = append(where, fmt.Sprintf("%s >= %s", storage.ColumnTimestamp, s.dialect.placeholder(len(args))))
	}
	if !req.End.IsZero() {
		args = append(args, s.wall(req.End))
		where = append(where, fmt.Sprintf("%s <= %s", storage.ColumnTimestamp, s.dialect.placeholder(len(args))))
	}

	query := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s",
		storage.ColumnIdentifier, storage.ColumnTimestamp, storage.ColumnValue, storage.ColumnCode,
		s.dialect.table(table, s.schema))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s, %s", storage.ColumnIdentifier, storage.ColumnTimestamp)
	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", req.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", table)
	}
	defer rows.Close()

	var records []measure.Record
	for rows.Next() {
		var r measure.Record
		if err := rows.Scan(&r.Identifier, &r.Timestamp, &r.Value, &r.Code); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s row", table)
		}
		r.Timestamp = s.local(r.Timestamp)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s rows", table)
	}
	return records, nil
}

// Count returns the number of rows matching p
func (s *Store) Count(ctx context.Context, table storage.Table, p storage.Predicate) (int, error) {
	var total int
	for _, chunk := range s.chunks(p) {
		query, args := s.predicateQuery("SELECT COUNT(*) FROM", table, p.Identifier, chunk)

		var n int
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return 0, errors.Wrapf(err, "failed to count %s rows", table)
		}
		total += n
	}
	return total, nil
}

// Delete removes rows matching p in one transaction
func (s *Store) Delete(ctx context.Context, table storage.Table, p storage.Predicate) (int, error) {
	return s.Replace(ctx, table, p, nil)
}

// Append inserts records in one transaction
func (s *Store) Append(ctx context.Context, table storage.Table, records []measure.Record) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		return s.insert(ctx, tx, table, records)
	})
}

// Replace deletes rows matching p and inserts records in one transaction.
// Returns the number of deleted rows.
func (s *Store) Replace(ctx context.Context, table storage.Table, p storage.Predicate, records []measure.Record) (int, error) {
	var deleted int
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, chunk := range s.chunks(p) {
			query, args := s.predicateQuery("DELETE FROM", table, p.Identifier, chunk)

			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return errors.Wrapf(err, "failed to delete %s rows", table)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return errors.Wrap(err, "failed to read deleted rows")
			}
			deleted += int(n)
		}
		return s.insert(ctx, tx, table, records)
	})
	if err != nil {
		return 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"table":      table.Name,
		"identifier": p.Identifier,
		"deleted":    deleted,
		"inserted":   len(records),
	}).Debug("Replaced rows")
	return deleted, nil
}

// Stats counts the rows and distinct identifiers of table
func (s *Store) Stats(ctx context.Context, table storage.Table) (*storage.Stats, error) {
	query := fmt.Sprintf("SELECT COUNT(*), COUNT(DISTINCT %s) FROM %s",
		storage.ColumnIdentifier, s.dialect.table(table, s.schema))

	stats := &storage.Stats{}
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.Records, &stats.Identifiers); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s stats", table)
	}
	return stats, nil
}

// Close closes the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, table storage.Table, records []measure.Record) error {
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s) VALUES (%s)",
		s.dialect.table(table, s.schema),
		storage.ColumnIdentifier, storage.ColumnTimestamp, storage.ColumnValue, storage.ColumnCode,
		s.dialect.placeholders(1, 4))

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, query, r.Identifier, s.wall(r.Timestamp), r.Value, r.Code); err != nil {
			return errors.Wrapf(err, "failed to insert %s row for %s", table, r.Identifier)
		}
	}
	return nil
}

// wall returns the wall clock of t in the store location, labelled UTC.
// date_mesure has no zone, so it holds local time.
func (s *Store) wall(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// local reads a stored wall clock back in the store location
func (s *Store) local(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), s.loc)
}

// predicateQuery builds "<verb> table WHERE identifier = ? AND timestamp IN (...)"
func (s *Store) predicateQuery(verb string, table storage.Table, identifier string, timestamps []time.Time) (string, []interface{}) {
	args := make([]interface{}, 0, len(timestamps)+1)
	args = append(args, identifier)
	for _, ts := range timestamps {
		args = append(args, s.wall(ts))
	}

	query := fmt.Sprintf("%s %s WHERE %s = %s AND %s IN (%s)",
		verb, s.dialect.table(table, s.schema),
		storage.ColumnIdentifier, s.dialect.placeholder(1),
		storage.ColumnTimestamp, s.dialect.placeholders(2, len(timestamps)))
	return query, args
}

// chunks splits the distinct timestamps of p into IN lists of at most chunkSize.
// An empty predicate yields no chunk.
func (s *Store) chunks(p storage.Predicate) [][]time.Time {
	seen := make(map[int64]bool, len(p.Timestamps))
	distinct := make([]time.Time, 0, len(p.Timestamps))
	for _, ts := range p.Timestamps {
		if seen[ts.UnixNano()] {
			continue
		}
		seen[ts.UnixNano()] = true
		distinct = append(distinct, ts)
	}

	var out [][]time.Time
	for len(distinct) > 0 {
		n := s.chunkSize
		if n > len(distinct) {
			n = len(distinct)
		}
		out = append(out, distinct[:n])
		distinct = distinct[n:]
	}
	return out
}
