package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/airbreizh/didon/pkg/measure"
)

// Store defines the interface for measurement storage backends.
// Implementations: memory (testing), badger (embedded), sqlstore (postgres, sqlite3, duckdb)
type Store interface {
	// Ping checks the backend is reachable
	Ping(ctx context.Context) error

	// Query retrieves records of one table
	Query(ctx context.Context, table Table, req QueryRequest) ([]measure.Record, error)

	// Count returns the number of rows matching p
	Count(ctx context.Context, table Table, p Predicate) (int, error)

	// Delete removes every row matching p in one transaction
	Delete(ctx context.Context, table Table, p Predicate) (int, error)

	// Append inserts records as new rows
	Append(ctx context.Context, table Table, records []measure.Record) error

	// Replace deletes every row matching p and appends records in one
	// transaction. Either both happen or neither does.
	Replace(ctx context.Context, table Table, p Predicate, records []measure.Record) (int, error)

	// Stats returns table statistics
	Stats(ctx context.Context, table Table) (*Stats, error)

	// Close cleanly shuts down the store
	Close() error
}

// Column names shared by the four measurement tables
const (
	ColumnIdentifier = "nom_mes_court"
	ColumnTimestamp  = "date_mesure"
	ColumnValue      = "valeur_mesure"
	ColumnCode       = "code_validation"
)

// Table is one of the four measurement tables
type Table struct {
	ID          byte
	Name        string
	Granularity measure.Granularity
}

var (
	AnnualTable  = Table{ID: 1, Name: "mesure_annuelle", Granularity: measure.Annual}
	MonthlyTable = Table{ID: 2, Name: "mesure_mensuelle", Granularity: measure.Monthly}
	DailyTable   = Table{ID: 3, Name: "mesure_quotidienne", Granularity: measure.Daily}
	HourlyTable  = Table{ID: 4, Name: "mesure_horaire", Granularity: measure.Hourly}
)

// Tables lists every measurement table
func Tables() []Table {
	return []Table{AnnualTable, MonthlyTable, DailyTable, HourlyTable}
}

// TableFor returns the table storing g.
func TableFor(g measure.Granularity) (Table, error) {
	for _, t := range Tables() {
		if t.Granularity == g {
			return t, nil
		}
	}
	return Table{}, errors.Wrapf(measure.ErrUnknownGranularity, "no table for %q", string(g))
}

// Qualified returns schema.name, or name when schema is empty.
func (t Table) Qualified(schema string) string {
	if schema == "" {
		return t.Name
	}
	return schema + "." + t.Name
}

func (t Table) String() string {
	return t.Name
}

// Predicate selects the rows of one identifier at the given timestamps.
// An empty Timestamps list matches nothing.
type Predicate struct {
	Identifier string
	Timestamps []time.Time
}

// PredicateFor selects the rows sharing identifier and timestamp with records.
func PredicateFor(identifier string, records []measure.Record) Predicate {
	p := Predicate{Identifier: identifier, Timestamps: make([]time.Time, 0, len(records))}
	for _, r := range records {
		p.Timestamps = append(p.Timestamps, r.Timestamp)
	}
	return p
}

// Matcher returns a function reporting whether a record matches p
func (p Predicate) Matcher() func(measure.Record) bool {
	set := make(map[int64]struct{}, len(p.Timestamps))
	for _, ts := range p.Timestamps {
		set[ts.UnixNano()] = struct{}{}
	}
	return func(r measure.Record) bool {
		if r.Identifier != p.Identifier {
			return false
		}
		_, ok := set[r.Timestamp.UnixNano()]
		return ok
	}
}

// QueryRequest specifies what records to retrieve
type QueryRequest struct {
	// Filter by identifier (optional)
	Identifier string

	// Time range, inclusive. Zero values are unbounded.
	Start time.Time
	End   time.Time

	// Limit number of results (0 = no limit)
	Limit int
}

// Matches reports whether r satisfies the request filters
func (q QueryRequest) Matches(r measure.Record) bool {
	if q.Identifier != "" && r.Identifier != q.Identifier {
		return false
	}
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	return true
}

// Stats provides table usage info
type Stats struct {
	// Rows stored
	Records uint64

	// Distinct identifiers
	Identifiers uint64

	// Storage size in bytes, when the backend knows it
	SizeBytes uint64
}
