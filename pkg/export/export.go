package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/storage"
)

// Supported formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Exporter handles exporting stored records to various formats
type Exporter struct {
	store storage.Store
}

// NewExporter creates a new exporter
func NewExporter(store storage.Store) *Exporter {
	return &Exporter{store: store}
}

// Options configures the export operation
type Options struct {
	Table storage.Table

	// Filter by identifier ("" = every identifier)
	Identifier string

	// Time range, inclusive. Zero values are unbounded.
	Start time.Time
	End   time.Time

	// Limit number of records (0 = no limit)
	Limit int

	// Format: "json" or "csv"
	Format string
}

// Result contains stats about the export
type Result struct {
	RecordsExported int       `json:"records_exported"`
	Table           string    `json:"table"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Metadata heads every JSON export
type Metadata struct {
	ExportedAt  time.Time           `json:"exported_at"`
	Table       string              `json:"table"`
	Granularity measure.Granularity `json:"granularity"`
	Identifier  string              `json:"identifier,omitempty"`
	StartTime   time.Time           `json:"start_time"`
	EndTime     time.Time           `json:"end_time"`
	RecordCount int                 `json:"record_count"`
	Format      string              `json:"format"`
	Version     string              `json:"version"`
}

// Data is the JSON export document, also accepted by the importer
type Data struct {
	Metadata Metadata         `json:"metadata"`
	Records  []measure.Record `json:"records"`
}

// Export writes records in opts.Format
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	switch opts.Format {
	case FormatJSON:
		return e.ExportToJSON(ctx, w, opts)
	case FormatCSV, "":
		return e.ExportToCSV(ctx, w, opts)
	}
	return nil, errors.Errorf("unknown export format %q (want json or csv)", opts.Format)
}

// ExportToJSON exports records as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	records, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	data := Data{
		Metadata: Metadata{
			ExportedAt:  time.Now(),
			Table:       opts.Table.Name,
			Granularity: opts.Table.Granularity,
			Identifier:  opts.Identifier,
			StartTime:   opts.Start,
			EndTime:     opts.End,
			RecordCount: len(records),
			Format:      FormatJSON,
			Version:     "1.0",
		},
		Records: records,
	}
	if data.Records == nil {
		data.Records = []measure.Record{}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return nil, errors.Wrap(err, "failed to encode JSON")
	}

	return e.result(opts, len(records), FormatJSON, data.Metadata.ExportedAt), nil
}

// ExportToCSV exports records as CSV with the destination column names
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	records, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)

	header := []string{storage.ColumnIdentifier, storage.ColumnTimestamp, storage.ColumnValue, storage.ColumnCode}
	if err := writer.Write(header); err != nil {
		return nil, errors.Wrap(err, "failed to write CSV header")
	}

	for _, r := range records {
		row := []string{
			r.Identifier,
			r.Timestamp.Format(time.RFC3339),
			"",
			"",
		}
		// Missing values and codes are left empty
		if r.Value.Valid {
			row[2] = strconv.FormatFloat(r.Value.Float64, 'f', -1, 64)
		}
		if r.Code.Valid {
			row[3] = strconv.FormatInt(r.Code.Int64, 10)
		}

		if err := writer.Write(row); err != nil {
			return nil, errors.Wrap(err, "failed to write CSV row")
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to flush CSV")
	}

	return e.result(opts, len(records), FormatCSV, time.Now()), nil
}

func (e *Exporter) query(ctx context.Context, opts Options) ([]measure.Record, error) {
	records, err := e.store.Query(ctx, opts.Table, storage.QueryRequest{
		Identifier: opts.Identifier,
		Start:      opts.Start,
		End:        opts.End,
		Limit:      opts.Limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", opts.Table)
	}
	return records, nil
}

func (e *Exporter) result(opts Options, n int, format string, at time.Time) *Result {
	return &Result{
		RecordsExported: n,
		Table:           opts.Table.Name,
		TimeRange:       fmt.Sprintf("%s to %s", formatBound(opts.Start), formatBound(opts.End)),
		Format:          format,
		ExportedAt:      at,
	}
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return t.Format(time.RFC3339)
}
