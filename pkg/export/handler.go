package export

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/pkg/errors"
	"github.com/relvacode/iso8601"
	"github.com/sirupsen/logrus"

	"github.com/airbreizh/didon/pkg/httpx"
	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/storage"
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter   *Exporter
	importer   *Importer
	maxRecords int
	logger     logrus.FieldLogger
}

// NewHandler creates a new export/import handler. maxRecords caps every
// export (0 = no cap).
func NewHandler(store storage.Store, maxRecords int, logger logrus.FieldLogger) *Handler {
	return &Handler{
		exporter:   NewExporter(store),
		importer:   NewImporter(store),
		maxRecords: maxRecords,
		logger:     logger,
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - granularity: A, M, D or H (required)
//   - identifier: identifier filter (optional)
//   - start, end: date or ISO-8601 timestamp (optional, inclusive)
//   - format: "csv" or "json" (default: csv)
//   - limit: maximum number of records (optional)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	g, err := measure.ParseGranularity(query.Get("granularity"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	table, err := storage.TableFor(g)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	format := query.Get("format")
	if format == "" {
		format = FormatCSV
	}
	if format != FormatJSON && format != FormatCSV {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}

	start, err := ParseTime(query.Get("start"), false)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	end, err := ParseTime(query.Get("end"), true)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}

	limit := h.maxRecords
	if l := query.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > 0 && (limit == 0 || n < limit) {
			limit = n
		}
	}

	opts := Options{
		Table:      table,
		Identifier: query.Get("identifier"),
		Start:      start,
		End:        end,
		Limit:      limit,
		Format:     format,
	}

	timestamp := time.Now().Format("20060102-150405")
	if format == FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=didon-%s-%s.%s", table.Name, timestamp, format))

	result, err := h.exporter.Export(r.Context(), w, opts)
	if err != nil {
		h.logger.WithError(err).Error("Export failed")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"table":   result.Table,
		"records": result.RecordsExported,
		"format":  format,
		"range":   result.TimeRange,
	}).Info("Exported records")
}

// HandleImport handles POST /v1/import
// Accepts a JSON export and restores its records
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != "application/json" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	result, err := h.importer.ImportFromJSON(r.Context(), r.Body)
	if err != nil {
		h.logger.WithError(err).Error("Import failed")
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if len(result.Errors) > 0 {
		h.logger.WithField("errors", len(result.Errors)).Warn("Import completed with validation errors")
	}
	h.logger.WithFields(logrus.Fields{
		"table":    result.Table,
		"records":  result.RecordsImported,
		"replaced": result.RecordsReplaced,
	}).Info("Imported records")

	httpx.RespondJSON(w, http.StatusOK, result)
}

// ParseTime parses a YYYY-MM-DD date or an ISO-8601 timestamp. A bare date used
// as an upper bound covers the whole day. "" is the zero time.
func ParseTime(param string, upper bool) (time.Time, error) {
	if param == "" {
		return time.Time{}, nil
	}

	if d, err := civil.ParseDate(param); err == nil {
		if upper {
			return d.AddDays(1).In(time.UTC).Add(-time.Nanosecond), nil
		}
		return d.In(time.UTC), nil
	}

	t, err := iso8601.ParseString(param)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid time %q", param)
	}
	return t, nil
}
