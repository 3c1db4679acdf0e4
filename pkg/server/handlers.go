package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/airbreizh/didon/pkg/config"
	"github.com/airbreizh/didon/pkg/export"
	"github.com/airbreizh/didon/pkg/httpx"
	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/server/monitor"
	"github.com/airbreizh/didon/pkg/storage"
)

// Version is reported by the health check
const Version = "1.0.0"

var startTime = time.Now()

// Deps are the components served by the status API
type Deps struct {
	// Context bounds the runs triggered through the API
	Context context.Context

	Store          storage.Store
	Scheduler      *Scheduler
	Runs           *monitor.RunMonitor
	StorageMonitor *monitor.StorageMonitor
	Export         *export.Handler
	Hub            *EventHub
	Port           string
	Logger         logrus.FieldLogger
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Runs    monitor.RunStatus `json:"runs"`
}

// handleHealth returns service health status.
func handleHealth(runs *monitor.RunMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !runs.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:  overallStatus,
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Runs:    runs.Status(),
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

func handleLastRun(runs *monitor.RunMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		last := runs.Last()
		if last == nil {
			httpx.RespondErrorString(w, http.StatusNotFound, "no run yet")
			return
		}
		httpx.RespondJSON(w, http.StatusOK, last)
	}
}

func handleRuns(runs *monitor.RunMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"runs": runs.History(),
		})
	}
}

// handleTriggerRun starts a run of one granularity in the background.
// The scheduler serializes it with scheduled runs.
func handleTriggerRun(ctx context.Context, s *Scheduler, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := measure.ParseGranularity(mux.Vars(r)["granularity"])
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}

		go func() {
			if err := s.RunOnce(ctx, g); err != nil {
				logger.WithError(err).WithField("granularity", g).Warn("Triggered run failed")
			}
		}()

		httpx.RespondJSON(w, http.StatusAccepted, map[string]string{
			"status":      "accepted",
			"granularity": string(g),
		})
	}
}

// handleRecords returns stored records of one table.
func handleRecords(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		g, err := measure.ParseGranularity(q.Get("granularity"))
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		table, err := storage.TableFor(g)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}

		start, err := export.ParseTime(q.Get("start"), false)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid start: "+err.Error())
			return
		}
		end, err := export.ParseTime(q.Get("end"), true)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid end: "+err.Error())
			return
		}

		limit := config.MaxExportRecords
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				httpx.RespondErrorString(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			if n < limit {
				limit = n
			}
		}

		records, err := store.Query(r.Context(), table, storage.QueryRequest{
			Identifier: q.Get("identifier"),
			Start:      start,
			End:        end,
			Limit:      limit,
		})
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		if records == nil {
			records = []measure.Record{}
		}

		httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"table":   table.Name,
			"count":   len(records),
			"records": records,
		})
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(sm *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage, err := sm.GetUsage(r.Context())
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, deps Deps) {
	// CORS middleware for API access
	router.Use(corsMiddleware(deps.Port))
	if deps.Logger != nil {
		router.Use(httpx.LogRequests(deps.Logger))
	}

	api := router.PathPrefix("/v1").Subrouter()

	// Run status
	api.HandleFunc("/health", handleHealth(deps.Runs)).Methods("GET")
	api.HandleFunc("/runs", handleRuns(deps.Runs)).Methods("GET")
	api.HandleFunc("/runs/last", handleLastRun(deps.Runs)).Methods("GET")
	if deps.Scheduler != nil {
		ctx := deps.Context
		if ctx == nil {
			ctx = context.Background()
		}
		api.HandleFunc("/runs/{granularity}", handleTriggerRun(ctx, deps.Scheduler, deps.Logger)).Methods("POST")
	}

	// Stored data
	api.HandleFunc("/records", handleRecords(deps.Store)).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(deps.StorageMonitor)).Methods("GET")

	// Export/import
	api.HandleFunc("/export", deps.Export.HandleExport).Methods("GET")
	api.HandleFunc("/import", deps.Export.HandleImport).Methods("POST")

	// WebSocket for run progress
	if deps.Hub != nil {
		api.HandleFunc("/ws", deps.Hub.HandleWebSocket).Methods("GET")
	}
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Allow localhost origins for local development
			allowedOrigins := []string{
				"http://localhost:" + port,
				"http://127.0.0.1:" + port,
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			}

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			// Only set CORS headers for allowed origins
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
