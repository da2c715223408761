package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netwatch-labs/netwatch/pkg/config"
	"github.com/netwatch-labs/netwatch/pkg/dashboard"
	"github.com/netwatch-labs/netwatch/pkg/export"
	"github.com/netwatch-labs/netwatch/pkg/httpx"
	"github.com/netwatch-labs/netwatch/pkg/server/monitor"
	"github.com/netwatch-labs/netwatch/pkg/storage"
	"github.com/netwatch-labs/netwatch/pkg/stream"
	"github.com/netwatch-labs/netwatch/pkg/window"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

var startTime = time.Now()

// Deps is everything the HTTP layer talks to.
type Deps struct {
	Engine    *dashboard.Engine
	Hub       *stream.Hub
	Persist   storage.Storage
	Storage   *monitor.StorageMonitor // nil for the memory backend
	Retention *monitor.TaskMonitor
	Port      string
	StaticDir string
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Window    window.Stats           `json:"window"`
	Retention monitor.TaskStatus     `json:"retention"`
	Widgets   dashboard.WidgetStatus `json:"widgets"`
}

// handleHealth returns service health status.
func handleHealth(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !d.Retention.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, statusCode, HealthResponse{
			Status:    overallStatus,
			Version:   Version,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Window:    d.Engine.Store().Stats(),
			Retention: d.Retention.Status(),
			Widgets:   d.Engine.Widgets(),
		})
	}
}

// StorageUsage represents persisted data usage.
type StorageUsage struct {
	UsedBytes int64          `json:"used_bytes"`
	MaxBytes  int64          `json:"max_bytes"`
	Stats     *storage.Stats `json:"stats,omitempty"`
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var usage StorageUsage

		stats, err := d.Persist.Stats(r.Context())
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		usage.Stats = stats

		if d.Storage != nil {
			usedBytes, err := d.Storage.GetUsage()
			if err != nil {
				httpx.RespondError(w, http.StatusInternalServerError, err)
				return
			}
			usage.UsedBytes = usedBytes
			usage.MaxBytes = d.Storage.GetLimit()
		} else {
			usage.UsedBytes = int64(stats.SizeBytes)
		}

		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}

// WindowResponse describes the rolling window store.
type WindowResponse struct {
	window.Stats
	HorizonSeconds int      `json:"horizon_seconds"`
	Keys           []string `json:"key_names"`
}

func handleWindow(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := d.Engine.Store()
		httpx.RespondJSON(w, http.StatusOK, WindowResponse{
			Stats:          store.Stats(),
			HorizonSeconds: int(store.Horizon() / time.Second),
			Keys:           store.Keys(),
		})
	}
}

// selection validates the ?device= parameter. It writes a 404 and returns
// false for a device not in the inventory.
func selection(w http.ResponseWriter, r *http.Request, e *dashboard.Engine) (string, bool) {
	device := r.URL.Query().Get("device")
	if err := e.Knows(device); err != nil {
		httpx.RespondError(w, http.StatusNotFound, err)
		return "", false
	}
	return device, true
}

func handleSnapshot(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := d.Engine.Snapshot(r.URL.Query().Get("device"))
		if err != nil {
			httpx.RespondError(w, http.StatusNotFound, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, snap)
	}
}

func handleDevices(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		device, ok := selection(w, r, d.Engine)
		if !ok {
			return
		}
		httpx.RespondJSON(w, http.StatusOK, d.Engine.Devices(device))
	}
}

func handleSummary(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		device, ok := selection(w, r, d.Engine)
		if !ok {
			return
		}
		httpx.RespondJSON(w, http.StatusOK, d.Engine.Summary(device))
	}
}

func handleHistory(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		device, ok := selection(w, r, d.Engine)
		if !ok {
			return
		}
		httpx.RespondJSON(w, http.StatusOK, d.Engine.History(device))
	}
}

func handleConnections(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, d.Engine.Connections())
	}
}

func handleAlerts(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		device, ok := selection(w, r, d.Engine)
		if !ok {
			return
		}
		httpx.RespondJSON(w, http.StatusOK, d.Engine.Alerts(device))
	}
}

func handleCVEs(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := d.Engine.CVEs(r.Context())
		if err != nil {
			httpx.RespondError(w, http.StatusServiceUnavailable, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, items)
	}
}

func handleWeather(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cond, err := d.Engine.Weather(r.Context())
		if err != nil {
			httpx.RespondError(w, http.StatusServiceUnavailable, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, cond)
	}
}

func handleRefresh(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, d.Engine.Refresh())
	}
}

// AutoRefreshRequest is the body of PUT /v1/autorefresh.
type AutoRefreshRequest struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"interval_seconds"`
}

// errInterval is returned for an interval outside the supported range.
var errInterval = fmt.Errorf("interval_seconds must be between %d and %d",
	int(config.MinRefreshInterval/time.Second), int(config.MaxRefreshInterval/time.Second))

func handleGetAutoRefresh(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, d.Engine.AutoRefresh())
	}
}

func handleSetAutoRefresh(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AutoRefreshRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
			return
		}

		interval := time.Duration(req.IntervalSeconds) * time.Second
		if interval < config.MinRefreshInterval || interval > config.MaxRefreshInterval {
			httpx.RespondError(w, http.StatusBadRequest, errInterval)
			return
		}

		httpx.RespondJSON(w, http.StatusOK, d.Engine.SetAutoRefresh(req.Enabled, interval))
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, d Deps) {
	if d.Retention == nil {
		panic(errors.New("server: Deps.Retention is required"))
	}

	router.Use(corsMiddleware(d.Port))
	router.Use(httpx.Metrics)

	api := router.PathPrefix("/v1").Subrouter()

	// Dashboard panels
	api.HandleFunc("/snapshot", handleSnapshot(d)).Methods("GET")
	api.HandleFunc("/devices", handleDevices(d)).Methods("GET")
	api.HandleFunc("/summary", handleSummary(d)).Methods("GET")
	api.HandleFunc("/history", handleHistory(d)).Methods("GET")
	api.HandleFunc("/connections", handleConnections(d)).Methods("GET")
	api.HandleFunc("/alerts", handleAlerts(d)).Methods("GET")
	api.HandleFunc("/cves", handleCVEs(d)).Methods("GET")
	api.HandleFunc("/weather", handleWeather(d)).Methods("GET")

	// Controls
	api.HandleFunc("/refresh", handleRefresh(d)).Methods("POST")
	api.HandleFunc("/autorefresh", handleGetAutoRefresh(d)).Methods("GET")
	api.HandleFunc("/autorefresh", handleSetAutoRefresh(d)).Methods("PUT")

	// Operations
	api.HandleFunc("/window", handleWindow(d)).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(d)).Methods("GET")
	api.HandleFunc("/health", handleHealth(d)).Methods("GET")

	exportHandler := export.NewHandler(d.Persist)
	api.HandleFunc("/export", exportHandler.HandleExport).Methods("GET")
	api.HandleFunc("/import", exportHandler.HandleImport).Methods("POST")

	// WebSocket for live snapshots
	if d.Hub != nil {
		api.HandleFunc("/ws", d.Hub.ServeWS).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Serve static files from the web directory
	staticDir := d.StaticDir
	if staticDir == "" {
		staticDir = "./web"
	}
	router.PathPrefix("/web/").Handler(http.StripPrefix("/web/", http.FileServer(http.Dir(staticDir))))

	// Root path serves dashboard.html
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(staticDir, "dashboard.html"))
	}).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
