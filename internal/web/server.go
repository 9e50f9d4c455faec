package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/elys-network/plasmavault/internal/logger"
	"github.com/elys-network/plasmavault/internal/metrics"
	"github.com/elys-network/plasmavault/internal/operator"
	"github.com/elys-network/plasmavault/internal/state"
	"github.com/elys-network/plasmavault/internal/types"
	"github.com/elys-network/plasmavault/internal/utils"
)

var webLogger = logger.GetForComponent("web_server")

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Reader is the live view of the vault. The operator implements it under its lock.
type Reader interface {
	Vault() common.Address
	Snapshot() types.VaultSnapshot
	PendingRequests() []types.WithdrawalRequest
	Request(id string) (types.WithdrawalRequest, bool)
	LastCycle() (operator.CycleReport, bool)
}

// History serves persisted snapshots and receipts. A nil History disables those endpoints.
type History interface {
	RecentSnapshots(vault common.Address, limit int) ([]types.VaultSnapshot, error)
	SnapshotByID(id int64) (*types.VaultSnapshot, error)
	RecentReceipts(vault common.Address, limit int) ([]types.ExecutionReceipt, error)
	Summary(vault common.Address) (*state.VaultSummary, error)
	Performance(vault common.Address) (*state.PerformanceMetrics, error)
	Healthy() error
}

// Config holds the configuration for creating a new WebServer
type Config struct {
	Port          string
	Reader        Reader
	History       History
	ShareDecimals uint64
}

// WebServer serves the vault read API
type WebServer struct {
	router        *mux.Router
	port          string
	reader        Reader
	history       History
	shareDecimals uint64
	startedAt     time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(cfg Config) *WebServer {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	server := &WebServer{
		router:        mux.NewRouter(),
		port:          cfg.Port,
		reader:        cfg.Reader,
		history:       cfg.History,
		shareDecimals: cfg.ShareDecimals,
		startedAt:     time.Now(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault", ws.handleGetVault).Methods("GET")
	api.HandleFunc("/markets", ws.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{id:[0-9]+}", ws.handleGetMarket).Methods("GET")
	api.HandleFunc("/fees", ws.handleGetFees).Methods("GET")
	api.HandleFunc("/queue", ws.handleGetQueue).Methods("GET")
	api.HandleFunc("/requests/{id}", ws.handleGetRequest).Methods("GET")
	api.HandleFunc("/cycles/latest", ws.handleGetLatestCycle).Methods("GET")
	api.HandleFunc("/snapshots", ws.handleGetSnapshots).Methods("GET")
	api.HandleFunc("/snapshots/{id:[0-9]+}", ws.handleGetSnapshot).Methods("GET")
	api.HandleFunc("/receipts", ws.handleGetReceipts).Methods("GET")
	api.HandleFunc("/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/performance", ws.handleGetPerformanceMetrics).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler exposes the router, mainly for tests.
func (ws *WebServer) Handler() http.Handler { return ws.router }

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth reports the last cycle outcome and database reachability
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false
	cycleInfo := map[string]interface{}{"status": "pending"}
	if last, ok := ws.reader.LastCycle(); ok {
		status := "completed"
		if last.Error != "" {
			status = "failed"
			hasErrors = true
		}
		cycleInfo = map[string]interface{}{
			"status":             status,
			"current_cycle":      last.CycleNumber,
			"last_cycle_time":    last.StartedAt,
			"last_cycle_error":   last.Error,
			"fulfilled_requests": len(last.Fulfilled),
		}
	}

	dbInfo := map[string]interface{}{"enabled": ws.history != nil}
	if ws.history != nil {
		if err := ws.history.Healthy(); err != nil {
			hasErrors = true
			dbInfo["healthy"] = false
			dbInfo["error"] = err.Error()
		} else {
			dbInfo["healthy"] = true
		}
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if hasErrors {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.startedAt).Seconds()),
		},
		"component": map[string]interface{}{
			"name":  "plasmavault",
			"vault": ws.reader.Vault().Hex(),
		},
		"operator": cycleInfo,
		"database": dbInfo,
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// vaultView is the snapshot plus human-readable amounts.
type vaultView struct {
	types.VaultSnapshot
	Display map[string]string `json:"display"`
}

func (ws *WebServer) handleGetVault(w http.ResponseWriter, r *http.Request) {
	s := ws.reader.Snapshot()
	ws.writeJSONResponse(w, http.StatusOK, vaultView{
		VaultSnapshot: s,
		Display: map[string]string{
			"total_assets":    utils.FormatUnits(s.TotalAssets, s.AssetDecimals),
			"idle_balance":    utils.FormatUnits(s.IdleBalance, s.AssetDecimals),
			"total_supply":    utils.FormatUnits(s.TotalSupply, ws.shareDecimals),
			"price_per_share": utils.FormatUnits(s.PricePerShare, utils.WadDecimals),
		},
	})
}

// marketView is one market with its display balance.
type marketView struct {
	types.MarketSnapshot
	DisplayBalance string `json:"display_balance"`
}

func (ws *WebServer) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	s := ws.reader.Snapshot()
	markets := make([]marketView, 0, len(s.Markets))
	for _, m := range s.Markets {
		markets = append(markets, marketView{MarketSnapshot: m, DisplayBalance: utils.FormatUnits(m.Balance, s.AssetDecimals)})
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"markets": markets,
		"count":   len(markets),
	})
}

func (ws *WebServer) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid market ID")
		return
	}
	s := ws.reader.Snapshot()
	for _, m := range s.Markets {
		if m.MarketID == types.MarketID(id) {
			ws.writeJSONResponse(w, http.StatusOK, marketView{MarketSnapshot: m, DisplayBalance: utils.FormatUnits(m.Balance, s.AssetDecimals)})
			return
		}
	}
	ws.writeErrorResponse(w, http.StatusNotFound, "Market not found")
}

func (ws *WebServer) handleGetFees(w http.ResponseWriter, r *http.Request) {
	s := ws.reader.Snapshot()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"fees": s.Fees,
		"display": map[string]string{
			"claimable_management_shares":  utils.FormatUnits(s.Fees.ClaimableManagementShares, ws.shareDecimals),
			"claimable_performance_shares": utils.FormatUnits(s.Fees.ClaimablePerformanceShares, ws.shareDecimals),
			"total_management_assets":      utils.FormatUnits(s.Fees.TotalManagementAssets, s.AssetDecimals),
			"total_performance_assets":     utils.FormatUnits(s.Fees.TotalPerformanceAssets, s.AssetDecimals),
			"high_water_mark":              utils.FormatUnits(s.Fees.HighWaterMark, utils.WadDecimals),
		},
	})
}

func (ws *WebServer) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	pending := ws.reader.PendingRequests()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"requests": pending,
		"count":    len(pending),
	})
}

func (ws *WebServer) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := ws.reader.Request(mux.Vars(r)["id"])
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "Request not found")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, req)
}

func (ws *WebServer) handleGetLatestCycle(w http.ResponseWriter, r *http.Request) {
	last, ok := ws.reader.LastCycle()
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "No cycles found")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, last)
}

// handleGetSnapshots returns the most recent persisted snapshots
func (ws *WebServer) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w) {
		return
	}
	limit := parseLimit(r)
	snapshots, err := ws.history.RecentSnapshots(ws.reader.Vault(), limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshots")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	})
}

// handleGetSnapshot returns a specific snapshot by ID
func (ws *WebServer) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w) {
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid snapshot ID")
		return
	}
	snapshot, err := ws.history.SnapshotByID(id)
	if err != nil {
		if errors.Is(err, state.ErrSnapshotNotFound) {
			ws.writeErrorResponse(w, http.StatusNotFound, "Snapshot not found")
			return
		}
		webLogger.Error().Err(err).Int64("snapshotId", id).Msg("Failed to get snapshot")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshot")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, snapshot)
}

func (ws *WebServer) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w) {
		return
	}
	limit := parseLimit(r)
	receipts, err := ws.history.RecentReceipts(ws.reader.Vault(), limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve receipts")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
		"limit":    limit,
	})
}

// handleGetVaultSummary returns vault summary statistics
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w) {
		return
	}
	summary, err := ws.history.Summary(ws.reader.Vault())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get vault summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve vault summary")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// handleGetPerformanceMetrics returns performance metrics
func (ws *WebServer) handleGetPerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w) {
		return
	}
	performance, err := ws.history.Performance(ws.reader.Vault())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get performance metrics")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve performance metrics")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, performance)
}

func (ws *WebServer) requireHistory(w http.ResponseWriter) bool {
	if ws.history == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Persistence is disabled")
		return false
	}
	return true
}

func parseLimit(r *http.Request) int {
	limit := defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= maxLimit {
			limit = parsedLimit
		}
	}
	return limit
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
