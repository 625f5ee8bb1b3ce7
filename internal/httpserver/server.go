package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"invoice-sync/internal/metrics"
	"invoice-sync/internal/migration"
	"invoice-sync/internal/model"
	"invoice-sync/internal/queue"
	"invoice-sync/internal/syncer"
)

// Dependencies exposes core services to handlers.
type Dependencies struct {
	Sync      *syncer.Service
	Migrator  *migration.Migrator
	Migration *migration.Session
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	basePath   string
	handler    http.Handler
}

// New creates a new HTTP server listening on addr with health, metrics, sync
// and migration endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, deps Dependencies, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		deps:     deps,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	server.handle(mux, "/settings", server.handleSettings)
	server.handle(mux, "GET /invoices", server.handleListInvoices)
	server.handle(mux, "PUT /invoices/{id}", server.handlePutInvoice)
	server.handle(mux, "DELETE /invoices/{id}", server.handleDeleteInvoice)
	server.handle(mux, "/sync/status", server.handleSyncStatus)
	server.handle(mux, "/sync/trigger", server.handleSyncTrigger)
	server.handle(mux, "/sync/refresh", server.handleSyncRefresh)
	server.handle(mux, "/sync/snapshot", server.handleSyncSnapshot)
	server.handle(mux, "/sync/queue", server.handleSyncQueue)
	server.handle(mux, "/sync/auto", server.handleSyncAuto)
	server.handle(mux, "/migration", server.handleMigration)
	server.handle(mux, "/migration/run", server.handleMigrationRun)
	server.handle(mux, "/migration/continue", server.handleMigrationContinue)

	server.handler = mountWithBasePath(server.basePath, mux)
	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Handler returns the routed handler, including the base path mount.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// handle registers fn under pattern and counts its responses by status code.
func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.deps.Sync.LocalSettings(r.Context())
		if err != nil {
			s.logger.Error("failed reading local settings", "error", err)
			http.Error(w, "failed to read settings", http.StatusInternalServerError)
			return
		}
		if settings == nil {
			http.Error(w, "settings not found", http.StatusNotFound)
			return
		}
		writeJSON(w, settings)

	case http.MethodPut:
		var settings model.LocalSettings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		item, err := s.deps.Sync.SaveSettings(r.Context(), settings)
		if err != nil {
			s.writeEnqueueError(w, "settings", err)
			return
		}
		writeJSONStatus(w, http.StatusAccepted, item)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.deps.Sync.LocalInvoices(r.Context())
	if err != nil {
		s.logger.Error("failed reading local invoices", "error", err)
		http.Error(w, "failed to read invoices", http.StatusInternalServerError)
		return
	}
	writeJSON(w, invoices)
}

func (s *Server) handlePutInvoice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var inv model.LocalInvoice
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if inv.ID != "" && inv.ID != id {
		http.Error(w, "invoice id does not match path", http.StatusBadRequest)
		return
	}
	inv.ID = id
	item, err := s.deps.Sync.SaveInvoice(r.Context(), inv)
	if err != nil {
		s.writeEnqueueError(w, "invoice", err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, item)
}

func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Sync.DeleteInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEnqueueError(w, "invoice delete", err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, item)
}

func (s *Server) writeEnqueueError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, syncer.ErrInvalidMutation) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Error("failed queueing mutation", "entity", what, "error", err)
	http.Error(w, "failed to queue "+what, http.StatusInternalServerError)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, s.deps.Sync.GetStatus(r.Context()))
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	writeJSON(w, s.deps.Sync.TriggerSync(r.Context()))
}

func (s *Server) handleSyncRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	res := s.deps.Sync.RefreshFromRemote(r.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
	}
	writeJSONStatus(w, status, res)
}

func (s *Server) handleSyncSnapshot(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	snap, ok := s.deps.Sync.CachedSnapshot(r.Context())
	if !ok {
		http.Error(w, "no cached snapshot", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleSyncQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.deps.Sync.PendingOperations(r.Context()))

	case http.MethodPost:
		var m queue.Mutation
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		item, err := s.deps.Sync.Enqueue(r.Context(), m)
		if err != nil {
			s.writeEnqueueError(w, "mutation", err)
			return
		}
		writeJSONStatus(w, http.StatusAccepted, item)

	case http.MethodDelete:
		if err := s.deps.Sync.ClearQueue(r.Context()); err != nil {
			s.logger.Error("failed clearing queue", "error", err)
			http.Error(w, "failed to clear queue", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type autoSyncRequest struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"interval_seconds"`
}

func (s *Server) handleSyncAuto(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req autoSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	proc := s.deps.Sync.Processor()
	if req.Enabled {
		proc.StartAutoSync(time.Duration(req.IntervalSeconds) * time.Second)
	} else {
		proc.StopAutoSync()
	}
	writeJSON(w, map[string]bool{"auto_sync_enabled": proc.AutoSyncEnabled()})
}

type migrationResponse struct {
	migration.View
	NeedsMigration bool                        `json:"needs_migration"`
	LocalData      *migration.LocalDataSummary `json:"local_data,omitempty"`
	Marker         *migration.Marker           `json:"marker,omitempty"`
}

func (s *Server) handleMigration(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ctx := r.Context()
		resp := migrationResponse{
			View:           s.deps.Migration.View(),
			NeedsMigration: s.deps.Migrator.NeedsMigration(ctx),
		}
		if data, err := s.deps.Migrator.DetectLocalData(ctx); err == nil {
			resp.LocalData = &data
		} else {
			s.logger.Warn("failed detecting local data", "error", err)
		}
		if marker, err := s.deps.Migrator.Marker(ctx); err == nil {
			resp.Marker = marker
		} else {
			s.logger.Warn("failed reading migration marker", "error", err)
		}
		writeJSON(w, resp)

	case http.MethodDelete:
		if err := s.deps.Migration.Reset(r.Context()); err != nil {
			s.writeMigrationError(w, err)
			return
		}
		writeJSON(w, s.deps.Migration.View())

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMigrationRun(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	// The run outlives the request.
	if _, err := s.deps.Migration.Start(context.WithoutCancel(r.Context())); err != nil {
		s.writeMigrationError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, s.deps.Migration.View())
}

func (s *Server) handleMigrationContinue(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.deps.Migration.ContinueAnyway(r.Context()); err != nil {
		s.writeMigrationError(w, err)
		return
	}
	writeJSON(w, s.deps.Migration.View())
}

func (s *Server) writeMigrationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, migration.ErrMigrationInProgress),
		errors.Is(err, migration.ErrAlreadyMigrated),
		errors.Is(err, migration.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("migration request failed", "error", err)
		http.Error(w, "migration request failed", http.StatusInternalServerError)
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
