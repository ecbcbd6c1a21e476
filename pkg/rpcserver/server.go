// Package rpcserver implements the daemon's RPC surface: a thin HTTP+JSON
// adapter translating each wire-protocol method to a pkg/manager
// operation, plus projection of live forwarder state into forward/status
// responses. No business logic lives here beyond that translation.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"kubeportal/pkg/forwarder"
	"kubeportal/pkg/logger"
	"kubeportal/pkg/manager"
)

// DefaultPort is the RPC surface's default listen port.
const DefaultPort = 50051

// Server is the RPC surface: an HTTP server with one route per wire
// method.
type Server struct {
	mgr        *manager.Manager
	version    string
	startedAt  time.Time
	httpServer *http.Server

	// onShutdown is invoked, in a new goroutine, once the Shutdown RPC has
	// written its response -- it is how the RPC surface asks the daemon's
	// main loop to exit without importing it.
	onShutdown func()
}

// New constructs a Server listening on addr, routing every wire method to
// mgr. onShutdown is called once, asynchronously, when a client invokes
// the Shutdown RPC.
func New(mgr *manager.Manager, addr string, version string, onShutdown func()) *Server {
	s := &Server{
		mgr:        mgr,
		version:    version,
		startedAt:  time.Now(),
		onShutdown: onShutdown,
	}

	router := mux.NewRouter()
	s.registerRoutes(router)

	loggingHandler := handlers.LoggingHandler(logWriter{}, router)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           loggingHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/forwards", s.handleCreateForward).Methods(http.MethodPost)
	r.HandleFunc("/forwards", s.handleListForwards).Methods(http.MethodGet)
	r.HandleFunc("/forwards/{name}", s.handleGetForward).Methods(http.MethodGet)
	r.HandleFunc("/forwards/{name}", s.handleDeleteForward).Methods(http.MethodDelete)
	r.HandleFunc("/forwards/{name}/start", s.handleStartForward).Methods(http.MethodPost)
	r.HandleFunc("/forwards/{name}/stop", s.handleStopForward).Methods(http.MethodPost)

	r.HandleFunc("/groups", s.handleListGroups).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group}/enable", s.handleEnableGroup).Methods(http.MethodPost)
	r.HandleFunc("/groups/{group}/disable", s.handleDisableGroup).Methods(http.MethodPost)
	r.HandleFunc("/groups/{group}", s.handleDeleteGroup).Methods(http.MethodDelete)

	r.HandleFunc("/config/apply", s.handleApplyConfig).Methods(http.MethodPost)
	r.HandleFunc("/config/export", s.handleExportConfig).Methods(http.MethodGet)
	r.HandleFunc("/config/reload", s.handleReloadConfig).Methods(http.MethodPost)

	r.HandleFunc("/status", s.handleGetStatus).Methods(http.MethodGet)
	r.HandleFunc("/shutdown", s.handleShutdown).Methods(http.MethodPost)
}

// Handler returns the RPC surface's http.Handler, for tests that want to
// drive it via httptest.NewServer instead of a real listening socket.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving the RPC surface until Shutdown is called.
func (s *Server) ListenAndServe() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving rpc surface: %w", err)
	}

	return nil
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- forwards ---

func (s *Server) handleCreateForward(w http.ResponseWriter, r *http.Request) {
	var wire forwardWire

	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		logger.Log(logger.LevelError, nil, err, "decoding CreateForward payload")
		http.Error(w, "failed to decode request body: "+err.Error(), http.StatusBadRequest)

		return
	}

	def := wire.toDefinition()

	err := s.mgr.AddOrUpdate(def)
	writeMutation(w, err)
}

func (s *Server) handleListForwards(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")

	defs := s.mgr.GetAll()
	active := s.activeStatsByName()

	out := make([]forwardWire, 0, len(defs))

	for _, def := range defs {
		if group != "" && def.Group != group {
			continue
		}

		var stats *forwarder.Stats
		if st, ok := active[def.Name]; ok {
			stats = &st
		}

		out = append(out, toWire(def, stats))
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetForward(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	def, err := s.mgr.GetByName(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var stats *forwarder.Stats

	if st, ok := s.activeStatsByName()[name]; ok {
		stats = &st
	}

	writeJSON(w, http.StatusOK, toWire(def, stats))
}

func (s *Server) handleDeleteForward(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	err := s.mgr.Delete(name)
	writeMutation(w, err)
}

func (s *Server) handleStartForward(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	err := s.mgr.Start(name)
	writeMutation(w, err)
}

func (s *Server) handleStopForward(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	err := s.mgr.Stop(name)
	writeMutation(w, err)
}

// --- groups ---

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	statuses := s.mgr.GetGroupStatuses()
	defs := s.mgr.GetAll()
	active := s.activeStatsByName()

	totals := make(map[string]int)
	actives := make(map[string]int)

	for _, def := range defs {
		totals[def.Group]++

		if _, ok := active[def.Name]; ok {
			actives[def.Group]++
		}
	}

	out := make(map[string]groupStatusWire, len(statuses))
	for group, enabled := range statuses {
		out[group] = groupStatusWire{
			Enabled:            enabled,
			TotalForwardCount:  totals[group],
			ActiveForwardCount: actives[group],
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEnableGroup(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["group"]

	err := s.mgr.EnableGroup(group)
	writeMutation(w, err)
}

func (s *Server) handleDisableGroup(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["group"]

	err := s.mgr.DisableGroup(group)
	writeMutation(w, err)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	group := mux.Vars(r)["group"]

	deleted, err := s.mgr.DeleteGroup(group)
	if err != nil {
		writeJSON(w, http.StatusOK, deleteGroupResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, deleteGroupResponse{Success: true, Deleted: deleted})
}

// --- config ---

func (s *Server) handleApplyConfig(w http.ResponseWriter, r *http.Request) {
	var req applyConfigRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log(logger.LevelError, nil, err, "decoding ApplyConfig payload")
		http.Error(w, "failed to decode request body: "+err.Error(), http.StatusBadRequest)

		return
	}

	added, updated, removed, err := s.mgr.ApplyConfig([]byte(req.ConfigJSON), req.TargetGroup, req.RemoveMissing)
	if err != nil {
		writeJSON(w, http.StatusOK, applyConfigResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, applyConfigResponse{
		Success: true, Added: added, Updated: updated, Removed: removed,
	})
}

func (s *Server) handleExportConfig(w http.ResponseWriter, r *http.Request) {
	includeDisabled := r.URL.Query().Get("includeDisabled") == "true"
	group := r.URL.Query().Get("group")

	data, err := s.mgr.ExportConfig(includeDisabled, group)
	if err != nil {
		logger.Log(logger.LevelError, nil, err, "exporting config")
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	err := s.mgr.ReloadConfig()
	writeMutation(w, err)
}

// --- daemon ---

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Running:            true,
		Version:            s.version,
		ActiveForwardCount: s.mgr.ActiveForwardCount(),
		TotalForwardCount:  s.mgr.TotalForwardCount(),
		UptimeSeconds:      time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mutationResponse{Success: true})

	if s.onShutdown != nil {
		go s.onShutdown()
	}
}

// --- helpers ---

// activeStatsByName snapshots every running forwarder's counters, keyed by
// forward name, for projecting live status into forward responses.
func (s *Server) activeStatsByName() map[string]forwarder.Stats {
	out := make(map[string]forwarder.Stats)

	for _, status := range s.mgr.GetActive() {
		out[status.Name] = status.Stats
	}

	return out
}

// writeMutation encodes the {success, error} mutation envelope: a semantic
// failure (not-found, invalid, in-use) is reported in the body with HTTP
// 200, never as a transport-level error.
func writeMutation(w http.ResponseWriter, err error) {
	if err != nil {
		writeJSON(w, http.StatusOK, mutationResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, mutationResponse{Success: true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log(logger.LevelError, nil, err, "writing json response")
	}
}

// logWriter adapts pkg/logger to gorilla/handlers.LoggingHandler's
// io.Writer sink, routing request-log lines through the same structured
// logger as everything else instead of a second, unstructured writer.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	logger.Log(logger.LevelInfo, nil, nil, string(p))
	return len(p), nil
}
