// Package webapi provides a read-only HTTP admin surface over the
// Fusion Engine's persisted incidents and device-risk snapshots. The
// original system's full web UI is out of scope; this is the minimal
// read boundary a correlator process exposes to operators and
// dashboards.
package webapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/amoskys/amoskys/internal/webapi/docs"
	"github.com/amoskys/amoskys/internal/fusion"
	"github.com/amoskys/amoskys/internal/logging"
)

const defaultIncidentLimit = 100

// Server serves the admin read API over a fusion.Store.
type Server struct {
	store  *fusion.Store
	logger logging.Logger
	router *mux.Router
}

// New builds a Server with its routes registered.
func New(store *fusion.Store, logger logging.Logger) *Server {
	s := &Server{store: store, logger: logger, router: mux.NewRouter()}
	s.router.HandleFunc("/incidents", s.handleIncidents).Methods(http.MethodGet)
	s.router.HandleFunc("/devices/{id}/risk", s.handleDeviceRisk).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleIncidents serves GET /incidents?device_id=&limit=, most recent
// first, optionally filtered by device.
func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	limit := defaultIncidentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	incidents, err := s.store.RecentIncidents(deviceID, limit)
	if err != nil {
		s.logger.Error("webapi_incidents_query_failed", "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, incidents)
}

// handleDeviceRisk serves GET /devices/{id}/risk.
func (s *Server) handleDeviceRisk(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	snapshot, err := s.store.DeviceRisk(deviceID)
	if err != nil {
		s.logger.Error("webapi_device_risk_query_failed", "device_id", deviceID, "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if snapshot == nil {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	writeJSON(w, snapshot)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
