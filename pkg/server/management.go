package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nimburion/tabular/pkg/config"
	"github.com/nimburion/tabular/pkg/health"
	"github.com/nimburion/tabular/pkg/observability/logger"
	"github.com/nimburion/tabular/pkg/observability/metrics"
	"github.com/nimburion/tabular/pkg/refresh"
	"github.com/nimburion/tabular/pkg/version"
)

// RefreshRunner is the part of the refresh runtime the management API exposes.
type RefreshRunner interface {
	Status() []refresh.TaskStatus
	RunNow(ctx context.Context, name string) error
}

// ManagementServer serves health, readiness, metrics, build info and, when a refresh
// runtime is attached, refresh task control.
type ManagementServer struct {
	*Server
	router          *mux.Router
	log             logger.Logger
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
	info            version.Info
	refresh         RefreshRunner
}

// NewManagementServer builds the router and middleware stack. metricsRegistry may be nil,
// in which case /metrics is not served.
func NewManagementServer(
	cfg config.ManagementConfig,
	info version.Info,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
) (*ManagementServer, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if healthRegistry == nil {
		return nil, errors.New("health registry is required")
	}

	r := mux.NewRouter()
	r.Use(requestID(), accessLog(log), recovery(log))
	if metricsRegistry != nil {
		m, err := newHTTPMetrics(metricsRegistry.Registerer())
		if err != nil {
			return nil, fmt.Errorf("register http metrics: %w", err)
		}
		r.Use(m.instrument())
	}

	s := &ManagementServer{
		Server: NewServer(Config{
			Port:            cfg.Port,
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, r, log),
		router:          r,
		log:             log,
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
		info:            info,
	}
	s.registerEndpoints()
	return s, nil
}

func (s *ManagementServer) registerEndpoints() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/ready/{check}", s.handleReadyCheck).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	if s.metricsRegistry != nil {
		s.router.Handle("/metrics", s.metricsRegistry.Handler()).Methods(http.MethodGet)
	}
}

// AttachRefresh exposes GET /refresh and POST /refresh/{task} for runner.
func (s *ManagementServer) AttachRefresh(runner RefreshRunner) {
	s.refresh = runner
	s.router.HandleFunc("/refresh", s.handleRefreshStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/refresh/{task}", s.handleRefreshRun).Methods(http.MethodPost)
}

// Handler returns the routed handler, for tests and embedding.
func (s *ManagementServer) Handler() http.Handler {
	return s.router
}

// handleHealth is liveness: it never checks dependencies.
func (s *ManagementServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": health.StatusHealthy})
}

// handleReady runs every registered check. Degraded still counts as ready: a failing refresh
// leaves the last good result readable.
func (s *ManagementServer) handleReady(w http.ResponseWriter, r *http.Request) {
	result := s.healthRegistry.Check(r.Context())
	code := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, result)
}

func (s *ManagementServer) handleReadyCheck(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["check"]
	result, err := s.healthRegistry.CheckOne(r.Context(), name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "not_found",
			"message": err.Error(),
			"checks":  s.healthRegistry.List(),
		})
		return
	}
	code := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, result)
}

func (s *ManagementServer) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.info)
}

func (s *ManagementServer) handleRefreshStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.refresh.Status()})
}

func (s *ManagementServer) handleRefreshRun(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["task"]
	err := s.refresh.RunNow(r.Context(), name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"task": name, "status": "ok"})
	case errors.Is(err, refresh.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found", "message": "unknown refresh task " + name})
	default:
		s.log.Warn("manual refresh failed", "task", name, "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusConflict, map[string]any{"error": "refresh_failed", "message": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
