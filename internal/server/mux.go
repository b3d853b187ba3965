// Package server provides the HTTP surface of the watch command: Prometheus
// metrics and a health probe that reports the session phase.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Campus-Dev-Team/adminCamperStories/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 120 * time.Second
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Gatherer prometheus.Gatherer
	Session  session.Observer
	Logger   *slog.Logger
}

// NewMux builds the mux with /metrics and /healthz.
func NewMux(cfg MuxConfig) *http.ServeMux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}))
	mux.HandleFunc("GET /healthz", handleHealth(cfg.Session))

	return mux
}

// New wraps a handler in an http.Server with the usual timeouts.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}

type healthResponse struct {
	Phase  string `json:"phase"`
	UserID int64  `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleHealth answers 200 while the session is authenticated or still
// loading, and 503 once it has fallen back to anonymous or denied.
func handleHealth(obs session.Observer) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := obs.Current()

		resp := healthResponse{Phase: snap.Phase().String()}
		if snap.CurrentUser != nil {
			resp.UserID = snap.CurrentUser.ID
			resp.Role = snap.CurrentUser.Role
		}

		if snap.Err != nil {
			resp.Error = snap.Err.Error()
		}

		status := http.StatusOK
		if p := snap.Phase(); p == session.PhaseAnonymous || p == session.PhaseDenied {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
