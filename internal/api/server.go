// Package api is the operational HTTP surface over the tracking engine:
// JSON route lifecycle endpoints, a websocket telemetry ingest (the adapter
// between the external transport and the engine), public tracking links,
// and ops charts. It is thin glue; all semantics live in internal/track.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dispatchgrid/routetrack/internal/history"
	"github.com/dispatchgrid/routetrack/internal/monitoring"
	"github.com/dispatchgrid/routetrack/internal/track"
)

// Config configures the API server.
type Config struct {
	Listen   string
	Registry *track.Registry

	// History is optional; history endpoints return 404 when nil.
	History *history.Store
}

// Server serves the HTTP and websocket interface.
type Server struct {
	registry *track.Registry
	history  *history.Store
	server   *http.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	links map[string]trackingLink
}

// NewServer creates a Server listening on cfg.Listen once started.
func NewServer(cfg Config) *Server {
	s := &Server{
		registry: cfg.Registry,
		history:  cfg.History,
		links:    make(map[string]trackingLink),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The transport peers are trusted internal services.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.server = &http.Server{
		Addr:    cfg.Listen,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the route table. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/routes", s.handleRegisterRoute)
	mux.HandleFunc("GET /api/routes", s.handleListRoutes)
	mux.HandleFunc("GET /api/routes/{id}", s.handleRouteStatus)
	mux.HandleFunc("DELETE /api/routes/{id}", s.handleRemoveRoute)
	mux.HandleFunc("POST /api/routes/{id}/start", s.handleStart)
	mux.HandleFunc("POST /api/routes/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/routes/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /api/routes/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /api/routes/{id}/speed", s.handleSpeed)
	mux.HandleFunc("POST /api/routes/{id}/marker", s.handleMarker)

	mux.HandleFunc("POST /api/gps", s.handleGPSFix)
	mux.HandleFunc("POST /api/emergency-stop", s.handleEmergencyStop)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/params", s.handleParams)
	mux.HandleFunc("GET /api/history/{id}", s.handleHistory)

	mux.HandleFunc("POST /api/tracking-links", s.handleCreateTrackingLink)
	mux.HandleFunc("GET /api/track/{token}", s.handleTrackingLink)

	mux.HandleFunc("GET /ws/telemetry", s.handleTelemetrySocket)
	mux.HandleFunc("GET /ws/markers", s.handleMarkerSocket)

	mux.HandleFunc("GET /charts/progress", s.handleProgressChart)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		monitoring.Logf("api: listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("api: server error: %v", err)
		}
	}()

	<-ctx.Done()
	monitoring.Logf("api: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
