package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dispatchgrid/routetrack/internal/httputil"
	"github.com/dispatchgrid/routetrack/internal/monitoring"
	"github.com/dispatchgrid/routetrack/internal/track"
)

// telemetryEvent is the transport's wire shape for one GPS event. Field
// names match the upstream dispatch feed; unit_id doubles as the route id.
type telemetryEvent struct {
	UnitID      string  `json:"unit_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Accuracy    float64 `json:"accuracy"`
	Timestamp   int64   `json:"timestamp"` // unix milliseconds
	Status      string  `json:"status"`
	EmergencyID string  `json:"emergency_id"`
}

type telemetryAck struct {
	UnitID string `json:"unit_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// handleTelemetrySocket is the ingest side of the telemetry transport: each
// frame is one fix, mapped onto UpdateFromGPS. Unknown units are acked with
// an error but do not close the stream; one bad unit must not stall the feed.
func (s *Server) handleTelemetrySocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("ws: telemetry upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var ev telemetryEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				monitoring.Logf("ws: telemetry read: %v", err)
			}
			return
		}

		var ts time.Time
		if ev.Timestamp > 0 {
			ts = time.UnixMilli(ev.Timestamp)
		}
		ack := telemetryAck{UnitID: ev.UnitID, OK: true}
		if err := s.registry.UpdateFromGPS(ev.UnitID, ev.Latitude, ev.Longitude, track.FixMeta{
			AccuracyMeters: ev.Accuracy,
			Timestamp:      ts,
		}); err != nil {
			ack.OK = false
			ack.Error = err.Error()
		}
		if err := conn.WriteJSON(ack); err != nil {
			monitoring.Logf("ws: telemetry ack write: %v", err)
			return
		}
	}
}

// handleMarkerSocket streams marker states for one route to a renderer.
// Updates the client cannot keep up with are dropped, not queued.
func (s *Server) handleMarkerSocket(w http.ResponseWriter, r *http.Request) {
	routeID := r.URL.Query().Get("route_id")
	if routeID == "" {
		httputil.BadRequest(w, "route_id query parameter is required")
		return
	}

	markers := make(chan track.MarkerState, 8)
	unsubscribe, err := s.registry.OnMarker(routeID, func(m track.MarkerState) {
		select {
		case markers <- m:
		default:
		}
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	defer unsubscribe()

	conn, upgradeErr := s.upgrader.Upgrade(w, r, nil)
	if upgradeErr != nil {
		monitoring.Logf("ws: marker upgrade failed: %v", upgradeErr)
		return
	}
	defer conn.Close()

	// Drain the client's control frames so close is noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case m := <-markers:
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
	}
}
