package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dispatchgrid/routetrack/internal/config"
	"github.com/dispatchgrid/routetrack/internal/geo"
	"github.com/dispatchgrid/routetrack/internal/httputil"
	"github.com/dispatchgrid/routetrack/internal/track"
)

var validate = validator.New()

// writeEngineError maps engine sentinels onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, track.ErrUnknownRoute):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, track.ErrInvalidGeometry), errors.Is(err, track.ErrInvalidArgument):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func decodeValid(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

type registerRouteRequest struct {
	RouteID string `json:"route_id" validate:"required"`
	// Waypoints are ordered [latitude, longitude] pairs, the shape the
	// routing provider returns.
	Waypoints           [][2]float64 `json:"waypoints" validate:"required,min=2"`
	EstimatedDurationMs int64        `json:"estimated_duration_ms" validate:"gte=0"`
	SpeedMultiplier     float64      `json:"speed_multiplier" validate:"gte=0"`
}

type routeResponse struct {
	track.RouteStatus
	Marker track.MarkerState `json:"marker"`
}

func (s *Server) routeResponse(id string) (routeResponse, error) {
	st, err := s.registry.GetStatus(id)
	if err != nil {
		return routeResponse{}, err
	}
	m, err := s.registry.MarkerState(id)
	if err != nil {
		return routeResponse{}, err
	}
	return routeResponse{RouteStatus: st, Marker: m}, nil
}

func (s *Server) handleRegisterRoute(w http.ResponseWriter, r *http.Request) {
	var req registerRouteRequest
	if err := decodeValid(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	waypoints := make([]geo.Waypoint, len(req.Waypoints))
	for i, p := range req.Waypoints {
		waypoints[i] = geo.Waypoint{Lat: p[0], Lon: p[1]}
	}

	st, err := s.registry.RegisterRoute(req.RouteID, waypoints, track.RouteOptions{
		EstimatedDuration: time.Duration(req.EstimatedDurationMs) * time.Millisecond,
		SpeedMultiplier:   req.SpeedMultiplier,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, st)
}

func (s *Server) handleListRoutes(w http.ResponseWriter, _ *http.Request) {
	ids := s.registry.RouteIDs()
	out := make([]routeResponse, 0, len(ids))
	for _, id := range ids {
		// A route can be removed between listing and lookup; skip it.
		if resp, err := s.routeResponse(id); err == nil {
			out = append(out, resp)
		}
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleRouteStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.routeResponse(r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleRemoveRoute(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.RemoveRoute(r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "removed"})
}

type startRequest struct {
	DurationMs int64 `json:"duration_ms" validate:"gte=0"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength > 0 {
		if err := decodeValid(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	err := s.registry.StartAnimation(r.PathValue("id"), track.StartOptions{
		Duration: time.Duration(req.DurationMs) * time.Millisecond,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeStatus(w, r.PathValue("id"))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.PauseAnimation(r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeStatus(w, r.PathValue("id"))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.ResumeAnimation(r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeStatus(w, r.PathValue("id"))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.StopAnimation(r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeStatus(w, r.PathValue("id"))
}

type speedRequest struct {
	Multiplier float64 `json:"multiplier" validate:"required"`
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := decodeValid(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.registry.SetSpeed(r.PathValue("id"), req.Multiplier); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeStatus(w, r.PathValue("id"))
}

type markerRequest struct {
	Progress float64 `json:"progress"`
}

func (s *Server) handleMarker(w http.ResponseWriter, r *http.Request) {
	var req markerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.registry.UpdateMarkerAtProgress(r.PathValue("id"), req.Progress); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeStatus(w, r.PathValue("id"))
}

type gpsFixRequest struct {
	RouteID     string  `json:"route_id" validate:"required"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Accuracy    float64 `json:"accuracy" validate:"gte=0"`
	TimestampMs int64   `json:"timestamp_ms" validate:"gte=0"`
}

func (s *Server) handleGPSFix(w http.ResponseWriter, r *http.Request) {
	var req gpsFixRequest
	if err := decodeValid(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var ts time.Time
	if req.TimestampMs > 0 {
		ts = time.UnixMilli(req.TimestampMs)
	}
	err := s.registry.UpdateFromGPS(req.RouteID, req.Latitude, req.Longitude, track.FixMeta{
		AccuracyMeters: req.Accuracy,
		Timestamp:      ts,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeStatus(w, req.RouteID)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, _ *http.Request) {
	s.registry.EmergencyStop()
	httputil.WriteJSONOK(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSONOK(w, s.registry.GetPerformanceStats())
}

func (s *Server) handleParams(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSONOK(w, config.Effective(s.registry.Config()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		httputil.NotFound(w, "history recording is disabled")
		return
	}
	id := r.PathValue("id")
	fixes, err := s.history.RecentFixes(id, 200)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	rejections, err := s.history.RejectionCounts(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"route_id":   id,
		"fixes":      fixes,
		"rejections": rejections,
	})
}

func (s *Server) writeStatus(w http.ResponseWriter, id string) {
	resp, err := s.routeResponse(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteJSONOK(w, resp)
}
