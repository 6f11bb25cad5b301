package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchgrid/routetrack/internal/httputil"
)

// trackingLink is a shareable, unauthenticated read-only view of one route,
// handed to reporters so they can watch the responding unit approach.
type trackingLink struct {
	RouteID   string    `json:"route_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const defaultLinkTTL = 24 * time.Hour

type createLinkRequest struct {
	RouteID  string `json:"route_id" validate:"required"`
	TTLHours int    `json:"ttl_hours" validate:"gte=0,lte=168"`
}

func (s *Server) handleCreateTrackingLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := decodeValid(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if _, err := s.registry.GetStatus(req.RouteID); err != nil {
		writeEngineError(w, err)
		return
	}

	ttl := defaultLinkTTL
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}
	link := trackingLink{
		RouteID:   req.RouteID,
		Token:     uuid.NewString(),
		ExpiresAt: time.Now().Add(ttl),
	}

	s.mu.Lock()
	s.links[link.Token] = link
	s.mu.Unlock()

	httputil.WriteJSON(w, http.StatusCreated, link)
}

func (s *Server) handleTrackingLink(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	s.mu.Lock()
	link, ok := s.links[token]
	if ok && time.Now().After(link.ExpiresAt) {
		delete(s.links, token)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		httputil.NotFound(w, "unknown or expired tracking link")
		return
	}

	resp, err := s.routeResponse(link.RouteID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httputil.WriteJSONOK(w, resp)
}
