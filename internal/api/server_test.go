package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchgrid/routetrack/internal/timeutil"
	"github.com/dispatchgrid/routetrack/internal/track"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	registry := track.New(track.Config{Clock: clock})
	t.Cleanup(registry.Close)

	s := NewServer(Config{Listen: ":0", Registry: registry})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func registerTestRoute(t *testing.T, ts *httptest.Server, id string) {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/routes", map[string]interface{}{
		"route_id":  id,
		"waypoints": [][2]float64{{0, 0}, {0, 1}, {0, 2}},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestRegisterRoute_Endpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/routes", map[string]interface{}{
		"route_id":  "unit-1",
		"waypoints": [][2]float64{{0, 0}, {0, 2}},
	})
	var st track.RouteStatus
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeBody(t, resp, &st)
	assert.Equal(t, "unit-1", st.RouteID)
	assert.Equal(t, track.StatusRegistered, st.Status)
}

func TestRegisterRoute_EndpointRejectsBadPayloads(t *testing.T) {
	_, ts := newTestServer(t)

	// Single waypoint fails validation before reaching the engine.
	resp := postJSON(t, ts.URL+"/api/routes", map[string]interface{}{
		"route_id":  "unit-1",
		"waypoints": [][2]float64{{0, 0}},
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Missing route id.
	resp = postJSON(t, ts.URL+"/api/routes", map[string]interface{}{
		"waypoints": [][2]float64{{0, 0}, {0, 1}},
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Malformed JSON.
	r, err := http.Post(ts.URL+"/api/routes", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestMarkerOverride_Endpoint(t *testing.T) {
	_, ts := newTestServer(t)
	registerTestRoute(t, ts, "unit-1")

	resp := postJSON(t, ts.URL+"/api/routes/unit-1/marker", map[string]interface{}{"progress": 0.5})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rr routeResponse
	decodeBody(t, resp, &rr)
	assert.InDelta(t, 0.5, rr.Marker.Progress, 1e-9)
	assert.InDelta(t, 1.0, rr.Marker.Position.Lon, 1e-9)
}

func TestGPSFix_Endpoint(t *testing.T) {
	_, ts := newTestServer(t)
	registerTestRoute(t, ts, "unit-1")

	resp := postJSON(t, ts.URL+"/api/gps", map[string]interface{}{
		"route_id":  "unit-1",
		"latitude":  0.0,
		"longitude": 1.00001,
		"accuracy":  5.0,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rr routeResponse
	decodeBody(t, resp, &rr)
	assert.True(t, rr.GPSActive)
	assert.InDelta(t, 0.5, rr.Progress, 1e-3)

	// Unknown route maps to 404.
	resp = postJSON(t, ts.URL+"/api/gps", map[string]interface{}{
		"route_id": "ghost", "latitude": 0.0, "longitude": 1.0, "accuracy": 5.0,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLifecycle_Endpoints(t *testing.T) {
	_, ts := newTestServer(t)
	registerTestRoute(t, ts, "unit-1")

	for _, step := range []string{"start", "pause", "resume", "stop"} {
		resp := postJSON(t, ts.URL+"/api/routes/unit-1/"+step, map[string]interface{}{})
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "step %s", step)
	}

	resp := postJSON(t, ts.URL+"/api/routes/ghost/start", map[string]interface{}{})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSpeed_EndpointValidation(t *testing.T) {
	_, ts := newTestServer(t)
	registerTestRoute(t, ts, "unit-1")

	resp := postJSON(t, ts.URL+"/api/routes/unit-1/speed", map[string]interface{}{"multiplier": -2})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/routes/unit-1/speed", map[string]interface{}{"multiplier": 2})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRemoveRoute_Endpoint(t *testing.T) {
	_, ts := newTestServer(t)
	registerTestRoute(t, ts, "unit-1")

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/routes/unit-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	r, err := http.Get(ts.URL + "/api/routes/unit-1")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}

func TestStatsAndParams_Endpoints(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	var stats track.PerformanceStats
	decodeBody(t, resp, &stats)
	assert.Zero(t, stats.ActiveRouteCount)

	resp, err = http.Get(ts.URL + "/api/params")
	require.NoError(t, err)
	var params map[string]interface{}
	decodeBody(t, resp, &params)
	assert.Contains(t, params, "max_snap_distance_m")
	assert.Contains(t, params, "gps_staleness_ms")
}

func TestEmergencyStop_Endpoint(t *testing.T) {
	_, ts := newTestServer(t)
	registerTestRoute(t, ts, "unit-1")
	resp := postJSON(t, ts.URL+"/api/routes/unit-1/start", map[string]interface{}{"duration_ms": 10000})
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/emergency-stop", map[string]interface{}{})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	r, err := http.Get(ts.URL + "/api/routes/unit-1")
	require.NoError(t, err)
	var rr routeResponse
	decodeBody(t, r, &rr)
	assert.Equal(t, track.StatusPaused, rr.Status)
}

func TestTrackingLinks(t *testing.T) {
	_, ts := newTestServer(t)
	registerTestRoute(t, ts, "unit-1")

	resp := postJSON(t, ts.URL+"/api/tracking-links", map[string]interface{}{"route_id": "unit-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var link trackingLink
	decodeBody(t, resp, &link)
	require.NotEmpty(t, link.Token)

	r, err := http.Get(ts.URL + "/api/track/" + link.Token)
	require.NoError(t, err)
	var rr routeResponse
	decodeBody(t, r, &rr)
	assert.Equal(t, "unit-1", rr.RouteID)

	// Unknown token.
	r, err = http.Get(ts.URL + "/api/track/not-a-token")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNotFound, r.StatusCode)

	// Links against unregistered routes are refused.
	resp = postJSON(t, ts.URL+"/api/tracking-links", map[string]interface{}{"route_id": "ghost"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTelemetrySocket_IngestsFixes(t *testing.T) {
	_, ts := newTestServer(t)
	registerTestRoute(t, ts, "unit-1")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/telemetry"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"unit_id":   "unit-1",
		"latitude":  0.0,
		"longitude": 1.00001,
		"accuracy":  5.0,
		"timestamp": time.Now().UnixMilli(),
	}))
	var ack telemetryAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.True(t, ack.OK)
	assert.Equal(t, "unit-1", ack.UnitID)

	// An unknown unit is acked with an error; the stream stays open.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"unit_id": "ghost", "latitude": 0.0, "longitude": 1.0, "accuracy": 5.0,
	}))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.False(t, ack.OK)
	assert.NotEmpty(t, ack.Error)

	// The accepted fix reached the engine.
	r, err := http.Get(fmt.Sprintf("%s/api/routes/%s", ts.URL, "unit-1"))
	require.NoError(t, err)
	var rr routeResponse
	decodeBody(t, r, &rr)
	assert.True(t, rr.GPSActive)
	assert.InDelta(t, 0.5, rr.Progress, 1e-3)
}

func TestHistoryEndpoint_DisabledWithoutStore(t *testing.T) {
	_, ts := newTestServer(t)
	r, err := http.Get(ts.URL + "/api/history/unit-1")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	r, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusOK, r.StatusCode)
}
