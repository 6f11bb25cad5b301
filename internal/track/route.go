// Package track is the route-following engine: it owns per-route state,
// drives time-based marker animation from one shared scheduler, and
// reconciles live GPS telemetry into monotonically progressing marker
// positions.
package track

import (
	"time"

	"github.com/dispatchgrid/routetrack/internal/geo"
)

// Status is the lifecycle state of a tracked route.
type Status string

const (
	StatusRegistered Status = "registered" // registered, not yet animating
	StatusAnimating  Status = "animating"  // advancing by clock or GPS
	StatusPaused     Status = "paused"     // clock frozen, progress retained
	StatusCompleted  Status = "completed"  // progress reached 1
	StatusRemoved    Status = "removed"    // destroyed, no longer queryable
)

// GPSSample is the last raw fix retained on a route.
type GPSSample struct {
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	AccuracyMeters float64   `json:"accuracy_m"`
	Timestamp      time.Time `json:"timestamp"`
}

// MarkerState is the per-route render state consumed by the map layer.
// Heading always comes from the route geometry at the current arc length,
// never from consecutive raw fixes, so markers do not jitter.
type MarkerState struct {
	RouteID        string       `json:"route_id"`
	Position       geo.Waypoint `json:"position"`
	HeadingDegrees float64      `json:"heading_deg"`
	Progress       float64      `json:"progress"`
}

// RouteStatus is the queryable snapshot of one route.
type RouteStatus struct {
	RouteID       string     `json:"route_id"`
	Status        Status     `json:"status"`
	Progress      float64    `json:"progress"`
	GPSActive     bool       `json:"gps_active"`
	LastGPSSample *GPSSample `json:"last_gps_sample,omitempty"`
}

// GPSCallback receives the marker state and raw sample for every accepted fix.
type GPSCallback func(m MarkerState, s GPSSample)

// MarkerCallback receives the marker state on every scheduler tick while the
// route is animating.
type MarkerCallback func(m MarkerState)

// route is the per-vehicle mutable record. Every field is guarded by the
// registry mutex; nothing outside the registry holds a reference.
type route struct {
	id   string
	geom *geo.Index

	status   Status
	progress float64
	speed    float64
	duration time.Duration

	gpsActive bool
	lastFix   *GPSSample

	// Clock extrapolation follows baseProgress + elapsed*speed/duration.
	// The base is rebased whenever progress is set from outside the tick
	// (GPS accept, manual override, speed change, resume) so extrapolation
	// continues from the new progress without a discontinuity.
	baseProgress float64
	baseTime     time.Time

	gpsSubs    map[string]GPSCallback
	markerSubs map[string]MarkerCallback
}

// clockProgress returns the time-extrapolated progress at now, clamped to
// [0, 1]. It never reads the GPS-set progress directly; callers combine the
// two with the monotonic max rule.
func (rt *route) clockProgress(now time.Time) float64 {
	if rt.duration <= 0 {
		return 1
	}
	elapsed := now.Sub(rt.baseTime)
	p := rt.baseProgress + elapsed.Seconds()*rt.speed/rt.duration.Seconds()
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// rebase anchors clock extrapolation at the current progress.
func (rt *route) rebase(now time.Time) {
	rt.baseProgress = rt.progress
	rt.baseTime = now
}

// advance pulls progress up to the clock-extrapolated value. Progress never
// moves backward here.
func (rt *route) advance(now time.Time) {
	if p := rt.clockProgress(now); p > rt.progress {
		rt.progress = p
	}
}

// gpsFresh reports whether the last sample is recent enough for telemetry to
// own the marker instead of the clock.
func (rt *route) gpsFresh(now time.Time, staleness time.Duration) bool {
	return rt.gpsActive && rt.lastFix != nil && now.Sub(rt.lastFix.Timestamp) <= staleness
}

// marker computes the render state from the current progress.
func (rt *route) marker() MarkerState {
	arc := rt.progress * rt.geom.Total()
	return MarkerState{
		RouteID:        rt.id,
		Position:       rt.geom.PositionAtDistance(arc),
		HeadingDegrees: rt.geom.HeadingAtDistance(arc),
		Progress:       rt.progress,
	}
}

func (rt *route) snapshot() RouteStatus {
	st := RouteStatus{
		RouteID:   rt.id,
		Status:    rt.status,
		Progress:  rt.progress,
		GPSActive: rt.gpsActive,
	}
	if rt.lastFix != nil {
		fix := *rt.lastFix
		st.LastGPSSample = &fix
	}
	return st
}
