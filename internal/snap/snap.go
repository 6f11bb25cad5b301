// Package snap decides, per GPS fix, whether the fix can be trusted onto the
// route geometry and where on the route it lands. Snapping is a pure
// function: identical inputs always produce identical results.
package snap

import (
	"time"

	"github.com/dispatchgrid/routetrack/internal/geo"
)

// RejectReason explains why a fix was not snapped to the route.
type RejectReason string

const (
	// RejectNone marks an accepted fix.
	RejectNone RejectReason = ""
	// RejectLowAccuracy marks a fix whose reported GPS accuracy is too poor
	// to override route geometry.
	RejectLowAccuracy RejectReason = "low_accuracy"
	// RejectTooFarFromRoute marks a fix whose nearest route point is beyond
	// the snap gate; the vehicle is genuinely off-route or the route is stale.
	RejectTooFarFromRoute RejectReason = "too_far_from_route"
)

// Config holds the snap gates.
type Config struct {
	// MaxSnapDistanceMeters is the largest distance between a fix and its
	// nearest route point for which the fix is still snapped onto the route.
	MaxSnapDistanceMeters float64

	// GPSAccuracyThresholdMeters is the worst reported fix accuracy that is
	// still trusted; fixes above it pass through raw.
	GPSAccuracyThresholdMeters float64
}

// DefaultConfig returns the production snap gates.
func DefaultConfig() Config {
	return Config{
		MaxSnapDistanceMeters:      100,
		GPSAccuracyThresholdMeters: 20,
	}
}

// Fix is one raw GPS sample as delivered by the telemetry transport.
type Fix struct {
	Lat            float64
	Lon            float64
	AccuracyMeters float64
	Timestamp      time.Time
}

// Result is the per-fix snap decision. It is ephemeral: produced per fix,
// never stored by the engine.
type Result struct {
	// Position is the snapped route point when Snapped, otherwise the raw fix.
	Position           Waypoint
	SnapDistanceMeters float64
	Snapped            bool
	// Progress is the fractional arc length of the snapped point, valid only
	// when Snapped.
	Progress float64
	Reason   RejectReason
}

// Waypoint aliases the geometry coordinate type so transport adapters can
// depend on snap alone.
type Waypoint = geo.Waypoint

// Snap projects fix onto the route and applies the accuracy and distance
// gates. Low-confidence GPS never overrides geometry: a fix with accuracy
// above the threshold is passed through raw without touching the index.
func Snap(fix Fix, idx *geo.Index, cfg Config) Result {
	if !(fix.AccuracyMeters <= cfg.GPSAccuracyThresholdMeters) {
		return Result{
			Position: Waypoint{Lat: fix.Lat, Lon: fix.Lon},
			Snapped:  false,
			Reason:   RejectLowAccuracy,
		}
	}

	nearest := idx.NearestPoint(fix.Lat, fix.Lon)

	// The negated comparison also rejects NaN distances from malformed fixes.
	if !(nearest.DistanceMeters <= cfg.MaxSnapDistanceMeters) {
		return Result{
			Position:           Waypoint{Lat: fix.Lat, Lon: fix.Lon},
			SnapDistanceMeters: nearest.DistanceMeters,
			Snapped:            false,
			Reason:             RejectTooFarFromRoute,
		}
	}

	progress := 0.0
	if total := idx.Total(); total > 0 {
		progress = nearest.ArcLength / total
	}
	return Result{
		Position:           nearest.Position,
		SnapDistanceMeters: nearest.DistanceMeters,
		Snapped:            true,
		Progress:           progress,
	}
}
