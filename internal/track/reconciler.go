package track

import (
	"fmt"
	"time"

	"github.com/dispatchgrid/routetrack/internal/monitoring"
	"github.com/dispatchgrid/routetrack/internal/snap"
)

// FixMeta carries the non-positional fields of an ingested fix.
type FixMeta struct {
	AccuracyMeters float64
	Timestamp      time.Time
}

// UpdateFromGPS is the telemetry ingestion entry point. It snaps the fix,
// and on acceptance marks GPS active, stores the sample and pulls progress
// up to the snapped value. Progress from live telemetry never regresses the
// marker: a noisy fix implying a smaller arc length leaves progress alone.
//
// A rejected fix is a recorded decision, not an error: progress is untouched
// and the scheduler keeps extrapolating. Only an unregistered route id is an
// error.
func (r *Registry) UpdateFromGPS(routeID string, lat, lon float64, meta FixMeta) error {
	r.mu.Lock()

	rt, ok := r.routes[routeID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownRoute, routeID)
	}

	now := r.clock.Now()
	ts := meta.Timestamp
	if ts.IsZero() {
		ts = now
	}

	fix := snap.Fix{Lat: lat, Lon: lon, AccuracyMeters: meta.AccuracyMeters, Timestamp: ts}
	res := snap.Snap(fix, rt.geom, r.snapConfig())

	r.recordFix(FixRecord{
		RouteID:            routeID,
		Lat:                lat,
		Lon:                lon,
		AccuracyMeters:     meta.AccuracyMeters,
		Snapped:            res.Snapped,
		Reason:             res.Reason,
		Progress:           res.Progress,
		SnapDistanceMeters: res.SnapDistanceMeters,
		Timestamp:          ts,
	})

	if !res.Snapped {
		r.fixesRejected++
		monitoring.Logf("route %s: fix rejected (%s) accuracy=%.1fm dist=%.1fm",
			routeID, res.Reason, meta.AccuracyMeters, res.SnapDistanceMeters)
		r.mu.Unlock()
		return nil
	}

	r.fixesAccepted++
	rt.gpsActive = true
	sample := GPSSample{Lat: lat, Lon: lon, AccuracyMeters: meta.AccuracyMeters, Timestamp: ts}
	rt.lastFix = &sample

	if res.Progress > rt.progress {
		rt.progress = res.Progress
	}
	rt.rebase(now)
	if rt.progress >= 1 && rt.status == StatusAnimating {
		r.setStatus(rt, StatusCompleted, now)
	}

	marker := rt.marker()
	cbs := make([]GPSCallback, 0, len(rt.gpsSubs))
	for _, cb := range rt.gpsSubs {
		cbs = append(cbs, cb)
	}
	r.mu.Unlock()

	for _, cb := range cbs {
		cb(marker, sample)
	}
	return nil
}

func (r *Registry) recordFix(rec FixRecord) {
	if err := r.rec.RecordFix(rec); err != nil {
		monitoring.Logf("record fix for route %s: %v", rec.RouteID, err)
	}
}
