package track

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// tickHistoryLen bounds the tick-instant ring used to measure the real
// tick rate. At the default 30 Hz this is four seconds of history.
const tickHistoryLen = 120

// run is the shared scheduler loop. One goroutine drives every animating
// route; adding a route never adds a timer.
func (r *Registry) run() {
	for {
		select {
		case <-r.done:
			return
		case now := <-r.ticker.C():
			r.tick(now)
		}
	}
}

// tick advances clock-driven routes and fans marker states out to tick
// subscribers. A fault in any one route's bookkeeping cannot reach another:
// each route is advanced independently and callbacks run outside the lock.
func (r *Registry) tick(now time.Time) {
	type fanout struct {
		cbs    []MarkerCallback
		marker MarkerState
	}
	var fanouts []fanout

	r.mu.Lock()
	r.tickTimes = append(r.tickTimes, now)
	if len(r.tickTimes) > tickHistoryLen {
		r.tickTimes = r.tickTimes[len(r.tickTimes)-tickHistoryLen:]
	}

	for _, rt := range r.routes {
		if rt.status != StatusAnimating {
			continue
		}

		if rt.gpsFresh(now, r.cfg.GPSStaleness) {
			// Telemetry owns the marker. Keep the clock base sliding so
			// extrapolation continues seamlessly from the GPS progress the
			// moment the feed goes stale.
			rt.rebase(now)
		} else {
			rt.advance(now)
			if rt.progress >= 1 {
				r.setStatus(rt, StatusCompleted, now)
			}
		}

		if len(rt.markerSubs) > 0 {
			f := fanout{marker: rt.marker(), cbs: make([]MarkerCallback, 0, len(rt.markerSubs))}
			for _, cb := range rt.markerSubs {
				f.cbs = append(f.cbs, cb)
			}
			fanouts = append(fanouts, f)
		}
	}
	r.mu.Unlock()

	for _, f := range fanouts {
		for _, cb := range f.cbs {
			cb(f.marker)
		}
	}
}

// PerformanceStats is the operational summary exposed to dashboards.
type PerformanceStats struct {
	ActiveRouteCount  int     `json:"active_route_count"`
	TicksPerSecond    float64 `json:"ticks_per_second"`
	SnapRejectionRate float64 `json:"snap_rejection_rate"`
}

// GetPerformanceStats reports the animating route count, the measured tick
// rate over the recent tick history, and the fraction of ingested fixes the
// snapper rejected.
func (r *Registry) GetPerformanceStats() PerformanceStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats PerformanceStats
	for _, rt := range r.routes {
		if rt.status == StatusAnimating {
			stats.ActiveRouteCount++
		}
	}

	if n := len(r.tickTimes); n >= 2 {
		intervals := make([]float64, 0, n-1)
		for i := 1; i < n; i++ {
			// Coalesced ticks share a timestamp; they are one tick.
			if d := r.tickTimes[i].Sub(r.tickTimes[i-1]).Seconds(); d > 0 {
				intervals = append(intervals, d)
			}
		}
		if len(intervals) > 0 {
			if mean := stat.Mean(intervals, nil); mean > 0 {
				stats.TicksPerSecond = 1 / mean
			}
		}
	}

	if total := r.fixesAccepted + r.fixesRejected; total > 0 {
		stats.SnapRejectionRate = float64(r.fixesRejected) / float64(total)
	}
	return stats
}
