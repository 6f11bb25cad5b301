package snap

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dispatchgrid/routetrack/internal/geo"
)

func equatorRoute(t *testing.T) *geo.Index {
	t.Helper()
	idx, err := geo.NewIndex([]geo.Waypoint{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 0, Lon: 2}})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

func TestSnap_AcceptsNearRouteFix(t *testing.T) {
	idx := equatorRoute(t)

	res := Snap(Fix{Lat: 0, Lon: 1.00001, AccuracyMeters: 5}, idx, DefaultConfig())
	if !res.Snapped {
		t.Fatalf("expected fix to snap, got reason %q", res.Reason)
	}
	if math.Abs(res.Progress-0.5) > 1e-3 {
		t.Errorf("Progress = %v, want ~0.5", res.Progress)
	}
	if res.SnapDistanceMeters > 5 {
		t.Errorf("SnapDistanceMeters = %v, want near zero", res.SnapDistanceMeters)
	}
	if res.Reason != RejectNone {
		t.Errorf("Reason = %q, want none", res.Reason)
	}
}

func TestSnap_RejectsLowAccuracy(t *testing.T) {
	idx := equatorRoute(t)

	// Right on the route, but the receiver itself does not trust the fix.
	res := Snap(Fix{Lat: 0, Lon: 1, AccuracyMeters: 35}, idx, DefaultConfig())
	if res.Snapped {
		t.Fatal("expected low-accuracy fix to be rejected")
	}
	if res.Reason != RejectLowAccuracy {
		t.Errorf("Reason = %q, want %q", res.Reason, RejectLowAccuracy)
	}
	// The raw fix passes through unchanged.
	if res.Position != (Waypoint{Lat: 0, Lon: 1}) {
		t.Errorf("Position = %v, want raw fix position", res.Position)
	}
}

func TestSnap_RejectsFarFromRoute(t *testing.T) {
	idx := equatorRoute(t)

	res := Snap(Fix{Lat: 10, Lon: 10, AccuracyMeters: 5}, idx, DefaultConfig())
	if res.Snapped {
		t.Fatal("expected far-off fix to be rejected")
	}
	if res.Reason != RejectTooFarFromRoute {
		t.Errorf("Reason = %q, want %q", res.Reason, RejectTooFarFromRoute)
	}
	if res.Position != (Waypoint{Lat: 10, Lon: 10}) {
		t.Errorf("Position = %v, want raw fix position", res.Position)
	}
}

func TestSnap_RejectsMalformedFix(t *testing.T) {
	idx := equatorRoute(t)

	res := Snap(Fix{Lat: math.NaN(), Lon: 1, AccuracyMeters: 5}, idx, DefaultConfig())
	if res.Snapped {
		t.Fatal("expected non-finite fix to be rejected")
	}
	if res.Reason != RejectTooFarFromRoute {
		t.Errorf("Reason = %q, want %q", res.Reason, RejectTooFarFromRoute)
	}
}

func TestSnap_Idempotent(t *testing.T) {
	idx := equatorRoute(t)
	cfg := DefaultConfig()
	fix := Fix{Lat: 0.0002, Lon: 0.7, AccuracyMeters: 8, Timestamp: time.Unix(1700000000, 0)}

	first := Snap(fix, idx, cfg)
	second := Snap(fix, idx, cfg)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Snap is not idempotent (-first +second):\n%s", diff)
	}
}

func TestSnap_GateBoundaries(t *testing.T) {
	idx := equatorRoute(t)
	cfg := Config{MaxSnapDistanceMeters: 100, GPSAccuracyThresholdMeters: 20}

	// Accuracy exactly at the threshold is still trusted.
	if res := Snap(Fix{Lat: 0, Lon: 1, AccuracyMeters: 20}, idx, cfg); !res.Snapped {
		t.Errorf("accuracy == threshold rejected with %q, want accepted", res.Reason)
	}

	// ~55m off-route fits inside the 100m gate.
	if res := Snap(Fix{Lat: 0.0005, Lon: 1, AccuracyMeters: 5}, idx, cfg); !res.Snapped {
		t.Errorf("55m offset rejected with %q, want accepted", res.Reason)
	}

	// ~222m off-route does not.
	if res := Snap(Fix{Lat: 0.002, Lon: 1, AccuracyMeters: 5}, idx, cfg); res.Snapped {
		t.Error("222m offset accepted, want rejected")
	}
}
