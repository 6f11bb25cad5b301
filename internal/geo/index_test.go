package geo

import (
	"errors"
	"math"
	"testing"
)

// threePointEquator is the canonical equal-segment test route: two segments
// of one longitude degree each along the equator.
func threePointEquator(t *testing.T) *Index {
	t.Helper()
	idx, err := NewIndex([]Waypoint{{0, 0}, {0, 1}, {0, 2}})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

func TestNewIndex_RejectsInvalidGeometry(t *testing.T) {
	cases := []struct {
		name      string
		waypoints []Waypoint
	}{
		{"empty", nil},
		{"single point", []Waypoint{{1, 2}}},
		{"nan latitude", []Waypoint{{math.NaN(), 0}, {0, 1}}},
		{"inf longitude", []Waypoint{{0, 0}, {0, math.Inf(1)}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewIndex(tc.waypoints); !errors.Is(err, ErrInvalidGeometry) {
				t.Errorf("NewIndex(%v) error = %v, want ErrInvalidGeometry", tc.waypoints, err)
			}
		})
	}
}

func TestNewIndex_CumulativeInvariant(t *testing.T) {
	wps := []Waypoint{{51.5, -0.1}, {51.51, -0.08}, {51.52, -0.05}, {51.52, -0.05}, {51.53, 0.0}}
	idx, err := NewIndex(wps)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}

	var sum float64
	for i := 1; i < len(wps); i++ {
		sum += Haversine(wps[i-1], wps[i])
	}
	if math.Abs(idx.Total()-sum) > 1e-9 {
		t.Errorf("Total() = %v, want sum of segment haversines %v", idx.Total(), sum)
	}
	for i := 1; i < len(wps); i++ {
		if idx.cumulative[i] < idx.cumulative[i-1] {
			t.Errorf("cumulative[%d] = %v decreases from %v", i, idx.cumulative[i], idx.cumulative[i-1])
		}
	}
	if idx.cumulative[0] != 0 {
		t.Errorf("cumulative[0] = %v, want 0", idx.cumulative[0])
	}
}

func TestPositionAtDistance_EndpointsExact(t *testing.T) {
	idx := threePointEquator(t)

	if got := idx.PositionAtDistance(0); got != (Waypoint{0, 0}) {
		t.Errorf("PositionAtDistance(0) = %v, want first waypoint exactly", got)
	}
	if got := idx.PositionAtDistance(idx.Total()); got != (Waypoint{0, 2}) {
		t.Errorf("PositionAtDistance(total) = %v, want last waypoint exactly", got)
	}
	// Clamping beyond the ends.
	if got := idx.PositionAtDistance(-50); got != (Waypoint{0, 0}) {
		t.Errorf("PositionAtDistance(-50) = %v, want first waypoint", got)
	}
	if got := idx.PositionAtDistance(idx.Total() + 50); got != (Waypoint{0, 2}) {
		t.Errorf("PositionAtDistance(total+50) = %v, want last waypoint", got)
	}
}

func TestPositionAtDistance_MidpointByArcLength(t *testing.T) {
	idx := threePointEquator(t)

	mid := idx.PositionAtDistance(idx.Total() / 2)
	if math.Abs(mid.Lat) > 1e-9 || math.Abs(mid.Lon-1) > 1e-9 {
		t.Errorf("PositionAtDistance(total/2) = %v, want (0, 1)", mid)
	}

	quarter := idx.PositionAtDistance(idx.Total() / 4)
	if math.Abs(quarter.Lon-0.5) > 1e-9 {
		t.Errorf("PositionAtDistance(total/4).Lon = %v, want 0.5", quarter.Lon)
	}
}

func TestHeadingAtDistance(t *testing.T) {
	idx := threePointEquator(t)

	// Due east along the equator.
	if h := idx.HeadingAtDistance(idx.Total() / 4); math.Abs(h-90) > 1e-6 {
		t.Errorf("HeadingAtDistance(quarter) = %v, want 90", h)
	}

	// A degenerate leading segment reuses the next segment's heading.
	dup, err := NewIndex([]Waypoint{{0, 0}, {0, 0}, {0, 1}})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if h := dup.HeadingAtDistance(0); math.Abs(h-90) > 1e-6 {
		t.Errorf("HeadingAtDistance(0) over degenerate segment = %v, want 90", h)
	}
}

func TestNearestPoint_SegmentMidpoint(t *testing.T) {
	idx := threePointEquator(t)

	// Exactly on the midpoint of the second segment.
	n := idx.NearestPoint(0, 1.5)
	if n.DistanceMeters > 1e-6 {
		t.Errorf("NearestPoint on-segment distance = %v, want ~0", n.DistanceMeters)
	}
	wantArc := idx.Total() * 0.75
	if math.Abs(n.ArcLength-wantArc) > 1e-3 {
		t.Errorf("NearestPoint arc length = %v, want %v", n.ArcLength, wantArc)
	}
}

func TestNearestPoint_ClampsToSegmentEnds(t *testing.T) {
	idx, err := NewIndex([]Waypoint{{0, 0}, {0, 1}})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}

	// Past the end of the route: projection clamps to the last waypoint.
	n := idx.NearestPoint(0, 1.5)
	if math.Abs(n.Position.Lon-1) > 1e-9 {
		t.Errorf("NearestPoint past end = %v, want clamp to (0, 1)", n.Position)
	}
	if math.Abs(n.ArcLength-idx.Total()) > 1e-9 {
		t.Errorf("NearestPoint past end arc = %v, want total %v", n.ArcLength, idx.Total())
	}
}

func TestNearestPoint_OffsetDistance(t *testing.T) {
	idx := threePointEquator(t)

	// ~111m north of the route (0.001 degrees of latitude at the equator).
	n := idx.NearestPoint(0.001, 1.0)
	want := 0.001 * earthRadiusMeters * math.Pi / 180
	if math.Abs(n.DistanceMeters-want) > 1 {
		t.Errorf("NearestPoint offset distance = %v, want ~%v", n.DistanceMeters, want)
	}
}

func TestBearing(t *testing.T) {
	cases := []struct {
		a, b Waypoint
		want float64
	}{
		{Waypoint{0, 0}, Waypoint{1, 0}, 0},   // north
		{Waypoint{0, 0}, Waypoint{0, 1}, 90},  // east
		{Waypoint{1, 0}, Waypoint{0, 0}, 180}, // south
		{Waypoint{0, 1}, Waypoint{0, 0}, 270}, // west
	}
	for _, tc := range cases {
		if got := Bearing(tc.a, tc.b); math.Abs(got-tc.want) > 1e-6 {
			t.Errorf("Bearing(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
