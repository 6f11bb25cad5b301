package geo

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidGeometry is returned when a route cannot be indexed: fewer than
// two waypoints, or a waypoint with non-finite coordinates.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Index is the immutable arc-length parameterization of a route polyline.
// It owns an ordered copy of the waypoints and, per waypoint, the cumulative
// great-circle distance from the route start. All queries are pure.
type Index struct {
	waypoints  []Waypoint
	cumulative []float64 // cumulative[i] = arc length at waypoints[i]; cumulative[0] == 0
	total      float64
	cosRefLat  float64 // cos of the mean route latitude, for planar projection
}

// NewIndex builds an Index from an ordered waypoint list. It rejects fewer
// than two waypoints and non-finite coordinates with ErrInvalidGeometry.
func NewIndex(waypoints []Waypoint) (*Index, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 waypoints, got %d", ErrInvalidGeometry, len(waypoints))
	}

	wps := make([]Waypoint, len(waypoints))
	copy(wps, waypoints)

	var latSum float64
	for i, w := range wps {
		if !Finite(w) {
			return nil, fmt.Errorf("%w: non-finite coordinates at waypoint %d", ErrInvalidGeometry, i)
		}
		latSum += w.Lat
	}

	cumulative := make([]float64, len(wps))
	for i := 1; i < len(wps); i++ {
		cumulative[i] = cumulative[i-1] + Haversine(wps[i-1], wps[i])
	}

	return &Index{
		waypoints:  wps,
		cumulative: cumulative,
		total:      cumulative[len(cumulative)-1],
		cosRefLat:  math.Cos(latSum / float64(len(wps)) * math.Pi / 180),
	}, nil
}

// Total returns the route's total arc length in meters.
func (idx *Index) Total() float64 {
	return idx.total
}

// Len returns the number of waypoints.
func (idx *Index) Len() int {
	return len(idx.waypoints)
}

// Waypoints returns the indexed waypoints. Callers must not modify the
// returned slice.
func (idx *Index) Waypoints() []Waypoint {
	return idx.waypoints
}

// segmentAt returns the index i of the segment [waypoints[i], waypoints[i+1]]
// that encloses arc length d. d must already be clamped to [0, total].
func (idx *Index) segmentAt(d float64) int {
	// First cumulative value strictly greater than d; the segment starts one
	// waypoint earlier. Zero-length segments are skipped naturally because
	// their cumulative values are equal.
	i := sort.SearchFloat64s(idx.cumulative, d)
	if i < len(idx.cumulative) && idx.cumulative[i] == d {
		i++
	}
	i--
	if i < 0 {
		i = 0
	}
	if i > len(idx.waypoints)-2 {
		i = len(idx.waypoints) - 2
	}
	return i
}

// PositionAtDistance returns the point at arc length d along the route.
// d is clamped to [0, Total]. The endpoints are returned exactly.
func (idx *Index) PositionAtDistance(d float64) Waypoint {
	if d <= 0 || math.IsNaN(d) {
		return idx.waypoints[0]
	}
	if d >= idx.total {
		return idx.waypoints[len(idx.waypoints)-1]
	}

	i := idx.segmentAt(d)
	segLen := idx.cumulative[i+1] - idx.cumulative[i]
	if segLen == 0 {
		return idx.waypoints[i]
	}
	t := (d - idx.cumulative[i]) / segLen
	a, b := idx.waypoints[i], idx.waypoints[i+1]
	return Waypoint{Lat: lerp(a.Lat, b.Lat, t), Lon: lerp(a.Lon, b.Lon, t)}
}

// HeadingAtDistance returns the bearing in degrees [0, 360) of the segment
// enclosing arc length d. Zero-length segments reuse the nearest non-degenerate
// neighbour's heading; a fully degenerate route reports 0.
func (idx *Index) HeadingAtDistance(d float64) float64 {
	if math.IsNaN(d) {
		d = 0
	}
	if d < 0 {
		d = 0
	}
	if d > idx.total {
		d = idx.total
	}

	i := idx.segmentAt(d)
	if seg := idx.segmentLength(i); seg > 0 {
		return Bearing(idx.waypoints[i], idx.waypoints[i+1])
	}

	// Degenerate segment: walk forward, then backward, for a usable bearing.
	for j := i + 1; j < len(idx.waypoints)-1; j++ {
		if idx.segmentLength(j) > 0 {
			return Bearing(idx.waypoints[j], idx.waypoints[j+1])
		}
	}
	for j := i - 1; j >= 0; j-- {
		if idx.segmentLength(j) > 0 {
			return Bearing(idx.waypoints[j], idx.waypoints[j+1])
		}
	}
	return 0
}

func (idx *Index) segmentLength(i int) float64 {
	return idx.cumulative[i+1] - idx.cumulative[i]
}

// Nearest is the result of projecting a query point onto the route.
type Nearest struct {
	Position       Waypoint
	DistanceMeters float64
	ArcLength      float64
}

// NearestPoint projects (lat, lon) onto every route segment and returns the
// minimum-distance candidate along with its arc length from the route start.
//
// Projection and distance use an equirectangular planar approximation around
// the route's mean latitude rather than true geodesics. At city scale the
// error is far below GPS noise; callers that assert on distances must assert
// against this same approximation.
func (idx *Index) NearestPoint(lat, lon float64) Nearest {
	q := Waypoint{Lat: lat, Lon: lon}
	qx, qy := planarXY(q, idx.cosRefLat)

	best := Nearest{
		Position:       idx.waypoints[0],
		DistanceMeters: math.Inf(1),
	}

	for i := 0; i < len(idx.waypoints)-1; i++ {
		a, b := idx.waypoints[i], idx.waypoints[i+1]
		ax, ay := planarXY(a, idx.cosRefLat)
		bx, by := planarXY(b, idx.cosRefLat)

		dx, dy := bx-ax, by-ay
		segSq := dx*dx + dy*dy

		var t float64
		if segSq > 0 {
			t = ((qx-ax)*dx + (qy-ay)*dy) / segSq
			if t < 0 {
				t = 0
			} else if t > 1 {
				t = 1
			}
		}

		px, py := ax+t*dx, ay+t*dy
		dist := math.Hypot(qx-px, qy-py)
		if dist < best.DistanceMeters {
			best = Nearest{
				Position:       Waypoint{Lat: lerp(a.Lat, b.Lat, t), Lon: lerp(a.Lon, b.Lon, t)},
				DistanceMeters: dist,
				ArcLength:      idx.cumulative[i] + t*idx.segmentLength(i),
			}
		}
	}
	return best
}
