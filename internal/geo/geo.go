// Package geo provides the route geometry primitives used by the tracking
// engine: waypoints, great-circle and planar distance helpers, and the
// arc-length-indexed polyline representation of a route.
package geo

import "math"

// Waypoint is a single geographic coordinate in an ordered route.
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

const (
	// earthRadiusMeters is the mean Earth radius used by all distance math.
	earthRadiusMeters = 6371000.0

	// metersPerDegree is the arc length of one degree of latitude.
	metersPerDegree = earthRadiusMeters * math.Pi / 180.0
)

// Haversine returns the great-circle distance in meters between a and b.
func Haversine(a, b Waypoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

// Bearing returns the initial bearing in degrees [0, 360) of the great-circle
// path from a to b. North is 0, east is 90.
func Bearing(a, b Waypoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Finite reports whether the waypoint has finite, representable coordinates.
func Finite(w Waypoint) bool {
	return !math.IsNaN(w.Lat) && !math.IsInf(w.Lat, 0) &&
		!math.IsNaN(w.Lon) && !math.IsInf(w.Lon, 0)
}

// planarXY converts a waypoint to local planar coordinates in meters using an
// equirectangular projection around a reference latitude. Longitude degrees
// are scaled by cos(refLat); latitude degrees map directly. The error is
// negligible at city scale, which is the operating envelope of the engine.
func planarXY(w Waypoint, cosRefLat float64) (x, y float64) {
	return w.Lon * metersPerDegree * cosRefLat, w.Lat * metersPerDegree
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
