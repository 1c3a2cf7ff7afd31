// Package geo provides the geospatial primitives used by the fence engine:
// great-circle distance, bearing, point-in-polygon containment and signed
// distance to a polygon boundary. All functions are pure and never panic.
package geo

import (
	"math"
)

// earthRadiusMeters is the mean Earth radius used for haversine math.
const earthRadiusMeters = 6371000.0

// Vertex is one polygon corner in WGS84 coordinates. Vertices are ordered
// (longitude, latitude), matching the GeoJSON convention used on the wire.
type Vertex struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Distance returns the haversine great-circle distance in meters between two
// WGS84 points. Invalid numeric input (NaN or Inf) yields 0 rather than
// propagating garbage into downstream severity math.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if !finite(lat1) || !finite(lon1) || !finite(lat2) || !finite(lon2) {
		return 0.0
	}

	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Bearing returns the initial compass bearing in degrees [0, 360) from point 1
// to point 2.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	if !finite(lat1) || !finite(lon1) || !finite(lat2) || !finite(lon2) {
		return 0.0
	}

	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dLambda := radians(lon2 - lon1)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// PointInPolygon reports whether the point lies inside the polygon using a
// ray-casting test over the ordered vertices. Degenerate or self-intersecting
// polygons are not validated; the result for those is unspecified but the
// function never panics.
func PointInPolygon(lat, lon float64, vertices []Vertex) bool {
	if len(vertices) < 3 {
		return false
	}

	inside := false
	j := len(vertices) - 1
	for i := 0; i < len(vertices); i++ {
		vi, vj := vertices[i], vertices[j]
		if (vi.Lat > lat) != (vj.Lat > lat) {
			intersectLon := (vj.Lon-vi.Lon)*(lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lon
			if lon < intersectLon {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// DistanceToBoundary returns the distance in meters from the point to the
// nearest polygon edge, negative when the point lies inside the polygon and
// positive when outside. The sign convention is load-bearing: severity and
// approach detection depend on it.
func DistanceToBoundary(lat, lon float64, vertices []Vertex) float64 {
	if len(vertices) < 3 {
		return 0.0
	}

	minDist := math.Inf(1)
	j := len(vertices) - 1
	for i := 0; i < len(vertices); i++ {
		d := pointToSegmentMeters(lat, lon, vertices[j], vertices[i])
		if d < minDist {
			minDist = d
		}
		j = i
	}

	if PointInPolygon(lat, lon, vertices) {
		return -minDist
	}
	return minDist
}

// pointToSegmentMeters computes the distance from a point to one polygon edge.
// The edge is projected onto a local tangent plane around the point, which is
// accurate at paddock scale.
func pointToSegmentMeters(lat, lon float64, a, b Vertex) float64 {
	cosLat := math.Cos(radians(lat))

	// Local east/north offsets in meters relative to the query point.
	ax := radians(a.Lon-lon) * cosLat * earthRadiusMeters
	ay := radians(a.Lat-lat) * earthRadiusMeters
	bx := radians(b.Lon-lon) * cosLat * earthRadiusMeters
	by := radians(b.Lat-lat) * earthRadiusMeters

	dx := bx - ax
	dy := by - ay
	segLenSq := dx*dx + dy*dy
	if segLenSq == 0 {
		return math.Hypot(ax, ay)
	}

	// Projection parameter of the origin (the query point) onto the segment.
	t := -(ax*dx + ay*dy) / segLenSq
	t = math.Max(0, math.Min(1, t))

	cx := ax + t*dx
	cy := ay + t*dy
	return math.Hypot(cx, cy)
}

// Centroid returns the arithmetic mean of the polygon vertices. Used for
// status projections, not for containment math.
func Centroid(vertices []Vertex) (lat, lon float64) {
	if len(vertices) == 0 {
		return 0, 0
	}
	for _, v := range vertices {
		lat += v.Lat
		lon += v.Lon
	}
	n := float64(len(vertices))
	return lat / n, lon / n
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
