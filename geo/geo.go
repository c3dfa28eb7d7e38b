// Package geo provides the small set of spherical-Earth geometry primitives
// shared by instrument, environment and world: ECEF vectors, great-circle
// arc distance, and equirectangular projection with antimeridian/pole
// handling for footprint polygons.
package geo

import "math"

// EarthRadiusMeters is R⊕, the constant equatorial radius used throughout
// the core (spec.md §4.3).
const EarthRadiusMeters = 6378137.0

// Vec3 is a 3D Cartesian (ECEF) position or vector.
type Vec3 struct {
	X, Y, Z float64
}

// LatLon is a geodetic position in degrees.
type LatLon struct {
	LatDeg, LonDeg float64
}

// Sub returns v - u.
func (v Vec3) Sub(u Vec3) Vec3 {
	return Vec3{v.X - u.X, v.Y - u.Y, v.Z - u.Z}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Dot returns the dot product of v and u.
func (v Vec3) Dot(u Vec3) float64 {
	return v.X*u.X + v.Y*u.Y + v.Z*u.Z
}

// Distance returns the Euclidean distance between two ECEF points.
func Distance(a, b Vec3) float64 {
	return a.Sub(b).Norm()
}

// ToLatLon converts an ECEF position on (or near) a sphere of radius R to
// geodetic degrees.
func ToLatLon(v Vec3, r float64) LatLon {
	lat := math.Asin(clamp(v.Z/r, -1, 1))
	lon := math.Atan2(v.Y, v.X)
	return LatLon{LatDeg: lat * 180 / math.Pi, LonDeg: lon * 180 / math.Pi}
}

// FromLatLon converts geodetic degrees to an ECEF position on a sphere of
// radius r.
func FromLatLon(ll LatLon, r float64) Vec3 {
	lat := ll.LatDeg * math.Pi / 180
	lon := ll.LonDeg * math.Pi / 180
	return Vec3{
		X: r * math.Cos(lat) * math.Cos(lon),
		Y: r * math.Cos(lat) * math.Sin(lon),
		Z: r * math.Sin(lat),
	}
}

// GreatCircleArc returns the great-circle arc-length distance on a sphere of
// radius r between two ECEF points assumed to lie on (or near) that sphere.
// For coincident points the result is 0; for antipodal points the result is
// π·r (testable property 8).
func GreatCircleArc(a, b Vec3, r float64) float64 {
	if r <= 0 {
		return 0
	}
	cosTheta := clamp(a.Dot(b)/(a.Norm()*b.Norm()), -1, 1)
	theta := math.Acos(cosTheta)
	return theta * r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Point2D is a projected equirectangular map coordinate, in world-pixel
// units (x in [0,worldWidth), y in [0,worldHeight)).
type Point2D struct {
	X, Y float64
}

// Equirectangular projects a geodetic position onto a worldWidth x
// worldHeight equirectangular map, with longitude -180..180 mapped to
// x in [0,worldWidth) and latitude 90..-90 mapped to y in [0,worldHeight).
func Equirectangular(ll LatLon, worldWidth, worldHeight float64) Point2D {
	x := (ll.LonDeg + 180) / 360 * worldWidth
	y := (90 - ll.LatDeg) / 180 * worldHeight
	return Point2D{X: x, Y: y}
}

// ClosePolygonAntimeridian takes a sequence of equirectangular-projected
// polygon vertices (e.g. a footprint outline) that may cross the
// antimeridian, and returns a vertex list with the wraparound resolved:
// wherever two consecutive points' x-coordinates differ by more than half
// the map width, extra vertices are inserted at the map edges (x=0 and
// x=worldWidth) so the polygon renders as two closed lobes rather than one
// spurious band across the map. When includesPole is true, additional
// vertices are appended along the top (poleLat>0) or bottom (poleLat<0) map
// border to close the polygon through the enclosed pole, per spec.md §4.3 /
// testable property 9.
func ClosePolygonAntimeridian(
	pts []Point2D,
	worldWidth, worldHeight float64,
	includesPole bool,
	poleLat float64,
) []Point2D {
	if len(pts) == 0 {
		return pts
	}

	out := make([]Point2D, 0, len(pts)+4)
	out = append(out, pts[0])
	for i := 1; i < len(pts); i++ {
		prev := pts[i-1]
		cur := pts[i]
		dx := cur.X - prev.X
		if dx > worldWidth/2 {
			// cur wrapped left-to-right across the antimeridian: cur is far
			// right of prev in unwrapped space, meaning prev is actually
			// just left of the seam and cur just right of it.
			out = append(out, Point2D{X: 0, Y: prev.Y})
			out = append(out, Point2D{X: worldWidth, Y: cur.Y})
		} else if dx < -worldWidth/2 {
			out = append(out, Point2D{X: worldWidth, Y: prev.Y})
			out = append(out, Point2D{X: 0, Y: cur.Y})
		}
		out = append(out, cur)
	}

	if includesPole {
		borderY := 0.0
		if poleLat < 0 {
			borderY = worldHeight
		}
		out = append(out, Point2D{X: worldWidth, Y: borderY})
		out = append(out, Point2D{X: 0, Y: borderY})
	}

	return out
}
