// Package instrument implements the nadir-pointing conical sensor of
// spec.md §4.3: slant range, aperture capping, footprint polygon
// projection with antimeridian/pole wraparound, and the 4-quadrant
// visible-cell scan.
package instrument

import (
	"math"

	"constellation/activity"
	"constellation/geo"
)

// Config bundles the instrument tunables named in spec.md §6
// (`agent.instrument.{aperture,footprint_points}`, `system.interpos`).
type Config struct {
	ApertureRad     float64
	FootprintPoints int
	Interpos        int
}

// Instrument is a nadir-pointing conical sensor. Enabled tracks whether it
// is currently imaging (spec.md §4.9's execute() toggling it on/off as
// owned activities start and end).
type Instrument struct {
	Config  Config
	Enabled bool
}

// New returns an Instrument with its configured aperture clamped to the
// usable maximum for altitude-at-launch h (distance from Earth's center).
func New(cfg Config, h float64) *Instrument {
	cfg.ApertureRad = ClampAperture(cfg.ApertureRad, h)
	return &Instrument{Config: cfg}
}

// MaxAperture returns α_max = 2·arcsin(R⊕/h), the largest usable full cone
// aperture angle at distance h from Earth's center (spec.md §4.3).
func MaxAperture(h float64) float64 {
	if h <= geo.EarthRadiusMeters {
		return 0
	}
	return 2 * math.Asin(geo.EarthRadiusMeters/h)
}

// ClampAperture silently clamps a configured aperture to MaxAperture(h).
func ClampAperture(configured, h float64) float64 {
	max := MaxAperture(h)
	if configured > max {
		return max
	}
	if configured < 0 {
		return 0
	}
	return configured
}

// SlantRange solves the Earth-centre/sub-point/agent triangle for the
// line-of-sight distance from an agent at distance h from Earth's centre,
// looking at nadir angle delta (radians) off straight-down. NaN is returned
// if delta exceeds the angle at which the line of sight no longer reaches
// the surface (a propagation error per spec.md §7, logged and the frame
// skipped by the caller).
func SlantRange(h, delta float64) float64 {
	r := geo.EarthRadiusMeters
	if math.Abs(delta) < 1e-9 {
		return h - r
	}
	sinDelta := math.Sin(delta)
	cosEps := (h / r) * sinDelta
	if cosEps > 1 {
		return math.NaN()
	}
	eps := math.Acos(cosEps)
	lambda := math.Pi/2 - delta - eps
	if lambda < 0 {
		return math.NaN()
	}
	return r * math.Sin(lambda) / sinDelta
}

// earthCentralAngle returns the ground arc angle (radians) subtended
// between the sub-point and the point on the surface seen at nadir angle
// delta, for an agent at distance h from Earth's centre.
func earthCentralAngle(h, delta float64) float64 {
	if math.Abs(delta) < 1e-9 {
		return 0
	}
	r := geo.EarthRadiusMeters
	cosEps := (h / r) * math.Sin(delta)
	if cosEps > 1 {
		cosEps = 1
	}
	eps := math.Acos(cosEps)
	return math.Pi/2 - delta - eps
}

// FootprintRadius returns the ground-arc radius (meters) of the footprint
// edge for the instrument's (already-capped) full aperture angle, i.e. the
// great-circle distance from the sub-point to the edge of the cone's
// intersection with the Earth.
func FootprintRadius(h, apertureFull float64) float64 {
	lambda := earthCentralAngle(h, apertureFull/2)
	if lambda < 0 {
		lambda = 0
	}
	return geo.EarthRadiusMeters * lambda
}

// subPoint scales p down onto the sphere of radius r, i.e. the nadir
// ground point directly below p.
func subPoint(p geo.Vec3, r float64) geo.Vec3 {
	norm := p.Norm()
	if norm == 0 {
		return p
	}
	scale := r / norm
	return geo.Vec3{X: p.X * scale, Y: p.Y * scale, Z: p.Z * scale}
}

// tangentBasis returns two unit vectors (u,v) spanning the plane
// perpendicular to n, used to parameterize directions around the cone axis.
func tangentBasis(n geo.Vec3) (geo.Vec3, geo.Vec3) {
	ref := geo.Vec3{X: 0, Y: 0, Z: 1}
	if math.Abs(n.Z) > 0.99 {
		ref = geo.Vec3{X: 1, Y: 0, Z: 0}
	}
	u := cross(n, ref)
	u = normalize(u)
	v := cross(n, u)
	return u, v
}

func cross(a, b geo.Vec3) geo.Vec3 {
	return geo.Vec3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

func normalize(v geo.Vec3) geo.Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return geo.Vec3{X: v.X / n, Y: v.Y / n, Z: v.Z / n}
}

func scale(v geo.Vec3, s float64) geo.Vec3 {
	return geo.Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func add(a, b geo.Vec3) geo.Vec3 {
	return geo.Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

// rayEarthIntersect solves |p + t*dir|^2 = R^2 for the smallest positive t,
// returning the intersection point and false if the ray (from outside the
// sphere, dir unit length) misses the Earth entirely.
func rayEarthIntersect(p, dir geo.Vec3, r float64) (geo.Vec3, bool) {
	b := 2 * p.Dot(dir)
	c := p.Dot(p) - r*r
	disc := b*b - 4*c
	if disc < 0 {
		return geo.Vec3{}, false
	}
	sq := math.Sqrt(disc)
	t1 := (-b - sq) / 2
	t2 := (-b + sq) / 2
	t := t1
	if t < 0 {
		t = t2
	}
	if t < 0 {
		return geo.Vec3{}, false
	}
	return add(p, scale(dir, t)), true
}

// FootprintPolygon samples n points around the cone's edge at the
// instrument's current aperture, projects each to an equirectangular
// worldWidth x worldHeight map, and resolves antimeridian/pole wraparound
// (spec.md §4.3, testable property 9).
func (ins *Instrument) FootprintPolygon(p geo.Vec3, n int, worldWidth, worldHeight float64) []geo.Point2D {
	if n <= 0 {
		n = 16
	}
	r := geo.EarthRadiusMeters
	axis := normalize(scale(p, -1))
	u, v := tangentBasis(axis)
	delta := ins.Config.ApertureRad / 2

	pts := make([]geo.Point2D, 0, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		dir := normalize(add(scale(axis, math.Cos(delta)), scale(add(scale(u, math.Cos(theta)), scale(v, math.Sin(theta))), math.Sin(delta))))
		hit, ok := rayEarthIntersect(p, dir, r)
		if !ok {
			continue
		}
		ll := geo.ToLatLon(hit, r)
		pts = append(pts, geo.Equirectangular(ll, worldWidth, worldHeight))
	}

	sub := subPoint(p, r)
	subLL := geo.ToLatLon(sub, r)
	radiusArc := FootprintRadius(p.Norm(), ins.Config.ApertureRad)
	poleDistArc := (math.Pi/2 - math.Abs(subLL.LatDeg)*math.Pi/180) * r
	includesPole := poleDistArc <= radiusArc
	poleLat := 90.0
	if subLL.LatDeg < 0 {
		poleLat = -90.0
	}

	return geo.ClosePolygonAntimeridian(pts, worldWidth, worldHeight, includesPole, poleLat)
}

// ModelCoords converts a geodetic position to the nearest integer grid
// coordinate of a width x height model whose cells are spaced ratioW
// degrees-of-longitude by ratioH degrees-of-latitude apart (the inverse of
// environment.BuildLUT's forward mapping).
func ModelCoords(ll geo.LatLon, ratioW, ratioH float64, width, height int) (int, int) {
	x := int(math.Round((ll.LonDeg + 180) / ratioW))
	y := int(math.Round((90 - ll.LatDeg) / ratioH))
	if x < 0 {
		x = 0
	}
	if x >= width {
		x = width - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= height {
		y = height - 1
	}
	return x, y
}

// VisibleCells performs the 4-quadrant scan of spec.md §4.3: starting from
// the sub-point cell, it expands outward along each of the four diagonal
// quadrants, comparing the pre-computed ECEF position of each candidate
// cell against subECEF via great-circle arc, and halts a quadrant's
// outward expansion (row-by-row) as soon as a row contains no cell within
// swathRadius.
func VisibleCells(lut [][]geo.Vec3, width, height int, subX, subY int, subECEF geo.Vec3, swathRadius float64) []activity.CellCoord {
	seen := make(map[activity.CellCoord]bool)
	withinRange := func(x, y int) bool {
		if x < 0 || x >= width || y < 0 || y >= height {
			return false
		}
		return geo.GreatCircleArc(lut[x][y], subECEF, geo.EarthRadiusMeters) <= swathRadius
	}

	if withinRange(subX, subY) {
		seen[activity.CellCoord{X: subX, Y: subY}] = true
	}

	quadrants := [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	for _, q := range quadrants {
		dx, dy := q[0], q[1]
		for rowOffset := 0; ; rowOffset++ {
			y := subY + dy*rowOffset
			rowHasHit := false
			for colOffset := 0; ; colOffset++ {
				x := subX + dx*colOffset
				if !withinRange(x, y) {
					break
				}
				seen[activity.CellCoord{X: x, Y: y}] = true
				rowHasHit = true
			}
			if !rowHasHit {
				break
			}
		}
	}

	out := make([]activity.CellCoord, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}

// VisibleCellsAlongSegment computes the union of visible-cell sets at
// Config.Interpos interpolated positions between p0 and p1
// (spec.md §4.3's segment sampling rule).
func (ins *Instrument) VisibleCellsAlongSegment(lut [][]geo.Vec3, width, height int, ratioW, ratioH float64, p0, p1 geo.Vec3) map[activity.CellCoord]bool {
	steps := ins.Config.Interpos
	if steps < 1 {
		steps = 1
	}
	r := geo.EarthRadiusMeters
	union := make(map[activity.CellCoord]bool)
	for i := 0; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		p := geo.Vec3{
			X: p0.X + (p1.X-p0.X)*frac,
			Y: p0.Y + (p1.Y-p0.Y)*frac,
			Z: p0.Z + (p1.Z-p0.Z)*frac,
		}
		sub := subPoint(p, r)
		subLL := geo.ToLatLon(sub, r)
		subX, subY := ModelCoords(subLL, ratioW, ratioH, width, height)
		swathRadius := geo.EarthRadiusMeters * earthCentralAngle(p.Norm(), ins.Config.ApertureRad/2)
		for _, c := range VisibleCells(lut, width, height, subX, subY, sub, swathRadius) {
			union[c] = true
		}
	}
	return union
}
