// Package motion implements the agent position propagation of spec.md
// §4.1/§4.9: a pluggable Model interface and the CircularOrbit
// implementation driving it, a pure function of virtual time.
package motion

import (
	"fmt"
	"math"

	"constellation/clock"
	"constellation/geo"
)

// Model propagates an agent's ECI/ECEF position as a pure function of
// virtual time. PositionAt must be safe to call concurrently for
// different t values (spec.md §5's "planning is a pure function" applies
// equally to position sampling during parallel planning).
type Model interface {
	PositionAt(t clock.Time) (geo.Vec3, error)
}

// earthMu is the standard gravitational parameter of Earth (m^3/s^2), used
// to derive a circular orbit's angular rate from its altitude.
const earthMu = 3.986004418e14

// CircularOrbit is a simplified Keplerian circular-orbit motion model:
// constant altitude, inclination, right-ascension-of-ascending-node,
// argument-of-perigee and initial mean anomaly.
type CircularOrbit struct {
	AltitudeMeters float64
	InclinationRad float64
	RAANRad        float64
	ArgPerigeeRad  float64
	InitMeanAnomaly float64
}

// radius returns the orbit's constant radius from Earth's centre.
func (o CircularOrbit) radius() float64 {
	return geo.EarthRadiusMeters + o.AltitudeMeters
}

// angularRate returns the constant angular rate (rad/s) of a circular
// orbit at this altitude, from Kepler's third law.
func (o CircularOrbit) angularRate() float64 {
	r := o.radius()
	return math.Sqrt(earthMu / (r * r * r))
}

// PositionAt returns the ECEF position at virtual time t (seconds since
// epoch), propagating the mean anomaly linearly and rotating the
// in-plane position by inclination, RAAN and argument of perigee.
func (o CircularOrbit) PositionAt(t clock.Time) (geo.Vec3, error) {
	r := o.radius()
	if r <= 0 {
		return geo.Vec3{}, fmt.Errorf("motion: non-positive orbital radius %v", r)
	}
	theta := o.InitMeanAnomaly + o.angularRate()*float64(t)

	// In-plane position (orbital plane, x' along ascending node direction).
	xp := r * math.Cos(theta)
	yp := r * math.Sin(theta)

	// Rotate by argument of perigee within the plane.
	cosArg, sinArg := math.Cos(o.ArgPerigeeRad), math.Sin(o.ArgPerigeeRad)
	x1 := xp*cosArg - yp*sinArg
	y1 := xp*sinArg + yp*cosArg

	// Tilt by inclination about the x-axis.
	cosInc, sinInc := math.Cos(o.InclinationRad), math.Sin(o.InclinationRad)
	y2 := y1 * cosInc
	z2 := y1 * sinInc

	// Rotate by RAAN about the z-axis.
	cosRaan, sinRaan := math.Cos(o.RAANRad), math.Sin(o.RAANRad)
	x3 := x1*cosRaan - y2*sinRaan
	y3 := x1*sinRaan + y2*cosRaan

	return geo.Vec3{X: x3, Y: y3, Z: z2}, nil
}
