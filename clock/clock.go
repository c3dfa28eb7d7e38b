// Package clock provides the process-wide monotonic virtual-time source
// that drives the simulation. Unlike wall-clock time, a VirtualClock only
// advances when Step is called, so simulation outcomes do not depend on
// real elapsed time.
package clock

import "fmt"

// TimeUnit selects the semantics of a VirtualClock's Time values. The unit
// is chosen once at Init and never changes.
type TimeUnit int

const (
	// JulianDays counts fractional Julian days.
	JulianDays TimeUnit = iota
	// Seconds counts plain seconds since epoch.
	Seconds
	// Arbitrary counts an unlabeled unit; callers supply their own meaning.
	Arbitrary
)

func (u TimeUnit) String() string {
	switch u {
	case JulianDays:
		return "julian-days"
	case Seconds:
		return "seconds"
	default:
		return "arbitrary"
	}
}

// Time is a single instant, expressed in the clock's configured TimeUnit.
// Arithmetic on Time values is direct subtraction/addition, matching
// spec.md §4.1.
type Time float64

// Sub returns t - u.
func (t Time) Sub(u Time) Time { return t - u }

// Add returns t + d.
func (t Time) Add(d Time) Time { return t + d }

// lifecycle mirrors spec.md's { uninitialised -> initialised(t0) -> advancing }.
type lifecycle int

const (
	uninitialised lifecycle = iota
	initialised
	advancing
)

// VirtualClock is a monotonic simulated-time source. The zero value is not
// usable; construct with New.
type VirtualClock struct {
	unit     TimeUnit
	dt       Time
	duration Time
	t0       Time
	now      Time
	state    lifecycle
}

// New constructs a VirtualClock initialised at t0, advancing by dt per Step,
// and considered Finished once elapsed time exceeds duration.
func New(unit TimeUnit, t0, dt, duration Time) *VirtualClock {
	return &VirtualClock{
		unit:     unit,
		dt:       dt,
		duration: duration,
		t0:       t0,
		now:      t0,
		state:    initialised,
	}
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() Time {
	return c.now
}

// Delta returns the clock's configured step size.
func (c *VirtualClock) Delta() Time {
	return c.dt
}

// Unit returns the clock's configured time unit.
func (c *VirtualClock) Unit() TimeUnit {
	return c.unit
}

// Step advances the clock by one Δt and returns the new time.
func (c *VirtualClock) Step() Time {
	c.state = advancing
	c.now += c.dt
	return c.now
}

// Finished reports whether elapsed virtual time exceeds the configured
// duration.
func (c *VirtualClock) Finished() bool {
	return c.now-c.t0 > c.duration
}

// ToString renders t per the clock's unit. If absolute is true, t is shown
// relative to t0=0 (i.e. as-is); otherwise it is shown relative to the
// clock's own t0. If simple is true, a terse numeric form is used instead of
// the unit-qualified form.
func (c *VirtualClock) ToString(t Time, absolute, simple bool) string {
	val := t
	if !absolute {
		val = t - c.t0
	}
	if simple {
		return fmt.Sprintf("%.6f", float64(val))
	}
	return fmt.Sprintf("%.6f %s", float64(val), c.unit)
}
