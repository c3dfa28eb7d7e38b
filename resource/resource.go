// Package resource implements the per-agent depletable/cumulative capacity
// ledger described in spec.md §4.2: named budgets with owner-tagged constant
// consumption rates, instantaneous pulses, and a reserved margin that bounds
// how far predictive debits are allowed to push capacity down.
package resource

import (
	"fmt"

	"constellation/atomic_float"
)

// Kind distinguishes cumulative (can regenerate) resources from depletable
// (one-shot, consumers only) resources.
type Kind int

const (
	// Cumulative resources accept both positive (consuming) and negative
	// (generating) rates and may regenerate toward Max.
	Cumulative Kind = iota
	// Depletable resources accept only non-negative (consuming) rates; once
	// spent, capacity is gone for the run.
	Depletable
)

// ViolationError reports that a Step or ApplyOnce pushed a resource's
// capacity outside [0, Max] — a fatal condition per spec.md §4.2: "Exceeding
// max or going negative is fatal (the simulation aborts the agent)."
type ViolationError struct {
	Resource string
	Value    float64
	Max      float64
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("resource %q violated bounds: value=%.4f max=%.4f", e.Resource, e.Value, e.Max)
}

// Resource is a named per-agent capacity with a maximum, a reserved margin,
// an instantaneous pulse, and a map of owner-tagged constant consumption
// rates (spec.md §3 "Resource").
type Resource struct {
	Name           string
	kind           Kind
	max            float64
	reservedMargin float64
	capacity       *atomic_float.AtomicFloat64
	pulse          *atomic_float.AtomicFloat64
	rates          map[string]float64
}

// New constructs a Resource starting at its maximum capacity.
func New(name string, kind Kind, max, reservedMargin float64) *Resource {
	return &Resource{
		Name:           name,
		kind:           kind,
		max:            max,
		reservedMargin: reservedMargin,
		capacity:       atomic_float.NewAtomicFloat64(max),
		pulse:          atomic_float.NewAtomicFloat64(0),
		rates:          make(map[string]float64),
	}
}

// Kind returns whether this is a Cumulative or Depletable resource.
func (r *Resource) Kind() Kind { return r.kind }

// Max returns the resource's maximum capacity.
func (r *Resource) Max() float64 { return r.max }

// Capacity returns the current capacity.
func (r *Resource) Capacity() float64 {
	return r.capacity.AtomicRead()
}

// AddRate installs a constant per-step consumption (positive) or, for
// Cumulative resources, generation (negative) rate attributable to owner
// (an activity or subsystem identifier). Depletable resources reject
// negative rates.
func (r *Resource) AddRate(rate float64, owner string) error {
	if r.kind == Depletable && rate < 0 {
		return fmt.Errorf("resource %q is depletable: cannot install generating rate for %q", r.Name, owner)
	}
	r.rates[owner] = rate
	return nil
}

// RemoveRate uninstalls the rate attributed to owner, if any.
func (r *Resource) RemoveRate(owner string) {
	delete(r.rates, owner)
}

// sumRates returns the sum of all currently installed rates.
func (r *Resource) sumRates() float64 {
	total := 0.0
	for _, rate := range r.rates {
		total += rate
	}
	return total
}

// ApplyOnce adds an instantaneous one-step pulse c, applied at the next Step.
func (r *Resource) ApplyOnce(c float64) {
	for {
		if _, ok := r.pulse.AtomicAdd(c); ok {
			return
		}
	}
}

// TryApplyOnce reports, without mutating state, whether applying c right now
// would keep capacity above the reserved margin.
func (r *Resource) TryApplyOnce(c float64) bool {
	return r.capacity.AtomicRead()-c >= r.reservedMargin
}

// ApplyFor predictively debits c*duration. If doing so would cross the
// reserved margin, capacity is instead clamped to the reserved margin and
// false is returned; otherwise capacity is debited by the full amount and
// true is returned.
func (r *Resource) ApplyFor(c, duration float64) bool {
	debit := c * duration
	cur := r.capacity.AtomicRead()
	next := cur - debit
	if next < r.reservedMargin {
		r.capacity.AtomicSet(r.reservedMargin)
		return false
	}
	r.capacity.AtomicSet(next)
	return true
}

// Step aggregates currently installed rates plus any pulse, debits
// (Cumulative: generator rates--negative values--add capacity, consumer
// rates subtract; Depletable: only ever subtracts) for one Δt, clamps to
// [0,Max], and clears the pulse. A value that had to be clamped is reported
// as a ViolationError; the caller (agent.Consume, per spec.md §4.10) is
// expected to log and swallow it rather than propagate.
func (r *Resource) Step(dt float64) error {
	pulse := r.pulse.AtomicRead()
	r.pulse.AtomicSet(0)

	total := (r.sumRates() * dt) + pulse
	cur := r.capacity.AtomicRead()
	next := cur - total

	if next < 0 {
		r.capacity.AtomicSet(0)
		return &ViolationError{Resource: r.Name, Value: next, Max: r.max}
	}
	if next > r.max {
		r.capacity.AtomicSet(r.max)
		return &ViolationError{Resource: r.Name, Value: next, Max: r.max}
	}
	r.capacity.AtomicSet(next)
	return nil
}

// Clone returns an independent deep copy of r, suitable for the scheduler's
// trial runs against an isolated resource ledger (spec.md §4.8).
func (r *Resource) Clone() *Resource {
	rates := make(map[string]float64, len(r.rates))
	for k, v := range r.rates {
		rates[k] = v
	}
	return &Resource{
		Name:           r.Name,
		kind:           r.kind,
		max:            r.max,
		reservedMargin: r.reservedMargin,
		capacity:       atomic_float.NewAtomicFloat64(r.capacity.AtomicRead()),
		pulse:          atomic_float.NewAtomicFloat64(r.pulse.AtomicRead()),
		rates:          rates,
	}
}

// Ledger is the full set of an agent's named resources.
type Ledger struct {
	resources map[string]*Resource
}

// NewLedger constructs an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{resources: make(map[string]*Resource)}
}

// Add installs resource r under its own Name.
func (l *Ledger) Add(r *Resource) {
	l.resources[r.Name] = r
}

// Get returns the named resource, or nil if absent.
func (l *Ledger) Get(name string) *Resource {
	return l.resources[name]
}

// All returns every resource in the ledger, in no particular order.
func (l *Ledger) All() []*Resource {
	out := make([]*Resource, 0, len(l.resources))
	for _, r := range l.resources {
		out = append(out, r)
	}
	return out
}

// Step advances every resource in the ledger by one Δt. Violations are
// collected and returned rather than aborting early, so a single bad
// resource does not prevent others from stepping.
func (l *Ledger) Step(dt float64) []error {
	var errs []error
	for _, r := range l.resources {
		if err := r.Step(dt); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Clone returns an independent deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	clone := NewLedger()
	for name, r := range l.resources {
		clone.resources[name] = r.Clone()
	}
	return clone
}

// AverageUtilization returns avg(resource-consumed / resource-max) across
// the ledger, used by the scheduler's fitness normalisation (spec.md §4.8).
func (l *Ledger) AverageUtilization() float64 {
	if len(l.resources) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range l.resources {
		if r.max <= 0 {
			continue
		}
		consumed := r.max - r.Capacity()
		total += consumed / r.max
	}
	return total / float64(len(l.resources))
}
