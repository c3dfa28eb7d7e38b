// Package activity implements the spatio-temporal observation record shared
// between an agent's own planner and the activities it learns about from
// peers (spec.md §3 "Activity"). Activities are propagated by value: a peer
// copy is a plain struct, not a pointer into the owner's state.
package activity

import (
	"fmt"

	"constellation/clock"
)

// ID identifies an Activity by its owner and the owner-assigned sequence
// number. Transfers are idempotent by (OwnerID, Seq, LastUpdate) per
// spec.md §6.
type ID struct {
	OwnerID string
	Seq     uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%s#%d", id.OwnerID, id.Seq)
}

// Sample is one point of an Activity's sampled trajectory: a virtual time
// and the observer's 3D position at that time.
type Sample struct {
	T   clock.Time
	Pos Vec3
}

// Vec3 avoids importing geo from activity (activity is a lower-level
// package than geo in the dependency order); geo.Vec3 converts losslessly.
type Vec3 struct {
	X, Y, Z float64
}

// CellCoord is an integer grid coordinate into an agent's environment model.
type CellCoord struct {
	X, Y int
}

// TimeSpan is a half-open interval [Start,End).
type TimeSpan struct {
	Start, End clock.Time
}

// Overlaps reports whether s and other share any instant.
func (s TimeSpan) Overlaps(other TimeSpan) bool {
	return s.Start < other.End && other.Start < s.End
}

// Contains reports whether t falls in [Start,End).
func (s TimeSpan) Contains(t clock.Time) bool {
	return t >= s.Start && t < s.End
}

// Activity is an immutable-by-convention spatio-temporal observation record.
// Its mutating methods, SetConfirmed/SetDiscarded/Touch, mutate in place and
// are called by the owner's ActivityHandler, which holds the single
// authoritative copy; Clone returns an independent copy for everyone else.
type Activity struct {
	Owner      string
	Seq        uint64
	Start      clock.Time
	End        clock.Time
	Trajectory []Sample
	// ActiveCells maps each ground cell visible at some point during the
	// activity to the disjoint, non-overlapping time intervals during which
	// it is in footprint.
	ActiveCells map[CellCoord][]TimeSpan
	Confidence  float64
	Confirmed   bool
	Discarded   bool
	LastUpdate  clock.Time
	Created     clock.Time
}

// ID returns the activity's (owner, sequence) identity.
func (a *Activity) ID() ID {
	return ID{OwnerID: a.Owner, Seq: a.Seq}
}

// Validate checks the invariants of spec.md §3: Start < End; per-cell
// intervals are pairwise disjoint; confirmed implies confidence=1 and not
// discarded; discarded implies confidence=0 and not confirmed.
func (a *Activity) Validate() error {
	if !(a.Start < a.End) {
		return fmt.Errorf("activity %s: start %v must be before end %v", a.ID(), a.Start, a.End)
	}
	for cell, spans := range a.ActiveCells {
		for i := 0; i < len(spans); i++ {
			for j := i + 1; j < len(spans); j++ {
				if spans[i].Overlaps(spans[j]) {
					return fmt.Errorf("activity %s: overlapping intervals for cell %v", a.ID(), cell)
				}
			}
		}
	}
	if a.Confirmed && (a.Confidence != 1 || a.Discarded) {
		return fmt.Errorf("activity %s: confirmed requires confidence=1 and not discarded", a.ID())
	}
	if a.Discarded && (a.Confidence != 0 || a.Confirmed) {
		return fmt.Errorf("activity %s: discarded requires confidence=0 and not confirmed", a.ID())
	}
	return nil
}

// IsFact reports whether the activity is in a terminal state: confirmed XOR
// discarded.
func (a *Activity) IsFact() bool {
	return a.Confirmed != a.Discarded
}

// SetConfirmed transitions the activity to confirmed, setting confidence to
// 1 and clearing discarded, and bumps LastUpdate to now.
func (a *Activity) SetConfirmed(now clock.Time) {
	a.Confirmed = true
	a.Discarded = false
	a.Confidence = 1
	a.LastUpdate = now
}

// SetDiscarded transitions the activity to discarded, setting confidence to
// 0 and clearing confirmed, and bumps LastUpdate to now.
func (a *Activity) SetDiscarded(now clock.Time) {
	a.Discarded = true
	a.Confirmed = false
	a.Confidence = 0
	a.LastUpdate = now
}

// Touch bumps LastUpdate without changing fact-state, used when an
// activity's confidence is revised by replanning.
func (a *Activity) Touch(now clock.Time) {
	a.LastUpdate = now
}

// Clone returns a deep copy of a, suitable for handing to peers by value.
func (a *Activity) Clone() *Activity {
	clone := *a
	clone.Trajectory = append([]Sample(nil), a.Trajectory...)
	clone.ActiveCells = make(map[CellCoord][]TimeSpan, len(a.ActiveCells))
	for cell, spans := range a.ActiveCells {
		clone.ActiveCells[cell] = append([]TimeSpan(nil), spans...)
	}
	return &clone
}

// WalkTrajectory invokes fn for every sample of the activity's trajectory,
// in order. This mirrors the teacher's state-visitor idiom (grid_world.Visit)
// generalized from a fixed grid to an arbitrary time-ordered sample list.
func (a *Activity) WalkTrajectory(fn func(Sample)) {
	for _, s := range a.Trajectory {
		fn(s)
	}
}

// ReplaceIfNewer returns true and mutates *dst in place if src's LastUpdate
// is strictly newer than dst's, per spec.md §3's propagation rule ("peers
// replace their copy only if the inbound copy's last-update timestamp is
// strictly newer"). It returns false, leaving dst untouched, otherwise.
func ReplaceIfNewer(dst *Activity, src *Activity) bool {
	if src.LastUpdate <= dst.LastUpdate {
		return false
	}
	*dst = *src.Clone()
	return true
}
