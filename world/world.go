// Package world implements the truth-side observer of spec.md §4.6: a
// read-only accumulator of actual vs. ideal ("utopia") revisit-time
// statistics over the whole grid, never fed back into any agent's planning.
package world

import (
	"sort"

	"constellation/activity"
	"constellation/clock"
)

// RegionStats accumulates revisit-time samples for one region (in this
// simple tessellation, one cell): every gap between the end times of
// consecutive confirmed captures, and the smallest such gap seen so far,
// reported as the "utopia" gap. Scheduled captures that are not yet
// confirmed are not counted in either figure.
type RegionStats struct {
	X, Y int

	lastCapture   clock.Time
	haveCapture   bool
	revisitGaps   []float64
	utopiaMinGap  float64
	utopiaSamples int
}

func newRegionStats(x, y int) *RegionStats {
	return &RegionStats{X: x, Y: y, utopiaMinGap: -1}
}

// AverageRevisit returns the mean of all recorded actual revisit gaps.
func (r *RegionStats) AverageRevisit() float64 {
	if len(r.revisitGaps) == 0 {
		return 0
	}
	total := 0.0
	for _, g := range r.revisitGaps {
		total += g
	}
	return total / float64(len(r.revisitGaps))
}

// UtopiaRevisit returns the smallest revisit gap observed across the
// constellation for this region -- the best any single agent achieved,
// standing in for the unconstrained ideal (spec.md §9's resolved contract:
// "utopia" is defined relative to the constellation's own best performance,
// not a theoretical single-instrument bound).
func (r *RegionStats) UtopiaRevisit() float64 {
	if r.utopiaMinGap < 0 {
		return 0
	}
	return r.utopiaMinGap
}

// Activities is the subset of visibility the World needs from an agent's
// knowledge base: its owned, confirmed captures.
type Activities interface {
	Owned() []*activity.Activity
}

// World is the simulation-wide observer: it never mutates agent state, only
// reads each agent's owned activities through the Activities interface to
// maintain region statistics (spec.md §4.6's
// "observer only, never fed back into planning" contract).
type World struct {
	Width, Height int
	regions       [][]*RegionStats
}

// New constructs an empty World over a width x height grid of regions.
func New(width, height int) *World {
	w := &World{Width: width, Height: height}
	w.regions = make([][]*RegionStats, width)
	for x := 0; x < width; x++ {
		w.regions[x] = make([]*RegionStats, height)
		for y := 0; y < height; y++ {
			w.regions[x][y] = newRegionStats(x, y)
		}
	}
	return w
}

func (w *World) inBounds(x, y int) bool {
	return x >= 0 && x < w.Width && y >= 0 && y < w.Height
}

// RegionAt returns the stats accumulator for (x,y), or nil if out of
// bounds.
func (w *World) RegionAt(x, y int) *RegionStats {
	if !w.inBounds(x, y) {
		return nil
	}
	return w.regions[x][y]
}

// Observe folds every confirmed owned activity of every agent into the
// region statistics, at simulation time now. Agents are read via the
// Activities interface only -- World never calls back into an agent's
// mutating methods.
func (w *World) Observe(now clock.Time, agents []Activities) {
	// Collect every confirmed capture touching each region, across all
	// agents, so the region's revisit gaps reflect the constellation as a
	// whole rather than any single agent's partial view.
	type capture struct {
		end clock.Time
	}
	perRegion := make(map[[2]int][]capture)

	for _, a := range agents {
		for _, act := range a.Owned() {
			if !act.Confirmed {
				continue
			}
			for coord := range act.ActiveCells {
				key := [2]int{coord.X, coord.Y}
				perRegion[key] = append(perRegion[key], capture{end: act.End})
			}
		}
	}

	for key, captures := range perRegion {
		region := w.RegionAt(key[0], key[1])
		if region == nil {
			continue
		}
		sort.Slice(captures, func(i, j int) bool { return captures[i].end < captures[j].end })

		region.revisitGaps = region.revisitGaps[:0]
		region.haveCapture = false
		for _, c := range captures {
			if region.haveCapture {
				gap := float64(c.end - region.lastCapture)
				region.revisitGaps = append(region.revisitGaps, gap)
				if region.utopiaMinGap < 0 || gap < region.utopiaMinGap {
					region.utopiaMinGap = gap
				}
			}
			region.lastCapture = c.end
			region.haveCapture = true
		}
	}
}

// Snapshot is a read-only view of the world's current revisit statistics,
// for the dashboard and CSV reporter.
type Snapshot struct {
	Width, Height int
	AvgRevisit    [][]float64
	UtopiaRevisit [][]float64
}

// TakeSnapshot derives a Snapshot from the world's current accumulators,
// the same read-only view-model idiom environment.Model.TakeSnapshot uses.
func (w *World) TakeSnapshot() Snapshot {
	snap := Snapshot{Width: w.Width, Height: w.Height}
	snap.AvgRevisit = make([][]float64, w.Width)
	snap.UtopiaRevisit = make([][]float64, w.Width)
	for x := 0; x < w.Width; x++ {
		snap.AvgRevisit[x] = make([]float64, w.Height)
		snap.UtopiaRevisit[x] = make([]float64, w.Height)
		for y := 0; y < w.Height; y++ {
			r := w.regions[x][y]
			snap.AvgRevisit[x][y] = r.AverageRevisit()
			snap.UtopiaRevisit[x][y] = r.UtopiaRevisit()
		}
	}
	return snap
}
