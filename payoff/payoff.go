// Package payoff implements the revisit-time-based cell-level payoff
// computation of spec.md §4.4: four normalisation curves mapping a revisit
// time to a value in [0,1], and the revisit-time-backwards payoff function
// that is the primary payoff used by the core.
package payoff

import (
	"math"
	"sort"

	"constellation/activity"
)

// Model selects one of the four configured revisit-time normalisation
// curves (spec.md §4.4 and the `environment.payoff.type` config option).
type Model int

const (
	Sigmoid Model = iota
	Linear
	ConstantSlope
	Quadratic
)

// Params bundles the normalisation parameters named in spec.md §6's config
// table (`environment.payoff.{type,steepness,payoff_mid,goal_min,goal_max,slope}`).
type Params struct {
	Model     Model
	GoalMin   float64
	GoalMax   float64
	GoalTarget float64
	Steepness float64
	PayoffMid float64 // fraction of [GoalMin,GoalMax] at which Sigmoid is centered
	Slope     float64
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalize maps a revisit time t (in the clock's time unit) to a value in
// [0,1] using p.Model. Every model is continuous and monotonically
// non-decreasing in t (testable property 3).
func Normalize(t float64, p Params) float64 {
	switch p.Model {
	case Sigmoid:
		return normalizeSigmoid(t, p)
	case ConstantSlope:
		return clamp01(p.Slope * (t - p.GoalMin))
	case Quadratic:
		return normalizeQuadratic(t, p)
	default: // Linear
		return normalizeLinear(t, p)
	}
}

func normalizeLinear(t float64, p Params) float64 {
	if p.GoalMax <= p.GoalMin {
		if t >= p.GoalMax {
			return 1
		}
		return 0
	}
	return clamp01((t - p.GoalMin) / (p.GoalMax - p.GoalMin))
}

func normalizeQuadratic(t float64, p Params) float64 {
	frac := normalizeLinear(t, p)
	return frac * frac
}

func normalizeSigmoid(t float64, p Params) float64 {
	if p.GoalMax <= p.GoalMin {
		return normalizeLinear(t, p)
	}
	mid := p.GoalMin + p.PayoffMid*(p.GoalMax-p.GoalMin)
	steepness := p.Steepness
	if steepness == 0 {
		steepness = 1
	}
	raw := 1 / (1 + math.Exp(-steepness*(t-mid)))
	return clamp01(raw)
}

// Known describes one known activity's relationship to a single cell, as
// passed into BackwardRevisit via the aligned (intervals, refs) lists
// spec.md §4.4 describes.
type Known struct {
	ID         activity.ID
	Span       activity.TimeSpan
	Confirmed  bool
	Discarded  bool
	Confidence float64
}

func (k Known) isFact() bool { return k.Confirmed != k.Discarded }

// Result is the (payoff, utility-average) pair a payoff function returns
// for one cell.
type Result struct {
	Payoff         float64
	UtilityAverage float64
}

// BackwardRevisit implements the revisit-time-backwards payoff variant of
// spec.md §4.4: the primary payoff function in the core.
func BackwardRevisit(candidate activity.TimeSpan, known []Known, p Params) Result {
	// Step 4: any activity temporally overlapping the candidate on this
	// cell yields payoff 0 (testable property 4).
	for _, k := range known {
		if k.Span.Overlaps(candidate) {
			return Result{Payoff: 0, UtilityAverage: 0}
		}
	}

	// Step 1: nearest-ending confirmed fact strictly before candidate.Start.
	haveFact := false
	var lastFactEnd float64
	bestGap := math.Inf(1)
	for _, k := range known {
		if !k.Confirmed || float64(k.Span.End) >= float64(candidate.Start) {
			continue
		}
		gap := float64(candidate.Start) - float64(k.Span.End)
		if gap < bestGap {
			bestGap = gap
			lastFactEnd = float64(k.Span.End)
			haveFact = true
		}
	}

	var result float64
	lowerBound := math.Inf(-1)
	if haveFact {
		result = Normalize(bestGap, p)
		lowerBound = lastFactEnd
	} else {
		// Step 3: no prior fact at all -- start from the normalised maximum
		// (the spec.md §9 Open Question resolution: "adopt the normalised
		// form (1.0 for unbounded gap)").
		result = 1.0
	}

	// Step 2: fold in undecided candidates ending within (lowerBound, candidate.Start),
	// applying them in descending order of their own gap-normalised payoff.
	type undecided struct {
		payoff     float64
		confidence float64
	}
	var pending []undecided
	for _, k := range known {
		if k.isFact() {
			continue
		}
		end := float64(k.Span.End)
		if end <= lowerBound || end >= float64(candidate.Start) {
			continue
		}
		gap := float64(candidate.Start) - end
		pending = append(pending, undecided{payoff: Normalize(gap, p), confidence: k.Confidence})
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].payoff > pending[j].payoff })

	utilTotal := 0.0
	for _, u := range pending {
		result = result - (result-u.payoff)*u.confidence
		utilTotal += u.confidence
	}

	utilAvg := 0.0
	if len(pending) > 0 {
		utilAvg = utilTotal / float64(len(pending))
	}

	return Result{Payoff: clamp01(result), UtilityAverage: utilAvg}
}
