// Package environment implements the per-agent tessellation of the Earth
// (spec.md §3 "Environment cell" / "Environment model" and §4.5): a 2D grid
// of cells, each holding known activities and a payoff-history table, plus
// the compute_payoff / generate_activities / add/remove/update / clean
// operations.
package environment

import (
	"sort"

	"constellation/activity"
	"constellation/clock"
	"constellation/geo"
	"constellation/payoff"
)

// PayoffEntry is one {query-time -> (payoff, utility-average)} record from
// the most recent payoff pass over a cell (spec.md §3).
type PayoffEntry struct {
	QueryTime      clock.Time
	Payoff         float64
	UtilityAverage float64
}

// PayoffFunc computes a (payoff, utility-average) result for a candidate
// span against the known activities touching one cell. BackwardRevisit
// (package payoff) is the primary implementation used by the core.
type PayoffFunc func(candidate activity.TimeSpan, known []payoff.Known, params payoff.Params) payoff.Result

// CleanFunc reports which activity IDs a cell should discard as
// permanently irrelevant as of now. Per spec.md §9's Open Question, the
// version covered here always returns nil (see DESIGN.md).
type CleanFunc func(cell *Cell, now clock.Time) []activity.ID

// NoopClean is the default CleanFunc: it never removes anything.
func NoopClean(*Cell, clock.Time) []activity.ID { return nil }

// Cell is a per-agent tessellation unit with integer grid coordinates.
type Cell struct {
	X, Y int
	// Activities maps a known activity's identity to the interval list at
	// which that activity influences this cell.
	Activities map[activity.ID][]activity.TimeSpan
	// PayoffHistory is the ordered sequence of payoff-pass results.
	PayoffHistory []PayoffEntry
	PayoffFn      PayoffFunc
	CleanFn       CleanFunc
}

func newCell(x, y int, payoffFn PayoffFunc, cleanFn CleanFunc) *Cell {
	if cleanFn == nil {
		cleanFn = NoopClean
	}
	return &Cell{
		X:          x,
		Y:          y,
		Activities: make(map[activity.ID][]activity.TimeSpan),
		PayoffFn:   payoffFn,
		CleanFn:    cleanFn,
	}
}

// LatestPayoff returns the most recent payoff entry recorded at or before t,
// or (0,false) if none exists.
func (c *Cell) LatestPayoff(t clock.Time) (PayoffEntry, bool) {
	var best PayoffEntry
	found := false
	for _, e := range c.PayoffHistory {
		if e.QueryTime <= t && (!found || e.QueryTime > best.QueryTime) {
			best = e
			found = true
		}
	}
	return best, found
}

// Lookup resolves an activity.ID to its owning-table record. Environment
// never stores Activity values itself (per spec.md §9's "single owning
// table" design note) -- it only stores references and asks the owner
// (typically the agent's knowledge.Handler) to resolve them.
type Lookup func(activity.ID) (*activity.Activity, bool)

// Model is a per-agent 2D grid of Cells with a fixed ECEF lookup table.
type Model struct {
	AgentID string
	Width   int
	Height  int
	RatioW  float64
	RatioH  float64
	// LUT maps every (x,y) model coordinate to its fixed ECEF position;
	// constant for the run, in world frame (spec.md §3).
	LUT   [][]geo.Vec3
	Cells [][]*Cell

	payoffFn PayoffFunc
	cleanFn  CleanFunc
}

// New constructs an environment Model of the given dimensions. lut must
// already be sized [width][height] (see BuildLUT); it may be shared across
// agents (config `-shm1`) or replicated per agent (`-shm0`).
func New(agentID string, width, height int, ratioW, ratioH float64, lut [][]geo.Vec3, payoffFn PayoffFunc, cleanFn CleanFunc) *Model {
	if cleanFn == nil {
		cleanFn = NoopClean
	}
	m := &Model{
		AgentID:  agentID,
		Width:    width,
		Height:   height,
		RatioW:   ratioW,
		RatioH:   ratioH,
		LUT:      lut,
		payoffFn: payoffFn,
		cleanFn:  cleanFn,
	}
	m.Cells = make([][]*Cell, width)
	for x := 0; x < width; x++ {
		m.Cells[x] = make([]*Cell, height)
		for y := 0; y < height; y++ {
			m.Cells[x][y] = newCell(x, y, payoffFn, cleanFn)
		}
	}
	return m
}

// BuildLUT pre-computes the fixed ECEF position of every (x,y) model
// coordinate, assuming model coordinates map linearly onto an
// equirectangular lat/lon grid of the given world dimensions.
func BuildLUT(width, height int, ratioW, ratioH float64) [][]geo.Vec3 {
	lut := make([][]geo.Vec3, width)
	for x := 0; x < width; x++ {
		lut[x] = make([]geo.Vec3, height)
		for y := 0; y < height; y++ {
			ll := geo.LatLon{
				LonDeg: float64(x)*ratioW - 180,
				LatDeg: 90 - float64(y)*ratioH,
			}
			lut[x][y] = geo.FromLatLon(ll, geo.EarthRadiusMeters)
		}
	}
	return lut
}

// inBounds reports whether (x,y) is a valid model coordinate.
func (m *Model) inBounds(x, y int) bool {
	return x >= 0 && x < m.Width && y >= 0 && y < m.Height
}

// CellAt returns the cell at model coordinates (x,y), or nil if out of
// bounds.
func (m *Model) CellAt(x, y int) *Cell {
	if !m.inBounds(x, y) {
		return nil
	}
	return m.Cells[x][y]
}

// AddActivity indexes a into every cell it touches.
func (m *Model) AddActivity(a *activity.Activity) {
	id := a.ID()
	for coord, spans := range a.ActiveCells {
		cell := m.CellAt(coord.X, coord.Y)
		if cell == nil {
			continue
		}
		cell.Activities[id] = append([]activity.TimeSpan(nil), spans...)
	}
}

// RemoveActivity removes a's indexing from every cell it touches.
func (m *Model) RemoveActivity(a *activity.Activity) {
	id := a.ID()
	for coord := range a.ActiveCells {
		cell := m.CellAt(coord.X, coord.Y)
		if cell == nil {
			continue
		}
		delete(cell.Activities, id)
	}
}

// UpdateActivity re-indexes a, replacing whatever was previously indexed
// for old (which may reference a different set of cells than a's current
// ActiveCells, e.g. after a replan).
func (m *Model) UpdateActivity(old, updated *activity.Activity) {
	if old != nil {
		m.RemoveActivity(old)
	}
	m.AddActivity(updated)
}

// CleanActivities invokes each cell's CleanFn and removes whatever it
// reports as permanently irrelevant.
func (m *Model) CleanActivities(now clock.Time) {
	for x := range m.Cells {
		for y := range m.Cells[x] {
			cell := m.Cells[x][y]
			for _, id := range cell.CleanFn(cell, now) {
				delete(cell.Activities, id)
			}
		}
	}
}

// ComputePayoff computes, for every active cell of candidate, the payoff
// over each of its Δt timeline entries, storing results in the cell's
// payoff table (spec.md §4.5). lookup resolves the activity references
// already indexed on each cell to their current state (Confirmed/Discarded/
// Confidence) so the payoff function can reason about facts vs undecided
// candidates.
func (m *Model) ComputePayoff(candidate *activity.Activity, params payoff.Params, lookup Lookup) {
	for coord, spans := range candidate.ActiveCells {
		cell := m.CellAt(coord.X, coord.Y)
		if cell == nil {
			continue
		}

		known := m.knownForCell(cell, lookup)
		for _, span := range spans {
			result := cell.PayoffFn(span, known, params)
			cell.PayoffHistory = append(cell.PayoffHistory, PayoffEntry{
				QueryTime:      span.Start,
				Payoff:         result.Payoff,
				UtilityAverage: result.UtilityAverage,
			})
		}
	}
}

func (m *Model) knownForCell(cell *Cell, lookup Lookup) []payoff.Known {
	var known []payoff.Known
	for id, spans := range cell.Activities {
		act, ok := lookup(id)
		if !ok {
			continue
		}
		for _, span := range spans {
			known = append(known, payoff.Known{
				ID:         id,
				Span:       span,
				Confirmed:  act.Confirmed,
				Discarded:  act.Discarded,
				Confidence: act.Confidence,
			})
		}
	}
	return known
}

// GenerateConfig bundles the generate_activities tunables named in spec.md
// §4.5/§6 (`agent.max_task_duration`/`.max_tasks`, `environment.min_payoff`).
type GenerateConfig struct {
	Dt              clock.Time
	MinPayoff       float64
	MaxTaskDuration clock.Time
	MaxTasks        int
}

// timelineStep is one sampled instant of candidate's Δt timeline, with the
// minimum payoff across candidate's active cells at that instant.
type timelineStep struct {
	t         clock.Time
	minPayoff float64
	hasActive bool
}

// GenerateActivities walks candidate's Δt timeline, finds contiguous runs
// where the minimum cell payoff exceeds cfg.MinPayoff, cuts those runs into
// sub-tasks of length <= cfg.MaxTaskDuration, and emits at most
// cfg.MaxTasks new (unsequenced) activities, each carrying the active-cell
// coordinates clipped to its span. The per-cell payoffs stay in the cells'
// payoff histories; they are not copied onto the task. prevActs are
// existing activities overlapping candidate's span; a sub-task that
// overlaps any existing confirmed fact, even partially, is not emitted
// (spec.md §9's resolved `prevActs`-aware contract).
func (m *Model) GenerateActivities(candidate *activity.Activity, prevActs []*activity.Activity, cfg GenerateConfig) []*activity.Activity {
	steps := m.timeline(candidate, cfg.Dt)

	runs := contiguousRuns(steps, cfg.MinPayoff)
	var tasks []*activity.Activity
	for _, run := range runs {
		for _, sub := range cutRun(run, cfg.MaxTaskDuration) {
			if overlapsConfirmedFact(sub, prevActs) {
				continue
			}
			tasks = append(tasks, m.buildTask(candidate, sub, steps))
			if len(tasks) >= cfg.MaxTasks {
				return tasks
			}
		}
	}
	return tasks
}

func (m *Model) timeline(candidate *activity.Activity, dt clock.Time) []timelineStep {
	if dt <= 0 {
		dt = 1
	}
	var steps []timelineStep
	for t := candidate.Start; t < candidate.End; t += dt {
		min := 1.0
		hasActive := false
		for coord, spans := range candidate.ActiveCells {
			for _, span := range spans {
				if !span.Contains(t) {
					continue
				}
				cell := m.CellAt(coord.X, coord.Y)
				if cell == nil {
					continue
				}
				entry, ok := cell.LatestPayoff(t)
				if !ok {
					continue
				}
				hasActive = true
				if entry.Payoff < min {
					min = entry.Payoff
				}
			}
		}
		if !hasActive {
			min = 0
		}
		steps = append(steps, timelineStep{t: t, minPayoff: min, hasActive: hasActive})
	}
	return steps
}

func contiguousRuns(steps []timelineStep, minPayoff float64) []activity.TimeSpan {
	var runs []activity.TimeSpan
	inRun := false
	var runStart clock.Time
	var last clock.Time
	for _, s := range steps {
		good := s.hasActive && s.minPayoff > minPayoff
		if good && !inRun {
			inRun = true
			runStart = s.t
		}
		if !good && inRun {
			runs = append(runs, activity.TimeSpan{Start: runStart, End: last})
			inRun = false
		}
		last = s.t
	}
	if inRun {
		runs = append(runs, activity.TimeSpan{Start: runStart, End: last})
	}
	return runs
}

func cutRun(run activity.TimeSpan, maxDuration clock.Time) []activity.TimeSpan {
	if maxDuration <= 0 || run.End-run.Start <= maxDuration {
		return []activity.TimeSpan{run}
	}
	var subs []activity.TimeSpan
	for start := run.Start; start < run.End; start += maxDuration {
		end := start + maxDuration
		if end > run.End {
			end = run.End
		}
		subs = append(subs, activity.TimeSpan{Start: start, End: end})
	}
	return subs
}

func overlapsConfirmedFact(span activity.TimeSpan, prevActs []*activity.Activity) bool {
	for _, a := range prevActs {
		if a.Confirmed && (activity.TimeSpan{Start: a.Start, End: a.End}).Overlaps(span) {
			return true
		}
	}
	return false
}

func (m *Model) buildTask(candidate *activity.Activity, span activity.TimeSpan, steps []timelineStep) *activity.Activity {
	task := &activity.Activity{
		Owner:       candidate.Owner,
		Start:       span.Start,
		End:         span.End,
		ActiveCells: make(map[activity.CellCoord][]activity.TimeSpan),
		Confidence:  0.5,
	}
	for coord, spans := range candidate.ActiveCells {
		for _, s := range spans {
			clipped, ok := intersect(s, span)
			if !ok {
				continue
			}
			task.ActiveCells[coord] = append(task.ActiveCells[coord], clipped)
		}
	}
	return task
}

func intersect(a, b activity.TimeSpan) (activity.TimeSpan, bool) {
	start := a.Start
	if b.Start > start {
		start = b.Start
	}
	end := a.End
	if b.End < end {
		end = b.End
	}
	if start >= end {
		return activity.TimeSpan{}, false
	}
	return activity.TimeSpan{Start: start, End: end}, true
}

// Snapshot is a read-only view of the grid's current max-payoff-per-cell,
// used by the dashboard (spec.md §6 graphics interface) without handing out
// mutable state.
type Snapshot struct {
	Width, Height int
	MaxPayoff     [][]float64
}

// TakeSnapshot derives a Snapshot from the model's current payoff history,
// the same "derive a read-only view-model from live state" idiom the
// teacher's cell_views.Convert uses.
func (m *Model) TakeSnapshot(now clock.Time) Snapshot {
	snap := Snapshot{Width: m.Width, Height: m.Height}
	snap.MaxPayoff = make([][]float64, m.Width)
	for x := 0; x < m.Width; x++ {
		snap.MaxPayoff[x] = make([]float64, m.Height)
		for y := 0; y < m.Height; y++ {
			cell := m.Cells[x][y]
			entries := append([]PayoffEntry(nil), cell.PayoffHistory...)
			sort.Slice(entries, func(i, j int) bool { return entries[i].QueryTime < entries[j].QueryTime })
			best := 0.0
			for _, e := range entries {
				if e.QueryTime <= now && e.Payoff > best {
					best = e.Payoff
				}
			}
			snap.MaxPayoff[x][y] = best
		}
	}
	return snap
}
