// Package agent implements the per-satellite pipeline of spec.md §4.9:
// update_position, listen, plan, execute, consume, gossip, wiring together
// motion, instrument, environment, knowledge, resource and link.
package agent

import (
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"

	"constellation/activity"
	"constellation/clock"
	"constellation/environment"
	"constellation/geo"
	"constellation/instrument"
	"constellation/knowledge"
	"constellation/link"
	"constellation/motion"
	"constellation/payoff"
	"constellation/resource"
	"constellation/scheduler"
)

// AggregationKind selects how an activity's per-cell payoffs reduce to a
// single scheduler-facing value (spec.md §6's `agent.ga_scheduler.payoff_aggregation`).
type AggregationKind int

const (
	AggSum AggregationKind = iota
	AggMean
	AggMin
	AggMax
)

// Aggregate reduces values per kind. An empty input returns 0.
func Aggregate(values []float64, kind AggregationKind) float64 {
	if len(values) == 0 {
		return 0
	}
	switch kind {
	case AggMean:
		total := 0.0
		for _, v := range values {
			total += v
		}
		return total / float64(len(values))
	case AggMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case AggMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	default: // AggSum
		total := 0.0
		for _, v := range values {
			total += v
		}
		return total
	}
}

// Config bundles the per-agent tunables named in spec.md §6's `agent`
// section.
type Config struct {
	PlanningWindow    clock.Time
	ReplanningWindow  int
	ConfirmWindow     clock.Time
	GoalTarget        clock.Time
	ResourceThreshold float64 // fraction of capacity below which planning is suppressed (spec.md: 0.25)

	GA                scheduler.Config
	PayoffParams      payoff.Params
	PayoffAggregation AggregationKind

	GenDt              clock.Time
	MinPayoff          float64
	MaxTaskDuration    clock.Time
	MaxTasks           int

	// ImagingRates names the resource consumption rates an activity
	// installs while its instrument is enabled (e.g. "energy", "storage").
	ImagingRates map[string]float64

	TXEnergyRate float64
	RXEnergyRate float64

	ModelWidth, ModelHeight int
	RatioW, RatioH          float64
}

// PeerView is how an agent learns another agent's current position and
// configured link range, without holding a direct reference to its full
// state (spec.md §5's agents interacting only through well-defined
// surfaces).
type PeerView func(peerID string) (pos geo.Vec3, linkRangeMeters float64, ok bool)

// Agent is one simulated satellite.
type Agent struct {
	ID     string
	Config Config

	Motion      motion.Model
	Instrument  *instrument.Instrument
	Environment *environment.Model
	Knowledge   *knowledge.Handler
	Link        *link.Link
	Resources   *resource.Ledger

	Position geo.Vec3

	// mu serializes internal mutations (set_confirmed/add/remove) against
	// concurrent parallel planning of other agents touching shared state
	// via lookups (spec.md §4.9).
	mu sync.Mutex

	currentExecuting *activity.Activity

	peers  PeerView
	rng    *rand.Rand
	peerIDs []string
}

// New constructs an Agent with all of its subsystems wired together.
func New(id string, cfg Config, m motion.Model, ins *instrument.Instrument, env *environment.Model, kb *knowledge.Handler, lnk *link.Link, ledger *resource.Ledger, peers PeerView, seed int64) *Agent {
	return &Agent{
		ID:          id,
		Config:      cfg,
		Motion:      m,
		Instrument:  ins,
		Environment: env,
		Knowledge:   kb,
		Link:        lnk,
		Resources:   ledger,
		peers:       peers,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// lookupActivity resolves an activity.ID against this agent's own
// knowledge base (owned list + others map), the single owning table
// environment.Model.ComputePayoff needs to resolve cell-indexed references.
func (a *Agent) lookupActivity(id activity.ID) (*activity.Activity, bool) {
	for _, act := range a.Knowledge.Owned() {
		if act.ID() == id {
			return act, true
		}
	}
	if peers, ok := a.Knowledge.Others()[id.OwnerID]; ok {
		if act, ok := peers[id.Seq]; ok {
			return act, true
		}
	}
	return nil, false
}

// UpdatePosition advances one sample of the motion model (spec.md §4.9
// step 1). A propagation failure is logged and the previous position held
// (spec.md §4.10).
func (a *Agent) UpdatePosition(t clock.Time) {
	pos, err := a.Motion.PositionAt(t)
	if err != nil {
		log.Printf("agent %s: position propagation failed at t=%v: %v (holding previous position)", a.ID, t, err)
		return
	}
	a.Position = pos
}

// Listen drains the link's RX queues, merging newly-received activities
// into the knowledge base and the environment model (spec.md §4.9 step 2).
func (a *Agent) Listen() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for peerID := range a.Link.Peers {
		for _, tr := range a.Link.DrainRX(peerID) {
			if a.Knowledge.AddPeer(tr.Payload) {
				a.Environment.AddActivity(tr.Payload)
			}
		}
	}
}

// pending returns the count of owned activities not yet started as of
// now, the quantity spec.md §4.9 gates planning on.
func (a *Agent) pending(now clock.Time) int {
	n := 0
	for _, act := range a.Knowledge.Owned() {
		if act.Start > now {
			n++
		}
	}
	return n
}

func (a *Agent) resourcesAboveThreshold() bool {
	for _, r := range a.Resources.All() {
		if r.Max() <= 0 {
			continue
		}
		if r.Capacity()/r.Max() < a.Config.ResourceThreshold {
			return false
		}
	}
	return true
}

// Plan runs the GA scheduler if gated conditions allow, per spec.md §4.9
// step 3.
func (a *Agent) Plan(now clock.Time) {
	if a.pending(now) > a.Config.ReplanningWindow || !a.resourcesAboveThreshold() {
		return
	}

	candidate := a.buildSyntheticCandidate(now)
	a.Environment.ComputePayoff(candidate, a.Config.PayoffParams, a.lookupActivity)

	prevActs := a.overlapping(candidate.Start, candidate.End)
	genCfg := environment.GenerateConfig{
		Dt:              a.Config.GenDt,
		MinPayoff:       a.Config.MinPayoff,
		MaxTaskDuration: a.Config.MaxTaskDuration,
		MaxTasks:        a.Config.MaxTasks,
	}
	subCandidates := a.Environment.GenerateActivities(candidate, prevActs, genCfg)
	if len(subCandidates) == 0 {
		return
	}

	gaCandidates := make([]scheduler.Candidate, len(subCandidates))
	for i, sub := range subCandidates {
		gaCandidates[i] = scheduler.Candidate{
			Span:          activity.TimeSpan{Start: sub.Start, End: sub.End},
			Payoff:        a.aggregatedPayoff(sub),
			ResourceRates: a.Config.ImagingRates,
			PrevSolution:  a.overlappingSingle(sub.Start, sub.End),
		}
	}

	result := scheduler.Run(a.ID, gaCandidates, a.Resources, a.Config.GA, a.rng)
	if !result.Best.Valid {
		// Scheduler found no feasible chromosome: no new activities this
		// step (spec.md §4.10); the agent retries next planning window.
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, task := range result.NewTasks {
		if err := a.Knowledge.AddOwned(now, task); err != nil {
			log.Printf("agent %s: discarding scheduler output: %v", a.ID, err)
			continue
		}
		a.Environment.AddActivity(task)
	}
	for _, discarded := range result.Discarded {
		a.Knowledge.RemoveOwned(now, discarded.ID())
		a.Environment.RemoveActivity(discarded)
	}
}

// buildSyntheticCandidate creates the one long candidate spanning the
// planning window, sampling the motion model at clock granularity and
// deriving its active cells from the instrument's segment-visibility scan
// (spec.md §4.9 step 3, §4.3).
func (a *Agent) buildSyntheticCandidate(now clock.Time) *activity.Activity {
	end := now + a.Config.PlanningWindow
	dt := a.Config.GenDt
	if dt <= 0 {
		dt = 1
	}

	cand := &activity.Activity{
		Owner:       a.ID,
		Start:       now,
		End:         end,
		ActiveCells: make(map[activity.CellCoord][]activity.TimeSpan),
	}

	lut := a.Environment.LUT
	w, h := a.Config.ModelWidth, a.Config.ModelHeight

	prevPos, err := a.Motion.PositionAt(now)
	if err != nil {
		return cand
	}
	cand.Trajectory = append(cand.Trajectory, activity.Sample{T: now, Pos: toActivityVec3(prevPos)})

	for t := now + dt; t <= end; t += dt {
		pos, err := a.Motion.PositionAt(t)
		if err != nil {
			log.Printf("agent %s: position propagation failed at t=%v during planning: %v", a.ID, t, err)
			break
		}
		cand.Trajectory = append(cand.Trajectory, activity.Sample{T: t, Pos: toActivityVec3(pos)})

		visible := a.Instrument.VisibleCellsAlongSegment(lut, w, h, a.Config.RatioW, a.Config.RatioH, prevPos, pos)
		span := activity.TimeSpan{Start: t - dt, End: t}
		for coord := range visible {
			cand.ActiveCells[coord] = append(cand.ActiveCells[coord], span)
		}
		prevPos = pos
	}

	return cand
}

func toActivityVec3(v geo.Vec3) activity.Vec3 {
	return activity.Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

// aggregatedPayoff reduces a candidate's per-cell latest payoff entries
// per Config.PayoffAggregation.
func (a *Agent) aggregatedPayoff(sub *activity.Activity) float64 {
	var values []float64
	for coord := range sub.ActiveCells {
		cell := a.Environment.CellAt(coord.X, coord.Y)
		if cell == nil {
			continue
		}
		if entry, ok := cell.LatestPayoff(sub.End); ok {
			values = append(values, entry.Payoff)
		}
	}
	return Aggregate(values, a.Config.PayoffAggregation)
}

// overlapping returns every owned activity whose interval overlaps
// [start,end), used to mark scheduler candidates as previous-solution
// protected.
func (a *Agent) overlapping(start, end clock.Time) []*activity.Activity {
	span := activity.TimeSpan{Start: start, End: end}
	var out []*activity.Activity
	for _, act := range a.Knowledge.Owned() {
		if (activity.TimeSpan{Start: act.Start, End: act.End}).Overlaps(span) {
			out = append(out, act)
		}
	}
	return out
}

func (a *Agent) overlappingSingle(start, end clock.Time) *activity.Activity {
	matches := a.overlapping(start, end)
	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	return matches[0]
}

// Execute toggles the instrument and its resource rates as the current
// owned activity starts and ends (spec.md §4.9 step 4).
func (a *Agent) Execute(now clock.Time) {
	if a.currentExecuting != nil && a.currentExecuting.End <= now {
		a.Instrument.Enabled = false
		for name := range a.Config.ImagingRates {
			if r := a.Resources.Get(name); r != nil {
				r.RemoveRate(a.currentExecuting.ID().String())
			}
		}
		a.currentExecuting = nil
	}

	if act, ok := a.Knowledge.IsCapturing(now); ok && act != a.currentExecuting {
		a.Instrument.Enabled = true
		for name, rate := range a.Config.ImagingRates {
			if r := a.Resources.Get(name); r != nil {
				if err := r.AddRate(rate, act.ID().String()); err != nil {
					log.Printf("agent %s: installing imaging rate for %s: %v", a.ID, act.ID(), err)
				}
			}
		}
		a.currentExecuting = act
	}
}

// Consume steps every resource by one Δt, logging and swallowing any
// bounds violation rather than propagating it (spec.md §4.9 step 5,
// §4.10's "resource overrun is logged and swallowed").
func (a *Agent) Consume(dt clock.Time) {
	for _, err := range a.Resources.Step(float64(dt)) {
		log.Printf("agent %s: resource violation: %v", a.ID, err)
	}
}

// Gossip enqueues the top exchange-ranked activities to every currently
// connected peer (spec.md §4.9 step 6).
func (a *Agent) Gossip(now clock.Time) {
	for peerID, p := range a.Link.Peers {
		if p.State != link.Connected && p.State != link.Sending {
			continue
		}
		for _, act := range a.Knowledge.GetActivitiesToExchange(peerID, now, a.Config.GoalTarget) {
			a.Link.ScheduleSend(peerID, act)
		}
	}
}

// UpdateLinks re-evaluates range/line-of-sight against every known peer
// and promotes mutually-in-range LINE_OF_SIGHT peers to CONNECTED,
// invoking the connected callback for the initial gossip enqueue (spec.md
// §4.7).
func (a *Agent) UpdateLinks() {
	for _, peerID := range a.peerIDs {
		pos, rangeMeters, ok := a.peers(peerID)
		if !ok {
			continue
		}
		a.Link.UpdateRange(a.Position, pos, rangeMeters, peerID)
		if a.Link.Peers[peerID].State == link.LineOfSight {
			a.Link.TryConnect(peerID)
		}
	}
}

// SetPeerIDs installs the fixed roster of other agents this Agent's link
// should track.
func (a *Agent) SetPeerIDs(ids []string) {
	a.peerIDs = append([]string(nil), ids...)
}

// Snapshot is a read-only view of agent state for reporters/dashboard.
type Snapshot struct {
	ID         string
	Position   geo.Vec3
	OwnedCount int
	Resources  map[string]float64
}

// Snapshot captures the agent's current externally-visible state without
// handing out mutable references.
func (a *Agent) Snapshot() Snapshot {
	snap := Snapshot{ID: a.ID, Position: a.Position, OwnedCount: len(a.Knowledge.Owned()), Resources: make(map[string]float64)}
	for _, r := range a.Resources.All() {
		snap.Resources[r.Name] = r.Capacity()
	}
	return snap
}

func (a *Agent) String() string {
	return fmt.Sprintf("agent(%s)", a.ID)
}
