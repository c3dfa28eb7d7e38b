// Package sim implements the top-level simulation driver of spec.md §5: a
// monotonic virtual clock ticking every agent through its six-stage
// per-step pipeline (UpdatePosition, Listen, Plan, Execute, Consume,
// Gossip), with the one heavy stage -- planning -- fanned out across a
// bounded worker pool the way reinforcement.alphaMonteCarloVanillaTrain
// bounds its own agent workers by nworkers, merged back via errgroup the
// way the teacher's fastview websocket client bounds its own goroutines.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"constellation/agent"
	"constellation/clock"
	"constellation/config"
	"constellation/environment"
	"constellation/geo"
	"constellation/instrument"
	"constellation/knowledge"
	"constellation/link"
	"constellation/motion"
	"constellation/payoff"
	"constellation/reporter"
	"constellation/simerr"
	"constellation/world"
)

// agentState bundles one constellation member's full wiring -- the
// concrete collaborators behind agent.Agent's constructor arguments -- so
// Simulation can drive the per-step pipeline and answer PeerView queries
// without reaching back into agent internals.
type agentState struct {
	id  string
	a   *agent.Agent
	kb  *knowledge.Handler
	lnk *link.Link
}

// Simulation owns the constellation's clock, every agent's full wiring,
// the truth-side world observer, and the channel on which each step's
// snapshot is published (see Ticks); it holds no reporters itself. There is
// no process-wide mutable singleton: every piece of shared state (clock,
// positions, world) is a field reached only through this struct.
type Simulation struct {
	clock    *clock.VirtualClock
	cfg      *config.Config
	agents   []*agentState
	world    *world.World
	lut      [][]geo.Vec3
	planners int

	positions map[string]geo.Vec3
	ranges    map[string]float64
	shareLUT  bool

	ticks chan reporter.Tick
}

// New constructs a Simulation with numAgents satellites on circular orbits
// spread evenly in right ascension of the ascending node, sharing one
// environment lookup table (spec.md §4.4's shared, read-only cell-position
// LUT) but each owning its own knowledge base, link endpoint, and resource
// ledger. The caller drives persistence and live viewing off Ticks(), the
// single source of truth for every step's snapshot -- fanning it out to a
// reporter.Set and/or a dashboard.Server is the caller's composition, the
// same way root_view.NewRootView composes independent views over one
// source channel rather than a producer owning its own consumers.
func New(cfg *config.Config, numAgents int, seed int64) (*Simulation, error) {
	return NewWithLUTSharing(cfg, numAgents, seed, true)
}

// NewWithLUTSharing is New, with explicit control over whether every agent's
// environment.Model shares one precomputed cell LUT or each gets its own
// independent copy (spec.md §6's `-shm1`/`-shm0` toggle) -- a pure
// memory-layout choice that never changes the LUT's contents or any
// agent's observable behaviour.
func NewWithLUTSharing(cfg *config.Config, numAgents int, seed int64, shareLUT bool) (*Simulation, error) {
	if numAgents <= 0 {
		return nil, simerr.New(simerr.KindConfig, fmt.Errorf("sim: numAgents must be positive, got %d", numAgents))
	}

	lut := environment.BuildLUT(cfg.Environment.Width, cfg.Environment.Height,
		360.0/float64(cfg.Environment.Width), 180.0/float64(cfg.Environment.Height))

	s := &Simulation{
		clock:     clock.New(cfg.TimeUnit(), 0, clock.Time(nonZeroOr(cfg.System.DeltaT, 1)), clock.Time(cfg.System.Duration)),
		cfg:       cfg,
		world:     world.New(cfg.Environment.Width, cfg.Environment.Height),
		lut:       lut,
		planners:  nonZeroInt(cfg.Parallel.Planners, numAgents),
		positions: make(map[string]geo.Vec3, numAgents),
		ranges:    make(map[string]float64, numAgents),
		shareLUT:  shareLUT,
		ticks:     make(chan reporter.Tick, 8),
	}

	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < numAgents; i++ {
		id := fmt.Sprintf("sat-%d", i)
		st, err := s.buildAgent(id, i, numAgents, rng)
		if err != nil {
			return nil, err
		}
		s.agents = append(s.agents, st)
	}
	return s, nil
}

func nonZeroOr(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func nonZeroInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// cloneLUT deep-copies a cell lookup table, for -shm0's per-agent
// replication mode.
func cloneLUT(lut [][]geo.Vec3) [][]geo.Vec3 {
	out := make([][]geo.Vec3, len(lut))
	for i, col := range lut {
		out[i] = append([]geo.Vec3(nil), col...)
	}
	return out
}

// buildAgent wires one satellite's motion model, instrument, environment
// view, knowledge base, link and resource ledger from cfg, spreading RAAN
// evenly across the constellation (spec.md §9's "random constellation"
// mode over the same CircularOrbit model --parse-tle/-tp/--random all
// drive).
func (s *Simulation) buildAgent(id string, index, total int, rng *rand.Rand) (*agentState, error) {
	m := s.cfg.Agent.Motion
	orbit := motion.CircularOrbit{
		AltitudeMeters:  m.AltitudeM,
		InclinationRad:  m.IncRad,
		RAANRad:         m.RAANRad + 2*math.Pi*float64(index)/float64(total),
		ArgPerigeeRad:   m.ArgPRad,
		InitMeanAnomaly: m.InitMARad,
	}

	pos0, err := orbit.PositionAt(0)
	if err != nil {
		return nil, simerr.New(simerr.KindPropagation, fmt.Errorf("sim: initial position for %s: %w", id, err))
	}
	s.positions[id] = pos0
	s.ranges[id] = s.cfg.Agent.Link.RangeMeters

	ins := instrument.New(instrument.Config{
		ApertureRad:     s.cfg.Agent.Instrument.ApertureRad,
		FootprintPoints: s.cfg.Agent.Instrument.FootprintPoints,
		Interpos:        s.cfg.System.Interpos,
	}, pos0.Norm())

	kb := knowledge.New(id, clock.Time(s.cfg.Agent.ConfirmWindow))
	lnk := link.New(id, s.cfg.Agent.Link.RangeMeters, s.cfg.Agent.Link.DatarateBps)
	ledger := s.cfg.BuildLedger()

	lut := s.lut
	if !s.shareLUT {
		lut = cloneLUT(s.lut)
	}
	env := environment.New(id, s.cfg.Environment.Width, s.cfg.Environment.Height,
		360.0/float64(s.cfg.Environment.Width), 180.0/float64(s.cfg.Environment.Height),
		lut, payoff.BackwardRevisit, environment.NoopClean)

	peerView := func(peerID string) (geo.Vec3, float64, bool) {
		pos, ok := s.positions[peerID]
		if !ok {
			return geo.Vec3{}, 0, false
		}
		return pos, s.ranges[peerID], true
	}

	a := agent.New(id, s.cfg.AgentConfig(), orbit, ins, env, kb, lnk, ledger, peerView, rng.Int63())
	return &agentState{id: id, a: a, kb: kb, lnk: lnk}, nil
}

// peerIDsExcluding returns every agent id in the constellation other than
// self, the fixed per-agent link roster spec.md §4.7 requires.
func (s *Simulation) peerIDsExcluding(self string) []string {
	ids := make([]string, 0, len(s.agents)-1)
	for _, st := range s.agents {
		if st.id != self {
			ids = append(ids, st.id)
		}
	}
	return ids
}

// wireLinks installs each agent's fixed peer roster once, after
// construction, so every Link knows the full set of other satellites to
// track range/line-of-sight against.
func (s *Simulation) wireLinks() {
	for _, st := range s.agents {
		st.a.SetPeerIDs(s.peerIDsExcluding(st.id))
	}
}

// resolveLink looks up a peer's Link endpoint by id, for Link.StepTransfers'
// same-process "deliver directly to the peer's RX queue" resolver.
func (s *Simulation) resolveLink(peerID string) *link.Link {
	for _, st := range s.agents {
		if st.id == peerID {
			return st.lnk
		}
	}
	return nil
}

// Run drives the simulation to completion (clock.Finished()) or until ctx
// is cancelled, sending one reporter.Tick per step on Ticks(). A panic
// escaping a step is recovered here -- spec.md §7's "top-level catch in
// the control loop" -- closing Ticks() before returning the error that
// should drive the process's exit code, so a caller's reporter.Set sees a
// clean channel close and can flush-and-close in turn.
func (s *Simulation) Run(ctx context.Context) (err error) {
	s.wireLinks()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sim: recovered panic in control loop: %v", r)
		}
		close(s.ticks)
	}()

	for !s.clock.Finished() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if stepErr := s.step(ctx); stepErr != nil {
			return stepErr
		}
		s.clock.Step()
	}
	return nil
}

// step runs one pass of every agent through its six-stage pipeline:
// UpdatePosition, UpdateLinks and Listen sequentially (cheap, and Listen's
// effects must be visible before planning reads knowledge), Plan fanned
// out across a bounded worker pool (spec.md §5's parallel-planning
// contract: planning only reads stable pre-step state and writes
// agent-local data, so step order across agents never affects the
// observable outcome), then Execute/Consume/Gossip sequentially.
func (s *Simulation) step(ctx context.Context) error {
	now := s.clock.Now()
	dt := s.clock.Delta()
	goalTarget := clock.Time(s.cfg.Environment.Payoff.GoalTarget)

	for _, st := range s.agents {
		st.a.UpdatePosition(now)
		s.positions[st.id] = st.a.Position
	}
	for _, st := range s.agents {
		st.a.UpdateLinks()
		st.a.Listen()
	}

	if err := s.planParallel(ctx, now); err != nil {
		return err
	}

	for _, st := range s.agents {
		// Update confirms owned activities whose window has just closed
		// before Execute reads IsCapturing and before Purge may erase them,
		// then Purge enforces the rolling goal-target retention horizon.
		st.kb.Update(now)
		st.kb.Purge(now, goalTarget)

		st.a.Execute(now)
		st.a.Consume(dt)
		st.a.Gossip(now)
	}

	for _, st := range s.agents {
		applyEnergy := func(amount float64) {
			if r := st.a.Resources.Get("energy"); r != nil {
				r.ApplyOnce(amount)
			}
		}
		st.lnk.StepTransfers(now, dt, st.a.Config.TXEnergyRate, applyEnergy, s.resolveLink)
		st.lnk.StepRXEnergy(dt, st.a.Config.RXEnergyRate, applyEnergy)
	}

	owned := make([]world.Activities, len(s.agents))
	snapshots := make([]agent.Snapshot, len(s.agents))
	for i, st := range s.agents {
		owned[i] = st.kb
		snapshots[i] = st.a.Snapshot()
	}
	s.world.Observe(now, owned)

	tick := reporter.Tick{Now: now, Agents: snapshots, World: s.world.TakeSnapshot()}
	select {
	case s.ticks <- tick:
	case <-ctx.Done():
	default:
		// A slow reporter set must never stall the control loop; drop the
		// tick rather than block (the next step's tick supersedes it).
	}
	return nil
}

// planParallel runs every agent's Plan(now) concurrently, bounded to
// s.planners simultaneous goroutines.
func (s *Simulation) planParallel(ctx context.Context, now clock.Time) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.planners)

	for _, st := range s.agents {
		st := st
		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			return g.Wait()
		}
		g.Go(func() error {
			defer func() { <-sem }()
			st.a.Plan(now)
			return nil
		})
	}
	return g.Wait()
}

// Snapshot returns the current per-agent and world state, for the
// dashboard's initial page render.
func (s *Simulation) Snapshot() (agents []agent.Snapshot, w world.Snapshot) {
	for _, st := range s.agents {
		agents = append(agents, st.a.Snapshot())
	}
	return agents, s.world.TakeSnapshot()
}

// Ticks exposes the per-step Tick stream, the only output of each step;
// callers fan it out to a reporter.Set and/or a dashboard.
func (s *Simulation) Ticks() <-chan reporter.Tick {
	return s.ticks
}

// NumAgents reports the number of satellites in the constellation.
func (s *Simulation) NumAgents() int {
	return len(s.agents)
}
