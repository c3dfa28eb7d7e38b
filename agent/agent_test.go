package agent

import (
	"testing"

	"constellation/activity"
	"constellation/clock"
	"constellation/environment"
	"constellation/geo"
	"constellation/instrument"
	"constellation/knowledge"
	"constellation/link"
	"constellation/payoff"
	"constellation/resource"
	"constellation/scheduler"

	. "github.com/smartystreets/goconvey/convey"
)

type fixedMotion struct{ pos geo.Vec3 }

func (m fixedMotion) PositionAt(t clock.Time) (geo.Vec3, error) { return m.pos, nil }

func newTestAgent(id string) *Agent {
	lut := environment.BuildLUT(8, 8, 45, 22.5)
	env := environment.New(id, 8, 8, 45, 22.5, lut, payoff.BackwardRevisit, nil)
	kb := knowledge.New(id, 100)
	lnk := link.New(id, 1e9, 8000)
	ledger := resource.NewLedger()
	ledger.Add(resource.New("energy", resource.Cumulative, 100, 5))
	ins := instrument.New(instrument.Config{ApertureRad: 0.5, FootprintPoints: 8, Interpos: 2}, geo.EarthRadiusMeters+500000)

	cfg := Config{
		PlanningWindow:    20,
		ReplanningWindow:  5,
		GoalTarget:        100,
		ResourceThreshold: 0.25,
		GA: scheduler.Config{
			PopSize:        8,
			Generations:    5,
			InvalidPenalty: 1e6,
		},
		PayoffParams: payoff.Params{
			Model: payoff.Linear, GoalMin: 0, GoalMax: 10, GoalTarget: 5,
		},
		GenDt:           2,
		MinPayoff:       0,
		MaxTaskDuration: 10,
		MaxTasks:        5,
		ImagingRates:    map[string]float64{"energy": 1},
		ModelWidth:      8, ModelHeight: 8, RatioW: 45, RatioH: 22.5,
	}

	a := New(id, cfg, fixedMotion{pos: geo.Vec3{X: geo.EarthRadiusMeters + 500000}}, ins, env, kb, lnk, ledger, nil, 1)
	return a
}

func TestUpdatePositionHoldsOnError(t *testing.T) {
	Convey("Given an agent whose motion model fails", t, func() {
		a := newTestAgent("a")
		a.Position = geo.Vec3{X: 1, Y: 2, Z: 3}
		a.Motion = failingMotion{}

		Convey("UpdatePosition logs and holds the previous position", func() {
			a.UpdatePosition(10)
			So(a.Position, ShouldResemble, geo.Vec3{X: 1, Y: 2, Z: 3})
		})
	})
}

type failingMotion struct{}

func (failingMotion) PositionAt(t clock.Time) (geo.Vec3, error) {
	return geo.Vec3{}, errPropagation
}

var errPropagation = &propagationError{}

type propagationError struct{}

func (*propagationError) Error() string { return "propagation failed" }

func TestListenMergesPeerActivityIntoKnowledgeAndEnvironment(t *testing.T) {
	Convey("Given an agent b with a finished RX transfer from peer a", t, func() {
		b := newTestAgent("b")
		b.Link.Peers["a"] = &link.PeerLink{PeerID: "a", State: link.Connected}

		act := &activity.Activity{
			Owner: "a", Seq: 1, Start: 0, End: 5, LastUpdate: 1,
			ActiveCells: map[activity.CellCoord][]activity.TimeSpan{{X: 1, Y: 1}: {{Start: 0, End: 5}}},
		}
		tr := &link.Transfer{ID: 1, Payload: act, Finished: true}
		b.Link.Peers["a"].RX = append(b.Link.Peers["a"].RX, tr)

		Convey("Listen drains RX into knowledge and indexes the activity in the environment", func() {
			b.Listen()
			others := b.Knowledge.Others()
			So(others["a"][1], ShouldNotBeNil)
			cell := b.Environment.CellAt(1, 1)
			So(cell.Activities, ShouldContainKey, act.ID())
		})
	})
}

func TestGossipSchedulesSendToConnectedPeersOnly(t *testing.T) {
	Convey("Given an agent with one connected and one disconnected peer", t, func() {
		a := newTestAgent("a")
		a.Link.Peers["b"] = &link.PeerLink{PeerID: "b", State: link.Connected}
		a.Link.Peers["c"] = &link.PeerLink{PeerID: "c", State: link.Disconnected}

		owned := &activity.Activity{Owner: "a", Seq: 1, Start: 0, End: 5, LastUpdate: 1}
		a.Knowledge.AddOwned(0, owned)

		Convey("Gossip enqueues a send to the connected peer only", func() {
			a.Gossip(10)
			So(len(a.Link.Peers["b"].TX), ShouldEqual, 1)
			So(len(a.Link.Peers["c"].TX), ShouldEqual, 0)
		})
	})
}

func TestPlanSuppressedBelowResourceThreshold(t *testing.T) {
	Convey("Given an agent whose only resource is below the planning threshold", t, func() {
		a := newTestAgent("a")
		a.Resources.Get("energy").ApplyFor(100, 1) // drain to the reserved margin

		Convey("Plan installs no new owned activities", func() {
			before := len(a.Knowledge.Owned())
			a.Plan(0)
			So(len(a.Knowledge.Owned()), ShouldEqual, before)
		})
	})
}

func TestExecuteTogglesInstrumentAndResourceRate(t *testing.T) {
	Convey("Given an agent with one owned activity covering [0,5)", t, func() {
		a := newTestAgent("a")
		owned := &activity.Activity{Owner: "a", Start: 0, End: 5}
		a.Knowledge.AddOwned(0, owned)
		a.Knowledge.Update(0)

		Convey("Execute at t=1 enables the instrument and debits no energy before the next Consume", func() {
			a.Execute(1)
			So(a.Instrument.Enabled, ShouldBeTrue)
			So(a.Resources.Get("energy").Capacity(), ShouldEqual, 100.0)

			Convey("Execute at t=6, after the window closes, disables it again", func() {
				a.Execute(6)
				So(a.Instrument.Enabled, ShouldBeFalse)
			})
		})
	})
}

func TestConsumeSwallowsResourceViolations(t *testing.T) {
	Convey("Given an agent whose energy resource will be driven negative", t, func() {
		a := newTestAgent("a")
		a.Resources.Get("energy").AddRate(1000, "test-load")

		Convey("Consume does not panic or propagate the violation", func() {
			So(func() { a.Consume(1) }, ShouldNotPanic)
		})
	})
}
