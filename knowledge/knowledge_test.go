package knowledge

import (
	"testing"

	"constellation/activity"
	"constellation/clock"

	. "github.com/smartystreets/goconvey/convey"
)

func TestAddOwnedOrderingAndOverlap(t *testing.T) {
	Convey("Given an empty handler", t, func() {
		h := New("agent-a", 100)

		Convey("AddOwned assigns sequence numbers and keeps start-time order", func() {
			a2 := &activity.Activity{Start: 10, End: 15}
			a1 := &activity.Activity{Start: 0, End: 5}
			So(h.AddOwned(0, a2), ShouldBeNil)
			So(h.AddOwned(0, a1), ShouldBeNil)

			So(h.Owned()[0].Start, ShouldEqual, 0)
			So(h.Owned()[1].Start, ShouldEqual, 10)
			So(h.Owned()[0].Seq, ShouldEqual, 1)
			So(h.Owned()[1].Seq, ShouldEqual, 0)
		})

		Convey("AddOwned rejects an activity overlapping an existing owned entry", func() {
			So(h.AddOwned(0, &activity.Activity{Start: 0, End: 10}), ShouldBeNil)
			err := h.AddOwned(0, &activity.Activity{Start: 5, End: 8})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestIsCapturing(t *testing.T) {
	Convey("Given an owned activity spanning [0,10)", t, func() {
		h := New("agent-a", 100)
		So(h.AddOwned(0, &activity.Activity{Start: 0, End: 10}), ShouldBeNil)

		Convey("IsCapturing is true inside the window", func() {
			_, ok := h.IsCapturing(5)
			So(ok, ShouldBeTrue)
		})

		Convey("IsCapturing is false outside the window until Update relocates it", func() {
			_, ok := h.IsCapturing(20)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestAddPeerDedup(t *testing.T) {
	Convey("Given a peer activity already recorded", t, func() {
		h := New("agent-a", 100)
		peerAct := &activity.Activity{Owner: "agent-b", Seq: 1, Start: 0, End: 5, LastUpdate: 5, Confidence: 0.5}
		So(h.AddPeer(peerAct), ShouldBeTrue)

		Convey("An older-or-equal duplicate is silently ignored", func() {
			dup := &activity.Activity{Owner: "agent-b", Seq: 1, Start: 0, End: 5, LastUpdate: 5, Confidence: 0.9}
			replaced := h.AddPeer(dup)
			So(replaced, ShouldBeFalse)
			So(h.Others()["agent-b"][1].Confidence, ShouldEqual, 0.5)
		})

		Convey("A strictly newer duplicate replaces the stored copy", func() {
			newer := &activity.Activity{Owner: "agent-b", Seq: 1, Start: 0, End: 5, LastUpdate: 6, Confidence: 0.9}
			replaced := h.AddPeer(newer)
			So(replaced, ShouldBeTrue)
			So(h.Others()["agent-b"][1].Confidence, ShouldEqual, 0.9)
		})
	})
}

func TestPurgeHorizon(t *testing.T) {
	// S6 purge horizon: a fact with end-time = now - (goal_target+1) must be
	// absent from both collections after purge.
	Convey("Given an owned fact and a peer fact both past the purge horizon", t, func() {
		h := New("agent-a", 100)
		var goalTarget clock.Time = 10.0

		oldOwned := &activity.Activity{Start: 0, End: 0}
		oldOwned.End = 100 - (goalTarget + 1)
		oldOwned.Start = oldOwned.End - 1
		So(h.AddOwned(0, oldOwned), ShouldBeNil)

		oldPeer := &activity.Activity{Owner: "agent-b", Seq: 1, Start: oldOwned.Start, End: oldOwned.End, LastUpdate: 1}
		h.AddPeer(oldPeer)

		Convey("Purge removes both", func() {
			h.Purge(100, goalTarget)
			So(h.Owned(), ShouldBeEmpty)
			So(h.Others(), ShouldBeEmpty)
		})
	})
}

func TestGetActivitiesToExchangeExcludesPeerOwner(t *testing.T) {
	Convey("Given activities from several owners", t, func() {
		h := New("agent-a", 100)
		So(h.AddOwned(0, &activity.Activity{Start: 0, End: 5}), ShouldBeNil)
		h.AddPeer(&activity.Activity{Owner: "agent-b", Seq: 1, Start: 0, End: 5, LastUpdate: 1})
		h.AddPeer(&activity.Activity{Owner: "agent-c", Seq: 1, Start: 0, End: 5, LastUpdate: 1})

		Convey("Exchanging with agent-b excludes agent-b's own activities", func() {
			out := h.GetActivitiesToExchange("agent-b", 10, 100)
			for _, a := range out {
				So(a.Owner, ShouldNotEqual, "agent-b")
			}
			So(len(out), ShouldEqual, 2)
		})
	})
}

func TestGetActivitiesToExchangeCapsAtTwenty(t *testing.T) {
	Convey("Given more than 20 eligible activities", t, func() {
		h := New("agent-a", 100)
		for i := 0; i < 30; i++ {
			h.AddPeer(&activity.Activity{Owner: "agent-b", Seq: uint64(i), Start: 0, End: 5, LastUpdate: clock.Time(i)})
		}

		Convey("The result is capped at 20", func() {
			out := h.GetActivitiesToExchange("agent-z", 10, 100)
			So(len(out), ShouldEqual, 20)
		})
	})
}
