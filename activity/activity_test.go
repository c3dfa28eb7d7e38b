package activity

import (
	"testing"

	"constellation/clock"

	. "github.com/smartystreets/goconvey/convey"
)

func validActivity() *Activity {
	return &Activity{
		Owner: "agent-a",
		Seq:   1,
		Start: 0,
		End:   10,
		ActiveCells: map[CellCoord][]TimeSpan{
			{X: 1, Y: 1}: {{Start: 0, End: 5}},
		},
		Confidence: 0.5,
		LastUpdate: 0,
		Created:    0,
	}
}

func TestActivityValidate(t *testing.T) {
	Convey("Given a well-formed undecided activity", t, func() {
		a := validActivity()
		So(a.Validate(), ShouldBeNil)
	})

	Convey("Given an activity whose start is not before its end", t, func() {
		a := validActivity()
		a.Start, a.End = 10, 10
		So(a.Validate(), ShouldNotBeNil)
	})

	Convey("Given an activity with overlapping intervals on the same cell", t, func() {
		a := validActivity()
		a.ActiveCells[CellCoord{X: 1, Y: 1}] = []TimeSpan{{Start: 0, End: 5}, {Start: 3, End: 8}}
		So(a.Validate(), ShouldNotBeNil)
	})

	Convey("Given an activity marked confirmed with confidence != 1", t, func() {
		a := validActivity()
		a.Confirmed = true
		So(a.Validate(), ShouldNotBeNil)
	})

	Convey("Given a properly confirmed activity", t, func() {
		a := validActivity()
		a.SetConfirmed(1)
		So(a.Validate(), ShouldBeNil)
		So(a.IsFact(), ShouldBeTrue)
	})

	Convey("Given a properly discarded activity", t, func() {
		a := validActivity()
		a.SetDiscarded(1)
		So(a.Validate(), ShouldBeNil)
		So(a.IsFact(), ShouldBeTrue)
	})

	Convey("An undecided activity is not a fact", t, func() {
		a := validActivity()
		So(a.IsFact(), ShouldBeFalse)
	})
}

func TestReplaceIfNewer(t *testing.T) {
	Convey("Given a known activity and an inbound copy", t, func() {
		dst := validActivity()
		dst.LastUpdate = 5

		Convey("An inbound copy with an older LastUpdate is a no-op", func() {
			src := validActivity()
			src.LastUpdate = 3
			src.Confidence = 0.9
			replaced := ReplaceIfNewer(dst, src)
			So(replaced, ShouldBeFalse)
			So(dst.Confidence, ShouldEqual, 0.5)
		})

		Convey("An inbound copy with a strictly newer LastUpdate replaces dst", func() {
			src := validActivity()
			src.LastUpdate = 6
			src.Confidence = 0.9
			replaced := ReplaceIfNewer(dst, src)
			So(replaced, ShouldBeTrue)
			So(dst.Confidence, ShouldEqual, 0.9)
		})

		Convey("An inbound copy with an equal LastUpdate is a no-op", func() {
			src := validActivity()
			src.LastUpdate = 5
			src.Confidence = 0.9
			replaced := ReplaceIfNewer(dst, src)
			So(replaced, ShouldBeFalse)
			So(dst.Confidence, ShouldEqual, 0.5)
		})
	})
}

func TestWalkTrajectory(t *testing.T) {
	Convey("Given an activity with a sampled trajectory", t, func() {
		a := validActivity()
		a.Trajectory = []Sample{
			{T: clock.Time(0), Pos: Vec3{X: 1}},
			{T: clock.Time(1), Pos: Vec3{X: 2}},
		}

		Convey("WalkTrajectory visits every sample in order", func() {
			var seen []float64
			a.WalkTrajectory(func(s Sample) { seen = append(seen, s.Pos.X) })
			So(seen, ShouldResemble, []float64{1, 2})
		})
	})
}
