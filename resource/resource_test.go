package resource

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestResourceApplyFor(t *testing.T) {
	Convey("Given a depletable resource with capacity 10 and margin 0", t, func() {
		r := New("battery", Depletable, 10, 0)

		Convey("ApplyFor within budget debits and returns true", func() {
			ok := r.ApplyFor(2, 3) // 6 units over 3 steps
			So(ok, ShouldBeTrue)
			So(r.Capacity(), ShouldEqual, 4)
		})

		Convey("ApplyFor crossing the margin clamps and returns false", func() {
			ok := r.ApplyFor(5, 3) // would debit 15, crossing margin 0
			So(ok, ShouldBeFalse)
			So(r.Capacity(), ShouldEqual, 0)
		})
	})
}

func TestResourceStep(t *testing.T) {
	Convey("Given a cumulative resource with a generator and a consumer rate", t, func() {
		r := New("power", Cumulative, 10, 0)
		So(r.AddRate(5, "consumer-a"), ShouldBeNil)
		So(r.AddRate(-2, "generator-b"), ShouldBeNil)

		Convey("Step debits net rate for one Δt", func() {
			err := r.Step(1)
			So(err, ShouldBeNil)
			So(r.Capacity(), ShouldEqual, 7) // 10 - (5 + -2)
		})

		Convey("RemoveRate uninstalls a rate", func() {
			r.RemoveRate("consumer-a")
			err := r.Step(1)
			So(err, ShouldNotBeNil)
			So(r.Capacity(), ShouldEqual, 10) // 10 - (-2) = 12, clamped to max and reported as a violation
		})
	})

	Convey("Given a depletable resource rejecting generator rates", t, func() {
		r := New("film", Depletable, 10, 0)
		err := r.AddRate(-1, "bad-owner")
		So(err, ShouldNotBeNil)
	})

	Convey("Given a resource whose consumption would exceed capacity", t, func() {
		r := New("fuel", Depletable, 5, 0)
		So(r.AddRate(10, "big-consumer"), ShouldBeNil)

		Convey("Step reports a ViolationError and clamps to 0", func() {
			err := r.Step(1)
			So(err, ShouldNotBeNil)
			So(r.Capacity(), ShouldEqual, 0)
		})
	})
}

func TestResourceClone(t *testing.T) {
	Convey("Given a resource with installed rates", t, func() {
		r := New("storage", Cumulative, 100, 10)
		So(r.AddRate(3, "owner-a"), ShouldBeNil)

		Convey("Clone is independent of the original", func() {
			clone := r.Clone()
			_ = clone.Step(1)
			So(r.Capacity(), ShouldEqual, 100)
			So(clone.Capacity(), ShouldEqual, 97)
		})
	})
}

func TestResourceConcurrentPulses(t *testing.T) {
	Convey("When many goroutines apply pulses concurrently", t, func() {
		r := New("concurrent", Cumulative, 1e9, 0)
		numWriters := 200
		opsPerWriter := 500

		wg := sync.WaitGroup{}
		wg.Add(numWriters)
		for i := 0; i < numWriters; i++ {
			go func() {
				defer wg.Done()
				for j := 0; j < opsPerWriter; j++ {
					r.ApplyOnce(1.0)
				}
			}()
		}
		wg.Wait()

		Convey("The aggregated pulse reflects every applied unit once stepped", func() {
			err := r.Step(1)
			So(err, ShouldBeNil)
			So(r.Capacity(), ShouldEqual, 1e9-float64(numWriters*opsPerWriter))
		})
	})
}
