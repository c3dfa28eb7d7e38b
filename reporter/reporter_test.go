package reporter

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"constellation/agent"
	"constellation/world"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestCSVReporterWritesHeaderAndRows(t *testing.T) {
	Convey("Given a CSVReporter over two columns", t, func() {
		path := filepath.Join(t.TempDir(), "out.csv")
		r, err := NewCSVReporter(path, []string{"a", "b"}, func(t Tick) []string {
			return []string{"1", "2"}
		})
		So(err, ShouldBeNil)

		Convey("Report appends a row and Close flushes it to disk", func() {
			So(r.Report(Tick{Now: 3}), ShouldBeNil)
			So(r.Close(), ShouldBeNil)

			lines := readLines(t, path)
			So(lines[0], ShouldEqual, "t,a,b")
			So(strings.HasPrefix(lines[1], "3.000000,1,2"), ShouldBeTrue)
		})
	})
}

func TestWorldMetricsReporterCoversEveryRegion(t *testing.T) {
	Convey("Given a 2x1 world snapshot", t, func() {
		path := filepath.Join(t.TempDir(), "world.csv")
		r, err := WorldMetricsReporter(path, 2, 1)
		So(err, ShouldBeNil)

		snap := world.Snapshot{
			Width: 2, Height: 1,
			AvgRevisit:    [][]float64{{1.5}, {2.5}},
			UtopiaRevisit: [][]float64{{1.0}, {2.0}},
		}

		Convey("Report emits one avg/utopia pair per region", func() {
			So(r.Report(Tick{Now: 0, World: snap}), ShouldBeNil)
			So(r.Close(), ShouldBeNil)

			lines := readLines(t, path)
			So(lines[0], ShouldEqual, "t,avg_0_0,utopia_0_0,avg_1_0,utopia_1_0")
			So(lines[1], ShouldEqual, "0.000000,1.500000,1.000000,2.500000,2.000000")
		})
	})
}

func TestKnowledgeBaseReporterTracksNamedAgent(t *testing.T) {
	Convey("Given a Tick with two agent snapshots", t, func() {
		path := filepath.Join(t.TempDir(), "kb.csv")
		r, err := KnowledgeBaseReporter(path, "sat-2")
		So(err, ShouldBeNil)

		tick := Tick{Now: 1, Agents: []agent.Snapshot{
			{ID: "sat-1", OwnedCount: 4},
			{ID: "sat-2", OwnedCount: 7},
		}}

		Convey("Report picks the row for the named agent only", func() {
			So(r.Report(tick), ShouldBeNil)
			So(r.Close(), ShouldBeNil)

			lines := readLines(t, path)
			So(lines[1], ShouldEqual, "1.000000,7")
		})
	})
}

type recordingReporter struct {
	ticks []Tick
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{}
}

func (r *recordingReporter) Report(t Tick) error {
	r.ticks = append(r.ticks, t)
	return nil
}

func (r *recordingReporter) Close() error { return nil }

func TestSetDispatchBroadcastsToEveryReporter(t *testing.T) {
	Convey("Given a Set of two recording reporters", t, func() {
		a, b := newRecordingReporter(), newRecordingReporter()
		set := NewSet(a, b)

		done := make(chan struct{})
		ticks := make(chan Tick, 2)
		errs := make(chan error, 2)

		ticks <- Tick{Now: 1}
		ticks <- Tick{Now: 2}
		close(ticks)

		Convey("Dispatch delivers every tick to every reporter", func() {
			set.Dispatch(done, ticks, errs)
			So(len(a.ticks), ShouldEqual, 2)
			So(len(b.ticks), ShouldEqual, 2)
		})
	})
}
