package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"constellation/agent"
	"constellation/geo"
	"constellation/world"
)

func newTestServer(initial Snapshot) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan Snapshot)
	s := NewServer(ctx, ":0", initial, updates)
	// the server's watch goroutine is harmless to leave running for the
	// lifetime of the test process; cancel immediately since no test here
	// exercises a live update push.
	cancel()
	return s
}

func TestServeIndexReturnsHTML(t *testing.T) {
	Convey("Given a dashboard server", t, func() {
		s := newTestServer(Snapshot{})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		Convey("GET / returns 200 with an HTML body", func() {
			s.router.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Header().Get("Content-Type"), ShouldEqual, "text/html")
			So(rec.Body.Len(), ShouldBeGreaterThan, 0)
		})
	})
}

func TestServeWorldReturnsCurrentSnapshot(t *testing.T) {
	Convey("Given a server seeded with a world snapshot", t, func() {
		snap := Snapshot{World: world.Snapshot{
			Width: 1, Height: 1,
			AvgRevisit:    [][]float64{{3.5}},
			UtopiaRevisit: [][]float64{{2.0}},
		}}
		s := newTestServer(snap)
		req := httptest.NewRequest(http.MethodGet, "/api/world", nil)
		rec := httptest.NewRecorder()

		Convey("GET /api/world returns the world snapshot as JSON", func() {
			s.router.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusOK)

			var got world.Snapshot
			So(json.Unmarshal(rec.Body.Bytes(), &got), ShouldBeNil)
			So(got.AvgRevisit[0][0], ShouldEqual, 3.5)
		})
	})
}

func TestServeAgentReturnsNamedAgentOrNotFound(t *testing.T) {
	Convey("Given a server seeded with two agent snapshots", t, func() {
		snap := Snapshot{Agents: []agent.Snapshot{
			{ID: "sat-1", Position: geo.Vec3{X: 1, Y: 2, Z: 3}},
			{ID: "sat-2", Position: geo.Vec3{X: 4, Y: 5, Z: 6}},
		}}
		s := newTestServer(snap)

		Convey("GET /api/agents/sat-2 returns that agent", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/agents/sat-2", nil)
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusOK)

			var got agent.Snapshot
			So(json.Unmarshal(rec.Body.Bytes(), &got), ShouldBeNil)
			So(got.ID, ShouldEqual, "sat-2")
		})

		Convey("GET /api/agents/missing returns 404", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/agents/missing", nil)
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestSubscribeSeedsCurrentSnapshotAndBroadcastReachesIt(t *testing.T) {
	Convey("Given a server with one subscriber", t, func() {
		s := newTestServer(Snapshot{Agents: []agent.Snapshot{{ID: "sat-1"}}})
		ch := s.subscribe()
		defer s.unsubscribe(ch)

		Convey("subscribe seeds the channel with the current snapshot", func() {
			seeded := <-ch
			So(len(seeded.Agents), ShouldEqual, 1)
			So(seeded.Agents[0].ID, ShouldEqual, "sat-1")
		})

		Convey("broadcast delivers a new snapshot to the subscriber", func() {
			<-ch // drain the seed value first
			s.broadcast(Snapshot{Agents: []agent.Snapshot{{ID: "sat-2"}}})
			next := <-ch
			So(next.Agents[0].ID, ShouldEqual, "sat-2")
		})
	})
}
