package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"constellation/agent"
	"constellation/world"
)

// Snapshot is the JSON payload pushed to every connected dashboard client
// and served by the REST endpoints below: a full replacement of the
// teacher's per-element EleUpdate/Op DOM-patch model, since satellite and
// world state are numeric grids and 3D positions, not a DOM.
type Snapshot struct {
	Agents []agent.Snapshot `json:"agents"`
	World  world.Snapshot   `json:"world"`
}

// Server serves the dashboard's single page, its websocket feed, and a
// small JSON API over the latest Snapshot. One process instance serves any
// number of concurrently connected clients, unlike the teacher's
// single-client server.
type Server struct {
	addr string

	mu      sync.RWMutex
	current Snapshot

	subsMu sync.RWMutex
	subs   map[chan Snapshot]struct{}

	router *mux.Router
}

// NewServer constructs a Server listening at addr. initial is shown until
// the first update arrives on updates; updates is read until it closes or
// ctx is cancelled, at which point the broadcast loop stops. Connected
// websocket clients are not closed by ctx; each ends with its own request.
func NewServer(ctx context.Context, addr string, initial Snapshot, updates <-chan Snapshot) *Server {
	s := &Server{addr: addr, current: initial, subs: make(map[chan Snapshot]struct{})}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/", s.serveIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.serveWebsocket).Methods(http.MethodGet)
	s.router.HandleFunc("/api/world", s.serveWorld).Methods(http.MethodGet)
	s.router.HandleFunc("/api/agents/{id}", s.serveAgent).Methods(http.MethodGet)

	go s.watch(ctx, updates)

	return s
}

// watch keeps current up to date and rebroadcasts to every connected
// client via their own subscription channel.
func (s *Server) watch(ctx context.Context, updates <-chan Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			s.mu.Lock()
			s.current = snap
			s.mu.Unlock()
			s.broadcast(snap)
		}
	}
}

// broadcast fans snap out to every connected client's subscription
// channel, dropping rather than blocking on a slow reader.
func (s *Server) broadcast(snap Snapshot) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// subscribe registers a new per-client update channel, seeded with the
// current snapshot so a freshly connected client doesn't wait for the next
// tick to see state.
func (s *Server) subscribe() chan Snapshot {
	ch := make(chan Snapshot, 1)
	ch <- s.snapshot()

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan Snapshot) {
	s.subsMu.Lock()
	delete(s.subs, ch)
	s.subsMu.Unlock()
}

// Serve blocks, serving HTTP until the listener errors (e.g. on shutdown).
func (s *Server) Serve() error {
	if err := http.ListenAndServe(s.addr, s.router); err != nil {
		return fmt.Errorf("dashboard: serve: %w", err)
	}
	return nil
}

func (s *Server) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Server) serveWorld(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot().World); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) serveAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, a := range s.snapshot().Agents {
		if a.ID == id {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(a); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
	}
	http.NotFound(w, r)
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	ch := s.subscribe()
	defer s.unsubscribe(ch)

	c, err := newClient(ch, w, r)
	if err != nil {
		log.Println("dashboard: upgrade:", err)
		return
	}
	if err := c.Sync(); err != nil {
		log.Println("dashboard: client disconnected:", err)
	}
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if err := indexTemplate.Execute(w, nil); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

var indexTemplate = template.Must(template.New("dashboard").Parse(`
<!DOCTYPE html>
<html>
<head>
<link rel="icon" href="data:,">
<script>
const ws = new WebSocket("ws://" + window.location.host + "/ws");
ws.onopen = function() { console.log("dashboard: socket opened"); };
ws.onerror = function(event) { console.log("dashboard: socket error", event); };
ws.onmessage = function(event) {
  const snapshot = JSON.parse(event.data);
  document.getElementById("agents").textContent = JSON.stringify(snapshot.agents, null, 2);
  document.getElementById("world").textContent = JSON.stringify(snapshot.world, null, 2);
};
</script>
</head>
<body>
<h1>constellation</h1>
<h2>agents</h2><pre id="agents"></pre>
<h2>world</h2><pre id="world"></pre>
</body>
</html>
`))
