// Package reporter implements the persisted-state contract of spec.md §6:
// line-buffered CSV writers flushed periodically and closed at shutdown,
// plus a fan-out Set that broadcasts each tick's snapshot to every
// registered reporter concurrently.
package reporter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	channerics "github.com/niceyeti/channerics/channels"

	"constellation/agent"
	"constellation/clock"
	"constellation/world"
)

// Tick is the per-step payload a Set fans out to every reporter: the
// simulation time of the step, the full agent roster, and the world's
// revisit-statistics snapshot.
type Tick struct {
	Now    clock.Time
	Agents []agent.Snapshot
	World  world.Snapshot
}

// Reporter consumes one Tick per simulation step and persists whatever
// subset of it is relevant to it. Implementations must not block past a
// single tick's worth of work, since a Set drives every reporter
// concurrently from its own fan-out channel.
type Reporter interface {
	Report(t Tick) error
	Close() error
}

// flushEvery is the row count a CSVReporter buffers before flushing to
// disk, matching spec.md §6's "flush every 50 rows" contract.
const flushEvery = 50

// CSVReporter writes one CSV file, a header row followed by one data row
// per Tick, line-buffered and flushed every flushEvery rows.
type CSVReporter struct {
	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	columns []string
	rows    int
	row     func(t Tick) []string
}

// NewCSVReporter creates (or truncates) path, writes the header
// "t,<columns...>", and returns a CSVReporter that derives each data row
// from row(t).
func NewCSVReporter(path string, columns []string, row func(t Tick) []string) (*CSVReporter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("reporter: creating directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("reporter: creating %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	header := append([]string{"t"}, columns...)
	if _, err := fmt.Fprintln(w, strings.Join(header, ",")); err != nil {
		f.Close()
		return nil, fmt.Errorf("reporter: writing header to %s: %w", path, err)
	}
	return &CSVReporter{f: f, w: w, columns: columns, row: row}, nil
}

// Report appends one data row for t.
func (c *CSVReporter) Report(t Tick) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields := append([]string{fmt.Sprintf("%.6f", float64(t.Now))}, c.row(t)...)
	if _, err := fmt.Fprintln(c.w, strings.Join(fields, ",")); err != nil {
		return fmt.Errorf("reporter: writing row to %s: %w", c.f.Name(), err)
	}
	c.rows++
	if c.rows%flushEvery == 0 {
		if err := c.w.Flush(); err != nil {
			return fmt.Errorf("reporter: flushing %s: %w", c.f.Name(), err)
		}
	}
	return nil
}

// Close flushes any buffered rows and closes the underlying file.
func (c *CSVReporter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.w.Flush(); err != nil {
		c.f.Close()
		return fmt.Errorf("reporter: final flush of %s: %w", c.f.Name(), err)
	}
	return c.f.Close()
}

// WorldMetricsReporter returns a CSVReporter that writes one row per Tick,
// with an avg_x_y and a utopia_x_y revisit column for every region (x,y)
// of the world grid: the actual-vs-utopia revisit columns of spec.md §6.
// The columns are fixed up front from the supplied width/height, matching
// the fixed grid size config.Load validates.
func WorldMetricsReporter(path string, width, height int) (*CSVReporter, error) {
	columns := make([]string, 0, width*height*2)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			columns = append(columns, fmt.Sprintf("avg_%d_%d", x, y), fmt.Sprintf("utopia_%d_%d", x, y))
		}
	}
	row := func(t Tick) []string {
		out := make([]string, 0, len(columns))
		for x := 0; x < width; x++ {
			for y := 0; y < height; y++ {
				out = append(out,
					fmt.Sprintf("%.6f", t.World.AvgRevisit[x][y]),
					fmt.Sprintf("%.6f", t.World.UtopiaRevisit[x][y]),
				)
			}
		}
		return out
	}
	return NewCSVReporter(path, columns, row)
}

// KnowledgeBaseReporter returns a CSVReporter that writes, per Tick, one
// agent's owned-activity count (the single owned_count column, sourced from
// agent.Snapshot.OwnedCount). Peer-activity counts and undecided/confirmed
// fact counts are not written by this reporter or by any other.
func KnowledgeBaseReporter(path, agentID string) (*CSVReporter, error) {
	columns := []string{"owned_count"}
	row := func(t Tick) []string {
		for _, s := range t.Agents {
			if s.ID == agentID {
				return []string{fmt.Sprintf("%d", s.OwnedCount)}
			}
		}
		return []string{"0"}
	}
	return NewCSVReporter(path, columns, row)
}

// Set fans a single stream of Ticks out to every registered Reporter
// concurrently, using a Broadcast+OrDone composition in the style
// fastview.ViewBuilder.Build uses to drive its parallel view builders from
// one source channel.
type Set struct {
	reporters []Reporter
}

// NewSet constructs a Set over the given reporters.
func NewSet(reporters ...Reporter) *Set {
	return &Set{reporters: reporters}
}

// Dispatch fans in over ticks and broadcasts each Tick to every reporter in
// the Set, running each reporter's Report call in its own goroutine so a
// slow reporter cannot stall the others. done cancels the fan-out; errors
// are sent to errs without blocking if the receiver isn't reading (a
// buffered channel of adequate size is the caller's responsibility).
func (s *Set) Dispatch(done <-chan struct{}, ticks <-chan Tick, errs chan<- error) {
	if len(s.reporters) == 0 {
		return
	}
	branches := channerics.Broadcast(done, ticks, len(s.reporters))

	var wg sync.WaitGroup
	for i, r := range s.reporters {
		i, r := i, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range channerics.OrDone(done, branches[i]) {
				if err := r.Report(t); err != nil {
					select {
					case errs <- err:
					default:
					}
				}
			}
		}()
	}
	wg.Wait()
}

// Close closes every reporter in the Set, collecting the first error (if
// any) while still attempting to close the rest.
func (s *Set) Close() error {
	var first error
	for _, r := range s.reporters {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
