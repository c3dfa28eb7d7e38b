// Package dashboard implements the minimal live-view graphics interface of
// spec.md §6 (gated behind -g0|-g1): a single-page websocket dashboard
// pushing per-step agent/world snapshots, adapted from the teacher's
// server/fastview websocket client (tabular/server/fastview/client.go) --
// same ping/pong liveness loop and errgroup-driven Sync, generalized from a
// bespoke EleUpdate DOM-patch payload to a plain JSON Snapshot push, since
// satellite/world state is numeric grids and positions rather than DOM
// elements.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 1 * time.Second
	maxMessageSize = 8192

	pubResolution  = 100 * time.Millisecond
	pingResolution = 200 * time.Millisecond
	pongWait       = pingResolution * 4

	readDeadline  = time.Second
	writeDeadline = time.Second
)

var upgrader = websocket.Upgrader{}

// ErrPongDeadlineExceeded reports that a client stopped answering pings.
var ErrPongDeadlineExceeded = errors.New("dashboard: client disconnect, pong deadline exceeded")

// ErrSockCongestion reports too many concurrent waiters on one socket op.
var ErrSockCongestion = errors.New("dashboard: socket op failed due to congestion")

// client publishes Snapshots to a single websocket-connected browser tab,
// at most once per pubResolution, dropping any snapshot that arrives before
// the next publish window (snapshots are idempotent full-state views, so
// dropping an intermediate one loses nothing but staleness).
type client struct {
	updates <-chan Snapshot
	ws      *websock
	rootCtx context.Context
}

// newClient upgrades r to a websocket and returns a client that will
// publish from updates once Sync is called.
func newClient(updates <-chan Snapshot, w http.ResponseWriter, r *http.Request) (*client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, err
	}
	return &client{updates: updates, ws: newWebsock(conn), rootCtx: r.Context()}, nil
}

// Sync runs the read-pump (liveness), ping-pong, and publish loops until
// the client disconnects or one of them errors.
func (c *client) Sync() error {
	group, ctx := errgroup.WithContext(c.rootCtx)
	group.Go(func() error { return c.readMessages(ctx) })
	group.Go(func() error { return c.pingPong(ctx) })
	group.Go(func() error { return c.publish(ctx) })
	return group.Wait()
}

func (c *client) pingPong(ctx context.Context) error {
	pong := make(chan struct{})
	defer close(pong)
	c.ws.conn.SetPongHandler(func(_ string) error {
		pong <- struct{}{}
		return nil
	})

	ticker := channerics.NewTicker(ctx.Done(), pingResolution)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker:
			if time.Since(lastPong) > pongWait {
				return ErrPongDeadlineExceeded
			}
			if err := c.ping(ctx); err != nil {
				return err
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

func (c *client) ping(ctx context.Context) error {
	return c.ws.write(ctx, func(conn *websocket.Conn) error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	})
}

func (c *client) readMessages(ctx context.Context) error {
	for {
		err := c.ws.read(ctx, func(conn *websocket.Conn) (err error) {
			_, _, err = conn.ReadMessage()
			return
		})
		if err != nil {
			return err
		}
	}
}

func (c *client) publish(ctx context.Context) error {
	lastSync := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-c.updates:
			if !ok {
				return nil
			}
			if time.Since(lastSync) < pubResolution {
				continue
			}
			lastSync = time.Now()
			err := c.ws.write(ctx, func(conn *websocket.Conn) error {
				if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return fmt.Errorf("dashboard: set write deadline: %w", err)
				}
				return conn.WriteJSON(snap)
			})
			if err != nil {
				return err
			}
		}
	}
}

// websock serializes concurrent reads/writes to a *websocket.Conn, which
// itself only tolerates one reader and one writer at a time.
type websock struct {
	readSem  chan struct{}
	writeSem chan struct{}
	conn     *websocket.Conn
}

func newWebsock(conn *websocket.Conn) *websock {
	return &websock{readSem: make(chan struct{}, 1), writeSem: make(chan struct{}, 1), conn: conn}
}

func (s *websock) read(ctx context.Context, fn func(*websocket.Conn) error) error {
	select {
	case <-ctx.Done():
		return nil
	case s.readSem <- struct{}{}:
		defer func() { <-s.readSem }()
		return fn(s.conn)
	case <-time.After(readDeadline):
		return ErrSockCongestion
	}
}

func (s *websock) write(ctx context.Context, fn func(*websocket.Conn) error) error {
	select {
	case <-ctx.Done():
		return nil
	case s.writeSem <- struct{}{}:
		defer func() { <-s.writeSem }()
		return fn(s.conn)
	case <-time.After(writeDeadline):
		return ErrSockCongestion
	}
}
