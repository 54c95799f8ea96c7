// Package eventstream fans transcript events out to websocket clients.
//
// Every client receives each event as one JSON text message. A client
// that joins mid-session first receives the most recent events (the
// backlog). Clients that cannot keep up are disconnected rather than
// slowing the pipeline down.
package eventstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/voxid/pkg/pipeline"
)

// Defaults.
const (
	DefaultBacklog    = 32
	DefaultClientSend = 64

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("eventstream: hub closed")

// Options configures a Hub.
type Options struct {
	// Backlog is the number of recent events replayed to new clients.
	// Negative disables replay.
	Backlog int

	// CheckOrigin overrides the websocket origin check. Nil accepts any
	// origin.
	CheckOrigin func(r *http.Request) bool

	Logger *slog.Logger
}

// Hub is an http.Handler that streams events to websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	backlog  int
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	recent  []pipeline.Event
	closed  bool
}

// NewHub returns an empty hub.
func NewHub(opts Options) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
		backlog:  opts.Backlog,
		log:      opts.Logger,
		clients:  make(map[*client]struct{}),
	}
	if h.upgrader.CheckOrigin == nil {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	if h.backlog == 0 {
		h.backlog = DefaultBacklog
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	return h
}

type client struct {
	conn *websocket.Conn
	send chan pipeline.Event
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// ServeHTTP upgrades the request and streams events until the client
// goes away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("eventstream: upgrade", "remote", r.RemoteAddr, "err", err)
		return
	}
	h.mu.Lock()
	c := &client{conn: conn, send: make(chan pipeline.Event, DefaultClientSend+len(h.recent))}
	if h.closed {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	for _, ev := range h.recent {
		c.send <- ev
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("eventstream: client connected", "remote", r.RemoteAddr, "clients", n)

	go h.readPump(c)
	h.writePump(c)
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	if ok {
		h.log.Info("eventstream: client disconnected", "clients", n)
	}
}

// Publish sends ev to every client. It never blocks: a client whose
// queue is full is disconnected.
func (h *Hub) Publish(ev pipeline.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.backlog > 0 {
		h.recent = append(h.recent, ev)
		if over := len(h.recent) - h.backlog; over > 0 {
			h.recent = append(h.recent[:0], h.recent[over:]...)
		}
	}
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Warn("eventstream: client too slow, disconnecting")
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// Forward publishes events until the channel closes or ctx is done.
func (h *Hub) Forward(ctx context.Context, events <-chan pipeline.Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := h.Publish(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	return nil
}
