// Package api exposes the observability HTTP surface: health and session
// endpoints, the read-only middleware, and the WebSocket hub streaming
// orchestration events with per-client replay.
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/events"
)

// heartbeatInterval is how often connected clients receive a heartbeat.
const heartbeatInterval = 30 * time.Second

// writeTimeout bounds a single WebSocket write so one stuck client cannot
// block the hub.
const writeTimeout = 5 * time.Second

// client is one connected WebSocket client.
type client struct {
	id   string
	conn *websocket.Conn
	send chan events.Event
}

// Hub fans orchestration events out to WebSocket clients. Every event gets a
// hub-wide monotonic sequence number when it is dispatched, and is buffered
// per client so reconnecting clients can replay what they missed.
type Hub struct {
	seq      *events.Sequencer
	replay   *events.ReplayBuffer
	maxConns int
	logger   *slog.Logger

	mu      sync.Mutex
	conns   map[string]*client
	known   map[string]bool
	dropped int
}

// NewHub creates a hub. SubscribeAll HandleEvent on the event bus to feed it
// the full stream.
func NewHub(replay *events.ReplayBuffer, maxConns int) *Hub {
	return &Hub{
		seq:      &events.Sequencer{},
		replay:   replay,
		maxConns: maxConns,
		logger:   slog.With("component", "ws_hub"),
		conns:    make(map[string]*client),
		known:    make(map[string]bool),
	}
}

// HandleEvent stamps the event with the next sequence number, buffers it for
// every known client, and delivers it to the connected ones. Slow clients
// have events dropped from their live feed; the replay buffer still holds
// them.
func (h *Hub) HandleEvent(e events.Event) {
	e.SequenceNumber = h.seq.Next()

	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.known {
		h.replay.Append(id, e)
	}
	for _, c := range h.conns {
		select {
		case c.send <- e:
		default:
			h.dropped++
			h.logger.Warn("Dropping event for slow client",
				"client_id", c.id, "sequence", e.SequenceNumber)
		}
	}
}

// Run emits heartbeats until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.HandleEvent(events.New(events.TypeSystemHeartbeat, map[string]any{
				"status": "alive",
			}))
		}
	}
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// register adds a connection, replacing any previous connection with the same
// client ID. Returns false when the hub is full.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.conns[c.id]; ok {
		close(prev.send)
	} else if len(h.conns) >= h.maxConns {
		return false
	}
	h.conns[c.id] = c
	h.known[c.id] = true
	return true
}

// unregister removes a connection. The replay buffer keeps the client's
// events until its TTL expires, so a reconnect can still catch up.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[c.id]; ok && cur == c {
		delete(h.conns, c.id)
		close(c.send)
	}
}

// serve owns one connection: welcome, replay, then the live feed. Blocks
// until the client disconnects or ctx is cancelled.
func (h *Hub) serve(ctx context.Context, c *client, lastSeq uint64) {
	defer h.unregister(c)

	welcome := events.New(events.TypeSystemHeartbeat, map[string]any{
		"status":    "connected",
		"client_id": c.id,
	})
	welcome.SequenceNumber = h.seq.Current()
	if err := h.write(ctx, c.conn, welcome); err != nil {
		return
	}

	for _, e := range h.replay.Since(c.id, lastSeq) {
		if err := h.write(ctx, c.conn, e); err != nil {
			return
		}
	}

	// Reads are discarded; a read error is the disconnect signal.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := c.conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case e, ok := <-c.send:
			if !ok {
				return
			}
			if err := h.write(ctx, c.conn, e); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, e events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}
