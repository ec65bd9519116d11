package events

import (
	"sync"
	"time"
)

// bufferedEvent pairs a stamped event with the time it entered the buffer.
type bufferedEvent struct {
	event   Event
	addedAt time.Time
}

// clientBuffer is a bounded FIFO of recently delivered events for one client.
type clientBuffer struct {
	events   []bufferedEvent
	lastSeen time.Time
}

// ReplayBuffer keeps a bounded, TTL-evicted ring of stamped events per client
// ID so that a reconnecting client can replay events it missed.
//
// Events older than the TTL are pruned lazily on access. A client entry whose
// connection has been gone longer than the TTL is dropped entirely.
type ReplayBuffer struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clients  map[string]*clientBuffer
	now      func() time.Time // overridable for tests
}

// NewReplayBuffer creates a replay buffer holding up to capacity events per
// client, evicting entries older than ttl.
func NewReplayBuffer(capacity int, ttl time.Duration) *ReplayBuffer {
	return &ReplayBuffer{
		capacity: capacity,
		ttl:      ttl,
		clients:  make(map[string]*clientBuffer),
		now:      time.Now,
	}
}

// Append records a stamped event for the given client.
func (b *ReplayBuffer) Append(clientID string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	cb, ok := b.clients[clientID]
	if !ok {
		cb = &clientBuffer{}
		b.clients[clientID] = cb
	}
	cb.lastSeen = now
	cb.events = append(cb.events, bufferedEvent{event: evt, addedAt: now})
	if len(cb.events) > b.capacity {
		cb.events = cb.events[len(cb.events)-b.capacity:]
	}
	b.pruneLocked(now)
}

// Since returns buffered events for clientID with sequence numbers strictly
// greater than lastSeq, oldest first. Expired entries are excluded.
func (b *ReplayBuffer) Since(clientID string, lastSeq uint64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.clients[clientID]
	if !ok {
		return nil
	}
	now := b.now()
	cb.lastSeen = now

	var out []Event
	for _, be := range cb.events {
		if now.Sub(be.addedAt) > b.ttl {
			continue
		}
		if be.event.SequenceNumber > lastSeq {
			out = append(out, be.event)
		}
	}
	return out
}

// Drop discards the buffer for a client that disconnected permanently.
func (b *ReplayBuffer) Drop(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, clientID)
}

// pruneLocked removes clients idle beyond the TTL. Caller holds b.mu.
func (b *ReplayBuffer) pruneLocked(now time.Time) {
	for id, cb := range b.clients {
		if now.Sub(cb.lastSeen) > b.ttl {
			delete(b.clients, id)
		}
	}
}
