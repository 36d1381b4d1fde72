package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatgate/internal/auth"
)

// Hub is the process-scoped session store and room fan-out.
// It tracks which connection belongs to which identity and which rooms
// each connection subscribes to. Entries are created when the handshake
// succeeds and destroyed when the connection closes.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[Room]*subscribers
	closed  bool
	log     *zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[Room]*subscribers),
		log:     logger,
	}
}

// Run blocks until ctx is cancelled, then releases every connection.
// Registrations after that fail with ErrHubClosed.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, c := range h.clients {
		h.detachLocked(c)
		delete(h.clients, id)
	}
	h.log.Info().Msg("hub stopped")
}

// RegisterClient adds an authenticated connection with an empty room set.
func (h *Hub) RegisterClient(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if _, exists := h.clients[c.ID]; exists {
		return ErrDuplicateConnection
	}
	h.clients[c.ID] = c

	h.log.Debug().
		Str("conn_id", c.ID).
		Str("user_id", c.Identity.ID).
		Int("connections", len(h.clients)).
		Msg("client registered")
	return nil
}

// UnregisterClient removes the connection and releases all of its room
// subscriptions. Calling it more than once is harmless.
func (h *Hub) UnregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[c.ID]; !ok || current != c {
		return
	}
	delete(h.clients, c.ID)
	rooms := len(c.rooms)
	h.detachLocked(c)

	h.log.Debug().
		Str("conn_id", c.ID).
		Str("user_id", c.Identity.ID).
		Int("rooms", rooms).
		Int("connections", len(h.clients)).
		Msg("client unregistered")
}

func (h *Hub) detachLocked(c *Client) {
	for room := range c.rooms {
		if subs, ok := h.rooms[room]; ok {
			subs.remove(c)
			if subs.empty() {
				delete(h.rooms, room)
			}
		}
	}
	clear(c.rooms)
	close(c.done)
}

// IdentityOf returns the identity bound to a connection handle.
func (h *Hub) IdentityOf(connID string) (auth.Identity, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[connID]
	if !ok {
		return auth.Identity{}, ErrNotAuthenticated
	}
	return c.Identity, nil
}

// JoinRoom subscribes a connection to a room. Joining twice is a no-op;
// the returned bool reports whether the subscription is new.
func (h *Hub) JoinRoom(connID string, room Room) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return false, ErrNotAuthenticated
	}
	if _, joined := c.rooms[room]; joined {
		return false, nil
	}

	subs, ok := h.rooms[room]
	if !ok {
		subs = newSubscribers()
		h.rooms[room] = subs
	}
	subs.add(c)
	c.rooms[room] = struct{}{}
	return true, nil
}

// InRoom reports whether the connection subscribes to room.
func (h *Hub) InRoom(connID string, room Room) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	_, joined := c.rooms[room]
	return joined
}

// RoomSize returns the number of connections subscribed to room.
func (h *Hub) RoomSize(room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if subs, ok := h.rooms[room]; ok {
		return len(subs.clients)
	}
	return 0
}

// Emit sends an event to a single connection.
func (h *Hub) Emit(c *Client, event *Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ok := c.deliver(event)
	if !ok {
		h.log.Debug().Str("conn_id", c.ID).Stringer("event", event.Kind).Msg("event dropped")
	}
	return ok
}

// BroadcastRoom sends an event to every subscriber of room except the
// given connection (nil excludes nobody) and returns the delivery count.
func (h *Hub) BroadcastRoom(room Room, except *Client, event *Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs, ok := h.rooms[room]
	if !ok {
		return 0
	}
	return subs.broadcast(event, except)
}
