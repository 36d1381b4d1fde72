package core

import "github.com/vovakirdan/chatgate/internal/auth"

// DefaultEventBuffer is the outbound queue length used when none is configured.
const DefaultEventBuffer = 32

// Client is one authenticated connection as seen by the core layer.
type Client struct {
	ID       string
	Identity auth.Identity
	Events   chan *Event

	rooms map[Room]struct{} // guarded by Hub.mu
	done  chan struct{}
}

// NewClient constructs a client for an authenticated identity.
func NewClient(id string, identity auth.Identity, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Client{
		ID:       id,
		Identity: identity,
		Events:   make(chan *Event, buffer),
		rooms:    make(map[Room]struct{}),
		done:     make(chan struct{}),
	}
}

// Done is closed once the client is unregistered from the hub.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// deliver queues an event without blocking. Events for a closed or
// slow client are dropped.
func (c *Client) deliver(event *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Events <- event:
		return true
	default:
		return false
	}
}
