package core

import "strings"

// Room addresses a broadcast group. Personal rooms are keyed by user id,
// chat rooms by chat id; the two kinds live in separate namespaces so a
// user id can never collide with a chat id.
type Room string

const (
	personalPrefix = "user:"
	chatPrefix     = "chat:"
)

// PersonalRoom is the room every connection of userID joins on setup.
func PersonalRoom(userID string) Room {
	return Room(personalPrefix + userID)
}

// ChatRoom is the room joined on demand for ephemeral signaling in chatID.
func ChatRoom(chatID string) Room {
	return Room(chatPrefix + chatID)
}

// IsPersonal reports whether r is a personal room.
func (r Room) IsPersonal() bool {
	return strings.HasPrefix(string(r), personalPrefix)
}

// Key returns the user or chat id the room is derived from.
func (r Room) Key() string {
	s := string(r)
	if after, ok := strings.CutPrefix(s, personalPrefix); ok {
		return after
	}
	return strings.TrimPrefix(s, chatPrefix)
}

// subscribers is the set of connections subscribed to one room.
type subscribers struct {
	clients map[*Client]struct{}
}

func newSubscribers() *subscribers {
	return &subscribers{clients: make(map[*Client]struct{})}
}

// add inserts a client. Returns true if newly added.
func (s *subscribers) add(c *Client) bool {
	if _, exists := s.clients[c]; exists {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

// remove deletes a client. Returns true if removed.
func (s *subscribers) remove(c *Client) bool {
	if _, exists := s.clients[c]; !exists {
		return false
	}
	delete(s.clients, c)
	return true
}

// broadcast delivers the event to every subscriber except the given one
// and returns how many accepted it.
func (s *subscribers) broadcast(event *Event, except *Client) int {
	delivered := 0
	for client := range s.clients {
		if client == except {
			continue
		}
		if client.deliver(event) {
			delivered++
		}
	}
	return delivered
}

func (s *subscribers) empty() bool {
	return len(s.clients) == 0
}
