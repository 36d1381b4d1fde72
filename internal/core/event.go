package core

import "github.com/vovakirdan/chatgate/internal/store"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventConnected acknowledges setup to the caller.
	EventConnected EventKind = iota
	// EventTyping notifies chat room subscribers that someone is typing.
	EventTyping
	// EventStopTyping notifies chat room subscribers that typing stopped.
	EventStopTyping
	// EventMessageReceived delivers a new message to a member's personal room.
	EventMessageReceived
	// EventAllMessages returns a chat's messages to the caller.
	EventAllMessages
	// EventAccessChat returns the found or created one-to-one chat.
	EventAccessChat
	// EventFetchChats returns the caller's chats.
	EventFetchChats
	// EventGroupCreated returns a newly created group.
	EventGroupCreated
	// EventGroupRenamed returns a renamed group.
	EventGroupRenamed
	// EventUserRemoved returns a group after a member was removed.
	EventUserRemoved
	// EventUserAdded returns a group after a member was added.
	EventUserAdded
	// EventChatError reports a failed request to the caller.
	EventChatError
)

var eventNames = [...]string{
	EventConnected:       "connected",
	EventTyping:          "typing",
	EventStopTyping:      "stop typing",
	EventMessageReceived: "message received",
	EventAllMessages:     "all messages",
	EventAccessChat:      "access chat",
	EventFetchChats:      "fetch chats",
	EventGroupCreated:    "group created",
	EventGroupRenamed:    "group renamed",
	EventUserRemoved:     "user removed",
	EventUserAdded:       "user added",
	EventChatError:       "chat error",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Room     string // chat id for typing events
	Message  *store.Message
	Messages []*store.Message
	Chat     *store.Chat
	Chats    []*store.Chat
	Error    string
}
