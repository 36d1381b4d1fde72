package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Inbound event names.
const (
	EventSetup            = "setup"
	EventJoinChat         = "join chat"
	EventTyping           = "typing"
	EventStopTyping       = "stop typing"
	EventNewMessage       = "new message"
	EventFetchAllMessages = "fetch all messages"
	EventAccessChat       = "access chat"
	EventFetchChats       = "fetch chats"
	EventCreateGroup      = "create group"
	EventRenameGroup      = "rename group"
	EventRemoveFromGroup  = "remove from group"
	EventAddToGroup       = "add to group"
)

// Outbound event names. Typing, stop typing, access chat and fetch chats
// share their inbound names.
const (
	EventConnected       = "connected"
	EventMessageReceived = "message received"
	EventAllMessages     = "all messages"
	EventGroupCreated    = "group created"
	EventGroupRenamed    = "group renamed"
	EventUserRemoved     = "user removed"
	EventUserAdded       = "user added"
	EventChatError       = "chat error"
)

// Ref is an id that clients send either as a bare string or as an object
// carrying "_id".
type Ref string

// UnmarshalJSON accepts "id", {"_id": "id"} and null.
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Ref(s)
		return nil
	case '{':
		var obj struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*r = Ref(obj.ID)
		return nil
	default:
		return errors.New("reference must be a string or an object with _id")
	}
}

// Refs converts a slice of references to plain ids.
func Refs(refs []Ref) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, string(r))
	}
	return ids
}

// ChatRef is the chat part of a new message payload.
type ChatRef struct {
	ID    Ref   `json:"_id"`
	Users []Ref `json:"users"`
}

// NewMessageData is sent by the client to post a message.
type NewMessageData struct {
	Sender  Ref      `json:"sender"`
	Content string   `json:"content"`
	Chat    *ChatRef `json:"chat"`
}

// AccessChatData requests the one-to-one chat with another user.
type AccessChatData struct {
	UserID        Ref `json:"userId"`
	CurrentUserID Ref `json:"currentUserId"`
}

// CreateGroupData requests a new group chat.
type CreateGroupData struct {
	Name        string `json:"name"`
	Users       []Ref  `json:"users"`
	CurrentUser Ref    `json:"currentUser"`
}

// RenameGroupData requests a chat rename.
type RenameGroupData struct {
	ChatID   Ref    `json:"chatId"`
	ChatName string `json:"chatName"`
}

// MemberData adds or removes one member of a chat.
type MemberData struct {
	ChatID Ref `json:"chatId"`
	UserID Ref `json:"userId"`
}

// User is the public view of a user.
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Pic   string `json:"pic"`
}

// Message is the wire view of a chat message.
type Message struct {
	ID        string    `json:"_id"`
	Sender    *User     `json:"sender"`
	Content   string    `json:"content"`
	Chat      any       `json:"chat"` // *Chat when populated, chat id otherwise
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Chat is the wire view of a chat.
type Chat struct {
	ID            string    `json:"_id"`
	ChatName      string    `json:"chatName"`
	IsGroupChat   bool      `json:"isGroupChat"`
	Users         []User    `json:"users"`
	GroupAdmin    *User     `json:"groupAdmin,omitempty"`
	LatestMessage *Message  `json:"latestMessage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
