package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique field (a user email) is already taken.
	ErrDuplicate = errors.New("duplicate")
)

// User represents a user in the system.
type User struct {
	ID           string
	Name         string
	Email        string
	Avatar       string
	PasswordHash string
	CreatedAt    time.Time
}

// Profile is the public view of a user. It never carries secrets.
type Profile struct {
	ID     string
	Name   string
	Email  string
	Avatar string
}

// Profile strips secret fields from the user.
func (u *User) Profile() Profile {
	return Profile{
		ID:     u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Avatar: u.Avatar,
	}
}

// Chat is a conversation with its relations populated.
type Chat struct {
	ID            string
	Name          string
	IsGroup       bool
	Members       []Profile // ordered by join position
	Admin         *Profile  // group chats only
	LatestMessage *Message  // sender populated, Chat left nil
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasMember reports whether userID is in the chat's member list.
func (c *Chat) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}

// Message is a persisted chat message.
// Sender and Chat are filled in by the read paths that populate relations.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Content   string
	CreatedAt time.Time

	Sender *Profile
	Chat   *Chat
}

// NewChat describes a chat to create.
type NewChat struct {
	Name    string
	IsGroup bool
	Members []string
	AdminID string // group chats only
}

// DirectKey returns the dedupe key for a one-to-one chat between a and b.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, name, email, avatar, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a message and fills in its ID and CreatedAt.
	CreateMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message with sender and chat (with members) populated.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// FindMessagesByChat lists a chat's messages oldest first, sender and chat populated.
	FindMessagesByChat(ctx context.Context, chatID string) ([]*Message, error)
}

// ChatStore handles chat persistence.
type ChatStore interface {
	// CreateChat creates a chat. Creating a one-to-one chat that already exists
	// returns the existing chat instead.
	CreateChat(ctx context.Context, chat NewChat) (*Chat, error)

	// GetChat retrieves a populated chat by ID.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// FindOneToOneChat returns the non-group chat containing exactly userA and userB.
	FindOneToOneChat(ctx context.Context, userA, userB string) (*Chat, error)

	// FindChatsForUser lists chats containing userID, most recently updated first.
	FindChatsForUser(ctx context.Context, userID string) ([]*Chat, error)

	// UpdateChatName renames a chat and returns it populated.
	UpdateChatName(ctx context.Context, chatID, name string) (*Chat, error)

	// PullChatMember removes a member and returns the chat populated.
	PullChatMember(ctx context.Context, chatID, userID string) (*Chat, error)

	// PushChatMember appends a member (no-op if present) and returns the chat populated.
	PushChatMember(ctx context.Context, chatID, userID string) (*Chat, error)

	// UpdateChatLatestMessage points the chat at its newest message.
	UpdateChatLatestMessage(ctx context.Context, chatID, messageID string) error

	// IsChatMember checks if user is a member of the chat.
	IsChatMember(ctx context.Context, chatID, userID string) (bool, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore
	ChatStore

	// Close closes the underlying database connection.
	Close() error
}
