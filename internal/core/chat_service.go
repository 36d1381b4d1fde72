package core

import (
	"context"

	"github.com/vovakirdan/chatgate/internal/store"
)

// ChatService abstracts chat-domain persistence for the Router.
// Implementations return ErrChatNotFound, ErrUserNotFound or a
// *ValidationError where applicable; anything else is a store failure.
type ChatService interface {
	// SendMessage persists a message and returns it with sender and chat
	// (including members) populated. If the message was stored but the chat's
	// latest-message pointer could not be updated, the message is returned
	// together with an error wrapping ErrLatestMessageStale.
	SendMessage(ctx context.Context, senderID, chatID, content string) (*store.Message, error)

	// ListMessages returns a chat's messages with sender and chat populated.
	ListMessages(ctx context.Context, chatID string) ([]*store.Message, error)

	// AccessChat returns the one-to-one chat between userID and targetID,
	// creating it on first access.
	AccessChat(ctx context.Context, userID, targetID string) (*store.Chat, error)

	// ListChats returns userID's chats, most recently updated first.
	ListChats(ctx context.Context, userID string) ([]*store.Chat, error)

	// CreateGroup creates a group chat with adminID appended to members.
	CreateGroup(ctx context.Context, adminID, name string, members []string) (*store.Chat, error)

	// RenameGroup renames a chat.
	RenameGroup(ctx context.Context, chatID, name string) (*store.Chat, error)

	// RemoveFromGroup removes userID from a chat.
	RemoveFromGroup(ctx context.Context, chatID, userID string) (*store.Chat, error)

	// AddToGroup adds userID to a chat.
	AddToGroup(ctx context.Context, chatID, userID string) (*store.Chat, error)

	// IsMember checks whether userID belongs to a chat.
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}
