package chats

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/chatgate/internal/core"
	"github.com/vovakirdan/chatgate/internal/store"
)

// DirectChatName is the name given to one-to-one chats on creation.
const DirectChatName = "sender"

var (
	errChatWithSelf    = core.NewValidationError("cannot open a chat with yourself")
	errSenderNotMember = core.NewValidationError("sender is not a member of this chat")
	errNotGroupChat    = core.NewValidationError("Members can only be changed in a group chat")
)

// Service provides chat-domain operations over the store.
// It implements core.ChatService.
type Service struct {
	store  store.Store
	direct singleflight.Group
}

// New creates a new chat service.
func New(st store.Store) *Service {
	return &Service{store: st}
}

var _ core.ChatService = (*Service)(nil)

// SendMessage persists a message, moves the chat's latest message pointer
// and returns the message populated for delivery.
func (s *Service) SendMessage(ctx context.Context, senderID, chatID, content string) (*store.Message, error) {
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasMember(senderID) {
		return nil, errSenderNotMember
	}

	msg := &store.Message{ChatID: chatID, SenderID: senderID, Content: content}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	// The message exists from here on; later failures still hand it back.
	var stale error
	if err := s.store.UpdateChatLatestMessage(ctx, chatID, msg.ID); err != nil {
		stale = fmt.Errorf("%w: %v", core.ErrLatestMessageStale, err)
	}

	full, err := s.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return msg, fmt.Errorf("populate message: %w", err)
	}
	return full, stale
}

// ListMessages returns the chat's messages, oldest first.
func (s *Service) ListMessages(ctx context.Context, chatID string) ([]*store.Message, error) {
	messages, err := s.store.FindMessagesByChat(ctx, chatID)
	if err != nil {
		return nil, mapChatErr("find messages", err)
	}
	return messages, nil
}

// AccessChat returns the one-to-one chat between userID and targetID,
// creating it if needed. Concurrent first-time calls from either side
// share one lookup and resolve to the same chat.
func (s *Service) AccessChat(ctx context.Context, userID, targetID string) (*store.Chat, error) {
	if userID == targetID {
		return nil, errChatWithSelf
	}
	if _, err := s.getUser(ctx, targetID); err != nil {
		return nil, err
	}

	key := store.DirectKey(userID, targetID)
	v, err, _ := s.direct.Do(key, func() (any, error) {
		chat, err := s.store.FindOneToOneChat(ctx, userID, targetID)
		if err == nil {
			return chat, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("find one-to-one chat: %w", err)
		}

		chat, err = s.store.CreateChat(ctx, store.NewChat{
			Name:    DirectChatName,
			Members: []string{userID, targetID},
		})
		if err != nil {
			return nil, fmt.Errorf("create one-to-one chat: %w", err)
		}
		return chat, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Chat), nil
}

// ListChats returns the chats userID belongs to, most recently updated first.
func (s *Service) ListChats(ctx context.Context, userID string) ([]*store.Chat, error) {
	chats, err := s.store.FindChatsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find chats: %w", err)
	}
	return chats, nil
}

// CreateGroup creates a group chat with adminID appended to the members.
func (s *Service) CreateGroup(ctx context.Context, adminID, name string, members []string) (*store.Chat, error) {
	all := lo.Uniq(append(slices.Clone(members), adminID))
	for _, id := range all {
		if _, err := s.getUser(ctx, id); err != nil {
			return nil, err
		}
	}

	chat, err := s.store.CreateChat(ctx, store.NewChat{
		Name:    name,
		IsGroup: true,
		Members: all,
		AdminID: adminID,
	})
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return chat, nil
}

// RenameGroup renames a chat.
func (s *Service) RenameGroup(ctx context.Context, chatID, name string) (*store.Chat, error) {
	chat, err := s.store.UpdateChatName(ctx, chatID, name)
	if err != nil {
		return nil, mapChatErr("rename chat", err)
	}
	return chat, nil
}

// RemoveFromGroup removes userID from a group chat. One-to-one chats keep
// both members for their whole life.
func (s *Service) RemoveFromGroup(ctx context.Context, chatID, userID string) (*store.Chat, error) {
	if _, err := s.getGroup(ctx, chatID); err != nil {
		return nil, err
	}

	chat, err := s.store.PullChatMember(ctx, chatID, userID)
	if err != nil {
		return nil, mapChatErr("remove member", err)
	}
	return chat, nil
}

// AddToGroup adds userID to a group chat.
func (s *Service) AddToGroup(ctx context.Context, chatID, userID string) (*store.Chat, error) {
	if _, err := s.getGroup(ctx, chatID); err != nil {
		return nil, err
	}
	if _, err := s.getUser(ctx, userID); err != nil {
		return nil, err
	}

	chat, err := s.store.PushChatMember(ctx, chatID, userID)
	if err != nil {
		return nil, mapChatErr("add member", err)
	}
	return chat, nil
}

// IsMember checks whether userID belongs to a chat.
func (s *Service) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	member, err := s.store.IsChatMember(ctx, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member, nil
}

func (s *Service) getGroup(ctx context.Context, chatID string) (*store.Chat, error) {
	chat, err := s.getChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsGroup {
		return nil, errNotGroupChat
	}
	return chat, nil
}

func (s *Service) getChat(ctx context.Context, chatID string) (*store.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, mapChatErr("get chat", err)
	}
	return chat, nil
}

func (s *Service) getUser(ctx context.Context, userID string) (*store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, core.ErrUserNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func mapChatErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, core.ErrChatNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
