package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/chatgate/internal/auth"
	"github.com/vovakirdan/chatgate/internal/store"
)

// DefaultStoreTimeout bounds a single persistence call when none is configured.
const DefaultStoreTimeout = 5 * time.Second

// RouterOptions tune the Router.
type RouterOptions struct {
	// StoreTimeout bounds every call into the ChatService.
	StoreTimeout time.Duration
	// RequireChatMembership makes join chat verify that the caller is a
	// member of the chat before subscribing.
	RequireChatMembership bool
}

// Router dispatches commands from one connection. Handle is called from the
// connection's read loop, so commands of a connection run strictly in order
// while different connections run concurrently.
type Router struct {
	hub   *Hub
	chats ChatService
	log   *zerolog.Logger
	opts  RouterOptions
}

// NewRouter creates a router over the hub and chat service.
func NewRouter(hub *Hub, chats ChatService, logger *zerolog.Logger, opts RouterOptions) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	return &Router{hub: hub, chats: chats, log: logger, opts: opts}
}

// Handle executes one command on behalf of client c. Failures are reported
// to the caller as chat error events and never escape.
func (r *Router) Handle(ctx context.Context, c *Client, cmd *Command) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("conn_id", c.ID).
				Stringer("command", cmd.Kind).
				Interface("panic", rec).
				Msg("command handler panicked")
			r.emitError(c, "internal error")
		}
	}()

	identity, err := r.hub.IdentityOf(c.ID)
	if err != nil {
		r.log.Warn().Err(err).Str("conn_id", c.ID).Stringer("command", cmd.Kind).Msg("command on unknown connection")
		return
	}

	if cmd.ActingUserID != "" && cmd.ActingUserID != identity.ID {
		r.log.Warn().
			Str("conn_id", c.ID).
			Str("user_id", identity.ID).
			Str("claimed_user_id", cmd.ActingUserID).
			Stringer("command", cmd.Kind).
			Msg("payload names a different user")
		if cmd.Kind != CommandNewMessage {
			r.emitError(c, msgIdentityMismatch)
		}
		return
	}

	switch cmd.Kind {
	case CommandSetup:
		r.handleSetup(c, identity)
	case CommandJoinChat:
		r.handleJoinChat(ctx, c, identity, cmd)
	case CommandTyping:
		r.handleTyping(c, cmd, EventTyping)
	case CommandStopTyping:
		r.handleTyping(c, cmd, EventStopTyping)
	case CommandNewMessage:
		r.handleNewMessage(ctx, c, identity, cmd)
	case CommandFetchMessages:
		r.handleFetchMessages(ctx, c, cmd)
	case CommandAccessChat:
		r.handleAccessChat(ctx, c, identity, cmd)
	case CommandFetchChats:
		r.handleFetchChats(ctx, c, identity)
	case CommandCreateGroup:
		r.handleCreateGroup(ctx, c, identity, cmd)
	case CommandRenameGroup:
		r.handleRenameGroup(ctx, c, cmd)
	case CommandRemoveFromGroup, CommandAddToGroup:
		r.handleMemberEdit(ctx, c, cmd)
	default:
		r.emitError(c, "unknown event")
	}
}

func (r *Router) handleSetup(c *Client, identity auth.Identity) {
	room := PersonalRoom(identity.ID)
	if _, err := r.hub.JoinRoom(c.ID, room); err != nil {
		r.log.Warn().Err(err).Str("conn_id", c.ID).Msg("setup failed")
		return
	}
	r.hub.Emit(c, &Event{Kind: EventConnected})
}

func (r *Router) handleJoinChat(ctx context.Context, c *Client, identity auth.Identity, cmd *Command) {
	if cmd.Room == "" {
		return
	}

	if r.opts.RequireChatMembership {
		sctx, cancel := r.storeContext(ctx)
		member, err := r.chats.IsMember(sctx, cmd.Room, identity.ID)
		cancel()
		if err != nil {
			r.fail(c, cmd, err, "failed to join chat")
			return
		}
		if !member {
			r.emitError(c, msgNotChatMember)
			return
		}
	}

	joined, err := r.hub.JoinRoom(c.ID, ChatRoom(cmd.Room))
	if err != nil {
		r.log.Warn().Err(err).Str("conn_id", c.ID).Str("room", cmd.Room).Msg("join chat failed")
		return
	}
	if joined {
		r.log.Debug().Str("conn_id", c.ID).Str("user_id", identity.ID).Str("room", cmd.Room).Msg("joined chat room")
	}
}

func (r *Router) handleTyping(c *Client, cmd *Command, kind EventKind) {
	if cmd.Room == "" {
		return
	}
	room := ChatRoom(cmd.Room)
	if !r.hub.InRoom(c.ID, room) {
		r.log.Debug().Str("conn_id", c.ID).Str("room", cmd.Room).Stringer("event", kind).Msg("typing outside joined room ignored")
		return
	}
	r.hub.BroadcastRoom(room, c, &Event{Kind: kind, Room: cmd.Room})
}

// handleNewMessage runs create, populate, update latest message and
// broadcast. Nothing is reported back to the sender.
func (r *Router) handleNewMessage(ctx context.Context, c *Client, identity auth.Identity, cmd *Command) {
	logger := r.log.With().
		Str("conn_id", c.ID).
		Str("user_id", identity.ID).
		Str("chat_id", cmd.ChatID).
		Logger()

	in := newMessageInput{ChatID: cmd.ChatID, Content: cmd.Content, Members: cmd.Members}
	if err := check(in, msgFillAllFields); err != nil {
		logger.Warn().Err(err).Msg("new message dropped")
		return
	}

	sctx, cancel := r.storeContext(ctx)
	msg, err := r.chats.SendMessage(sctx, identity.ID, cmd.ChatID, cmd.Content)
	cancel()
	switch {
	case msg == nil:
		if err == nil {
			err = errors.New("no message returned")
		}
		logger.Error().Err(err).Str("step", "create_message").Msg("new message dropped")
		return
	case errors.Is(err, ErrLatestMessageStale):
		logger.Warn().Err(err).Str("step", "update_latest_message").Str("message_id", msg.ID).Msg("delivering message anyway")
	case err != nil:
		logger.Error().Err(err).Str("step", "populate").Str("message_id", msg.ID).Msg("new message dropped")
		return
	}
	if msg.Chat == nil {
		logger.Error().Str("step", "populate").Str("message_id", msg.ID).Msg("message has no chat")
		return
	}

	recipients := lo.Uniq(lo.Without(memberIDs(msg.Chat.Members), identity.ID))
	event := &Event{Kind: EventMessageReceived, Message: msg}
	delivered := 0
	for _, userID := range recipients {
		delivered += r.hub.BroadcastRoom(PersonalRoom(userID), nil, event)
	}

	logger.Debug().
		Str("step", "broadcast").
		Str("message_id", msg.ID).
		Int("recipients", len(recipients)).
		Int("delivered", delivered).
		Msg("message fanned out")
}

func (r *Router) handleFetchMessages(ctx context.Context, c *Client, cmd *Command) {
	if err := check(chatInput{ChatID: cmd.ChatID}, msgChatIDMissing); err != nil {
		r.fail(c, cmd, err, "")
		return
	}

	sctx, cancel := r.storeContext(ctx)
	defer cancel()
	messages, err := r.chats.ListMessages(sctx, cmd.ChatID)
	if err != nil {
		r.fail(c, cmd, err, "failed to fetch messages")
		return
	}
	r.hub.Emit(c, &Event{Kind: EventAllMessages, Messages: messages})
}

func (r *Router) handleAccessChat(ctx context.Context, c *Client, identity auth.Identity, cmd *Command) {
	if err := check(accessChatInput{UserID: cmd.UserID}, msgUserIDMissing); err != nil {
		r.fail(c, cmd, err, "")
		return
	}

	sctx, cancel := r.storeContext(ctx)
	defer cancel()
	chat, err := r.chats.AccessChat(sctx, identity.ID, cmd.UserID)
	if err != nil {
		r.fail(c, cmd, err, "failed to access chat")
		return
	}
	r.hub.Emit(c, &Event{Kind: EventAccessChat, Chat: chat})
}

func (r *Router) handleFetchChats(ctx context.Context, c *Client, identity auth.Identity) {
	sctx, cancel := r.storeContext(ctx)
	defer cancel()
	chats, err := r.chats.ListChats(sctx, identity.ID)
	if err != nil {
		r.fail(c, &Command{Kind: CommandFetchChats}, err, "failed to fetch chats")
		return
	}
	r.hub.Emit(c, &Event{Kind: EventFetchChats, Chats: chats})
}

func (r *Router) handleCreateGroup(ctx context.Context, c *Client, identity auth.Identity, cmd *Command) {
	if err := check(createGroupInput{Name: cmd.Name, Members: cmd.Members}, msgFillAllFields); err != nil {
		r.fail(c, cmd, err, "")
		return
	}
	others := lo.Uniq(lo.Without(cmd.Members, identity.ID))
	if len(others) < 2 {
		r.fail(c, cmd, validationError(msgGroupTooSmall), "")
		return
	}

	sctx, cancel := r.storeContext(ctx)
	defer cancel()
	chat, err := r.chats.CreateGroup(sctx, identity.ID, cmd.Name, others)
	if err != nil {
		r.fail(c, cmd, err, "failed to create group")
		return
	}
	r.hub.Emit(c, &Event{Kind: EventGroupCreated, Chat: chat})
}

func (r *Router) handleRenameGroup(ctx context.Context, c *Client, cmd *Command) {
	if err := check(renameGroupInput{ChatID: cmd.ChatID, Name: cmd.Name}, msgFillAllFields); err != nil {
		r.fail(c, cmd, err, "")
		return
	}

	sctx, cancel := r.storeContext(ctx)
	defer cancel()
	chat, err := r.chats.RenameGroup(sctx, cmd.ChatID, cmd.Name)
	if err != nil {
		r.fail(c, cmd, err, "failed to rename group")
		return
	}
	r.hub.Emit(c, &Event{Kind: EventGroupRenamed, Chat: chat})
}

func (r *Router) handleMemberEdit(ctx context.Context, c *Client, cmd *Command) {
	if err := check(memberEditInput{ChatID: cmd.ChatID, UserID: cmd.UserID}, msgFillAllFields); err != nil {
		r.fail(c, cmd, err, "")
		return
	}

	sctx, cancel := r.storeContext(ctx)
	defer cancel()

	var (
		chat *store.Chat
		err  error
		kind EventKind
	)
	if cmd.Kind == CommandAddToGroup {
		chat, err = r.chats.AddToGroup(sctx, cmd.ChatID, cmd.UserID)
		kind = EventUserAdded
	} else {
		chat, err = r.chats.RemoveFromGroup(sctx, cmd.ChatID, cmd.UserID)
		kind = EventUserRemoved
	}
	if err != nil {
		r.fail(c, cmd, err, fmt.Sprintf("failed to %s", cmd.Kind))
		return
	}
	r.hub.Emit(c, &Event{Kind: kind, Chat: chat})
}

// storeContext detaches persistence from the connection lifetime so a
// disconnect does not abort writes already in flight.
func (r *Router) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.opts.StoreTimeout)
}

// fail reports err to the caller. Validation and not-found errors are sent
// as is; anything else is logged and replaced by fallback.
func (r *Router) fail(c *Client, cmd *Command, err error, fallback string) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		r.emitError(c, verr.Message)
	case errors.Is(err, ErrChatNotFound):
		r.emitError(c, msgChatNotFound)
	case errors.Is(err, ErrUserNotFound):
		r.emitError(c, msgUserNotFound)
	default:
		r.log.Error().Err(err).Str("conn_id", c.ID).Stringer("command", cmd.Kind).Msg("command failed")
		r.emitError(c, fallback)
	}
}

func (r *Router) emitError(c *Client, msg string) {
	r.hub.Emit(c, &Event{Kind: EventChatError, Error: msg})
}

func memberIDs(members []store.Profile) []string {
	return lo.Map(members, func(p store.Profile, _ int) string { return p.ID })
}
