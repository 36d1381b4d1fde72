package http

import (
	"encoding/json"
	"errors"

	"github.com/vovakirdan/chatgate/internal/core"
	"github.com/vovakirdan/chatgate/internal/proto"
	"github.com/vovakirdan/chatgate/internal/store"
)

var errUnknownEvent = errors.New("unknown event")

// inboundToCommand decodes an envelope into a core command. Payload
// completeness is checked by the router; only the shape is checked here.
func inboundToCommand(inbound proto.Inbound) (*core.Command, error) {
	switch inbound.Event {
	case proto.EventSetup:
		// The payload is ignored; the identity comes from the handshake.
		return &core.Command{Kind: core.CommandSetup}, nil

	case proto.EventJoinChat, proto.EventTyping, proto.EventStopTyping:
		var room proto.Ref
		if err := decode(inbound.Data, &room); err != nil {
			return nil, err
		}
		kind := core.CommandJoinChat
		switch inbound.Event {
		case proto.EventTyping:
			kind = core.CommandTyping
		case proto.EventStopTyping:
			kind = core.CommandStopTyping
		}
		return &core.Command{Kind: kind, Room: string(room)}, nil

	case proto.EventNewMessage:
		var data proto.NewMessageData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, err
		}
		cmd := &core.Command{
			Kind:         core.CommandNewMessage,
			Content:      data.Content,
			ActingUserID: string(data.Sender),
		}
		if data.Chat != nil {
			cmd.ChatID = string(data.Chat.ID)
			if data.Chat.Users != nil {
				cmd.Members = proto.Refs(data.Chat.Users)
			}
		}
		return cmd, nil

	case proto.EventFetchAllMessages:
		var chatID proto.Ref
		if err := decode(inbound.Data, &chatID); err != nil {
			return nil, err
		}
		return &core.Command{Kind: core.CommandFetchMessages, ChatID: string(chatID)}, nil

	case proto.EventAccessChat:
		var data proto.AccessChatData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, err
		}
		return &core.Command{
			Kind:         core.CommandAccessChat,
			UserID:       string(data.UserID),
			ActingUserID: string(data.CurrentUserID),
		}, nil

	case proto.EventFetchChats:
		var current proto.Ref
		if err := decode(inbound.Data, &current); err != nil {
			return nil, err
		}
		return &core.Command{Kind: core.CommandFetchChats, ActingUserID: string(current)}, nil

	case proto.EventCreateGroup:
		var data proto.CreateGroupData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, err
		}
		cmd := &core.Command{
			Kind:         core.CommandCreateGroup,
			Name:         data.Name,
			ActingUserID: string(data.CurrentUser),
		}
		if data.Users != nil {
			cmd.Members = proto.Refs(data.Users)
		}
		return cmd, nil

	case proto.EventRenameGroup:
		var data proto.RenameGroupData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, err
		}
		return &core.Command{
			Kind:   core.CommandRenameGroup,
			ChatID: string(data.ChatID),
			Name:   data.ChatName,
		}, nil

	case proto.EventRemoveFromGroup, proto.EventAddToGroup:
		var data proto.MemberData
		if err := decode(inbound.Data, &data); err != nil {
			return nil, err
		}
		kind := core.CommandAddToGroup
		if inbound.Event == proto.EventRemoveFromGroup {
			kind = core.CommandRemoveFromGroup
		}
		return &core.Command{
			Kind:   kind,
			ChatID: string(data.ChatID),
			UserID: string(data.UserID),
		}, nil

	default:
		return nil, errUnknownEvent
	}
}

// decode unmarshals data into v; a missing payload leaves v zero.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventConnected:
		return proto.Outbound{Event: proto.EventConnected}
	case core.EventTyping:
		return proto.Outbound{Event: proto.EventTyping, Data: event.Room}
	case core.EventStopTyping:
		return proto.Outbound{Event: proto.EventStopTyping, Data: event.Room}
	case core.EventMessageReceived:
		return proto.Outbound{Event: proto.EventMessageReceived, Data: messageView(event.Message)}
	case core.EventAllMessages:
		messages := make([]*proto.Message, 0, len(event.Messages))
		for _, m := range event.Messages {
			messages = append(messages, messageView(m))
		}
		return proto.Outbound{Event: proto.EventAllMessages, Data: messages}
	case core.EventAccessChat:
		return proto.Outbound{Event: proto.EventAccessChat, Data: chatView(event.Chat)}
	case core.EventFetchChats:
		chats := make([]*proto.Chat, 0, len(event.Chats))
		for _, c := range event.Chats {
			chats = append(chats, chatView(c))
		}
		return proto.Outbound{Event: proto.EventFetchChats, Data: chats}
	case core.EventGroupCreated:
		return proto.Outbound{Event: proto.EventGroupCreated, Data: chatView(event.Chat)}
	case core.EventGroupRenamed:
		return proto.Outbound{Event: proto.EventGroupRenamed, Data: chatView(event.Chat)}
	case core.EventUserRemoved:
		return proto.Outbound{Event: proto.EventUserRemoved, Data: chatView(event.Chat)}
	case core.EventUserAdded:
		return proto.Outbound{Event: proto.EventUserAdded, Data: chatView(event.Chat)}
	case core.EventChatError:
		return proto.Outbound{Event: proto.EventChatError, Data: event.Error}
	default:
		return proto.Outbound{Event: proto.EventChatError, Data: "unknown error"}
	}
}

func userView(p *store.Profile) *proto.User {
	if p == nil {
		return nil
	}
	return &proto.User{ID: p.ID, Name: p.Name, Email: p.Email, Pic: p.Avatar}
}

func messageView(m *store.Message) *proto.Message {
	if m == nil {
		return nil
	}
	view := &proto.Message{
		ID:        m.ID,
		Sender:    userView(m.Sender),
		Content:   m.Content,
		Chat:      m.ChatID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.CreatedAt,
	}
	if view.Sender == nil {
		view.Sender = &proto.User{ID: m.SenderID}
	}
	if m.Chat != nil {
		view.Chat = chatView(m.Chat)
	}
	return view
}

func chatView(c *store.Chat) *proto.Chat {
	if c == nil {
		return nil
	}
	view := &proto.Chat{
		ID:            c.ID,
		ChatName:      c.Name,
		IsGroupChat:   c.IsGroup,
		Users:         make([]proto.User, 0, len(c.Members)),
		GroupAdmin:    userView(c.Admin),
		LatestMessage: messageView(c.LatestMessage),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
	for i := range c.Members {
		view.Users = append(view.Users, *userView(&c.Members[i]))
	}
	return view
}
