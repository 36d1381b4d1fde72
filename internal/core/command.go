package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSetup joins the caller's personal room.
	CommandSetup CommandKind = iota
	// CommandJoinChat subscribes the connection to a chat room.
	CommandJoinChat
	// CommandTyping tells other subscribers of a chat room the caller is typing.
	CommandTyping
	// CommandStopTyping tells other subscribers of a chat room the caller stopped typing.
	CommandStopTyping
	// CommandNewMessage persists a message and fans it out to the other members.
	CommandNewMessage
	// CommandFetchMessages returns a chat's messages to the caller.
	CommandFetchMessages
	// CommandAccessChat finds or creates the caller's one-to-one chat with a user.
	CommandAccessChat
	// CommandFetchChats returns the caller's chats.
	CommandFetchChats
	// CommandCreateGroup creates a group chat administered by the caller.
	CommandCreateGroup
	// CommandRenameGroup renames a chat.
	CommandRenameGroup
	// CommandRemoveFromGroup removes a user from a chat.
	CommandRemoveFromGroup
	// CommandAddToGroup adds a user to a chat.
	CommandAddToGroup
)

var commandNames = [...]string{
	CommandSetup:           "setup",
	CommandJoinChat:        "join chat",
	CommandTyping:          "typing",
	CommandStopTyping:      "stop typing",
	CommandNewMessage:      "new message",
	CommandFetchMessages:   "fetch all messages",
	CommandAccessChat:      "access chat",
	CommandFetchChats:      "fetch chats",
	CommandCreateGroup:     "create group",
	CommandRenameGroup:     "rename group",
	CommandRemoveFromGroup: "remove from group",
	CommandAddToGroup:      "add to group",
}

func (k CommandKind) String() string {
	if k >= 0 && int(k) < len(commandNames) {
		return commandNames[k]
	}
	return "unknown"
}

// Command represents an action requested by a client.
// Only the fields relevant to Kind are set.
type Command struct {
	Kind CommandKind

	Room    string   // join chat, typing, stop typing
	ChatID  string   // new message, fetch all messages, group edits
	UserID  string   // access chat target, group member edits
	Name    string   // group name
	Content string   // new message text
	Members []string // new message chat.users, create group users

	// ActingUserID is the current user as named by the payload, if any.
	// It must match the session identity.
	ActingUserID string
}
