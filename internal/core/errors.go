package core

import "errors"

var (
	// ErrNotAuthenticated means the connection has no session; the handshake never completed.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrDuplicateConnection is returned when a connection handle is registered twice.
	ErrDuplicateConnection = errors.New("connection already registered")
	// ErrHubClosed is returned when registering after the hub has stopped.
	ErrHubClosed = errors.New("hub closed")
	// ErrChatNotFound is returned when a chat id does not resolve.
	ErrChatNotFound = errors.New("chat not found")
	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrLatestMessageStale marks a message that was persisted and can be delivered,
	// but whose chat still points at an older latest message.
	ErrLatestMessageStale = errors.New("chat latest message not updated")
)

// ValidationError describes a malformed or incomplete payload.
// Message is sent to the client verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationError(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

// NewValidationError builds a ValidationError for collaborators outside this package.
func NewValidationError(msg string) error {
	return validationError(msg)
}
