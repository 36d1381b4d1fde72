package core

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

const (
	msgFillAllFields    = "Please fill all the fields"
	msgGroupTooSmall    = "More than 2 users are required to form a group chat"
	msgUserIDMissing    = "UserId param not sent with request"
	msgChatIDMissing    = "ChatId param not sent with request"
	msgChatNotFound     = "Chat Not Found"
	msgUserNotFound     = "User Not Found"
	msgNotChatMember    = "You are not a member of this chat"
	msgIdentityMismatch = "current user does not match the authenticated user"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

type newMessageInput struct {
	ChatID  string   `validate:"required"`
	Content string   `validate:"required"`
	Members []string `validate:"required,min=1,dive,required"`
}

type chatInput struct {
	ChatID string `validate:"required"`
}

type accessChatInput struct {
	UserID string `validate:"required"`
}

type createGroupInput struct {
	Name    string   `validate:"required"`
	Members []string `validate:"required,min=1,dive,required"`
}

type renameGroupInput struct {
	ChatID string `validate:"required"`
	Name   string `validate:"required"`
}

type memberEditInput struct {
	ChatID string `validate:"required"`
	UserID string `validate:"required"`
}

// check runs struct validation and turns any failure into a ValidationError
// carrying msg.
func check(input any, msg string) error {
	if err := payloadValidator().Struct(input); err != nil {
		return validationError(msg)
	}
	return nil
}
