package service

import (
	"context"

	"github.com/pliu/banter/internal/broadcast"
)

// SetTyping relays a typing indicator to the chat. Nothing is stored and a
// failed publish still reports success.
func (s *Service) SetTyping(ctx context.Context, chatID, user string, typing bool) error {
	if chatID == "" {
		return invalid("chatId", "required")
	}
	if err := validateName("user", user); err != nil {
		return err
	}
	s.publish(ctx, chatID, broadcast.EventTyping, broadcast.TypingPayload{User: user, Typing: typing})
	return nil
}
