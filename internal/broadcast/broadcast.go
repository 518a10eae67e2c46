// Package broadcast names the per-chat realtime channels and the events
// published on them.
package broadcast

import (
	"context"
	"encoding/json"
	"strings"
)

const (
	EventNewMessage    = "new-message"
	EventSeen          = "seen"
	EventTyping        = "typing"
	EventDeleteMessage = "delete-message"
)

const channelPrefix = "chat-"

// Channel returns the channel name for a chat.
func Channel(chatID string) string {
	return channelPrefix + chatID
}

// ChatID extracts the chat id from a channel name.
func ChatID(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Envelope is the frame carried over Redis and written to websocket clients.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

func NewEnvelope(channel, event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Channel: channel, Event: event, Data: data}, nil
}

// Publisher delivers one event on a named channel. Delivery is at least
// once; subscribers must tolerate duplicates.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

type Handler func(Envelope)

type TypingPayload struct {
	User   string `json:"user"`
	Typing bool   `json:"typing"`
}

// SeenPayload only tells clients to refresh seen state for the chat.
type SeenPayload struct {
	Reader  string `json:"reader"`
	Updated int64  `json:"updated"`
}

type DeletePayload struct {
	MessageID string `json:"messageId"`
}
