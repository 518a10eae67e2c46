package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/pliu/banter/internal/blob"
	"github.com/pliu/banter/internal/broadcast"
	"github.com/pliu/banter/internal/models"
	"github.com/pliu/banter/internal/store"
)

const (
	voicePreview = "🎤 Voice message"
	maxPageSize  = 500
)

type SendRequest struct {
	ChatID   string
	Sender   string
	Receiver string
	Text     string
	// Voice, when set, is a recorded clip and Text must be blank.
	Voice    io.Reader
	VoiceExt string
}

type MessagePage struct {
	Messages []models.Message `json:"messages"`
	// NextCursor is the seq to pass as After for the next page, or zero
	// when the listing reached the end.
	NextCursor int64 `json:"nextCursor,omitempty"`
}

// SendMessage stores a text or voice message and announces it on the chat's
// channel.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*models.Message, error) {
	if req.ChatID == "" {
		return nil, invalid("chatId", "required")
	}
	if err := validateName("sender", req.Sender); err != nil {
		return nil, err
	}
	hasText := strings.TrimSpace(req.Text) != ""
	hasVoice := req.Voice != nil
	if hasText == hasVoice {
		return nil, invalid("text", "exactly one of text or voice is required")
	}
	if hasVoice && s.blobs == nil {
		return nil, invalid("audio", "voice messages are disabled")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	chat, err := s.store.GetChat(sctx, req.ChatID)
	if err != nil {
		return nil, storeErr("load chat", err)
	}
	if !chat.HasParticipant(req.Sender) {
		return nil, invalid("sender", "not a participant of this chat")
	}

	receiver := ""
	if !chat.IsGroup {
		receiver = chat.Peer(req.Sender)
		if req.Receiver != "" && req.Receiver != receiver {
			return nil, invalid("receiver", "not the other participant of this chat")
		}
	}

	msg := &models.Message{
		ChatID:   chat.ID,
		Sender:   req.Sender,
		Receiver: receiver,
		Text:     req.Text,
	}
	preview := req.Text
	if hasVoice {
		url, err := s.blobs.Put(sctx, req.Voice, req.VoiceExt)
		switch {
		case errors.Is(err, blob.ErrTooLarge), errors.Is(err, blob.ErrEmpty):
			return nil, invalid("audio", err.Error())
		case err != nil:
			return nil, fmt.Errorf("save voice clip: %w: %w", ErrStore, err)
		}
		msg.Voice = url
		preview = voicePreview
	}

	if err := s.store.SaveMessage(sctx, msg, preview); err != nil {
		if msg.Voice != "" {
			// No message points at the clip, so it must not stay public.
			if derr := s.blobs.Delete(context.WithoutCancel(ctx), msg.Voice); derr != nil {
				log.Printf("failed to remove orphaned clip %s: %v", msg.Voice, derr)
			}
		}
		return nil, storeErr("save message", err)
	}

	s.publish(ctx, chat.ID, broadcast.EventNewMessage, msg)
	return msg, nil
}

// ListMessages returns the chat's messages with seq greater than page.After,
// oldest first. A zero page.Limit returns everything.
func (s *Service) ListMessages(ctx context.Context, chatID string, page store.Page) (*MessagePage, error) {
	if chatID == "" {
		return nil, invalid("chatId", "required")
	}
	if page.After < 0 {
		return nil, invalid("after", "must not be negative")
	}
	if page.Limit < 0 {
		return nil, invalid("limit", "must not be negative")
	}
	if page.Limit > maxPageSize {
		page.Limit = maxPageSize
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if _, err := s.store.GetChat(ctx, chatID); err != nil {
		return nil, storeErr("load chat", err)
	}
	messages, err := s.store.GetChatMessages(ctx, chatID, page)
	if err != nil {
		return nil, storeErr("list messages", err)
	}

	result := &MessagePage{Messages: messages}
	if page.Limit > 0 && len(messages) == page.Limit {
		result.NextCursor = messages[len(messages)-1].Seq
	}
	return result, nil
}

// MarkSeen marks every unseen message addressed to reader in the chat as
// seen and reports how many changed. Repeating it changes nothing.
func (s *Service) MarkSeen(ctx context.Context, chatID, reader string) (int64, error) {
	if chatID == "" {
		return 0, invalid("chatId", "required")
	}
	if err := validateName("receiver", reader); err != nil {
		return 0, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	updated, err := s.store.MarkSeen(sctx, chatID, reader)
	if err != nil {
		return 0, storeErr("mark seen", err)
	}

	s.publish(ctx, chatID, broadcast.EventSeen, broadcast.SeenPayload{Reader: reader, Updated: updated})
	return updated, nil
}

// SoftDelete flags a message as deleted for everyone. Only its sender may do
// this. Deleting twice succeeds but broadcasts once.
func (s *Service) SoftDelete(ctx context.Context, messageID, requester string) error {
	if messageID == "" {
		return invalid("id", "required")
	}
	if err := validateName("user", requester); err != nil {
		return err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msg, err := s.store.GetMessage(sctx, messageID)
	if err != nil {
		return storeErr("load message", err)
	}
	if msg.Sender != requester {
		return ErrForbidden
	}

	changed, err := s.store.SoftDeleteMessage(sctx, messageID)
	if err != nil {
		return storeErr("delete message", err)
	}
	if changed {
		s.publish(ctx, msg.ChatID, broadcast.EventDeleteMessage, broadcast.DeletePayload{MessageID: msg.ID})
	}
	return nil
}
