package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pliu/banter/internal/broadcast"
	"github.com/pliu/banter/internal/models"
	"github.com/pliu/banter/internal/store"
)

func TestSendMessageScenario(t *testing.T) {
	pub := &recordingPublisher{}
	svc := setupService(t, pub, Options{})
	ctx := context.Background()

	chat, _ := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	msg, err := svc.SendMessage(ctx, SendRequest{ChatID: chat.ID, Sender: "alice", Receiver: "bob", Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.ID == "" || msg.Seq != 1 || msg.Seen || msg.Receiver != "bob" {
		t.Errorf("Unexpected message %+v", msg)
	}

	ev := pub.last()
	if ev.event != broadcast.EventNewMessage || ev.channel != broadcast.Channel(chat.ID) {
		t.Errorf("Expected new-message on %s, got %+v", broadcast.Channel(chat.ID), ev)
	}
	if sent, ok := ev.payload.(*models.Message); !ok || sent.ID != msg.ID {
		t.Errorf("Expected the stored message as payload, got %#v", ev.payload)
	}

	bobs, _ := svc.ListChats(ctx, "bob")
	alices, _ := svc.ListChats(ctx, "alice")
	if bobs[0].Unread != 1 || bobs[0].LastMessage != "hi" {
		t.Errorf("Expected bob to see one unread hi, got %+v", bobs[0])
	}
	if alices[0].Unread != 0 {
		t.Errorf("Sender should have no unread, got %d", alices[0].Unread)
	}
}

func TestSendMessageDefaultsReceiver(t *testing.T) {
	svc := setupService(t, &recordingPublisher{}, Options{})
	ctx := context.Background()

	chat, _ := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	msg, err := svc.SendMessage(ctx, SendRequest{ChatID: chat.ID, Sender: "bob", Text: "yo"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Receiver != "alice" {
		t.Errorf("Expected receiver alice, got %q", msg.Receiver)
	}

	group, _ := svc.CreateGroupChat(ctx, "team", "alice", []string{"bob", "carol"})
	msg, err = svc.SendMessage(ctx, SendRequest{ChatID: group.ID, Sender: "carol", Receiver: "bob", Text: "all"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Receiver != "" {
		t.Errorf("Group messages have no receiver, got %q", msg.Receiver)
	}
}

func TestSendMessageValidation(t *testing.T) {
	svc := setupService(t, &recordingPublisher{}, Options{})
	ctx := context.Background()
	chat, _ := svc.GetOrCreateDirectChat(ctx, "alice", "bob")

	tests := []struct {
		name  string
		req   SendRequest
		field string
	}{
		{"missing chat id", SendRequest{Sender: "alice", Text: "hi"}, "chatId"},
		{"missing sender", SendRequest{ChatID: chat.ID, Text: "hi"}, "sender"},
		{"blank text", SendRequest{ChatID: chat.ID, Sender: "alice", Text: "  "}, "text"},
		{"text and voice", SendRequest{ChatID: chat.ID, Sender: "alice", Text: "hi", Voice: strings.NewReader("x")}, "text"},
		{"outsider", SendRequest{ChatID: chat.ID, Sender: "mallory", Text: "hi"}, "sender"},
		{"wrong receiver", SendRequest{ChatID: chat.ID, Sender: "alice", Receiver: "carol", Text: "hi"}, "receiver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, tt.req)
			assertValidation(t, err, tt.field)
		})
	}

	_, err := svc.SendMessage(ctx, SendRequest{ChatID: "missing", Sender: "alice", Text: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSendVoiceMessage(t *testing.T) {
	svc := setupService(t, &recordingPublisher{}, Options{})
	ctx := context.Background()
	chat, _ := svc.GetOrCreateDirectChat(ctx, "alice", "bob")

	msg, err := svc.SendMessage(ctx, SendRequest{
		ChatID:   chat.ID,
		Sender:   "alice",
		Voice:    bytes.NewReader([]byte("OggS-clip")),
		VoiceExt: "webm",
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if !strings.HasPrefix(msg.Voice, "/voices/") || !strings.HasSuffix(msg.Voice, ".webm") {
		t.Errorf("Unexpected voice url %q", msg.Voice)
	}

	chats, _ := svc.ListChats(ctx, "bob")
	if chats[0].LastMessage != voicePreview {
		t.Errorf("Expected voice preview, got %q", chats[0].LastMessage)
	}

	_, err = svc.SendMessage(ctx, SendRequest{ChatID: chat.ID, Sender: "alice", Voice: bytes.NewReader(make([]byte, 2048))})
	assertValidation(t, err, "audio")
	_, err = svc.SendMessage(ctx, SendRequest{ChatID: chat.ID, Sender: "alice", Voice: bytes.NewReader(nil)})
	assertValidation(t, err, "audio")
}

func TestListMessages(t *testing.T) {
	svc := setupService(t, &recordingPublisher{}, Options{})
	ctx := context.Background()
	chat, _ := svc.GetOrCreateDirectChat(ctx, "alice", "bob")

	for i, sender := range []string{"alice", "bob", "alice", "bob", "alice"} {
		if _, err := svc.SendMessage(ctx, SendRequest{ChatID: chat.ID, Sender: sender, Text: string(rune('a' + i))}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := svc.ListMessages(ctx, chat.ID, store.Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Messages) != 5 || all.NextCursor != 0 {
		t.Fatalf("Expected all 5 messages and no cursor, got %d %d", len(all.Messages), all.NextCursor)
	}
	for i := 1; i < len(all.Messages); i++ {
		prev, cur := all.Messages[i-1], all.Messages[i]
		if cur.CreatedAt.Before(prev.CreatedAt) || cur.Seq <= prev.Seq {
			t.Errorf("Messages out of order at %d: %+v then %+v", i, prev, cur)
		}
	}

	var got []string
	page := store.Page{Limit: 2}
	for {
		res, err := svc.ListMessages(ctx, chat.ID, page)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range res.Messages {
			got = append(got, m.Text)
		}
		if res.NextCursor == 0 {
			break
		}
		page.After = res.NextCursor
	}
	if strings.Join(got, "") != "abcde" {
		t.Errorf("Paging returned %v", got)
	}

	if _, err := svc.ListMessages(ctx, "missing", store.Page{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	_, err = svc.ListMessages(ctx, "", store.Page{})
	assertValidation(t, err, "chatId")
	_, err = svc.ListMessages(ctx, chat.ID, store.Page{Limit: -1})
	assertValidation(t, err, "limit")
}

func TestMarkSeen(t *testing.T) {
	pub := &recordingPublisher{}
	svc := setupService(t, pub, Options{})
	ctx := context.Background()
	chat, _ := svc.GetOrCreateDirectChat(ctx, "alice", "bob")

	send := func(sender, text string) {
		t.Helper()
		if _, err := svc.SendMessage(ctx, SendRequest{ChatID: chat.ID, Sender: sender, Text: text}); err != nil {
			t.Fatal(err)
		}
	}
	send("alice", "one")
	send("alice", "two")
	send("bob", "reply")

	n, err := svc.MarkSeen(ctx, chat.ID, "bob")
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 messages marked seen, got %d %v", n, err)
	}
	ev := pub.last()
	if ev.event != broadcast.EventSeen {
		t.Fatalf("Expected a seen event, got %+v", ev)
	}
	if p := ev.payload.(broadcast.SeenPayload); p.Reader != "bob" || p.Updated != 2 {
		t.Errorf("Unexpected seen payload %+v", p)
	}

	send("alice", "three")

	n, err = svc.MarkSeen(ctx, chat.ID, "bob")
	if err != nil || n != 1 {
		t.Errorf("Expected only the later message to change, got %d %v", n, err)
	}
	n, _ = svc.MarkSeen(ctx, chat.ID, "bob")
	if n != 0 {
		t.Errorf("Expected a repeat to change nothing, got %d", n)
	}

	res, _ := svc.ListMessages(ctx, chat.ID, store.Page{})
	for _, m := range res.Messages {
		if m.Receiver == "bob" && !m.Seen {
			t.Errorf("Message %q to bob still unseen", m.Text)
		}
		if m.Receiver == "alice" && m.Seen {
			t.Errorf("Bob's read changed alice's message %q", m.Text)
		}
	}

	_, err = svc.MarkSeen(ctx, chat.ID, "")
	assertValidation(t, err, "receiver")
}

func TestUnreadMatchesUnseenCount(t *testing.T) {
	svc := setupService(t, &recordingPublisher{}, Options{})
	ctx := context.Background()
	chat, _ := svc.GetOrCreateDirectChat(ctx, "alice", "bob")

	steps := []string{"a", "a", "seen", "b", "a", "seen", "a", "a", "b"}
	for _, step := range steps {
		switch step {
		case "a":
			svc.SendMessage(ctx, SendRequest{ChatID: chat.ID, Sender: "alice", Text: "x"})
		case "b":
			svc.SendMessage(ctx, SendRequest{ChatID: chat.ID, Sender: "bob", Text: "y"})
		case "seen":
			svc.MarkSeen(ctx, chat.ID, "bob")
		}

		res, _ := svc.ListMessages(ctx, chat.ID, store.Page{})
		want := 0
		for _, m := range res.Messages {
			if m.Receiver == "bob" && !m.Seen {
				want++
			}
		}
		chats, _ := svc.ListChats(ctx, "bob")
		if chats[0].Unread != want {
			t.Errorf("After %q expected %d unread, got %d", step, want, chats[0].Unread)
		}
	}
}

func TestSoftDelete(t *testing.T) {
	pub := &recordingPublisher{}
	svc := setupService(t, pub, Options{})
	ctx := context.Background()
	chat, _ := svc.GetOrCreateDirectChat(ctx, "alice", "bob")
	msg, _ := svc.SendMessage(ctx, SendRequest{ChatID: chat.ID, Sender: "alice", Text: "oops"})

	if err := svc.SoftDelete(ctx, msg.ID, "bob"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
	if err := svc.SoftDelete(ctx, msg.ID, "alice"); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if err := svc.SoftDelete(ctx, msg.ID, "alice"); err != nil {
		t.Errorf("Repeated SoftDelete failed: %v", err)
	}
	if n := pub.count(broadcast.EventDeleteMessage); n != 1 {
		t.Errorf("Expected one delete-message event, got %d", n)
	}
	if p := pub.last().payload.(broadcast.DeletePayload); p.MessageID != msg.ID {
		t.Errorf("Unexpected delete payload %+v", p)
	}

	res, _ := svc.ListMessages(ctx, chat.ID, store.Page{})
	if !res.Messages[0].DeletedForEveryone {
		t.Error("Expected the message to be flagged deleted")
	}

	if err := svc.SoftDelete(ctx, "missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestBroadcastFailureIsNotReturned(t *testing.T) {
	svc := setupService(t, failingPublisher{}, Options{})
	ctx := context.Background()
	chat, _ := svc.GetOrCreateDirectChat(ctx, "alice", "bob")

	msg, err := svc.SendMessage(ctx, SendRequest{ChatID: chat.ID, Sender: "alice", Text: "hi"})
	if err != nil {
		t.Fatalf("Expected the send to succeed, got %v", err)
	}
	res, _ := svc.ListMessages(ctx, chat.ID, store.Page{})
	if len(res.Messages) != 1 || res.Messages[0].ID != msg.ID {
		t.Errorf("Expected the message to be stored, got %+v", res.Messages)
	}
	if _, err := svc.MarkSeen(ctx, chat.ID, "bob"); err != nil {
		t.Errorf("Expected MarkSeen to succeed, got %v", err)
	}
	if err := svc.SoftDelete(ctx, msg.ID, "alice"); err != nil {
		t.Errorf("Expected SoftDelete to succeed, got %v", err)
	}
}
