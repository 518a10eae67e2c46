package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/pliu/banter/internal/models"
	"github.com/pliu/banter/internal/store"
)

func TestSaveMessage(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	chat := directChat("alice", "bob")
	testStore.CreateChat(ctx, chat)

	msg := &models.Message{ChatID: chat.ID, Sender: "alice", Receiver: "bob", Text: "Hello"}
	if err := testStore.SaveMessage(ctx, msg, "Hello"); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}
	if msg.ID == "" || msg.Seq != 1 || msg.CreatedAt.IsZero() {
		t.Errorf("Expected id, seq and timestamp to be assigned, got %+v", msg)
	}

	messages, err := testStore.GetChatMessages(ctx, chat.ID, store.Page{})
	if err != nil {
		t.Fatalf("Failed to get messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(messages))
	}
	if messages[0].Text != "Hello" || messages[0].Seen {
		t.Errorf("Unexpected message %+v", messages[0])
	}
	if messages[0].ID != msg.ID {
		t.Errorf("Expected id %s to round-trip, got %s", msg.ID, messages[0].ID)
	}

	err = testStore.SaveMessage(ctx, &models.Message{ChatID: "missing", Sender: "alice", Text: "x"}, "x")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing chat, got %v", err)
	}
}

func TestGetChatMessagesOrderAndPaging(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	chat := directChat("alice", "bob")
	testStore.CreateChat(ctx, chat)
	for i := 0; i < 5; i++ {
		testStore.SaveMessage(ctx, &models.Message{ChatID: chat.ID, Sender: "alice", Receiver: "bob", Text: "m"}, "m")
	}

	all, _ := testStore.GetChatMessages(ctx, chat.ID, store.Page{})
	if len(all) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Seq != all[i-1].Seq+1 {
			t.Errorf("Expected consecutive seq, got %d after %d", all[i].Seq, all[i-1].Seq)
		}
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Errorf("createdAt went backwards at %d", i)
		}
	}

	page, _ := testStore.GetChatMessages(ctx, chat.ID, store.Page{After: 2, Limit: 2})
	if len(page) != 2 || page[0].Seq != 3 || page[1].Seq != 4 {
		t.Errorf("Unexpected page %+v", page)
	}
}

func TestMarkSeen(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	chat := directChat("alice", "bob")
	testStore.CreateChat(ctx, chat)
	testStore.SaveMessage(ctx, &models.Message{ChatID: chat.ID, Sender: "alice", Receiver: "bob", Text: "1"}, "1")
	testStore.SaveMessage(ctx, &models.Message{ChatID: chat.ID, Sender: "bob", Receiver: "alice", Text: "2"}, "2")

	n, err := testStore.MarkSeen(ctx, chat.ID, "bob")
	if err != nil || n != 1 {
		t.Errorf("Expected 1 message marked, got %d %v", n, err)
	}
	n, _ = testStore.MarkSeen(ctx, chat.ID, "bob")
	if n != 0 {
		t.Errorf("Expected second MarkSeen to change nothing, got %d", n)
	}

	messages, _ := testStore.GetChatMessages(ctx, chat.ID, store.Page{})
	if !messages[0].Seen || messages[1].Seen {
		t.Errorf("Expected only bob's message seen, got %v %v", messages[0].Seen, messages[1].Seen)
	}
}

func TestSoftDeleteMessage(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	chat := directChat("alice", "bob")
	testStore.CreateChat(ctx, chat)
	msg := &models.Message{ChatID: chat.ID, Sender: "alice", Receiver: "bob", Text: "oops"}
	testStore.SaveMessage(ctx, msg, "oops")

	changed, err := testStore.SoftDeleteMessage(ctx, msg.ID)
	if err != nil || !changed {
		t.Errorf("Expected first delete to change the message, got %v %v", changed, err)
	}
	changed, err = testStore.SoftDeleteMessage(ctx, msg.ID)
	if err != nil || changed {
		t.Errorf("Expected second delete to be a no-op, got %v %v", changed, err)
	}

	got, _ := testStore.GetMessage(ctx, msg.ID)
	if !got.DeletedForEveryone {
		t.Error("Expected message to be deleted for everyone")
	}

	if _, err := testStore.SoftDeleteMessage(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
