package service

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/pliu/banter/internal/models"
	"github.com/pliu/banter/internal/store"
)

// GetOrCreateDirectChat returns the one direct chat between userA and userB,
// creating it on first use. The order of the two names does not matter.
func (s *Service) GetOrCreateDirectChat(ctx context.Context, userA, userB string) (*models.Chat, error) {
	if err := validateName("user1", userA); err != nil {
		return nil, err
	}
	if err := validateName("user2", userB); err != nil {
		return nil, err
	}
	if userA == userB {
		return nil, invalid("user2", "must differ from user1")
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	key := models.PairKey(userA, userB)
	chat, err := s.store.FindDirectChat(ctx, key)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr("find direct chat", err)
	}

	chat = &models.Chat{Participants: []string{userA, userB}, PairKey: key}
	err = s.store.CreateChat(ctx, chat)
	if errors.Is(err, store.ErrDuplicate) {
		// Someone else created it between our read and write.
		chat, err = s.store.FindDirectChat(ctx, key)
	}
	if err != nil {
		return nil, storeErr("create direct chat", err)
	}
	return chat, nil
}

// CreateGroupChat creates a group administered by admin. members must name at
// least two people besides the admin once duplicates are collapsed.
func (s *Service) CreateGroupChat(ctx context.Context, name, admin string, members []string) (*models.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "required")
	}
	if err := validateName("admin", admin); err != nil {
		return nil, err
	}

	participants := []string{admin}
	seen := map[string]bool{admin: true}
	for _, m := range members {
		if seen[m] {
			continue
		}
		if err := validateName("members", m); err != nil {
			return nil, err
		}
		seen[m] = true
		participants = append(participants, m)
	}
	if len(participants) < 3 {
		return nil, invalid("members", "a group needs at least 2 members besides the admin")
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	chat := &models.Chat{
		Participants: participants,
		IsGroup:      true,
		Name:         name,
		Admin:        admin,
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, storeErr("create group", err)
	}
	return chat, nil
}

// RenameGroup renames the group when requester is its admin. Anyone else gets
// renamed=false and no error.
func (s *Service) RenameGroup(ctx context.Context, chatID, newName, requester string) (bool, error) {
	if chatID == "" {
		return false, invalid("chatId", "required")
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return false, invalid("name", "required")
	}
	if err := validateName("admin", requester); err != nil {
		return false, err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	renamed, err := s.store.RenameGroup(ctx, chatID, newName, requester)
	if err != nil {
		return false, storeErr("rename group", err)
	}
	if !renamed {
		log.Printf("rename of chat %s by %s ignored", chatID, requester)
	}
	return renamed, nil
}

// ListChats returns the user's chats, most recently active first, each with
// the number of messages addressed to user that are still unseen.
func (s *Service) ListChats(ctx context.Context, user string) ([]models.ChatSummary, error) {
	if err := validateName("user", user); err != nil {
		return nil, err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	chats, err := s.store.GetUserChats(ctx, user)
	if err != nil {
		return nil, storeErr("list chats", err)
	}
	counts, err := s.store.CountUnread(ctx, user)
	if err != nil {
		return nil, storeErr("count unread", err)
	}

	summaries := make([]models.ChatSummary, 0, len(chats))
	for _, c := range chats {
		summaries = append(summaries, models.ChatSummary{Chat: c, Unread: counts[c.ID]})
	}
	return summaries, nil
}
