package store

import (
	"context"
	"errors"

	"github.com/pliu/banter/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a write violates a unique index
	// (user name, direct chat pair).
	ErrDuplicate = errors.New("store: duplicate key")
)

// Page selects a window of a chat's messages. After is an exclusive seq
// cursor; Limit <= 0 returns everything after the cursor.
type Page struct {
	After int64
	Limit int
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByName(ctx context.Context, name string) (*models.User, error)
	SearchUsers(ctx context.Context, prefix string, limit int) ([]models.User, error)
}

type ChatStore interface {
	// CreateChat assigns ID, CreatedAt and UpdatedAt. Direct chats must carry
	// a PairKey; a second chat for the same pair fails with ErrDuplicate.
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	FindDirectChat(ctx context.Context, pairKey string) (*models.Chat, error)
	GetUserChats(ctx context.Context, user string) ([]models.Chat, error)
	// RenameGroup renames the group only when admin is its admin and reports
	// whether a chat was changed.
	RenameGroup(ctx context.Context, chatID, name, admin string) (bool, error)
	// CountUnread returns chat id -> number of unseen messages addressed to user.
	CountUnread(ctx context.Context, user string) (map[string]int, error)
}

type MessageStore interface {
	// SaveMessage appends the message and bumps the parent chat's sequence,
	// last message preview and updatedAt in one atomic step. It assigns ID,
	// Seq and CreatedAt; preview becomes the chat's lastMessage.
	SaveMessage(ctx context.Context, msg *models.Message, preview string) error
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	GetChatMessages(ctx context.Context, chatID string, page Page) ([]models.Message, error)
	// MarkSeen flips seen on every unseen message of chatID addressed to
	// reader and returns how many changed.
	MarkSeen(ctx context.Context, chatID, reader string) (int64, error)
	// SoftDeleteMessage sets deletedForEveryone and reports whether it was
	// previously unset.
	SoftDeleteMessage(ctx context.Context, messageID string) (bool, error)
}

type Store interface {
	UserStore
	ChatStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}
