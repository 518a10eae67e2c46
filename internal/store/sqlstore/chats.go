package sqlstore

import (
	"context"
	"database/sql"
	"sort"

	"github.com/google/uuid"
	"github.com/pliu/banter/internal/models"
	"github.com/pliu/banter/internal/store"
)

const chatColumns = "c.id, c.is_group, c.name, c.admin, c.last_message, COALESCE(c.pair_key, ''), c.message_seq, c.created_at, c.updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(row scanner) (*models.Chat, error) {
	var chat models.Chat
	err := row.Scan(&chat.ID, &chat.IsGroup, &chat.Name, &chat.Admin, &chat.LastMessage,
		&chat.PairKey, &chat.MessageSeq, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return nil, err
	}
	chat.CreatedAt = chat.CreatedAt.UTC()
	chat.UpdatedAt = chat.UpdatedAt.UTC()
	return &chat, nil
}

func (s *SQLStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	chat.ID = uuid.NewString()
	chat.CreatedAt = now()
	chat.UpdatedAt = chat.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pairKey := sql.NullString{String: chat.PairKey, Valid: chat.PairKey != ""}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO chats (id, is_group, name, admin, last_message, pair_key, message_seq, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`),
		chat.ID, chat.IsGroup, chat.Name, chat.Admin, chat.LastMessage, pairKey, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return store.ErrDuplicate
		}
		return err
	}

	insert := s.rebind("INSERT INTO participants (chat_id, username, position) VALUES (?, ?, ?)")
	for i, p := range chat.Participants {
		if _, err := tx.ExecContext(ctx, insert, chat.ID, p, i); err != nil {
			if isDuplicate(err) {
				return store.ErrDuplicate
			}
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLStore) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	query := s.rebind("SELECT " + chatColumns + " FROM chats c WHERE c.id = ?")
	chat, err := scanChat(s.db.QueryRowContext(ctx, query, chatID))
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.loadParticipants(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *SQLStore) FindDirectChat(ctx context.Context, pairKey string) (*models.Chat, error) {
	query := s.rebind("SELECT " + chatColumns + " FROM chats c WHERE c.pair_key = ?")
	chat, err := scanChat(s.db.QueryRowContext(ctx, query, pairKey))
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.loadParticipants(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *SQLStore) loadParticipants(ctx context.Context, chat *models.Chat) error {
	query := s.rebind("SELECT username FROM participants WHERE chat_id = ? ORDER BY position")
	rows, err := s.db.QueryContext(ctx, query, chat.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	chat.Participants = chat.Participants[:0]
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		chat.Participants = append(chat.Participants, name)
	}
	return rows.Err()
}

// GetUserChats returns the user's chats, most recently active first.
func (s *SQLStore) GetUserChats(ctx context.Context, user string) ([]models.Chat, error) {
	query := s.rebind(`
		SELECT ` + chatColumns + `
		FROM chats c
		JOIN participants p ON c.id = p.chat_id
		WHERE p.username = ?
	`)
	rows, err := s.db.QueryContext(ctx, query, user)
	if err != nil {
		return nil, err
	}

	var chats []models.Chat
	index := make(map[string]int)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[chat.ID] = len(chats)
		chats = append(chats, *chat)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return chats, nil
	}

	// One query for every participant list instead of one per chat.
	query = s.rebind(`
		SELECT chat_id, username
		FROM participants
		WHERE chat_id IN (SELECT chat_id FROM participants WHERE username = ?)
		ORDER BY chat_id, position
	`)
	prows, err := s.db.QueryContext(ctx, query, user)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var chatID, name string
		if err := prows.Scan(&chatID, &name); err != nil {
			return nil, err
		}
		if i, ok := index[chatID]; ok {
			chats[i].Participants = append(chats[i].Participants, name)
		}
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	// Sorted here rather than in SQL: sqlite compares DATETIME as text.
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (s *SQLStore) RenameGroup(ctx context.Context, chatID, name, admin string) (bool, error) {
	query := s.rebind("UPDATE chats SET name = ?, updated_at = ? WHERE id = ? AND admin = ? AND is_group = TRUE")
	result, err := s.db.ExecContext(ctx, query, name, now(), chatID, admin)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *SQLStore) CountUnread(ctx context.Context, user string) (map[string]int, error) {
	query := s.rebind(`
		SELECT chat_id, COUNT(*)
		FROM messages
		WHERE receiver = ? AND seen = FALSE
		GROUP BY chat_id
	`)
	rows, err := s.db.QueryContext(ctx, query, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var chatID string
		var n int
		if err := rows.Scan(&chatID, &n); err != nil {
			return nil, err
		}
		counts[chatID] = n
	}
	return counts, rows.Err()
}
