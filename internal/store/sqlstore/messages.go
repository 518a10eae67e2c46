package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/banter/internal/models"
	"github.com/pliu/banter/internal/store"
)

const messageColumns = "id, chat_id, seq, sender, receiver, text, voice, seen, deleted_for_everyone, created_at"

func scanMessage(row scanner) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.ChatID, &m.Seq, &m.Sender, &m.Receiver, &m.Text, &m.Voice,
		&m.Seen, &m.DeletedForEveryone, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

// SaveMessage stamps the message from the chat row it locks, so seq and
// createdAt grow together within a chat.
func (s *SQLStore) SaveMessage(ctx context.Context, msg *models.Message, preview string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int64
	var updatedAt time.Time
	query := s.rebind("SELECT message_seq, updated_at FROM chats WHERE id = ?" + s.forUpdate())
	if err := tx.QueryRowContext(ctx, query, msg.ChatID).Scan(&seq, &updatedAt); err != nil {
		return notFound(err)
	}

	createdAt := now()
	if createdAt.Before(updatedAt) {
		createdAt = updatedAt.UTC()
	}

	msg.ID = uuid.NewString()
	msg.Seq = seq + 1
	msg.CreatedAt = createdAt
	msg.Seen = false
	msg.DeletedForEveryone = false

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, FALSE, FALSE, ?)`),
		msg.ID, msg.ChatID, msg.Seq, msg.Sender, msg.Receiver, msg.Text, msg.Voice, msg.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.rebind("UPDATE chats SET message_seq = ?, last_message = ?, updated_at = ? WHERE id = ?"),
		msg.Seq, preview, msg.CreatedAt, msg.ChatID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLStore) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	query := s.rebind("SELECT " + messageColumns + " FROM messages WHERE id = ?")
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (s *SQLStore) GetChatMessages(ctx context.Context, chatID string, page store.Page) ([]models.Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE chat_id = ? AND seq > ? ORDER BY seq ASC"
	args := []any{chatID, page.After}
	if page.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, page.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (s *SQLStore) MarkSeen(ctx context.Context, chatID, reader string) (int64, error) {
	query := s.rebind("UPDATE messages SET seen = TRUE WHERE chat_id = ? AND receiver = ? AND seen = FALSE")
	result, err := s.db.ExecContext(ctx, query, chatID, reader)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLStore) SoftDeleteMessage(ctx context.Context, messageID string) (bool, error) {
	query := s.rebind("UPDATE messages SET deleted_for_everyone = TRUE WHERE id = ? AND deleted_for_everyone = FALSE")
	result, err := s.db.ExecContext(ctx, query, messageID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}
	if _, err := s.GetMessage(ctx, messageID); err != nil {
		return false, err
	}
	return false, nil
}
