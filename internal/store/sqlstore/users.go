package sqlstore

import (
	"context"

	"github.com/pliu/banter/internal/models"
	"github.com/pliu/banter/internal/store"
)

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	query := s.rebind("INSERT INTO users (name, secret, created_at) VALUES (?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, user.Name, user.Secret, user.CreatedAt)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *SQLStore) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	var user models.User
	query := s.rebind("SELECT name, secret, created_at FROM users WHERE name = ?")
	err := s.db.QueryRowContext(ctx, query, name).Scan(&user.Name, &user.Secret, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *SQLStore) SearchUsers(ctx context.Context, prefix string, limit int) ([]models.User, error) {
	// sqlite's LIKE folds ASCII case, and names are case sensitive.
	query := s.rebind(`
		SELECT name, created_at FROM users
		WHERE substr(name, 1, length(CAST(? AS TEXT))) = ?
		ORDER BY name LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, prefix, prefix, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.Name, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}
