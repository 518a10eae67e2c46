package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/pliu/banter/internal/models"
	"github.com/pliu/banter/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores everything past 72 bytes.
const maxSecretLength = 72

// Login returns the user called name when secret matches. An unused name is
// claimed by whoever logs in with it first.
func (s *Service) Login(ctx context.Context, name, secret string) (*models.User, error) {
	if err := validateName("name", name); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, invalid("secret", "required")
	}
	if len(secret) > maxSecretLength {
		return nil, invalid("secret", "longer than 72 bytes")
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	user, err := s.store.GetUserByName(ctx, name)
	switch {
	case err == nil:
		if bcrypt.CompareHashAndPassword([]byte(user.Secret), []byte(secret)) != nil {
			return nil, ErrUnauthorized
		}
		return user, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, storeErr("login", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}
	user = &models.User{Name: name, Secret: string(hash)}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrNameTaken
		}
		return nil, storeErr("register", err)
	}
	return user, nil
}

// FindUser looks a user up by exact name.
func (s *Service) FindUser(ctx context.Context, name string) (*models.User, error) {
	if err := validateName("name", name); err != nil {
		return nil, err
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	user, err := s.store.GetUserByName(ctx, name)
	if err != nil {
		return nil, storeErr("find user", err)
	}
	return user, nil
}

const searchLimit = 10

func (s *Service) SearchUsers(ctx context.Context, prefix string) ([]models.User, error) {
	if prefix == "" {
		return []models.User{}, nil
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	users, err := s.store.SearchUsers(ctx, prefix, searchLimit)
	if err != nil {
		return nil, storeErr("search users", err)
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}
