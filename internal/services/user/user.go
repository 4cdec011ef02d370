// Package services содержит логику управления пользователями.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/apperr"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/password"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage"
)

// UserRepository операции хранилища над пользователями.
type UserRepository interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, id string, patch models.UserPatch) (*models.User, error)
	DeleteUser(ctx context.Context, id string) (*models.User, error)
}

// UserService CRUD над пользователями.
type UserService struct {
	repo UserRepository
}

// NewUserService создает новый экземпляр UserService.
func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

// List возвращает всех пользователей, новые первыми.
func (s *UserService) List(ctx context.Context) ([]*models.User, error) {
	const op = "user.List"
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

// Get возвращает пользователя по идентификатору.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	const op = "user.Get"
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return user, nil
}

// Update частично обновляет пользователя. Новый пароль хэшируется.
func (s *UserService) Update(ctx context.Context, id string, req models.DummyUserPatch) (*models.User, error) {
	const op = "user.Update"
	patch := models.UserPatch{Name: req.Name, Email: req.Email}
	if req.Password != nil {
		hashed, err := password.GetHash(*req.Password)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		patch.PasswordHash = &hashed
	}

	if patch.Empty() {
		return s.Get(ctx, id)
	}

	user, err := s.repo.UpdateUser(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return user, nil
}

// Delete удаляет пользователя вместе с его подписками и возвращает удаленную запись.
func (s *UserService) Delete(ctx context.Context, id string) (*models.User, error) {
	const op = "user.Delete"
	user, err := s.repo.DeleteUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return user, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound("User not found")
	case errors.Is(err, storage.ErrEmailTaken):
		return apperr.Conflict("User already exists")
	default:
		return err
	}
}
