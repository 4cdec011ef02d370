// Package services содержит логику регистрации, входа и сброса пароля.
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/apperr"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/jwt"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/password"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	reminder "github.com/magabrotheeeer/subscription-tracker/internal/services/reminder"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage"
)

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	// WithinTx выполняет fn в одной транзакции.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateUser(ctx context.Context, user models.User) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	SetResetToken(ctx context.Context, userID, value string, expiresAt time.Time) error
	FindByResetToken(ctx context.Context, userID, value string, now time.Time) (*models.User, error)
	ConsumeResetToken(ctx context.Context, userID, value, passwordHash string, now time.Time) (*models.User, error)
}

// WorkflowTrigger запускает durable-воркфлоу.
type WorkflowTrigger interface {
	Trigger(ctx context.Context, url string, payload any) (string, error)
}

const resetValueBytes = 32

// AuthService отвечает за регистрацию, вход, проверку токенов и сброс пароля.
type AuthService struct {
	users     UserRepository
	jwtMaker  jwt.Maker
	workflows WorkflowTrigger
	resetURL  string
	resetTTL  time.Duration
	now       func() time.Time
}

// NewAuthService создает новый экземпляр AuthService.
// resetURL адрес воркфлоу письма сброса пароля, resetTTL срок жизни токена сброса.
func NewAuthService(users UserRepository, jwtMaker jwt.Maker, workflows WorkflowTrigger, resetURL string, resetTTL time.Duration) *AuthService {
	return &AuthService{
		users:     users,
		jwtMaker:  jwtMaker,
		workflows: workflows,
		resetURL:  resetURL,
		resetTTL:  resetTTL,
		now:       time.Now,
	}
}

// SignUp создает пользователя и выпускает для него токен. Все происходит в одной транзакции:
// если токен выпустить не удалось, пользователь не сохраняется.
func (s *AuthService) SignUp(ctx context.Context, req models.DummySignUp) (string, *models.User, error) {
	const op = "auth.SignUp"
	var (
		token   string
		created *models.User
	)
	err := s.users.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.users.GetUserByEmail(ctx, req.Email)
		switch {
		case err == nil:
			return apperr.Conflict("User already exists")
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		hashed, err := password.GetHash(req.Password)
		if err != nil {
			return err
		}
		created, err = s.users.CreateUser(ctx, models.User{
			Name:         req.Name,
			Email:        req.Email,
			PasswordHash: hashed,
		})
		if errors.Is(err, storage.ErrEmailTaken) {
			return apperr.Conflict("User already exists")
		}
		if err != nil {
			return err
		}

		token, err = s.jwtMaker.GenerateToken(created.ID)
		return err
	})
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	return token, created, nil
}

// SignIn проверяет пароль пользователя и выпускает токен.
func (s *AuthService) SignIn(ctx context.Context, email, rawPassword string) (string, *models.User, error) {
	const op = "auth.SignIn"
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil, fmt.Errorf("%s: %w", op, apperr.NotFound("User not found"))
	}
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := password.CompareHash(user.PasswordHash, rawPassword); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return "", nil, fmt.Errorf("%s: %w", op, apperr.Unauthorized("Invalid password"))
		}
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	token, err := s.jwtMaker.GenerateToken(user.ID)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	return token, user, nil
}

// Authenticate проверяет токен доступа и возвращает его владельца.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	const op = "auth.Authenticate"
	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, apperr.Unauthorized("Unauthorized"), err)
	}
	// токен сброса пароля не дает доступа к API
	if claims.Token != "" {
		return nil, fmt.Errorf("%s: %w", op, apperr.Unauthorized("Unauthorized"))
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, apperr.Unauthorized("Unauthorized"))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// RequestPasswordReset сохраняет случайное значение сброса со сроком жизни resetTTL,
// выпускает подписанный токен с этим значением и запускает воркфлоу письма.
// Возвращает идентификатор запуска воркфлоу.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	const op = "auth.RequestPasswordReset"
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", op, apperr.NotFound("User not found"))
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	raw := make([]byte, resetValueBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	value := hex.EncodeToString(raw)

	if err := s.users.SetResetToken(ctx, user.ID, value, s.now().Add(s.resetTTL)); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	token, err := s.jwtMaker.GenerateResetToken(user.ID, value, s.resetTTL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	runID, err := s.workflows.Trigger(ctx, s.resetURL, reminder.PasswordResetPayload{
		UserEmail: user.Email,
		ResetURL:  token,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return runID, nil
}

// ResetPassword устанавливает новый пароль по токену сброса. Токен одноразовый.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	const op = "auth.ResetPassword"
	invalid := apperr.Unauthorized("Invalid or expired token")

	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil || claims.Token == "" {
		return fmt.Errorf("%s: %w", op, invalid)
	}

	now := s.now()
	if _, err := s.users.FindByResetToken(ctx, claims.UserID, claims.Token, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, invalid)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	hashed, err := password.GetHash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.users.ConsumeResetToken(ctx, claims.UserID, claims.Token, hashed, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, invalid)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
