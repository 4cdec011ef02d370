package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

const userColumns = `id, name, email, password, reset_token, reset_token_expires, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash,
		&u.ResetToken, &u.ResetTokenExpires, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser сохраняет нового пользователя. Занятый email дает ErrEmailTaken.
func (s *Storage) CreateUser(ctx context.Context, user models.User) (*models.User, error) {
	const op = "storage.CreateUser"
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	query := `INSERT INTO users (id, name, email, password)
			  VALUES ($1, $2, $3, $4)
			  RETURNING ` + userColumns
	created, err := scanUser(s.conn(ctx).QueryRow(ctx, query, user.ID, user.Name, user.Email, user.PasswordHash))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return created, nil
}

// GetUserByEmail возвращает пользователя по email.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	u, err := scanUser(s.conn(ctx).QueryRow(ctx, query, email))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Storage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.GetUserByID"
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return u, nil
}

// ListUsers возвращает всех пользователей, новые первыми.
func (s *Storage) ListUsers(ctx context.Context) ([]*models.User, error) {
	const op = "storage.ListUsers"
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	result := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// UpdateUser частично обновляет пользователя. Поля patch, равные nil, не меняются.
func (s *Storage) UpdateUser(ctx context.Context, id string, patch models.UserPatch) (*models.User, error) {
	const op = "storage.UpdateUser"
	query := `UPDATE users SET
			      name = COALESCE($2, name),
			      email = COALESCE($3, email),
			      password = COALESCE($4, password),
			      updated_at = now()
			  WHERE id = $1
			  RETURNING ` + userColumns
	u, err := scanUser(s.conn(ctx).QueryRow(ctx, query, id, patch.Name, patch.Email, patch.PasswordHash))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return u, nil
}

// DeleteUser удаляет пользователя вместе с его подписками и возвращает удаленную запись.
func (s *Storage) DeleteUser(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.DeleteUser"
	query := `DELETE FROM users WHERE id = $1 RETURNING ` + userColumns
	u, err := scanUser(s.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return u, nil
}

// FindByResetToken ищет пользователя с действующим значением сброса пароля.
func (s *Storage) FindByResetToken(ctx context.Context, userID, value string, now time.Time) (*models.User, error) {
	const op = "storage.FindByResetToken"
	query := `SELECT ` + userColumns + ` FROM users
			  WHERE id = $1 AND reset_token = $2 AND reset_token_expires > $3`
	u, err := scanUser(s.conn(ctx).QueryRow(ctx, query, userID, value, now))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return u, nil
}

// SetResetToken сохраняет значение сброса пароля и срок его действия.
func (s *Storage) SetResetToken(ctx context.Context, userID, value string, expiresAt time.Time) error {
	const op = "storage.SetResetToken"
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE users SET reset_token = $2, reset_token_expires = $3, updated_at = now() WHERE id = $1`,
		userID, value, expiresAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// ConsumeResetToken одной записью меняет пароль и очищает поля сброса,
// только если значение еще совпадает и не истекло. Повторный вызов дает ErrNotFound.
func (s *Storage) ConsumeResetToken(ctx context.Context, userID, value, passwordHash string, now time.Time) (*models.User, error) {
	const op = "storage.ConsumeResetToken"
	query := `UPDATE users SET
			      password = $4,
			      reset_token = NULL,
			      reset_token_expires = NULL,
			      updated_at = now()
			  WHERE id = $1 AND reset_token = $2 AND reset_token_expires > $3
			  RETURNING ` + userColumns
	u, err := scanUser(s.conn(ctx).QueryRow(ctx, query, userID, value, now, passwordHash))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return u, nil
}
