package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

const subscriptionColumns = `id, name, price, currency, frequency, category, payment_method,
			  status, start_date, renewal_date, user_id, created_at, updated_at`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	s := &models.Subscription{}
	if err := row.Scan(&s.ID, &s.Name, &s.Price, &s.Currency, &s.Frequency, &s.Category,
		&s.PaymentMethod, &s.Status, &s.StartDate, &s.RenewalDate, &s.UserID,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func collectSubscriptions(rows pgx.Rows) ([]*models.Subscription, error) {
	defer rows.Close()
	result := make([]*models.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

// CreateSubscription сохраняет подписку и возвращает ее в том виде, в каком она записана.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error) {
	const op = "storage.CreateSubscription"
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	query := `INSERT INTO subscriptions (id, name, price, currency, frequency, category,
			      payment_method, status, start_date, renewal_date, user_id)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			  RETURNING ` + subscriptionColumns
	created, err := scanSubscription(s.conn(ctx).QueryRow(ctx, query,
		sub.ID, sub.Name, sub.Price, sub.Currency, sub.Frequency, sub.Category,
		sub.PaymentMethod, sub.Status, sub.StartDate, sub.RenewalDate, sub.UserID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return created, nil
}

// ListSubscriptionsByUser возвращает подписки пользователя по дате создания.
func (s *Storage) ListSubscriptionsByUser(ctx context.Context, userID string) ([]*models.Subscription, error) {
	const op = "storage.ListSubscriptionsByUser"
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	result, err := collectSubscriptions(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return result, nil
}

// GetSubscriptionOwned возвращает подписку, только если она принадлежит userID.
func (s *Storage) GetSubscriptionOwned(ctx context.Context, subID, userID string) (*models.Subscription, error) {
	const op = "storage.GetSubscriptionOwned"
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 AND user_id = $2`
	sub, err := scanSubscription(s.conn(ctx).QueryRow(ctx, query, subID, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return sub, nil
}

// GetSubscriptionWithOwner возвращает подписку с именем и почтой владельца.
func (s *Storage) GetSubscriptionWithOwner(ctx context.Context, subID string) (*models.SubscriptionWithOwner, error) {
	const op = "storage.GetSubscriptionWithOwner"
	query := `SELECT s.id, s.name, s.price, s.currency, s.frequency, s.category, s.payment_method,
			      s.status, s.start_date, s.renewal_date, s.user_id, s.created_at, s.updated_at,
			      u.name, u.email
			  FROM subscriptions s
			  JOIN users u ON u.id = s.user_id
			  WHERE s.id = $1`
	var r models.SubscriptionWithOwner
	err := s.conn(ctx).QueryRow(ctx, query, subID).Scan(
		&r.ID, &r.Name, &r.Price, &r.Currency, &r.Frequency, &r.Category, &r.PaymentMethod,
		&r.Status, &r.StartDate, &r.RenewalDate, &r.UserID, &r.CreatedAt, &r.UpdatedAt,
		&r.OwnerName, &r.OwnerEmail)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return &r, nil
}

// UpdateSubscriptionOwned частично обновляет подписку одним условным UPDATE по id и владельцу.
// Если подписки нет или владелец другой, возвращается ErrNotFound.
func (s *Storage) UpdateSubscriptionOwned(ctx context.Context, subID, userID string, patch models.SubscriptionPatch) (*models.Subscription, error) {
	const op = "storage.UpdateSubscriptionOwned"
	query := `UPDATE subscriptions SET
			      name = COALESCE($3, name),
			      price = COALESCE($4, price),
			      currency = COALESCE($5, currency),
			      frequency = COALESCE($6, frequency),
			      category = COALESCE($7, category),
			      payment_method = COALESCE($8, payment_method),
			      status = COALESCE($9, status),
			      start_date = COALESCE($10, start_date),
			      renewal_date = COALESCE($11, renewal_date),
			      updated_at = now()
			  WHERE id = $1 AND user_id = $2
			  RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(s.conn(ctx).QueryRow(ctx, query, subID, userID,
		patch.Name, patch.Price, patch.Currency, patch.Frequency, patch.Category,
		patch.PaymentMethod, patch.Status, patch.StartDate, patch.RenewalDate))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return sub, nil
}

// SetSubscriptionStatusOwned меняет статус подписки владельца.
func (s *Storage) SetSubscriptionStatusOwned(ctx context.Context, subID, userID, status string) (*models.Subscription, error) {
	const op = "storage.SetSubscriptionStatusOwned"
	query := `UPDATE subscriptions SET status = $3, updated_at = now()
			  WHERE id = $1 AND user_id = $2
			  RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(s.conn(ctx).QueryRow(ctx, query, subID, userID, status))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return sub, nil
}

// DeleteSubscriptionOwned удаляет подписку владельца и возвращает удаленную запись.
func (s *Storage) DeleteSubscriptionOwned(ctx context.Context, subID, userID string) (*models.Subscription, error) {
	const op = "storage.DeleteSubscriptionOwned"
	query := `DELETE FROM subscriptions WHERE id = $1 AND user_id = $2 RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(s.conn(ctx).QueryRow(ctx, query, subID, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return sub, nil
}

// ListUpcomingRenewals возвращает активные подписки пользователя с продлением в интервале [from, to].
func (s *Storage) ListUpcomingRenewals(ctx context.Context, userID string, from, to time.Time) ([]*models.Subscription, error) {
	const op = "storage.ListUpcomingRenewals"
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
			  WHERE user_id = $1 AND status = 'active' AND renewal_date BETWEEN $2 AND $3
			  ORDER BY renewal_date`
	rows, err := s.conn(ctx).Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	result, err := collectSubscriptions(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return result, nil
}
