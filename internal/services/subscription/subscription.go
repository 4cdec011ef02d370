// Package services содержит бизнес-логику подписок: проверку полей, вычисление дат и запуск напоминаний.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/apperr"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/period"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/validate"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	reminder "github.com/magabrotheeeer/subscription-tracker/internal/services/reminder"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage"
)

// MaxUpcomingDays предел окна для ближайших продлений.
const MaxUpcomingDays = 365

// SubscriptionRepository определяет методы для работы с подписками в хранилище.
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID string) ([]*models.Subscription, error)
	GetSubscriptionOwned(ctx context.Context, subID, userID string) (*models.Subscription, error)
	UpdateSubscriptionOwned(ctx context.Context, subID, userID string, patch models.SubscriptionPatch) (*models.Subscription, error)
	SetSubscriptionStatusOwned(ctx context.Context, subID, userID, status string) (*models.Subscription, error)
	DeleteSubscriptionOwned(ctx context.Context, subID, userID string) (*models.Subscription, error)
	ListUpcomingRenewals(ctx context.Context, userID string, from, to time.Time) ([]*models.Subscription, error)
}

// WorkflowTrigger запускает durable-воркфлоу.
type WorkflowTrigger interface {
	Trigger(ctx context.Context, url string, payload any) (string, error)
}

// SubscriptionService реализует бизнес-логику работы с подписками.
type SubscriptionService struct {
	repo        SubscriptionRepository
	workflows   WorkflowTrigger
	reminderURL string
	validate    *validator.Validate
	log         *slog.Logger
	now         func() time.Time
}

// NewSubscriptionService создает новый экземпляр SubscriptionService.
// reminderURL адрес воркфлоу напоминаний, который запускается для каждой новой подписки.
func NewSubscriptionService(repo SubscriptionRepository, workflows WorkflowTrigger, reminderURL string, log *slog.Logger) *SubscriptionService {
	return &SubscriptionService{
		repo:        repo,
		workflows:   workflows,
		reminderURL: reminderURL,
		validate:    validate.New(),
		log:         log,
		now:         time.Now,
	}
}

func errNotOwned() error {
	return apperr.Unauthorized("Subscription not found or you are not the owner!")
}

// missingFields перечисляет все незаполненные обязательные поля в порядке их объявления.
func missingFields(req models.DummySubscription) []string {
	var missing []string
	if req.Name == "" {
		missing = append(missing, "name")
	}
	if req.Price == 0 {
		missing = append(missing, "price")
	}
	if req.Currency == "" {
		missing = append(missing, "currency")
	}
	if req.Frequency == "" {
		missing = append(missing, "frequency")
	}
	if req.Category == "" {
		missing = append(missing, "category")
	}
	if req.PaymentMethod == "" {
		missing = append(missing, "paymentMethod")
	}
	if req.Status == "" {
		missing = append(missing, "status")
	}
	if req.StartDate == "" {
		missing = append(missing, "startDate")
	}
	return missing
}

// Create проверяет и сохраняет подписку пользователя userID, затем запускает воркфлоу напоминаний.
// Без даты продления она вычисляется по частоте, а продление в прошлом переводит подписку в expired.
func (s *SubscriptionService) Create(ctx context.Context, userID string, req models.DummySubscription) (*models.Subscription, string, error) {
	const op = "subscription.Create"
	req.Normalize()
	if missing := missingFields(req); len(missing) > 0 {
		return nil, "", fmt.Errorf("%s: %w", op, apperr.Validation("Missing required fields: "+strings.Join(missing, ", ")))
	}
	if err := validate.Struct(s.validate, req); err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	start, err := period.ParseDate(req.StartDate)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, apperr.Validation("Invalid startDate"))
	}

	var renewal time.Time
	if req.RenewalDate != "" {
		renewal, err = period.ParseDate(req.RenewalDate)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", op, apperr.Validation("Invalid renewalDate"))
		}
		if !renewal.After(start) {
			return nil, "", fmt.Errorf("%s: %w", op, apperr.Validation("Renewal date must be after the start date"))
		}
	} else {
		renewal, err = period.RenewalDate(start, req.Frequency)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", op, apperr.Validation("Invalid frequency"))
		}
	}

	status := req.Status
	if renewal.Before(s.now()) {
		status = models.StatusExpired
	}

	created, err := s.repo.CreateSubscription(ctx, models.Subscription{
		Name:          req.Name,
		Price:         req.Price,
		Currency:      req.Currency,
		Frequency:     req.Frequency,
		Category:      req.Category,
		PaymentMethod: req.PaymentMethod,
		Status:        status,
		StartDate:     start,
		RenewalDate:   renewal,
		UserID:        userID,
	})
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	runID, err := s.workflows.Trigger(ctx, s.reminderURL, reminder.ReminderPayload{SubscriptionID: created.ID})
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("reminder workflow triggered",
		slog.String("subscription_id", created.ID),
		slog.String("run_id", runID),
	)
	return created, runID, nil
}

// ListByUser возвращает подписки владельца ownerID. Читать чужие подписки нельзя.
func (s *SubscriptionService) ListByUser(ctx context.Context, actorID, ownerID string) ([]*models.Subscription, error) {
	const op = "subscription.ListByUser"
	if actorID != ownerID {
		return nil, fmt.Errorf("%s: %w", op, apperr.Unauthorized("You are not the owner of this account"))
	}
	subs, err := s.repo.ListSubscriptionsByUser(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}

// Get возвращает подписку, если она принадлежит userID.
func (s *SubscriptionService) Get(ctx context.Context, userID, subID string) (*models.Subscription, error) {
	const op = "subscription.Get"
	sub, err := s.repo.GetSubscriptionOwned(ctx, subID, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return sub, nil
}

// Update частично обновляет подписку владельца одной условной записью.
func (s *SubscriptionService) Update(ctx context.Context, userID, subID string, req models.DummySubscriptionPatch) (*models.Subscription, error) {
	const op = "subscription.Update"
	req.Normalize()
	if err := validate.Struct(s.validate, req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	patch := models.SubscriptionPatch{
		Name:          req.Name,
		Price:         req.Price,
		Currency:      req.Currency,
		Frequency:     req.Frequency,
		Category:      req.Category,
		PaymentMethod: req.PaymentMethod,
		Status:        req.Status,
	}
	if req.StartDate != nil {
		start, err := period.ParseDate(*req.StartDate)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, apperr.Validation("Invalid startDate"))
		}
		patch.StartDate = &start
	}
	if req.RenewalDate != nil {
		renewal, err := period.ParseDate(*req.RenewalDate)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, apperr.Validation("Invalid renewalDate"))
		}
		patch.RenewalDate = &renewal
	}
	if patch.StartDate != nil && patch.RenewalDate != nil && !patch.RenewalDate.After(*patch.StartDate) {
		return nil, fmt.Errorf("%s: %w", op, apperr.Validation("Renewal date must be after the start date"))
	}

	if patch.Empty() {
		return s.Get(ctx, userID, subID)
	}

	sub, err := s.repo.UpdateSubscriptionOwned(ctx, subID, userID, patch)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return sub, nil
}

// Cancel переводит подписку владельца в статус cancelled.
func (s *SubscriptionService) Cancel(ctx context.Context, userID, subID string) (*models.Subscription, error) {
	const op = "subscription.Cancel"
	if _, err := uuid.Parse(subID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, apperr.Validation("Invalid user ID or subscription ID"))
	}
	sub, err := s.repo.SetSubscriptionStatusOwned(ctx, subID, userID, models.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return sub, nil
}

// Delete удаляет подписку владельца и возвращает удаленную запись.
func (s *SubscriptionService) Delete(ctx context.Context, userID, subID string) (*models.Subscription, error) {
	const op = "subscription.Delete"
	sub, err := s.repo.DeleteSubscriptionOwned(ctx, subID, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return sub, nil
}

// Upcoming возвращает активные подписки пользователя, которые продлеваются в ближайшие days дней.
func (s *SubscriptionService) Upcoming(ctx context.Context, userID string, days int) ([]*models.Subscription, error) {
	const op = "subscription.Upcoming"
	if days < 1 || days > MaxUpcomingDays {
		return nil, fmt.Errorf("%s: %w", op, apperr.Validation(fmt.Sprintf("days must be between 1 and %d", MaxUpcomingDays)))
	}
	now := s.now()
	subs, err := s.repo.ListUpcomingRenewals(ctx, userID, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}

func mapError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errNotOwned()
	}
	return err
}
