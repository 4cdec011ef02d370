package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/subscription-tracker/internal/config"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	notification "github.com/magabrotheeeer/subscription-tracker/internal/services/notification"
	sender "github.com/magabrotheeeer/subscription-tracker/internal/services/sender"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage"
	"github.com/magabrotheeeer/subscription-tracker/internal/workflow"
)

// ReminderPayload тело запуска воркфлоу напоминаний.
type ReminderPayload struct {
	SubscriptionID string `json:"subscriptionId"`
}

// PasswordResetPayload тело запуска воркфлоу сброса пароля.
type PasswordResetPayload struct {
	UserEmail string `json:"userEmail"`
	ResetURL  string `json:"resetUrl"`
}

// SubscriptionReader читает подписку вместе с владельцем.
type SubscriptionReader interface {
	GetSubscriptionWithOwner(ctx context.Context, subID string) (*models.SubscriptionWithOwner, error)
}

// UserReader ищет пользователя по почте.
type UserReader interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Composer рендерит письма.
type Composer interface {
	Compose(label string, data notification.Data) (notification.Message, error)
}

// Dispatcher отправляет письма, не дожидаясь результата.
type Dispatcher interface {
	Dispatch(m sender.Mail) <-chan error
}

// ReminderService тела воркфлоу напоминаний и сброса пароля.
type ReminderService struct {
	subs     SubscriptionReader
	users    UserReader
	composer Composer
	mailer   Dispatcher
	from     string
	links    config.MailLinks
	log      *slog.Logger
}

// NewReminderService создает новый экземпляр ReminderService. from адрес отправителя писем.
func NewReminderService(subs SubscriptionReader, users UserReader, composer Composer, mailer Dispatcher, from string, links config.MailLinks, log *slog.Logger) *ReminderService {
	return &ReminderService{
		subs:     subs,
		users:    users,
		composer: composer,
		mailer:   mailer,
		from:     from,
		links:    links,
		log:      log,
	}
}

// SendReminders тело воркфлоу напоминаний. Каждое решение сохраняется шагом,
// а после каждого сна подписка перечитывается, поэтому отмененная во время сна подписка письма не получит.
func (s *ReminderService) SendReminders(wf *workflow.Context) error {
	const op = "reminder.SendReminders"
	var payload ReminderPayload
	if err := wf.Payload(&payload); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log := s.log.With(
		slog.String("op", op),
		slog.String("run_id", wf.RunID()),
		slog.String("subscription_id", payload.SubscriptionID),
	)

	for _, days := range Offsets {
	milestone:
		for attempt := 0; ; attempt++ {
			decision, err := workflow.Run(wf, fmt.Sprintf("evaluate %d-day reminder #%d", days, attempt),
				func(ctx context.Context) (Decision, error) {
					sub, err := s.loadSubscription(ctx, payload.SubscriptionID)
					if err != nil {
						return Decision{}, err
					}
					if sub == nil {
						return Evaluate(nil, days, wf.Now()), nil
					}
					return Evaluate(&sub.Subscription, days, wf.Now()), nil
				})
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}

			switch decision.Action {
			case ActionStop:
				log.Info("stopping reminder workflow", slog.Int("days", days))
				return nil
			case ActionSkip:
				log.Debug("reminder date passed, skipping", slog.Int("days", days))
				break milestone
			case ActionFire:
				label := notification.ReminderLabel(days)
				_, err := workflow.Run(wf, label, func(ctx context.Context) (bool, error) {
					return s.sendReminder(ctx, payload.SubscriptionID, label)
				})
				if err != nil {
					return fmt.Errorf("%s: %w", op, err)
				}
				break milestone
			case ActionSleep:
				log.Info("sleeping until reminder", slog.Int("days", days), slog.Time("at", decision.At))
				if err := wf.SleepUntil(fmt.Sprintf("sleep until %d-day reminder #%d", days, attempt), decision.At); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%s: unknown decision %q", op, decision.Action)
			}
		}
	}
	return nil
}

// SendPasswordReset тело воркфлоу сброса пароля: найти пользователя и отправить одно письмо.
func (s *ReminderService) SendPasswordReset(wf *workflow.Context) error {
	const op = "reminder.SendPasswordReset"
	var payload PasswordResetPayload
	if err := wf.Payload(&payload); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	found, err := workflow.Run(wf, "get user email", func(ctx context.Context) (bool, error) {
		_, err := s.users.GetUserByEmail(ctx, payload.UserEmail)
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		s.log.Info("password reset requested for unknown email, nothing to send", slog.String("run_id", wf.RunID()))
		return nil
	}

	_, err = workflow.Run(wf, notification.LabelPasswordReset, func(context.Context) (bool, error) {
		msg, err := s.composer.Compose(notification.LabelPasswordReset, notification.Data{
			ResetToken:  payload.ResetURL,
			SupportLink: s.links.SupportLink,
		})
		if err != nil {
			return false, err
		}
		s.mailer.Dispatch(sender.Mail{From: s.from, To: payload.UserEmail, Subject: msg.Subject, HTML: msg.HTML})
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *ReminderService) loadSubscription(ctx context.Context, subID string) (*models.SubscriptionWithOwner, error) {
	sub, err := s.subs.GetSubscriptionWithOwner(ctx, subID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// sendReminder перечитывает подписку, рендерит письмо и отдает его на отправку.
// Результат отправки только логируется.
func (s *ReminderService) sendReminder(ctx context.Context, subID, label string) (bool, error) {
	sub, err := s.loadSubscription(ctx, subID)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}

	msg, err := s.composer.Compose(label, notification.ReminderData(sub, s.links))
	if err != nil {
		return false, err
	}
	s.mailer.Dispatch(sender.Mail{From: s.from, To: sub.OwnerEmail, Subject: msg.Subject, HTML: msg.HTML})
	return true, nil
}
