// Package services собирает письма из именованных шаблонов.
package services

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"

	"github.com/magabrotheeeer/subscription-tracker/internal/config"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

// Метки шаблонов.
const (
	LabelReminder7     = "7 days before reminder"
	LabelReminder5     = "5 days before reminder"
	LabelReminder2     = "2 days before reminder"
	LabelReminder1     = "1 days before reminder"
	LabelPasswordReset = "Password Reset"
)

// DateLayout формат даты продления в письмах.
const DateLayout = "02 Jan 2006"

// ErrUnknownTemplate метка не соответствует ни одному шаблону.
var ErrUnknownTemplate = errors.New("unknown email template")

//go:embed templates/*.html
var templateFS embed.FS

// Data данные для подстановки в шаблон.
type Data struct {
	UserName            string
	SubscriptionName    string
	RenewalDate         string
	PlanName            string
	Price               string
	PaymentMethod       string
	AccountSettingsLink string
	SupportLink         string
	DaysLeft            int
	ResetToken          string
}

// Message готовое письмо.
type Message struct {
	Subject string
	HTML    string
}

type emailTemplate struct {
	subject  func(Data) string
	body     *template.Template
	daysLeft int
}

// Composer рендерит письма по метке.
type Composer struct {
	templates map[string]emailTemplate
}

// NewComposer разбирает встроенные шаблоны.
func NewComposer() *Composer {
	reminder := template.Must(template.ParseFS(templateFS, "templates/reminder.html"))
	reset := template.Must(template.ParseFS(templateFS, "templates/password_reset.html"))

	return &Composer{templates: map[string]emailTemplate{
		LabelReminder7: {
			subject: func(d Data) string {
				return fmt.Sprintf("📅 Reminder: Your %s Subscription Renews in 7 Days!", d.SubscriptionName)
			},
			body:     reminder,
			daysLeft: 7,
		},
		LabelReminder5: {
			subject: func(d Data) string {
				return fmt.Sprintf("⏳ %s Renews in 5 Days – Stay Subscribed!", d.SubscriptionName)
			},
			body:     reminder,
			daysLeft: 5,
		},
		LabelReminder2: {
			subject: func(d Data) string {
				return fmt.Sprintf("🚀 2 Days Left!  %s Subscription Renewal", d.SubscriptionName)
			},
			body:     reminder,
			daysLeft: 2,
		},
		LabelReminder1: {
			subject: func(d Data) string {
				return fmt.Sprintf("⚡ Final Reminder: %s Renews Tomorrow!", d.SubscriptionName)
			},
			body:     reminder,
			daysLeft: 1,
		},
		LabelPasswordReset: {
			subject: func(Data) string { return "🔐 Password Reset Email" },
			body:    reset,
		},
	}}
}

// ReminderLabel метка напоминания за days дней.
func ReminderLabel(days int) string {
	return fmt.Sprintf("%d days before reminder", days)
}

// Compose рендерит письмо для метки label. DaysLeft берется из шаблона, а не из data.
func (c *Composer) Compose(label string, data Data) (Message, error) {
	const op = "notification.Compose"
	tmpl, ok := c.templates[label]
	if !ok {
		return Message{}, fmt.Errorf("%s: %w: %q", op, ErrUnknownTemplate, label)
	}
	data.DaysLeft = tmpl.daysLeft

	var buf bytes.Buffer
	if err := tmpl.body.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return Message{Subject: tmpl.subject(data), HTML: buf.String()}, nil
}

// ReminderData заполняет данные письма-напоминания из подписки и ее владельца.
func ReminderData(sub *models.SubscriptionWithOwner, links config.MailLinks) Data {
	return Data{
		UserName:            sub.OwnerName,
		SubscriptionName:    sub.Name,
		RenewalDate:         sub.RenewalDate.UTC().Format(DateLayout),
		PlanName:            sub.Name,
		Price:               fmt.Sprintf("%s %.2f (%s)", sub.Currency, sub.Price, sub.Frequency),
		PaymentMethod:       sub.PaymentMethod,
		AccountSettingsLink: links.AccountSettingsLink,
		SupportLink:         links.SupportLink,
	}
}
