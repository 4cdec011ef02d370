package models

import (
	"strings"
	"time"
)

// Допустимые значения перечислений подписки.
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"

	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyYearly  = "yearly"
)

// Subscription основная модель подписки, используемая в бизнес-логике и хранилище.
type Subscription struct {
	ID            string    `json:"_id"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	Currency      string    `json:"currency"`
	Frequency     string    `json:"frequency"`
	Category      string    `json:"category"`
	PaymentMethod string    `json:"paymentMethod"`
	Status        string    `json:"status"`
	StartDate     time.Time `json:"startDate"`
	RenewalDate   time.Time `json:"renewalDate"`
	UserID        string    `json:"user"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// SubscriptionWithOwner подписка вместе с именем и почтой владельца.
// Используется воркфлоу напоминаний для адресации письма.
type SubscriptionWithOwner struct {
	Subscription
	OwnerName  string `json:"ownerName"`
	OwnerEmail string `json:"ownerEmail"`
}

// DummySubscription используется для приёма данных из JSON-запроса на создание подписки,
// прежде чем конвертировать их в Subscription. Даты приходят строками (RFC 3339 или YYYY-MM-DD).
type DummySubscription struct {
	Name          string  `json:"name" validate:"required,min=2,max=100"`
	Price         float64 `json:"price" validate:"required,gt=0"`
	Currency      string  `json:"currency" validate:"required,oneof=BWP ZAR USD GBP EUR"`
	Frequency     string  `json:"frequency" validate:"required,oneof=daily weekly monthly yearly"`
	Category      string  `json:"category" validate:"required,oneof=sports news entertainment lifestyle technology finance politics other"`
	PaymentMethod string  `json:"paymentMethod" validate:"required"`
	Status        string  `json:"status" validate:"required,oneof=active cancelled expired"`
	StartDate     string  `json:"startDate" validate:"required"`
	RenewalDate   string  `json:"renewalDate"`
}

// Normalize приводит перечисления к каноничному регистру: Monthly и MONTHLY принимаются как monthly,
// валюта хранится в верхнем регистре.
func (d *DummySubscription) Normalize() {
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	d.Frequency = strings.ToLower(strings.TrimSpace(d.Frequency))
	d.Category = strings.ToLower(strings.TrimSpace(d.Category))
	d.Status = strings.ToLower(strings.TrimSpace(d.Status))
}

// DummySubscriptionPatch частичное обновление подписки.
type DummySubscriptionPatch struct {
	Name          *string  `json:"name" validate:"omitempty,min=2,max=100"`
	Price         *float64 `json:"price" validate:"omitempty,gt=0"`
	Currency      *string  `json:"currency" validate:"omitempty,oneof=BWP ZAR USD GBP EUR"`
	Frequency     *string  `json:"frequency" validate:"omitempty,oneof=daily weekly monthly yearly"`
	Category      *string  `json:"category" validate:"omitempty,oneof=sports news entertainment lifestyle technology finance politics other"`
	PaymentMethod *string  `json:"paymentMethod" validate:"omitempty,min=1"`
	Status        *string  `json:"status" validate:"omitempty,oneof=active cancelled expired"`
	StartDate     *string  `json:"startDate"`
	RenewalDate   *string  `json:"renewalDate"`
}

// Normalize приводит переданные перечисления к каноничному регистру.
func (d *DummySubscriptionPatch) Normalize() {
	d.Currency = mapPtr(d.Currency, strings.ToUpper)
	d.Frequency = mapPtr(d.Frequency, strings.ToLower)
	d.Category = mapPtr(d.Category, strings.ToLower)
	d.Status = mapPtr(d.Status, strings.ToLower)
}

func mapPtr(v *string, fn func(string) string) *string {
	if v == nil {
		return nil
	}
	out := fn(strings.TrimSpace(*v))
	return &out
}

// SubscriptionPatch набор колонок подписки, передаваемый в хранилище.
type SubscriptionPatch struct {
	Name          *string
	Price         *float64
	Currency      *string
	Frequency     *string
	Category      *string
	PaymentMethod *string
	Status        *string
	StartDate     *time.Time
	RenewalDate   *time.Time
}

// Empty сообщает, что обновлять нечего.
func (p SubscriptionPatch) Empty() bool {
	return p.Name == nil && p.Price == nil && p.Currency == nil && p.Frequency == nil &&
		p.Category == nil && p.PaymentMethod == nil && p.Status == nil &&
		p.StartDate == nil && p.RenewalDate == nil
}
