// Package services содержит воркфлоу напоминаний о продлении подписки и письма сброса пароля.
package services

import (
	"time"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/period"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

// Offsets за сколько дней до продления отправляются напоминания, по убыванию.
var Offsets = []int{7, 5, 2, 1}

// Решения для очередного напоминания.
const (
	ActionStop  = "stop"
	ActionSleep = "sleep"
	ActionFire  = "fire"
	ActionSkip  = "skip"
)

// Decision что делать с напоминанием за Days дней. At заполнено для ActionSleep.
type Decision struct {
	Action string    `json:"action"`
	Days   int       `json:"days"`
	At     time.Time `json:"at,omitempty"`
}

// Evaluate решает судьбу напоминания за days дней до продления sub в момент now.
// sub == nil означает, что подписка удалена.
func Evaluate(sub *models.Subscription, days int, now time.Time) Decision {
	if sub == nil || sub.Status != models.StatusActive || sub.RenewalDate.Before(now) {
		return Decision{Action: ActionStop, Days: days}
	}

	reminderDate := sub.RenewalDate.AddDate(0, 0, -days)
	switch {
	case reminderDate.After(now):
		return Decision{Action: ActionSleep, Days: days, At: reminderDate}
	case period.SameDay(reminderDate, now):
		return Decision{Action: ActionFire, Days: days}
	default:
		return Decision{Action: ActionSkip, Days: days}
	}
}
