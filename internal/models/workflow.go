package models

import (
	"encoding/json"
	"time"
)

// Статусы запуска воркфлоу.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunSuspended = "suspended"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// WorkflowRun один запуск durable-воркфлоу: куда доставлять вызов и с каким телом.
type WorkflowRun struct {
	ID        string          `json:"id"`
	URL       string          `json:"url"`
	Payload   json.RawMessage `json:"payload"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// WorkflowStep сохранённый результат шага. Для шагов ожидания заполнено WakeAt.
type WorkflowStep struct {
	RunID       string
	Name        string
	Output      json.RawMessage
	WakeAt      *time.Time
	CompletedAt time.Time
}

// WorkflowDelivery сообщение в очереди доставок: какой запуск нужно вызвать.
type WorkflowDelivery struct {
	RunID string `json:"runId"`
}

// SuspendedRun приостановленный запуск и время, на которое назначено его пробуждение.
type SuspendedRun struct {
	RunID  string
	WakeAt time.Time
}
