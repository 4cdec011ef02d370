// Package workflow реализует durable-воркфлоу: запуск хранится в Postgres, доставляется через RabbitMQ,
// а результаты шагов сохраняются, поэтому каждый повторный вызов воспроизводит уже выполненные шаги
// из чекпоинтов и продолжает с первого невыполненного.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-tracker/internal/metrics"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	"github.com/magabrotheeeer/subscription-tracker/internal/rabbitmq"
)

// ErrSuspended возвращается из шага ожидания: запуск приостановлен до времени пробуждения.
var ErrSuspended = errors.New("workflow suspended")

// Store хранилище запусков и их шагов.
type Store interface {
	CreateRun(ctx context.Context, url string, payload []byte) (*models.WorkflowRun, error)
	GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error)
	SetRunStatus(ctx context.Context, runID, status string) error
	ListSteps(ctx context.Context, runID string) ([]models.WorkflowStep, error)
	SaveStep(ctx context.Context, step models.WorkflowStep) error
}

// Scheduler откладывает запуск до указанного времени.
type Scheduler interface {
	Schedule(ctx context.Context, runID string, at time.Time) error
}

// Publisher публикует доставки в брокер.
type Publisher interface {
	PublishMessage(routingKey string, message any) error
}

// Func тело воркфлоу. Вызывается заново при каждой доставке запуска.
type Func func(wf *Context) error

// Engine запускает и исполняет воркфлоу.
type Engine struct {
	store     Store
	delays    Scheduler
	publisher Publisher
	signer    *Signer
	log       *slog.Logger
	now       func() time.Time
}

// NewEngine создает движок.
func NewEngine(store Store, delays Scheduler, publisher Publisher, signingKey string, log *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		delays:    delays,
		publisher: publisher,
		signer:    NewSigner(signingKey),
		log:       log,
		now:       time.Now,
	}
}

// WithClock подменяет часы движка.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Trigger создает запуск воркфлоу по адресу url с телом payload и ставит его в очередь доставок.
// Повторных попыток нет: если публикация не удалась, запуск помечается failed.
func (e *Engine) Trigger(ctx context.Context, url string, payload any) (string, error) {
	const op = "workflow.Trigger"
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	run, err := e.store.CreateRun(ctx, url, body)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err := e.publisher.PublishMessage(rabbitmq.DeliveryRoutingKey, models.WorkflowDelivery{RunID: run.ID}); err != nil {
		if statusErr := e.store.SetRunStatus(ctx, run.ID, models.RunFailed); statusErr != nil {
			e.log.Error("failed to mark run as failed", slog.String("run_id", run.ID), sl.Err(statusErr))
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	e.log.Debug("workflow triggered", slog.String("run_id", run.ID), slog.String("url", url))
	return run.ID, nil
}

// Execute воспроизводит запуск runID функцией fn и возвращает итоговый статус.
// Завершенные и упавшие запуски не исполняются повторно.
func (e *Engine) Execute(ctx context.Context, runID string, fn Func) (string, error) {
	const op = "workflow.Execute"
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if run.Status == models.RunCompleted || run.Status == models.RunFailed {
		return run.Status, nil
	}

	steps, err := e.store.ListSteps(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := e.store.SetRunStatus(ctx, runID, models.RunRunning); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	wf := newContext(ctx, e, run, steps)
	runErr := fn(wf)

	status := models.RunCompleted
	switch {
	case errors.Is(runErr, ErrSuspended):
		status = models.RunSuspended
		runErr = nil
	case runErr != nil:
		status = models.RunFailed
	}

	if err := e.store.SetRunStatus(ctx, runID, status); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	metrics.WorkflowExecutions.WithLabelValues(status).Inc()

	if runErr != nil {
		return status, fmt.Errorf("%s: %w", op, runErr)
	}
	return status, nil
}
