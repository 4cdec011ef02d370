package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-tracker/internal/metrics"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	"github.com/magabrotheeeer/subscription-tracker/internal/rabbitmq"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage"
)

// errUnavailable API ответило, но воркфлоу не исполнялся (прокси или балансировщик вернул 502/503/504).
var errUnavailable = errors.New("callback endpoint unavailable")

// RunStore часть хранилища, нужная раннеру.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error)
	SetRunStatus(ctx context.Context, runID, status string) error
	ListSuspendedRuns(ctx context.Context) ([]models.SuspendedRun, error)
}

// DelayQueue очередь отложенных запусков.
type DelayQueue interface {
	Scheduler
	PopDue(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Len(ctx context.Context) (int64, error)
}

// RunnerConfig настройки раннера.
type RunnerConfig struct {
	SigningKey string
	// CallbackTimeout ограничивает один вызов воркфлоу.
	CallbackTimeout time.Duration
	// PollBatch сколько запусков забирается из очереди отложенных за один опрос.
	PollBatch int64
	// RetryDelay через сколько повторить доставку, которая не дошла до API.
	RetryDelay time.Duration
	Breaker    CircuitBreakerConfig
}

// Runner доставляет запуски по их адресам и возвращает в очередь доставок проснувшиеся запуски.
type Runner struct {
	store      RunStore
	delays     DelayQueue
	publisher  Publisher
	signer     *Signer
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[int]
	batch      int64
	retryDelay time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// NewRunner создает раннер.
func NewRunner(store RunStore, delays DelayQueue, publisher Publisher, cfg RunnerConfig, log *slog.Logger) *Runner {
	return &Runner{
		store:      store,
		delays:     delays,
		publisher:  publisher,
		signer:     NewSigner(cfg.SigningKey),
		client:     &http.Client{Timeout: cfg.CallbackTimeout},
		breaker:    newCallbackBreaker(cfg.Breaker, log),
		batch:      cfg.PollBatch,
		retryDelay: cfg.RetryDelay,
		log:        log,
		now:        time.Now,
	}
}

// HandleDelivery обрабатывает одно сообщение из очереди доставок.
// Запуск помечается failed только когда колбэк исполнился и ответил не 2xx.
// Если вызов не дошел до воркфлоу, запуск откладывается на RetryDelay.
// Ошибка возвращается, только если отложить не удалось: тогда сообщение вернется в очередь брокера.
func (r *Runner) HandleDelivery(ctx context.Context, body []byte) error {
	const op = "workflow.HandleDelivery"
	log := r.log.With(slog.String("op", op))

	var delivery models.WorkflowDelivery
	if err := json.Unmarshal(body, &delivery); err != nil || delivery.RunID == "" {
		log.Error("dropping malformed delivery", slog.String("body", string(body)), sl.Err(err))
		metrics.WorkflowDeliveries.WithLabelValues("malformed").Inc()
		return nil
	}
	log = log.With(slog.String("run_id", delivery.RunID))

	run, err := r.store.GetRun(ctx, delivery.RunID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Error("dropping delivery of unknown run")
		metrics.WorkflowDeliveries.WithLabelValues("unknown").Inc()
		return nil
	}
	if err != nil {
		log.Warn("failed to load run", sl.Err(err))
		return r.retryLater(ctx, log, delivery.RunID)
	}
	if run.Status == models.RunCompleted || run.Status == models.RunFailed {
		log.Debug("run already finished, skipping", slog.String("status", run.Status))
		metrics.WorkflowDeliveries.WithLabelValues("skipped").Inc()
		return nil
	}

	status, err := r.breaker.Execute(func() (int, error) {
		return r.call(ctx, run)
	})
	if err != nil {
		log.Warn("workflow callback did not reach the workflow", slog.String("breaker", r.breaker.State().String()), sl.Err(err))
		return r.retryLater(ctx, log, run.ID)
	}

	if status < 200 || status >= 300 {
		log.Error("workflow callback rejected", slog.Int("status", status))
		metrics.WorkflowDeliveries.WithLabelValues("failed").Inc()
		if statusErr := r.store.SetRunStatus(context.WithoutCancel(ctx), run.ID, models.RunFailed); statusErr != nil {
			log.Error("failed to mark run as failed", sl.Err(statusErr))
		}
		return nil
	}

	metrics.WorkflowDeliveries.WithLabelValues("delivered").Inc()
	return nil
}

// retryLater кладет запуск в очередь отложенных на now+RetryDelay. Статус запуска не меняется.
func (r *Runner) retryLater(ctx context.Context, log *slog.Logger, runID string) error {
	const op = "workflow.retryLater"
	at := r.now().Add(r.retryDelay)
	// ctx уже может быть отменен остановкой процесса
	if err := r.delays.Schedule(context.WithoutCancel(ctx), runID, at); err != nil {
		log.Error("failed to postpone run, returning delivery to broker", sl.Err(err))
		metrics.WorkflowDeliveries.WithLabelValues("requeued").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("run postponed", slog.Time("retry_at", at))
	metrics.WorkflowDeliveries.WithLabelValues("postponed").Inc()
	return nil
}

// call отправляет запуск на его адрес и возвращает статус ответа.
func (r *Runner) call(ctx context.Context, run *models.WorkflowRun) (int, error) {
	const op = "workflow.call"
	signature, err := r.signer.Sign(run.ID, r.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, run.URL, bytes.NewReader(run.Payload))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRunID, run.ID)
	req.Header.Set(HeaderSignature, signature)

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return resp.StatusCode, fmt.Errorf("%s: status %d: %w", op, resp.StatusCode, errUnavailable)
	}
	return resp.StatusCode, nil
}

// Recover кладет в очередь отложенных все приостановленные запуски из хранилища
// с временем пробуждения из их последнего шага ожидания. Повторный вызов безопасен.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	const op = "workflow.Recover"
	runs, err := r.store.ListSuspendedRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	restored := 0
	for _, run := range runs {
		if err := r.delays.Schedule(ctx, run.RunID, run.WakeAt); err != nil {
			return restored, fmt.Errorf("%s: %w", op, err)
		}
		restored++
	}
	return restored, nil
}

// RepublishDue забирает проснувшиеся запуски из очереди отложенных и публикует их доставки.
// Запуск, который не удалось опубликовать, возвращается в очередь отложенных.
// Запуски, полученные вместе с ошибкой очереди, публикуются до возврата ошибки.
func (r *Runner) RepublishDue(ctx context.Context) (int, error) {
	const op = "workflow.RepublishDue"
	now := r.now()
	ids, popErr := r.delays.PopDue(ctx, now, r.batch)

	published := 0
	for _, id := range ids {
		if err := r.publisher.PublishMessage(rabbitmq.DeliveryRoutingKey, models.WorkflowDelivery{RunID: id}); err != nil {
			r.log.Error("failed to publish woken run", slog.String("run_id", id), sl.Err(err))
			if schedErr := r.delays.Schedule(ctx, id, now); schedErr != nil {
				r.log.Error("failed to return run to delay queue", slog.String("run_id", id), sl.Err(schedErr))
			}
			continue
		}
		published++
	}

	if popErr != nil {
		return published, fmt.Errorf("%s: %w", op, popErr)
	}
	return published, nil
}

// Poll опрашивает очередь отложенных каждые interval, пока не отменен ctx.
func (r *Runner) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.RepublishDue(ctx)
			if err != nil {
				r.log.Error("failed to poll delay queue", sl.Err(err))
			}
			if n > 0 {
				r.log.Info("woken runs republished", slog.Int("count", n))
			}
			if backlog, err := r.delays.Len(ctx); err == nil {
				metrics.DelayedRuns.Set(float64(backlog))
			}
		}
	}
}
