// Package workflowrunner собирает процесс доставки воркфлоу: читает доставки из RabbitMQ,
// вызывает колбэки API и возвращает в очередь запуски, у которых наступило время пробуждения.
package workflowrunner

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/subscription-tracker/internal/config"
	"github.com/magabrotheeeer/subscription-tracker/internal/delayqueue"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-tracker/internal/rabbitmq"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage"
	"github.com/magabrotheeeer/subscription-tracker/internal/workflow"
)

// App процесс доставки воркфлоу.
type App struct {
	cfg    *config.Config
	conn   *amqp.Connection
	ch     *amqp.Channel
	pool   *pgxpool.Pool
	queue  *delayqueue.Queue
	runner *workflow.Runner
	logger *slog.Logger
}

// New подключается к Postgres, Redis и RabbitMQ. Миграции накатывает API.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, pool, err := storage.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}

	queue, err := delayqueue.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		pool.Close()
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		pool.Close()
		_ = queue.Close()
		return nil, err
	}

	ch, err := rabbitmq.SetupChannel(conn, cfg.RabbitMQWorkers, rabbitmq.WorkflowQueues())
	if err != nil {
		pool.Close()
		_ = queue.Close()
		_ = conn.Close()
		return nil, err
	}

	publisher := rabbitmq.NewPublisher(ch, rabbitmq.WorkflowExchange)
	breaker := workflow.DefaultCircuitBreakerConfig("workflow-callback")
	breaker.Timeout = cfg.BreakerTimeout
	breaker.FailureRatio = cfg.BreakerFailureRatio
	breaker.MinRequests = cfg.BreakerMinRequests

	runner := workflow.NewRunner(db, queue, publisher, workflow.RunnerConfig{
		SigningKey:      cfg.SigningKey,
		CallbackTimeout: cfg.CallbackTimeout,
		PollBatch:       cfg.PollBatch,
		RetryDelay:      cfg.RetryDelay,
		Breaker:         breaker,
	}, logger)

	return &App{
		cfg:    cfg,
		conn:   conn,
		ch:     ch,
		pool:   pool,
		queue:  queue,
		runner: runner,
		logger: logger,
	}, nil
}

// Run обрабатывает доставки и опрашивает очередь отложенных запусков до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	restored, err := a.runner.Recover(ctx)
	if err != nil {
		a.logger.Error("failed to restore suspended runs", sl.Err(err))
		return err
	}
	a.logger.Info("suspended runs restored to delay queue", slog.Int("count", restored))

	done, err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, rabbitmq.DeliveryQueue, a.cfg.RabbitMQWorkers, a.runner.HandleDelivery)
	if err != nil {
		a.logger.Error("failed to start delivery consumer", sl.Err(err))
		return err
	}

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		a.runner.Poll(ctx, a.cfg.PollInterval)
	}()

	a.logger.Info("workflow runner started",
		slog.String("queue", rabbitmq.DeliveryQueue),
		slog.Int("workers", a.cfg.RabbitMQWorkers),
	)

	<-ctx.Done()
	a.logger.Info("workflow runner shutting down gracefully")
	<-pollDone
	<-done

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.queue.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	a.pool.Close()
	return nil
}
