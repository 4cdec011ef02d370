package subscriptiontracker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/subscription-tracker/internal/config"
	"github.com/magabrotheeeer/subscription-tracker/internal/delayqueue"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/jwt"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/smtp"
	"github.com/magabrotheeeer/subscription-tracker/internal/migrations"
	"github.com/magabrotheeeer/subscription-tracker/internal/rabbitmq"
	authservice "github.com/magabrotheeeer/subscription-tracker/internal/services/auth"
	notificationservice "github.com/magabrotheeeer/subscription-tracker/internal/services/notification"
	reminderservice "github.com/magabrotheeeer/subscription-tracker/internal/services/reminder"
	senderservice "github.com/magabrotheeeer/subscription-tracker/internal/services/sender"
	subservice "github.com/magabrotheeeer/subscription-tracker/internal/services/subscription"
	userservice "github.com/magabrotheeeer/subscription-tracker/internal/services/user"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage"
	"github.com/magabrotheeeer/subscription-tracker/internal/workflow"
)

const shutdownTimeout = 15 * time.Second

// App HTTP API вместе с его подключениями.
type App struct {
	server *http.Server
	logger *slog.Logger
	pool   *pgxpool.Pool
	queue  *delayqueue.Queue
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New подключается к Postgres, Redis и RabbitMQ, накатывает миграции и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, pool, err := storage.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	err = migrations.Run(sqlDB, cfg.MigrationsPath)
	_ = sqlDB.Close()
	if err != nil {
		pool.Close()
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
	ch, err := rabbitmq.SetupChannel(conn, 0, rabbitmq.WorkflowQueues())
	if err != nil {
		pool.Close()
		_ = queue.Close()
		_ = conn.Close()
		return nil, err
	}
	publisher := rabbitmq.NewPublisher(ch, rabbitmq.WorkflowExchange)

	engine := workflow.NewEngine(db, queue, publisher, cfg.SigningKey, logger)
	jwtMaker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	callbackBase := cfg.ServerURL + "/api/v1"

	mailer := senderservice.NewSenderService(smtp.NewTransport(cfg.SMTP, logger), logger)
	services := Services{
		Auth:          authservice.NewAuthService(db, jwtMaker, engine, callbackBase+PasswordResetWorkflowPath, cfg.ResetTokenTTL),
		Users:         userservice.NewUserService(db),
		Subscriptions: subservice.NewSubscriptionService(db, engine, callbackBase+ReminderWorkflowPath, logger),
		Reminders: reminderservice.NewReminderService(
			db, db, notificationservice.NewComposer(), mailer, cfg.SMTPUser, cfg.MailLinks, logger,
		),
		Engine: engine,
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg.HTTPServer, services)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		pool:   pool,
		queue:  queue,
		conn:   conn,
		ch:     ch,
	}, nil
}

// Run обслуживает запросы до отмены ctx, затем корректно останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err = a.server.Shutdown(timeoutCtx)
	}
	a.close()
	return err
}

func (a *App) close() {
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
}
