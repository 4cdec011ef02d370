// Package subscriptiontracker собирает HTTP API: сервисы, маршруты и сервер.
package subscriptiontracker

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/subscription-tracker/internal/config"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/auth/requestreset"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/auth/resetpassword"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/auth/signin"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/auth/signout"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/auth/signup"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/health"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/create"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/list"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/read"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/remove"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/upcoming"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/update"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/user/userlist"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/user/userread"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/user/userremove"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/user/userupdate"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-tracker/internal/metrics"
	authservice "github.com/magabrotheeeer/subscription-tracker/internal/services/auth"
	reminderservice "github.com/magabrotheeeer/subscription-tracker/internal/services/reminder"
	subservice "github.com/magabrotheeeer/subscription-tracker/internal/services/subscription"
	userservice "github.com/magabrotheeeer/subscription-tracker/internal/services/user"
	"github.com/magabrotheeeer/subscription-tracker/internal/workflow"
)

// Пути колбэков воркфлоу относительно /api/v1.
const (
	ReminderWorkflowPath      = "/workflows/subscription/reminder"
	PasswordResetWorkflowPath = "/workflows/auth/password-reset"
)

// Services зависимости, из которых собираются маршруты.
type Services struct {
	Auth          *authservice.AuthService
	Users         *userservice.UserService
	Subscriptions *subservice.SubscriptionService
	Reminders     *reminderservice.ReminderService
	Engine        *workflow.Engine
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg config.HTTPServer, s Services) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
		metrics.HTTP,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, cfg.AuthRateLimit, cfg.AuthRateBurst))
			r.Post("/sign-up", signup.New(logger, s.Auth).ServeHTTP)
			r.Post("/sign-in", signin.New(logger, s.Auth).ServeHTTP)
			r.Post("/sign-out", signout.New().ServeHTTP)
			r.Post("/request-password-reset", requestreset.New(logger, s.Auth).ServeHTTP)
			r.Post("/reset-password", resetpassword.New(logger, s.Auth).ServeHTTP)
		})

		r.Get("/users", userlist.New(logger, s.Users).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(s.Auth, logger))

			r.Get("/users/{id}", userread.New(logger, s.Users).ServeHTTP)
			r.Put("/users/{id}", userupdate.New(logger, s.Users).ServeHTTP)
			r.Delete("/users/{id}", userremove.New(logger, s.Users).ServeHTTP)

			r.Post("/subscriptions", create.New(logger, s.Subscriptions).ServeHTTP)
			r.Get("/subscriptions/user/{id}", list.New(logger, s.Subscriptions).ServeHTTP)
			r.Get("/subscriptions/upcoming-renewals", upcoming.New(logger, s.Subscriptions).ServeHTTP)
			r.Get("/subscriptions/{subId}", read.New(logger, s.Subscriptions).ServeHTTP)
			r.Put("/subscriptions/{subId}", update.New(logger, s.Subscriptions).ServeHTTP)
			r.Put("/subscriptions/{subId}/cancel", cancel.New(logger, s.Subscriptions).ServeHTTP)
			r.Delete("/subscriptions/{subId}", remove.New(logger, s.Subscriptions).ServeHTTP)
		})

		// Колбэки воркфлоу подписаны ключом движка, JWT пользователя не нужен.
		r.Method("POST", ReminderWorkflowPath, s.Engine.Serve(s.Reminders.SendReminders))
		r.Method("POST", PasswordResetWorkflowPath, s.Engine.Serve(s.Reminders.SendPasswordReset))
	})

	r.Get("/health", health.New().ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
