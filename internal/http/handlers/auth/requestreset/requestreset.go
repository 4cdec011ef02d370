// Package requestreset реализует HTTP-обработчик запроса на сброс пароля.
//
// Обработчик запускает воркфлоу, который отправит пользователю письмо с токеном сброса.
package requestreset

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/subscription-tracker/internal/http/response"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/validate"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

// Handler обрабатывает запросы на сброс пароля.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс запуска сброса пароля.
type Service interface {
	RequestPasswordReset(ctx context.Context, email string) (string, error)
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validate.New(),
	}
}

// ServeHTTP godoc
// @Summary Запрос на сброс пароля
// @Description Сохраняет токен сброса и запускает воркфлоу отправки письма.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body models.DummyResetRequest true "Почта пользователя"
// @Success 200 {object} response.Response "Воркфлоу создан"
// @Failure 400 {object} response.ErrorResponse "Почта не указана"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Router /auth/request-password-reset [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.requestreset"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Info("failed to decode request body", sl.Err(err))
		response.Error(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" {
		response.Error(w, r, http.StatusBadRequest, "Email is required")
		return
	}
	if err := validate.Struct(h.validate, req); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	runID, err := h.service.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("password reset workflow triggered", slog.String("run_id", runID))
	response.OK(w, r, http.StatusOK, "the following password reset workflow has been created "+runID, nil)
}
