// Package resetpassword реализует установку нового пароля по токену сброса.
package resetpassword

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

// Handler обрабатывает установку нового пароля.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс смены пароля по токену.
type Service interface {
	ResetPassword(ctx context.Context, token, password string) error
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
// @Summary Сброс пароля
// @Description Устанавливает новый пароль. Токен сброса одноразовый.
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param request body models.DummyResetPassword true "Токен и новый пароль"
// @Success 200 {object} response.Response "Пароль изменен"
// @Failure 400 {object} response.ErrorResponse "Некорректный запрос"
// @Failure 401 {object} response.ErrorResponse "Токен недействителен или истек"
// @Router /auth/reset-password [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.resetpassword"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyResetPassword
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Info("failed to decode request body", sl.Err(err))
		response.Error(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Token == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "Token and password are required")
		return
	}
	if err := validate.Struct(h.validate, req); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("password reset")
	response.OK(w, r, http.StatusOK, "Password reset successfully", nil)
}
