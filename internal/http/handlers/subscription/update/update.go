// Package update реализует частичное обновление подписки владельцем.
package update

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/subscription-tracker/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/response"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

// Handler обновляет подписку.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс обновления подписки.
type Service interface {
	Update(ctx context.Context, userID, subID string, req models.DummySubscriptionPatch) (*models.Subscription, error)
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Обновить подписку
// @Tags Subscriptions
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param subId path string true "ID подписки"
// @Param request body models.DummySubscriptionPatch true "Изменяемые поля"
// @Success 200 {object} response.Response "Обновленная подписка"
// @Failure 400 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 401 {object} response.ErrorResponse "Подписка не найдена или чужая"
// @Router /subscriptions/{subId} [put]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.update"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	user, ok := middlewarectx.UserFromContext(r.Context())
	if !ok {
		log.Error("user not found in context")
		response.Error(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req models.DummySubscriptionPatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Info("failed to decode request body", sl.Err(err))
		response.Error(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub, err := h.service.Update(r.Context(), user.ID, chi.URLParam(r, "subId"), req)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("subscription updated", slog.String("subscription_id", sub.ID))
	response.OK(w, r, http.StatusOK, "", sub)
}
