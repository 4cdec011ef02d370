// Package cancel реализует отмену подписки владельцем.
package cancel

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/subscription-tracker/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/response"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

// Handler переводит подписку в статус cancelled.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс отмены подписки.
type Service interface {
	Cancel(ctx context.Context, userID, subID string) (*models.Subscription, error)
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Отменить подписку
// @Description Оставшиеся напоминания по отмененной подписке не отправляются.
// @Tags Subscriptions
// @Produce  json
// @Security BearerAuth
// @Param subId path string true "ID подписки"
// @Success 200 {object} response.Response "Подписка со статусом cancelled"
// @Failure 400 {object} response.ErrorResponse "Некорректный ID"
// @Failure 401 {object} response.ErrorResponse "Подписка не найдена или чужая"
// @Router /subscriptions/{subId}/cancel [put]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.cancel"
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

	sub, err := h.service.Cancel(r.Context(), user.ID, chi.URLParam(r, "subId"))
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("subscription cancelled", slog.String("subscription_id", sub.ID))
	response.OK(w, r, http.StatusOK, "", sub)
}
