// Package remove реализует удаление подписки владельцем.
package remove

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

// Handler удаляет подписку.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс удаления подписки.
type Service interface {
	Delete(ctx context.Context, userID, subID string) (*models.Subscription, error)
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Удалить подписку
// @Tags Subscriptions
// @Produce  json
// @Security BearerAuth
// @Param subId path string true "ID подписки"
// @Success 200 {object} response.Response "Удаленная подписка"
// @Failure 401 {object} response.ErrorResponse "Подписка не найдена или чужая"
// @Router /subscriptions/{subId} [delete]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.remove"
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

	sub, err := h.service.Delete(r.Context(), user.ID, chi.URLParam(r, "subId"))
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	log.Info("subscription deleted", slog.String("subscription_id", sub.ID))
	response.OK(w, r, http.StatusOK, "", sub)
}
