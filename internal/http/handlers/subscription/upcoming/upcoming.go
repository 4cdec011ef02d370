// Package upcoming реализует HTTP-обработчик ближайших продлений подписок.
//
// Окно задается параметром days (по умолчанию 7).
package upcoming

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/subscription-tracker/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/response"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

// DefaultDays окно по умолчанию.
const DefaultDays = 7

// Handler возвращает подписки, которые скоро продлеваются.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс поиска ближайших продлений.
type Service interface {
	Upcoming(ctx context.Context, userID string, days int) ([]*models.Subscription, error)
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Ближайшие продления
// @Description Активные подписки текущего пользователя, которые продлеваются в ближайшие days дней.
// @Tags Subscriptions
// @Produce  json
// @Security BearerAuth
// @Param days query int false "Окно в днях (1..365)" default(7)
// @Success 200 {object} response.Response "Список подписок"
// @Failure 400 {object} response.ErrorResponse "Некорректное окно"
// @Failure 401 {object} response.ErrorResponse "Не авторизован"
// @Router /subscriptions/upcoming-renewals [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.upcoming"
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

	days := DefaultDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, "days must be a number")
			return
		}
		days = n
	}

	subs, err := h.service.Upcoming(r.Context(), user.ID, days)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	if subs == nil {
		subs = []*models.Subscription{}
	}
	response.OK(w, r, http.StatusOK, "", subs)
}
