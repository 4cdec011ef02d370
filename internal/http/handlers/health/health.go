// Package health отдает состояние сервиса.
package health

import (
	"net/http"

	"github.com/magabrotheeeer/subscription-tracker/internal/http/response"
)

// Handler отвечает 200, пока процесс жив.
type Handler struct{}

// New создает Handler.
func New() *Handler {
	return &Handler{}
}

// ServeHTTP godoc
// @Summary Проверка состояния
// @Tags Health
// @Produce  json
// @Success 200 {object} response.Response
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, http.StatusOK, "", map[string]any{"status": "ok"})
}
