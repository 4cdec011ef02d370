// Package signout реализует выход пользователя. Токены не хранятся на сервере,
// поэтому клиенту достаточно удалить свой токен.
package signout

import (
	"net/http"

	"github.com/magabrotheeeer/subscription-tracker/internal/http/response"
)

// Handler отвечает на запрос выхода.
type Handler struct{}

// New создает Handler.
func New() *Handler {
	return &Handler{}
}

// ServeHTTP godoc
// @Summary Выход пользователя
// @Tags Auth
// @Produce  json
// @Success 200 {object} response.Response
// @Router /auth/sign-out [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, http.StatusOK, "User signed out successfully. Please remove the token from storage.", nil)
}
