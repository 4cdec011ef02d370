package workflow

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
)

type callbackResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// Serve возвращает обработчик вызовов воркфлоу fn.
// Вызов без корректной подписи отклоняется с 401 и ничего не исполняет.
func (e *Engine) Serve(fn Func) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const op = "workflow.Serve"
		log := e.log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		runID := r.Header.Get(HeaderRunID)
		if err := e.signer.Verify(r.Header.Get(HeaderSignature), runID); err != nil {
			log.Warn("rejected workflow callback", slog.String("run_id", runID), sl.Err(err))
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, callbackResponse{Success: false, Message: "Invalid workflow signature"})
			return
		}

		// исполнение доводится до конца, даже если раннер оборвал вызов
		status, err := e.Execute(context.WithoutCancel(r.Context()), runID, fn)
		if err != nil {
			log.Error("workflow execution failed", slog.String("run_id", runID), sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, callbackResponse{Success: false, Status: status, Message: "Workflow execution failed"})
			return
		}

		log.Info("workflow executed", slog.String("run_id", runID), slog.String("status", status))
		render.JSON(w, r, callbackResponse{Success: true, Status: status})
	})
}
