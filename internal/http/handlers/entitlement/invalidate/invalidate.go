// Package invalidate сбрасывает кэш доступа текущего пользователя:
// при выходе из аккаунта и после возврата с оплаты.
package invalidate

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/response"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
)

// Service сбрасывает кэш доступа пользователя.
type Service interface {
	Invalidate(ctx context.Context, userID string) error
}

// Handler обрабатывает DELETE /api/v1/entitlement/cache.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Сбросить кэш доступа
// @Description Следующее чтение доступа пойдёт в базу
// @Tags Entitlement
// @Produce  json
// @Success 200 {object} response.Response "Кэш сброшен"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 500 {object} response.ErrorResponse "Кэш недоступен"
// @Router /entitlement/cache [delete]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.invalidate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	identity := middlewarectx.IdentityFrom(r.Context())
	if identity == nil {
		log.Error("identity not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	if err := h.service.Invalidate(r.Context(), identity.UserID); err != nil {
		log.Error("failed to invalidate entitlement cache", slog.String("user_id", identity.UserID), sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not reset cache"))
		return
	}

	log.Info("entitlement cache invalidated", slog.String("user_id", identity.UserID))
	render.JSON(w, r, response.StatusOKWithData(nil))
}
