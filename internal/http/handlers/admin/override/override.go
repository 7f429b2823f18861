// Package override реализует ручное изменение статуса подписки администратором.
//
// Изменение проходит через тот же путь записи, что и события провайдера:
// фиксируется в журнале событий, сбрасывает кэш и публикуется в брокер.
package override

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/entitlement-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/response"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/webhook"
)

// Request новый статус пользователя.
type Request struct {
	Status string `json:"status" validate:"required,oneof=none active trialing past_due canceled" example:"active"`
}

// Service записывает статус вручную.
type Service interface {
	Override(ctx context.Context, adminID, userID string, status models.SubscriptionStatus) (*webhook.Result, error)
}

// Handler обрабатывает PUT /api/v1/admin/entitlements/{userID}.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Изменить статус подписки вручную
// @Description Только для администраторов. Порядок событий провайдера не проверяется
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param userID path string true "ID пользователя"
// @Param request body Request true "Новый статус"
// @Success 200 {object} response.Response "Статус изменён"
// @Failure 400 {object} response.ErrorResponse "Некорректный запрос"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Нет прав администратора"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка записи"
// @Router /admin/entitlements/{userID} [put]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.override"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	admin := middlewarectx.IdentityFrom(r.Context())
	if admin == nil {
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		log.Error("empty user id in url")
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("user id is required"))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Info("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	res, err := h.service.Override(r.Context(), admin.UserID, userID, models.SubscriptionStatus(req.Status))
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidStatus) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error("invalid status"))
			return
		}
		log.Error("failed to override entitlement", slog.String("user_id", userID), sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not update entitlement"))
		return
	}

	log.Info("entitlement overridden by admin",
		slog.String("admin_id", admin.UserID),
		slog.String("user_id", userID),
		slog.String("status", string(res.Status)),
	)
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"user_id":         res.UserID,
		"event_id":        res.EventID,
		"previous_status": res.PreviousStatus,
		"status":          res.Status,
	}))
}
