// Package portal открывает портал управления подпиской у платёжного провайдера.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/entitlement-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/response"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/billing"
)

// Request тело запроса. Пустое тело допустимо.
type Request struct {
	ReturnURL string `json:"returnUrl" validate:"omitempty,url" example:"https://learn.example.com/account"`
}

// Session ответ с адресом портала.
type Session struct {
	URL string `json:"url" example:"https://billing.stripe.com/p/session/test"`
}

// Service открывает портал.
type Service interface {
	CreatePortalSession(ctx context.Context, identity *models.Identity, returnURL string) (string, error)
}

// Handler обрабатывает POST /api/v1/portal.
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
// @Summary Открыть портал управления подпиской
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param request body Request false "Адрес возврата"
// @Success 200 {object} Session "Адрес портала"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "У пользователя нет клиента провайдера"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Ошибка провайдера"
// @Router /portal [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.portal"
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

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
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

	url, err := h.service.CreatePortalSession(r.Context(), identity, req.ReturnURL)
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrNoCustomer):
		log.Info("portal requested without customer", slog.String("user_id", identity.UserID))
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("no billing account"))
		return
	case errors.Is(err, billing.ErrRedirectNotAllowed):
		log.Info("portal rejected", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("redirect url is not allowed"))
		return
	default:
		log.Error("failed to create portal session", slog.String("user_id", identity.UserID), sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error("payment provider error"))
		return
	}

	render.JSON(w, r, Session{URL: url})
}
