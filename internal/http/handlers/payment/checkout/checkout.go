// Package checkout открывает сессию оплаты у платёжного провайдера.
//
// Клиент получает id и url сессии и переводит браузер на url.
// Доступ после оплаты выдаёт только вебхук.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
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

// Request тело запроса на создание сессии.
type Request struct {
	PriceID    string `json:"price_id" validate:"required,max=255" example:"price_monthly"`
	SuccessURL string `json:"success_url" validate:"required,url" example:"https://learn.example.com/billing/success"`
	CancelURL  string `json:"cancel_url" validate:"required,url" example:"https://learn.example.com/pricing"`
	Mode       string `json:"mode" validate:"omitempty,oneof=subscription payment" example:"subscription"`
}

// Service открывает сессию оплаты.
type Service interface {
	CreateCheckoutSession(ctx context.Context, identity *models.Identity, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
}

// Handler обрабатывает POST /api/v1/checkout.
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
// @Summary Создать сессию оплаты
// @Description Создаёт клиента провайдера при первом обращении и открывает сессию Checkout
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param request body Request true "Тариф и адреса возврата"
// @Success 200 {object} billing.CheckoutSession "Сессия создана"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Ошибка провайдера"
// @Router /checkout [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.checkout"
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

	session, err := h.service.CreateCheckoutSession(r.Context(), identity, billing.CheckoutRequest{
		PriceID:    req.PriceID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Mode:       req.Mode,
	})
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrPriceNotAllowed):
		log.Info("checkout rejected", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("unknown price"))
		return
	case errors.Is(err, billing.ErrRedirectNotAllowed):
		log.Info("checkout rejected", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("redirect url is not allowed"))
		return
	case errors.Is(err, billing.ErrInvalidMode):
		log.Info("checkout rejected", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("unknown checkout mode"))
		return
	default:
		log.Error("failed to create checkout session", slog.String("user_id", identity.UserID), sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error("payment provider error"))
		return
	}

	log.Info("checkout session created",
		slog.String("user_id", identity.UserID),
		slog.String("session_id", session.ID),
	)
	render.JSON(w, r, session)
}
