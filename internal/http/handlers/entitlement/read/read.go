// Package read реализует HTTP-обработчик чтения доступа текущего пользователя.
//
// Ответ всегда содержит hasActiveAccess. При ошибке чтения доступ закрыт,
// а клиент получает общий текст ошибки без подробностей.
package read

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/response"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
)

// Service описывает чтение доступа.
type Service interface {
	Query(ctx context.Context, identity *models.Identity) models.AccessState
}

// TierResolver возвращает тариф по price_id.
type TierResolver interface {
	Tier(priceID string) (string, bool)
}

// Handler обрабатывает GET /api/v1/entitlement.
type Handler struct {
	log     *slog.Logger
	service Service
	tiers   TierResolver
}

// Response тело ответа.
type Response struct {
	HasActiveAccess bool                `json:"hasActiveAccess"`
	Details         *models.Entitlement `json:"details"`
	Stale           bool                `json:"stale"`
	Tier            string              `json:"tier,omitempty" example:"pro"`
	Error           string              `json:"error,omitempty"`
}

// New создаёт Handler. tiers может быть nil, тогда тариф не возвращается.
func New(log *slog.Logger, service Service, tiers TierResolver) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tiers:   tiers,
	}
}

// ServeHTTP godoc
// @Summary Доступ текущего пользователя
// @Description Возвращает признак активного доступа, запись о подписке и тариф. stale=true, если ответ взят из кэша
// @Tags Entitlement
// @Produce  json
// @Success 200 {object} Response "Состояние доступа"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 503 {object} Response "Доступ не удалось прочитать, доступ закрыт"
// @Router /entitlement [get]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.read"
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

	state := h.service.Query(r.Context(), identity)
	if state.Err != nil {
		log.Error("entitlement read failed closed", slog.String("user_id", identity.UserID), sl.Err(state.Err))
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, Response{HasActiveAccess: false, Error: "could not check subscription"})
		return
	}

	render.JSON(w, r, Response{
		HasActiveAccess: state.HasActiveAccess,
		Details:         state.Details,
		Stale:           state.Stale,
		Tier:            h.tier(state),
	})
}

// tier тариф по price_id текущей подписки. Без активного доступа тариф не отдаётся.
func (h *Handler) tier(state models.AccessState) string {
	if h.tiers == nil || !state.HasActiveAccess || state.Details == nil || state.Details.PriceID == nil {
		return ""
	}
	tier, _ := h.tiers.Tier(*state.Details.PriceID)
	return tier
}
