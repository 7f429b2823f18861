// Package access отдаёт решение контроля доступа для перехода на ресурс.
//
// Handler возвращает решение в JSON для клиентского роутинга.
// ForwardAuth отвечает HTTP-статусом решения и подходит для проверки
// запросов на reverse proxy (auth_request в nginx, forwardAuth в traefik).
package access

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/response"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/guard"
)

// PathParam параметр запроса с проверяемым адресом.
const PathParam = "path"

// Заголовки, в которых proxy передаёт исходный адрес.
const (
	HeaderForwardedURI = "X-Forwarded-Uri"
	HeaderOriginalURI  = "X-Original-URI"
	// HeaderBanner выставляется ForwardAuth при разрешённом доступе.
	HeaderBanner = "X-Entitlement-Banner"
)

// Checker принимает решение по переходу.
type Checker interface {
	Check(ctx context.Context, identity *models.Identity, requested string) (guard.Result, models.AccessState)
}

// Response решение и его представление для клиента.
type Response struct {
	Decision        guard.Decision `json:"decision" example:"redirect_upgrade"`
	Redirect        string         `json:"redirect,omitempty" example:"/pricing"`
	Replace         bool           `json:"replace"`
	Action          guard.Action   `json:"action" example:"redirect"`
	Banner          bool           `json:"banner"`
	HasActiveAccess bool           `json:"hasActiveAccess"`
}

// Handler обрабатывает GET /api/v1/access.
type Handler struct {
	log     *slog.Logger
	checker Checker
}

// New создаёт Handler.
func New(log *slog.Logger, checker Checker) *Handler {
	return &Handler{log: log, checker: checker}
}

// ServeHTTP godoc
// @Summary Решение о доступе к ресурсу
// @Description Работает и без токена: анонимный пользователь получает redirect_login с исходным адресом в next
// @Tags Access
// @Produce  json
// @Param path query string true "Запрошенный адрес"
// @Success 200 {object} Response "Решение"
// @Failure 400 {object} response.ErrorResponse "Адрес не передан"
// @Router /access [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	requested := r.URL.Query().Get(PathParam)
	if requested == "" {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("path is required"))
		return
	}

	res, state := h.checker.Check(r.Context(), middlewarectx.IdentityFrom(r.Context()), requested)
	if state.Err != nil {
		log.Warn("access denied on failed entitlement read", sl.Err(state.Err))
	}

	desc := guard.Describe(res.Decision)
	render.JSON(w, r, Response{
		Decision:        res.Decision,
		Redirect:        res.Redirect,
		Replace:         res.Replace,
		Action:          desc.Action,
		Banner:          desc.Banner,
		HasActiveAccess: state.HasActiveAccess,
	})
}

// ForwardAuth обрабатывает GET /api/v1/access/verify.
type ForwardAuth struct {
	log     *slog.Logger
	checker Checker
}

// NewForwardAuth создаёт ForwardAuth.
func NewForwardAuth(log *slog.Logger, checker Checker) *ForwardAuth {
	return &ForwardAuth{log: log, checker: checker}
}

// ServeHTTP godoc
// @Summary Проверка доступа для reverse proxy
// @Description Статус ответа соответствует решению: 200 доступ есть, 401 нужен вход, 402 нужна подписка
// @Tags Access
// @Produce  json
// @Param X-Forwarded-Uri header string false "Исходный адрес (traefik)"
// @Param X-Original-URI header string false "Исходный адрес (nginx)"
// @Success 200 "Доступ разрешён"
// @Failure 401 {object} response.DeniedResponse "Нужен вход"
// @Failure 402 {object} response.DeniedResponse "Нужна подписка"
// @Router /access/verify [get]
func (h *ForwardAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.verify"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	requested := forwardedPath(r)
	identity := middlewarectx.IdentityFrom(r.Context())
	res, state := h.checker.Check(r.Context(), identity, requested)
	if state.Err != nil {
		log.Warn("access denied on failed entitlement read", sl.Err(state.Err))
	}

	desc := guard.Describe(res.Decision)
	if res.Granted() {
		w.Header().Set(HeaderBanner, strconv.FormatBool(desc.Banner))
		w.WriteHeader(desc.HTTPStatus)
		return
	}

	log.Info("access denied",
		slog.String("path", requested),
		slog.String("decision", string(res.Decision)),
	)
	w.WriteHeader(desc.HTTPStatus)
	render.JSON(w, r, response.Denied(denyMessage(res.Decision), string(res.Decision), res.Redirect))
}

func forwardedPath(r *http.Request) string {
	for _, header := range []string{HeaderForwardedURI, HeaderOriginalURI} {
		if v := r.Header.Get(header); v != "" {
			return v
		}
	}
	if v := r.URL.Query().Get(PathParam); v != "" {
		return v
	}
	return "/"
}

func denyMessage(d guard.Decision) string {
	switch d {
	case guard.DecisionRedirectLogin:
		return "login required"
	case guard.DecisionRedirectUpgrade:
		return "subscription required"
	default:
		return "access is being checked"
	}
}
