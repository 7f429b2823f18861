// Package entitlementapi собирает HTTP API сервиса доступа.
package entitlementapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/entitlement-sync/internal/http/handlers/access"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/handlers/admin/override"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/handlers/entitlement/invalidate"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/handlers/entitlement/read"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/handlers/health"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/handlers/payment/checkout"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/handlers/payment/portal"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/billing"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/entitlement"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/guard"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/verifier"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/webhook"
)

// Dependencies сервисы, из которых собираются маршруты.
type Dependencies struct {
	Entitlements *entitlement.Service
	Guard        *guard.Guard
	Billing      *billing.Service
	Verifier     *verifier.Verifier
	Processor    *webhook.Processor
	Tokens       middlewarectx.TokenParser
	Limiter      *middlewarectx.RateLimiter
	Checks       []health.Check
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, deps Dependencies) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	// Вебхук открыт: подлинность события проверяется по подписи
	webhookHandler := paymentwebhook.New(logger, deps.Verifier, deps.Processor)

	r.Get("/health", health.New(logger, deps.Checks...).ServeHTTP)
	r.Method(http.MethodPost, "/webhook-handler", webhookHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/payments/webhook", webhookHandler)

		// Решение по странице доступно и без входа
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.OptionalJWT(deps.Tokens, logger))
			r.Get("/access", access.New(logger, deps.Guard).ServeHTTP)
			r.Get("/access/verify", access.NewForwardAuth(logger, deps.Guard).ServeHTTP)
		})

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(deps.Tokens, logger))
			r.Get("/entitlement", read.New(logger, deps.Entitlements, deps.Billing).ServeHTTP)
			r.Delete("/entitlement/cache", invalidate.New(logger, deps.Entitlements).ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(deps.Limiter.Middleware(logger))
				r.Post("/checkout", checkout.New(logger, deps.Billing).ServeHTTP)
				r.Post("/portal", portal.New(logger, deps.Billing).ServeHTTP)
			})

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireAdmin(deps.Entitlements, logger))
				r.Put("/admin/entitlements/{userID}", override.New(logger, deps.Processor).ServeHTTP)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
