// Package middlewarectx содержит HTTP middleware сервиса доступа.
//
// JWTMiddleware проверяет bearer-токен сервиса аутентификации и кладёт в
// контекст запроса пользователя (models.Identity). OptionalJWT делает то же,
// но пропускает запрос без токена как анонимный.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-sync/internal/http/response"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/jwt"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

// IdentityKey ключ пользователя в контексте.
const IdentityKey Key = "identity"

const bearerPrefix = "Bearer "

// TokenParser проверяет токен и возвращает его claims.
type TokenParser interface {
	ParseToken(tokenStr string) (*jwt.CustomClaims, error)
}

// WithIdentity возвращает контекст с пользователем.
func WithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// IdentityFrom возвращает пользователя из контекста или nil.
func IdentityFrom(ctx context.Context) *models.Identity {
	identity, _ := ctx.Value(IdentityKey).(*models.Identity)
	return identity
}

// JWTMiddleware возвращает middleware, который требует валидный токен.
// Без токена или с невалидным токеном отвечает 401.
func JWTMiddleware(parser TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				log.Info("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}

			claims, err := parser.ParseToken(strings.TrimPrefix(authHeader, bearerPrefix))
			if err != nil {
				log.Info("invalid or expired token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.Identity())))
		})
	}
}

// OptionalJWT кладёт пользователя в контекст, если токен есть и валиден.
// Запрос без токена или с невалидным токеном обрабатывается как анонимный.
func OptionalJWT(parser TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := parser.ParseToken(strings.TrimPrefix(authHeader, bearerPrefix))
			if err != nil {
				log.Debug("ignoring invalid token",
					slog.String("op", "middlewarectx.OptionalJWT"),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					sl.Err(err),
				)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.Identity())))
		})
	}
}
