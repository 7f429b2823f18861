package middlewarectx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-sync/internal/http/response"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
)

// AdminChecker решает, является ли пользователь администратором.
type AdminChecker interface {
	IsAdmin(identity *models.Identity) bool
}

// RequireAdmin пропускает только администраторов. Ставится после JWTMiddleware.
func RequireAdmin(checker AdminChecker, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFrom(r.Context())
			if identity == nil {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("unauthorized"))
				return
			}
			if !checker.IsAdmin(identity) {
				log.Warn("admin access denied",
					slog.String("op", "middlewarectx.RequireAdmin"),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("user_id", identity.UserID),
				)
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("forbidden"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
