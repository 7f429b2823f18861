// Package health отдаёт состояние зависимостей сервиса.
//
// Сервис считается здоровым, если доступны все обязательные зависимости.
// Необязательные (кэш) только попадают в ответ.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/entitlement-sync/internal/http/response"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
)

const checkTimeout = 2 * time.Second

// Pinger проверяет доступность зависимости.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check одна проверяемая зависимость.
type Check struct {
	Name     string
	Pinger   Pinger
	Required bool
}

// Handler обрабатывает GET /health.
type Handler struct {
	log    *slog.Logger
	checks []Check
}

// New создаёт Handler.
func New(log *slog.Logger, checks ...Check) *Handler {
	return &Handler{log: log, checks: checks}
}

// ServeHTTP godoc
// @Summary Проверка состояния
// @Tags Health
// @Produce  json
// @Success 200 {object} response.Response "Сервис работает"
// @Failure 503 {object} response.Response "Обязательная зависимость недоступна"
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	healthy := true
	statuses := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			h.log.Warn("dependency is unavailable", slog.String("op", op), slog.String("dependency", c.Name), sl.Err(err))
			statuses[c.Name] = "down"
			if c.Required {
				healthy = false
			}
			continue
		}
		statuses[c.Name] = "ok"
	}

	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, response.Response{Status: response.StatusError, Error: "unhealthy", Data: statuses})
		return
	}
	render.JSON(w, r, response.StatusOKWithData(statuses))
}
