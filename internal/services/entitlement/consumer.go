package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
)

// HandleChanged обрабатывает сообщение entitlement.changed из брокера и
// сбрасывает кэш пользователя на этом экземпляре.
// Нечитаемое сообщение подтверждается, чтобы не возвращаться в очередь бесконечно.
func (s *Service) HandleChanged(ctx context.Context, body []byte) error {
	const op = "entitlement.HandleChanged"

	var msg models.EntitlementChanged
	if err := json.Unmarshal(body, &msg); err != nil {
		s.log.Error("dropping malformed entitlement message", slog.String("op", op), sl.Err(err))
		return nil
	}
	if msg.UserID == "" {
		s.log.Warn("entitlement message without user id", slog.String("op", op), slog.String("event_id", msg.EventID))
		return nil
	}

	if err := s.Invalidate(ctx, msg.UserID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Debug("entitlement cache reset by broker message",
		slog.String("op", op),
		slog.String("user_id", msg.UserID),
		slog.String("event_id", msg.EventID),
	)
	return nil
}
