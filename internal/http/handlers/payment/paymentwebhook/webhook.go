// Package paymentwebhook принимает webhook-события платёжного провайдера.
//
// Тело читается целиком (не больше MaxBodyBytes), подпись проверяется до
// любого разбора данных. Ответ 2xx означает, что событие принято и повторять
// доставку не нужно. 5xx просит провайдера доставить событие ещё раз.
package paymentwebhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/entitlement-sync/internal/http/response"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/metrics"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/verifier"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/webhook"
)

// MaxBodyBytes предел размера тела события.
const MaxBodyBytes = 1 << 20

// SignatureHeader заголовок подписи провайдера.
const SignatureHeader = "Stripe-Signature"

const unknownEventType = "unknown"

// Verifier проверяет подпись события.
type Verifier interface {
	Verify(payload []byte, signature string) (*stripelib.Event, error)
}

// Processor применяет проверенное событие.
type Processor interface {
	Process(ctx context.Context, event *stripelib.Event) (*webhook.Result, error)
}

// Handler обрабатывает доставку webhook-событий.
type Handler struct {
	log       *slog.Logger
	verifier  Verifier
	processor Processor
}

// Received тело успешного ответа.
type Received struct {
	Received bool `json:"received" example:"true"`
}

// New создаёт Handler.
func New(log *slog.Logger, verifier Verifier, processor Processor) *Handler {
	return &Handler{
		log:       log,
		verifier:  verifier,
		processor: processor,
	}
}

// ServeHTTP godoc
// @Summary Webhook платёжного провайдера
// @Description Принимает подписанные события Stripe и обновляет запись о доступе пользователя
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param Stripe-Signature header string true "Подпись события"
// @Success 200 {object} Received "Событие принято"
// @Failure 400 {object} response.ErrorResponse "Подпись не прошла проверку или событие не разобрано"
// @Failure 500 {object} response.ErrorResponse "Секрет не настроен или ошибка записи"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	start := time.Now()
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	eventType := unknownEventType
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		log.Warn("failed to read webhook body", sl.Err(err))
		status = http.StatusBadRequest
		h.fail(w, r, status, "invalid request body")
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, verifier.ErrMissingSecret) {
			log.Error("webhook secret is not configured", sl.Err(err))
			status = http.StatusInternalServerError
			h.fail(w, r, status, "webhook is not configured")
			return
		}
		log.Warn("webhook signature rejected", sl.Err(err))
		status = http.StatusBadRequest
		h.fail(w, r, status, "invalid signature")
		return
	}
	eventType = string(event.Type)
	log = log.With(slog.String("event_id", event.ID), slog.String("event_type", eventType))

	result, err := h.processor.Process(r.Context(), event)
	switch {
	case err == nil:
		log.Info("webhook processed", slog.String("outcome", string(result.Outcome)))
	case errors.Is(err, webhook.ErrUnresolvableIdentity):
		log.Warn("webhook acknowledged without user", sl.Err(err))
	case errors.Is(err, webhook.ErrMalformedEvent):
		log.Warn("malformed webhook event", sl.Err(err))
		status = http.StatusBadRequest
		h.fail(w, r, status, "malformed event")
		return
	default:
		log.Error("failed to process webhook", sl.Err(err))
		status = http.StatusInternalServerError
		h.fail(w, r, status, "internal error")
		return
	}

	render.JSON(w, r, Received{Received: true})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, response.Error(msg))
}
