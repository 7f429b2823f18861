// Package verifier проверяет подлинность webhook-событий платёжного провайдера.
//
// Verify принимает тело запроса в исходном виде и значение заголовка
// Stripe-Signature. Никакие данные из тела не используются до успешной проверки подписи.
package verifier

import (
	"errors"
	"fmt"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// DefaultTolerance допустимое расхождение времени подписи.
const DefaultTolerance = webhook.DefaultTolerance

var (
	// ErrMissingSecret секрет подписи не настроен.
	ErrMissingSecret = errors.New("webhook signing secret is not configured")
	// ErrMissingSignature в запросе нет заголовка подписи.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrInvalidSignature подпись не прошла проверку.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Verifier проверяет подпись событий общим секретом.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// New создаёт Verifier. Пустой секрет допускается: Verify будет отклонять все события.
func New(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    strings.TrimSpace(secret),
		tolerance: tolerance,
	}
}

// Verify проверяет подпись и возвращает разобранное событие.
func (v *Verifier) Verify(payload []byte, signature string) (*stripelib.Event, error) {
	const op = "verifier.Verify"

	if v.secret == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingSecret)
	}
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}
	if event.ID == "" || event.Type == "" || event.Data == nil {
		return nil, fmt.Errorf("%s: %w: incomplete event", op, ErrInvalidSignature)
	}
	return &event, nil
}
