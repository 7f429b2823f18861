// Package webhook переводит проверенные события платёжного провайдера
// в изменения записи о доступе.
//
// Processor не проверяет подпись: на вход попадают только события,
// прошедшие verifier.Verify.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/entitlement-sync/internal/lib/metrics"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
	"github.com/magabrotheeeer/entitlement-sync/internal/storage"
)

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"

	// EventAdminOverride тип записи в журнале событий для ручного изменения.
	EventAdminOverride = "admin.override"

	metadataUserID = "user_id"
)

var (
	// ErrMalformedEvent событие не удалось разобрать.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnresolvableIdentity пользователь по событию не найден. Событие подтверждается и отбрасывается.
	ErrUnresolvableIdentity = errors.New("unresolvable identity")
	// ErrPersistence временная ошибка записи. Провайдер должен доставить событие повторно.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidStatus статус вне допустимого множества.
	ErrInvalidStatus = errors.New("invalid subscription status")
)

// Store хранилище записей о доступе.
type Store interface {
	ApplyChange(ctx context.Context, change models.EntitlementChange) (*models.ApplyResult, error)
	ResolveUserByCustomerID(ctx context.Context, customerID string) (string, error)
	ResolveUserByEmail(ctx context.Context, email string) (string, error)
	CustomerExists(ctx context.Context, userID string) (bool, error)
}

// Invalidator сбрасывает кэш чтения доступа пользователя.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// Publisher публикует событие изменения доступа.
type Publisher interface {
	PublishEntitlementChanged(ctx context.Context, event models.EntitlementChanged) error
}

// CustomerDirectory возвращает email клиента у провайдера.
type CustomerDirectory interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

// Result итог обработки одного события.
type Result struct {
	EventID        string
	EventType      string
	UserID         string
	Outcome        models.Outcome
	PreviousStatus models.SubscriptionStatus
	Status         models.SubscriptionStatus
}

// Processor применяет события провайдера к хранилищу.
type Processor struct {
	log       *slog.Logger
	store     Store
	cache     Invalidator
	publisher Publisher
	customers CustomerDirectory
	now       func() time.Time
}

// NewProcessor создаёт обработчик событий. cache, publisher и customers могут быть nil.
func NewProcessor(log *slog.Logger, store Store, cache Invalidator, publisher Publisher, customers CustomerDirectory) *Processor {
	return &Processor{
		log:       log,
		store:     store,
		cache:     cache,
		publisher: publisher,
		customers: customers,
		now:       time.Now,
	}
}

// Process применяет событие к записи о доступе пользователя.
//
// Неизвестные типы событий возвращают OutcomeIgnored. Завершённая оплата
// выдаёт доступ в любом режиме сессии, разовая оплата не задаёт подписку.
// Если пользователя найти нельзя, возвращается ErrUnresolvableIdentity.
func (p *Processor) Process(ctx context.Context, event *stripelib.Event) (*Result, error) {
	const op = "webhook.Process"

	if event == nil || event.ID == "" || event.Data == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMalformedEvent)
	}
	log := p.log.With(
		slog.String("op", op),
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
	)
	result := &Result{
		EventID:   event.ID,
		EventType: string(event.Type),
		Outcome:   models.OutcomeIgnored,
	}

	var (
		change *models.EntitlementChange
		err    error
	)
	switch string(event.Type) {
	case EventCheckoutCompleted:
		change, err = p.checkoutCompleted(event)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		change, err = p.subscriptionChanged(ctx, event)
	default:
		log.Info("ignoring unsupported event")
		metrics.EventsApplied.WithLabelValues(string(models.OutcomeIgnored)).Inc()
		return result, nil
	}
	if errors.Is(err, ErrUnresolvableIdentity) {
		log.Warn("dropping event for unknown user", sl.Err(err))
		metrics.EventsApplied.WithLabelValues(string(models.OutcomeUnresolved)).Inc()
		result.Outcome = models.OutcomeUnresolved
		return result, fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		log.Error("failed to translate event", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if change == nil {
		log.Info("event does not affect access")
		metrics.EventsApplied.WithLabelValues(string(models.OutcomeIgnored)).Inc()
		return result, nil
	}

	result.UserID = change.UserID
	log = log.With(slog.String("user_id", change.UserID))

	applied, err := p.store.ApplyChange(ctx, *change)
	if errors.Is(err, storage.ErrCustomerConflict) {
		log.Warn("dropping event for customer owned by another user",
			slog.String("customer_id", change.CustomerID), sl.Err(err))
		metrics.EventsApplied.WithLabelValues(string(models.OutcomeUnresolved)).Inc()
		result.Outcome = models.OutcomeUnresolved
		return result, fmt.Errorf("%s: %w: %w", op, ErrUnresolvableIdentity, err)
	}
	if err != nil {
		log.Error("failed to persist entitlement change", sl.Err(err))
		return nil, fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
	}

	result.Outcome = applied.Outcome
	result.PreviousStatus = applied.PreviousStatus
	result.Status = applied.PreviousStatus
	if applied.Entitlement != nil {
		result.Status = applied.Entitlement.SubscriptionStatus
	}
	metrics.EventsApplied.WithLabelValues(string(applied.Outcome)).Inc()

	switch applied.Outcome {
	case models.OutcomeDuplicate:
		log.Info("duplicate delivery acknowledged")
		return result, nil
	case models.OutcomeStale:
		log.Warn("stale event skipped", slog.String("current_status", string(applied.PreviousStatus)))
		return result, nil
	}

	log.Info("entitlement updated",
		slog.String("previous_status", string(result.PreviousStatus)),
		slog.String("status", string(result.Status)),
	)
	p.notify(ctx, log, result)
	return result, nil
}

// Override записывает статус пользователя от имени администратора.
// Проверка порядка событий не применяется, в журнал пишется событие admin:<uuid>.
func (p *Processor) Override(ctx context.Context, adminID, userID string, status models.SubscriptionStatus) (*Result, error) {
	const op = "webhook.Override"

	if !status.Valid() {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidStatus, status)
	}
	change := models.EntitlementChange{
		EventID:        "admin:" + uuid.NewString(),
		EventType:      EventAdminOverride,
		EventCreatedAt: p.now().UTC(),
		UserID:         userID,
		Status:         status,
		Override:       true,
	}
	log := p.log.With(
		slog.String("op", op),
		slog.String("event_id", change.EventID),
		slog.String("user_id", userID),
		slog.String("admin_id", adminID),
	)

	applied, err := p.store.ApplyChange(ctx, change)
	if err != nil {
		log.Error("failed to persist override", sl.Err(err))
		return nil, fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
	}
	metrics.EventsApplied.WithLabelValues(string(applied.Outcome)).Inc()

	result := &Result{
		EventID:        change.EventID,
		EventType:      change.EventType,
		UserID:         userID,
		Outcome:        applied.Outcome,
		PreviousStatus: applied.PreviousStatus,
		Status:         status,
	}
	log.Info("entitlement overridden",
		slog.String("previous_status", string(result.PreviousStatus)),
		slog.String("status", string(status)),
	)
	p.notify(ctx, log, result)
	return result, nil
}

// notify сбрасывает кэш и публикует событие. Ошибки только логируются:
// запись уже зафиксирована, а кэш истечёт сам.
func (p *Processor) notify(ctx context.Context, log *slog.Logger, result *Result) {
	if p.cache != nil {
		if err := p.cache.Invalidate(ctx, result.UserID); err != nil {
			log.Warn("failed to invalidate entitlement cache", sl.Err(err))
		}
	}
	if p.publisher != nil {
		err := p.publisher.PublishEntitlementChanged(ctx, models.EntitlementChanged{
			UserID:         result.UserID,
			EventID:        result.EventID,
			EventType:      result.EventType,
			PreviousStatus: result.PreviousStatus,
			Status:         result.Status,
			ChangedAt:      p.now().UTC(),
		})
		if err != nil {
			log.Warn("failed to publish entitlement change", sl.Err(err))
		}
	}
}

func (p *Processor) checkoutCompleted(event *stripelib.Event) (*models.EntitlementChange, error) {
	var session checkoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	userID := strings.TrimSpace(session.ClientReferenceID)
	if userID == "" {
		userID = strings.TrimSpace(session.Metadata[metadataUserID])
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: checkout session %s has no user reference", ErrUnresolvableIdentity, session.ID)
	}

	change := p.baseChange(event, userID, models.StatusActive)
	change.CustomerID = string(session.Customer)
	change.CustomerEmail = session.email()
	change.SubscriptionID = optional(string(session.Subscription))
	return change, nil
}

func (p *Processor) subscriptionChanged(ctx context.Context, event *stripelib.Event) (*models.EntitlementChange, error) {
	var sub subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("%w: subscription without id", ErrMalformedEvent)
	}

	userID, err := p.resolveUser(ctx, string(sub.Customer), sub.Metadata[metadataUserID])
	if err != nil {
		return nil, err
	}

	if string(event.Type) == EventSubscriptionDeleted {
		change := p.baseChange(event, userID, models.StatusCanceled)
		change.CustomerID = string(sub.Customer)
		change.ClearSubscription = true
		return change, nil
	}

	change := p.baseChange(event, userID, models.StatusFromProvider(sub.Status))
	change.CustomerID = string(sub.Customer)
	change.SubscriptionID = optional(sub.ID)
	change.PriceID = optional(sub.priceID())
	if end := sub.periodEnd(); end > 0 {
		t := time.Unix(end, 0).UTC()
		change.CurrentPeriodEnd = &t
	}
	cancelAtPeriodEnd := sub.CancelAtPeriodEnd
	change.CancelAtPeriodEnd = &cancelAtPeriodEnd
	return change, nil
}

// resolveUser ищет пользователя по ID клиента, затем по metadata.user_id
// уже известного пользователя, затем по единственному совпадению email.
func (p *Processor) resolveUser(ctx context.Context, customerID, metadataUser string) (string, error) {
	if customerID != "" {
		userID, err := p.store.ResolveUserByCustomerID(ctx, customerID)
		switch {
		case err == nil:
			return userID, nil
		case !errors.Is(err, storage.ErrNotFound):
			return "", fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}

	if metadataUser = strings.TrimSpace(metadataUser); metadataUser != "" {
		exists, err := p.store.CustomerExists(ctx, metadataUser)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if exists {
			return metadataUser, nil
		}
	}

	if p.customers != nil && customerID != "" {
		email, err := p.customers.CustomerEmail(ctx, customerID)
		if customerMissing(err) {
			return "", fmt.Errorf("%w: customer %s: %w", ErrUnresolvableIdentity, customerID, err)
		}
		if err != nil {
			return "", fmt.Errorf("%w: customer lookup: %w", ErrPersistence, err)
		}
		userID, err := p.store.ResolveUserByEmail(ctx, email)
		switch {
		case err == nil:
			return userID, nil
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrAmbiguousCustomer):
			return "", fmt.Errorf("%w: customer %s: %w", ErrUnresolvableIdentity, customerID, err)
		default:
			return "", fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}

	return "", fmt.Errorf("%w: customer %q", ErrUnresolvableIdentity, customerID)
}

// customerMissing сообщает, что клиента у провайдера нет и повтор не поможет.
func customerMissing(err error) bool {
	var stripeErr *stripelib.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripelib.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
}

func (p *Processor) baseChange(event *stripelib.Event, userID string, status models.SubscriptionStatus) *models.EntitlementChange {
	createdAt := p.now().UTC()
	if event.Created > 0 {
		createdAt = time.Unix(event.Created, 0).UTC()
	}
	return &models.EntitlementChange{
		EventID:        event.ID,
		EventType:      string(event.Type),
		EventCreatedAt: createdAt,
		UserID:         userID,
		Status:         status,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
