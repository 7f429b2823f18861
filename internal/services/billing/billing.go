// Package billing создаёт сессии оплаты и управления подпиской у Stripe.
//
// Сервис только открывает сессии: доступ выдаётся исключительно по
// проверенным событиям вебхука.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"

	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
	"github.com/magabrotheeeer/entitlement-sync/internal/storage"
)

const (
	ModeSubscription = "subscription"
	ModePayment      = "payment"

	metadataUserID = "user_id"
)

var (
	// ErrNoCustomer у пользователя нет клиента провайдера.
	ErrNoCustomer = errors.New("no billing customer")
	// ErrPriceNotAllowed price_id не входит в список тарифов.
	ErrPriceNotAllowed = errors.New("price not allowed")
	// ErrRedirectNotAllowed адрес возврата ведёт за пределы приложения.
	ErrRedirectNotAllowed = errors.New("redirect not allowed")
	// ErrInvalidMode неизвестный режим оплаты.
	ErrInvalidMode = errors.New("invalid checkout mode")
)

// Store хранилище клиентов провайдера.
type Store interface {
	GetCustomer(ctx context.Context, userID string) (*models.Customer, error)
	UpsertCustomer(ctx context.Context, customer models.Customer) error
}

// Config настройки оплаты.
type Config struct {
	SecretKey   string
	FrontendURL string
	// Prices разрешённые price_id и соответствующий тариф.
	Prices map[string]string
}

// CheckoutRequest параметры сессии оплаты.
type CheckoutRequest struct {
	PriceID    string
	SuccessURL string
	CancelURL  string
	Mode       string
}

// CheckoutSession созданная сессия оплаты.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Service открывает сессии у провайдера.
type Service struct {
	log      *slog.Logger
	store    Store
	frontend *url.URL
	prices   map[string]string

	newCustomer        func(*stripelib.CustomerParams) (*stripelib.Customer, error)
	getCustomer        func(string, *stripelib.CustomerParams) (*stripelib.Customer, error)
	newCheckoutSession func(*stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	newPortalSession   func(*stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error)
}

// NewService создаёт сервис и задаёт ключ API провайдера.
func NewService(log *slog.Logger, store Store, cfg Config) *Service {
	if cfg.SecretKey != "" {
		stripelib.Key = cfg.SecretKey
	}
	var frontend *url.URL
	if u, err := url.Parse(strings.TrimRight(cfg.FrontendURL, "/")); err == nil && u.Scheme != "" && u.Host != "" {
		frontend = u
	} else if cfg.FrontendURL != "" {
		log.Warn("invalid frontend url, redirects disabled", slog.String("frontend_url", cfg.FrontendURL))
	}
	return &Service{
		log:                log,
		store:              store,
		frontend:           frontend,
		prices:             cfg.Prices,
		newCustomer:        customer.New,
		getCustomer:        customer.Get,
		newCheckoutSession: checkoutsession.New,
		newPortalSession:   portalsession.New,
	}
}

// CreateCheckoutSession открывает сессию оплаты для пользователя.
// Пользователь передаётся в client_reference_id и metadata, чтобы вебхук
// мог сопоставить оплату с учётной записью.
func (s *Service) CreateCheckoutSession(ctx context.Context, identity *models.Identity, req CheckoutRequest) (*CheckoutSession, error) {
	const op = "billing.CreateCheckoutSession"

	if _, ok := s.prices[req.PriceID]; !ok {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrPriceNotAllowed, req.PriceID)
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeSubscription
	}
	if mode != ModeSubscription && mode != ModePayment {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidMode, req.Mode)
	}
	successURL, err := s.localURL(req.SuccessURL)
	if err != nil {
		return nil, fmt.Errorf("%s: success_url: %w", op, err)
	}
	cancelURL, err := s.localURL(req.CancelURL)
	if err != nil {
		return nil, fmt.Errorf("%s: cancel_url: %w", op, err)
	}

	customerID, err := s.EnsureCustomer(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:              stripelib.String(mode),
		Customer:          stripelib.String(customerID),
		ClientReferenceID: stripelib.String(identity.UserID),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(req.PriceID),
				Quantity: stripelib.Int64(1),
			},
		},
		SuccessURL: stripelib.String(successURL),
		CancelURL:  stripelib.String(cancelURL),
	}
	params.AddMetadata(metadataUserID, identity.UserID)
	if mode == ModeSubscription {
		params.SubscriptionData = &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metadataUserID: identity.UserID},
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sess, err := s.newCheckoutSession(params)
	if err != nil {
		s.log.Error("failed to create checkout session",
			slog.String("op", op), slog.String("user_id", identity.UserID), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CreatePortalSession открывает портал управления подпиской.
// Пустой returnURL заменяется адресом приложения.
func (s *Service) CreatePortalSession(ctx context.Context, identity *models.Identity, returnURL string) (string, error) {
	const op = "billing.CreatePortalSession"

	if returnURL == "" && s.frontend != nil {
		returnURL = s.frontend.String()
	}
	target, err := s.localURL(returnURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	c, err := s.store.GetCustomer(ctx, identity.UserID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && c.StripeCustomerID == "") {
		return "", fmt.Errorf("%s: %w", op, ErrNoCustomer)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	sess, err := s.newPortalSession(&stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(c.StripeCustomerID),
		ReturnURL: stripelib.String(target),
	})
	if err != nil {
		s.log.Error("failed to create portal session",
			slog.String("op", op), slog.String("user_id", identity.UserID), sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return sess.URL, nil
}

// EnsureCustomer возвращает ID клиента провайдера, создавая клиента при необходимости.
// ID сохраняется сразу, чтобы события подписки находили пользователя без поиска по email.
func (s *Service) EnsureCustomer(ctx context.Context, identity *models.Identity) (string, error) {
	const op = "billing.EnsureCustomer"

	if identity == nil || identity.UserID == "" {
		return "", fmt.Errorf("%s: missing user", op)
	}
	existing, err := s.store.GetCustomer(ctx, identity.UserID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil && existing.StripeCustomerID != "" {
		return existing.StripeCustomerID, nil
	}

	params := &stripelib.CustomerParams{}
	if identity.Email != "" {
		params.Email = stripelib.String(identity.Email)
	}
	params.AddMetadata(metadataUserID, identity.UserID)

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	cust, err := s.newCustomer(params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	err = s.store.UpsertCustomer(ctx, models.Customer{
		UserID:           identity.UserID,
		Email:            identity.Email,
		StripeCustomerID: cust.ID,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("billing customer created",
		slog.String("op", op), slog.String("user_id", identity.UserID), slog.String("customer_id", cust.ID))
	return cust.ID, nil
}

// CustomerEmail возвращает email клиента у провайдера.
// Для удалённого клиента возвращается ошибка провайдера с кодом resource_missing.
func (s *Service) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	const op = "billing.CustomerEmail"
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	cust, err := s.getCustomer(customerID, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if cust.Deleted {
		return "", fmt.Errorf("%s: %w", op, &stripelib.Error{
			Code:           stripelib.ErrorCodeResourceMissing,
			HTTPStatusCode: http.StatusNotFound,
			Msg:            "customer " + customerID + " is deleted",
		})
	}
	return cust.Email, nil
}

// Tier возвращает тариф по price_id.
func (s *Service) Tier(priceID string) (string, bool) {
	tier, ok := s.prices[priceID]
	return tier, ok
}

// localURL проверяет, что адрес ведёт на фронтенд приложения.
func (s *Service) localURL(raw string) (string, error) {
	if s.frontend == nil {
		return "", fmt.Errorf("%w: frontend url is not configured", ErrRedirectNotAllowed)
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrRedirectNotAllowed, raw)
	}
	if !strings.EqualFold(u.Scheme, s.frontend.Scheme) || !strings.EqualFold(u.Host, s.frontend.Host) {
		return "", fmt.Errorf("%w: %q", ErrRedirectNotAllowed, raw)
	}
	base := strings.TrimRight(s.frontend.Path, "/")
	if base != "" && u.Path != base && !strings.HasPrefix(u.Path, base+"/") {
		return "", fmt.Errorf("%w: %q", ErrRedirectNotAllowed, raw)
	}
	return u.String(), nil
}
