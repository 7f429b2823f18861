package billing

import (
	"context"
	"errors"
	"testing"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
	"github.com/magabrotheeeer/entitlement-sync/internal/storage"
)

type StoreMock struct{ mock.Mock }

func (m *StoreMock) GetCustomer(ctx context.Context, userID string) (*models.Customer, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Customer), args.Error(1)
}

func (m *StoreMock) UpsertCustomer(ctx context.Context, customer models.Customer) error {
	return m.Called(ctx, customer).Error(0)
}

var testUser = &models.Identity{UserID: "user-1", Email: "u1@example.com", Role: "user"}

func newTestService(store Store) *Service {
	return NewService(sl.Discard(), store, Config{
		FrontendURL: "https://learn.example.com/",
		Prices:      map[string]string{"price_monthly": "pro", "price_yearly": "pro"},
	})
}

func TestCreateCheckoutSession(t *testing.T) {
	okReq := CheckoutRequest{
		PriceID:    "price_monthly",
		SuccessURL: "https://learn.example.com/billing/success",
		CancelURL:  "https://learn.example.com/pricing",
	}

	tests := []struct {
		name       string
		req        CheckoutRequest
		setupMocks func(s *StoreMock)
		wantErr    error
	}{
		{
			name: "существующий клиент",
			req:  okReq,
			setupMocks: func(s *StoreMock) {
				s.On("GetCustomer", mock.Anything, "user-1").
					Return(&models.Customer{UserID: "user-1", StripeCustomerID: "cus_existing"}, nil).Once()
			},
		},
		{
			name:       "неизвестная цена",
			req:        CheckoutRequest{PriceID: "price_free_forever", SuccessURL: okReq.SuccessURL, CancelURL: okReq.CancelURL},
			setupMocks: func(_ *StoreMock) {},
			wantErr:    ErrPriceNotAllowed,
		},
		{
			name:       "чужой адрес возврата",
			req:        CheckoutRequest{PriceID: "price_monthly", SuccessURL: "https://evil.example.com/x", CancelURL: okReq.CancelURL},
			setupMocks: func(_ *StoreMock) {},
			wantErr:    ErrRedirectNotAllowed,
		},
		{
			name:       "относительный адрес",
			req:        CheckoutRequest{PriceID: "price_monthly", SuccessURL: "/billing/success", CancelURL: okReq.CancelURL},
			setupMocks: func(_ *StoreMock) {},
			wantErr:    ErrRedirectNotAllowed,
		},
		{
			name:       "неизвестный режим",
			req:        CheckoutRequest{PriceID: "price_monthly", SuccessURL: okReq.SuccessURL, CancelURL: okReq.CancelURL, Mode: "setup"},
			setupMocks: func(_ *StoreMock) {},
			wantErr:    ErrInvalidMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(StoreMock)
			tt.setupMocks(store)
			svc := newTestService(store)

			var captured *stripelib.CheckoutSessionParams
			svc.newCheckoutSession = func(p *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
				captured = p
				return &stripelib.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}, nil
			}

			sess, err := svc.CreateCheckoutSession(context.Background(), testUser, tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, captured)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "cs_test_1", sess.ID)
			assert.Equal(t, "https://checkout.stripe.com/c/cs_test_1", sess.URL)

			require.NotNil(t, captured)
			assert.Equal(t, ModeSubscription, *captured.Mode)
			assert.Equal(t, "cus_existing", *captured.Customer)
			assert.Equal(t, "user-1", *captured.ClientReferenceID)
			assert.Equal(t, "user-1", captured.Metadata[metadataUserID])
			assert.Equal(t, "user-1", captured.SubscriptionData.Metadata[metadataUserID])
			assert.Equal(t, "price_monthly", *captured.LineItems[0].Price)
			store.AssertExpectations(t)
		})
	}
}

func TestCreateCheckoutSession_CreatesCustomer(t *testing.T) {
	store := new(StoreMock)
	store.On("GetCustomer", mock.Anything, "user-1").Return(nil, storage.ErrNotFound).Once()
	store.On("UpsertCustomer", mock.Anything, models.Customer{
		UserID: "user-1", Email: "u1@example.com", StripeCustomerID: "cus_new",
	}).Return(nil).Once()

	svc := newTestService(store)
	svc.newCustomer = func(p *stripelib.CustomerParams) (*stripelib.Customer, error) {
		assert.Equal(t, "u1@example.com", *p.Email)
		assert.Equal(t, "user-1", p.Metadata[metadataUserID])
		return &stripelib.Customer{ID: "cus_new"}, nil
	}
	svc.newCheckoutSession = func(p *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
		assert.Equal(t, "cus_new", *p.Customer)
		assert.Equal(t, ModePayment, *p.Mode)
		assert.Nil(t, p.SubscriptionData)
		return &stripelib.CheckoutSession{ID: "cs_2", URL: "https://checkout.stripe.com/c/cs_2"}, nil
	}

	_, err := svc.CreateCheckoutSession(context.Background(), testUser, CheckoutRequest{
		PriceID:    "price_yearly",
		SuccessURL: "https://learn.example.com/ok",
		CancelURL:  "https://learn.example.com/cancel",
		Mode:       ModePayment,
	})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestCreateCheckoutSession_ProviderError(t *testing.T) {
	store := new(StoreMock)
	store.On("GetCustomer", mock.Anything, "user-1").
		Return(&models.Customer{UserID: "user-1", StripeCustomerID: "cus_1"}, nil)

	svc := newTestService(store)
	svc.newCheckoutSession = func(*stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
		return nil, errors.New("stripe unavailable")
	}

	_, err := svc.CreateCheckoutSession(context.Background(), testUser, CheckoutRequest{
		PriceID:    "price_monthly",
		SuccessURL: "https://learn.example.com/ok",
		CancelURL:  "https://learn.example.com/cancel",
	})
	assert.Error(t, err)
}

func TestCreatePortalSession(t *testing.T) {
	tests := []struct {
		name       string
		returnURL  string
		setupMocks func(s *StoreMock)
		wantReturn string
		wantErr    error
	}{
		{
			name:      "клиент есть",
			returnURL: "https://learn.example.com/settings/billing",
			setupMocks: func(s *StoreMock) {
				s.On("GetCustomer", mock.Anything, "user-1").
					Return(&models.Customer{UserID: "user-1", StripeCustomerID: "cus_1"}, nil).Once()
			},
			wantReturn: "https://learn.example.com/settings/billing",
		},
		{
			name:      "адрес по умолчанию",
			returnURL: "",
			setupMocks: func(s *StoreMock) {
				s.On("GetCustomer", mock.Anything, "user-1").
					Return(&models.Customer{UserID: "user-1", StripeCustomerID: "cus_1"}, nil).Once()
			},
			wantReturn: "https://learn.example.com",
		},
		{
			name:      "клиента нет",
			returnURL: "https://learn.example.com/settings",
			setupMocks: func(s *StoreMock) {
				s.On("GetCustomer", mock.Anything, "user-1").Return(nil, storage.ErrNotFound).Once()
			},
			wantErr: ErrNoCustomer,
		},
		{
			name:      "клиент без ID провайдера",
			returnURL: "https://learn.example.com/settings",
			setupMocks: func(s *StoreMock) {
				s.On("GetCustomer", mock.Anything, "user-1").
					Return(&models.Customer{UserID: "user-1", Email: "u1@example.com"}, nil).Once()
			},
			wantErr: ErrNoCustomer,
		},
		{
			name:       "чужой адрес",
			returnURL:  "https://learn.example.com.evil.io/settings",
			setupMocks: func(_ *StoreMock) {},
			wantErr:    ErrRedirectNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(StoreMock)
			tt.setupMocks(store)
			svc := newTestService(store)
			svc.newPortalSession = func(p *stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error) {
				assert.Equal(t, "cus_1", *p.Customer)
				assert.Equal(t, tt.wantReturn, *p.ReturnURL)
				return &stripelib.BillingPortalSession{URL: "https://billing.stripe.com/p/session/1"}, nil
			}

			url, err := svc.CreatePortalSession(context.Background(), testUser, tt.returnURL)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https://billing.stripe.com/p/session/1", url)
			store.AssertExpectations(t)
		})
	}
}

func TestCustomerEmail(t *testing.T) {
	svc := newTestService(new(StoreMock))
	svc.getCustomer = func(id string, _ *stripelib.CustomerParams) (*stripelib.Customer, error) {
		switch id {
		case "cus_1":
			return &stripelib.Customer{ID: id, Email: "u1@example.com"}, nil
		case "cus_deleted":
			return &stripelib.Customer{ID: id, Deleted: true}, nil
		}
		return nil, errors.New("no such customer")
	}

	email, err := svc.CustomerEmail(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", email)

	_, err = svc.CustomerEmail(context.Background(), "cus_missing")
	assert.Error(t, err)

	_, err = svc.CustomerEmail(context.Background(), "cus_deleted")
	var stripeErr *stripelib.Error
	require.ErrorAs(t, err, &stripeErr)
	assert.Equal(t, stripelib.ErrorCodeResourceMissing, stripeErr.Code)
}

func TestLocalURL_Unconfigured(t *testing.T) {
	svc := NewService(sl.Discard(), new(StoreMock), Config{})
	_, err := svc.localURL("https://learn.example.com/x")
	assert.ErrorIs(t, err, ErrRedirectNotAllowed)
}

func TestTier(t *testing.T) {
	svc := newTestService(new(StoreMock))

	tier, ok := svc.Tier("price_monthly")
	assert.True(t, ok)
	assert.Equal(t, "pro", tier)

	_, ok = svc.Tier("price_unknown")
	assert.False(t, ok)
}
