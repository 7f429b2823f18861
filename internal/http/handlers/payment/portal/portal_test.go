package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/entitlement-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/billing"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CreatePortalSession(ctx context.Context, identity *models.Identity, returnURL string) (string, error) {
	args := m.Called(ctx, identity, returnURL)
	return args.String(0), args.Error(1)
}

func TestPortalHandler(t *testing.T) {
	user := &models.Identity{UserID: "u-1"}

	tests := []struct {
		name           string
		identity       *models.Identity
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:     "адрес портала",
			identity: user,
			body:     `{"returnUrl":"https://learn.example.com/account"}`,
			setupMock: func(m *MockService) {
				m.On("CreatePortalSession", mock.Anything, user, "https://learn.example.com/account").
					Return("https://billing.stripe.com/p/session/1", nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"url":"https://billing.stripe.com/p/session/1"}`,
		},
		{
			name:     "пустое тело",
			identity: user,
			body:     "",
			setupMock: func(m *MockService) {
				m.On("CreatePortalSession", mock.Anything, user, "").
					Return("https://billing.stripe.com/p/session/2", nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"url":"https://billing.stripe.com/p/session/2"}`,
		},
		{
			name:           "некорректный адрес",
			identity:       user,
			body:           `{"returnUrl":"not a url"}`,
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"status":"Error","error":"field ReturnURL must be a valid url"}`,
		},
		{
			name:     "нет клиента провайдера",
			identity: user,
			body:     `{}`,
			setupMock: func(m *MockService) {
				m.On("CreatePortalSession", mock.Anything, user, "").
					Return("", fmt.Errorf("billing: %w", billing.ErrNoCustomer)).Once()
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"status":"Error","error":"no billing account"}`,
		},
		{
			name:     "чужой адрес возврата",
			identity: user,
			body:     `{"returnUrl":"https://evil.example.net/"}`,
			setupMock: func(m *MockService) {
				m.On("CreatePortalSession", mock.Anything, user, "https://evil.example.net/").
					Return("", fmt.Errorf("billing: %w", billing.ErrRedirectNotAllowed)).Once()
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"status":"Error","error":"redirect url is not allowed"}`,
		},
		{
			name:     "ошибка провайдера",
			identity: user,
			body:     `{}`,
			setupMock: func(m *MockService) {
				m.On("CreatePortalSession", mock.Anything, user, "").
					Return("", errors.New("stripe: api error")).Once()
			},
			expectedStatus: http.StatusBadGateway,
			expectedBody:   `{"status":"Error","error":"payment provider error"}`,
		},
		{
			name:           "без пользователя",
			body:           `{}`,
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"unauthorized"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)
			tt.setupMock(service)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/portal", strings.NewReader(tt.body))
			if tt.identity != nil {
				req = req.WithContext(middlewarectx.WithIdentity(req.Context(), tt.identity))
			}
			rec := httptest.NewRecorder()

			New(sl.Discard(), service).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.JSONEq(t, tt.expectedBody, rec.Body.String())
			service.AssertExpectations(t)
		})
	}
}
