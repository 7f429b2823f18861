package override

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/entitlement-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/webhook"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Override(ctx context.Context, adminID, userID string, status models.SubscriptionStatus) (*webhook.Result, error) {
	args := m.Called(ctx, adminID, userID, status)
	res, _ := args.Get(0).(*webhook.Result)
	return res, args.Error(1)
}

func TestOverrideHandler(t *testing.T) {
	admin := &models.Identity{UserID: "admin-1", Role: models.RoleAdmin}

	tests := []struct {
		name           string
		userID         string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "статус изменён",
			userID: "u-7",
			body:   `{"status":"active"}`,
			setupMock: func(m *MockService) {
				m.On("Override", mock.Anything, "admin-1", "u-7", models.StatusActive).Return(&webhook.Result{
					EventID:        "admin:1",
					UserID:         "u-7",
					Outcome:        models.OutcomeOverride,
					PreviousStatus: models.StatusCanceled,
					Status:         models.StatusActive,
				}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody: `{"status":"OK","data":{"user_id":"u-7","event_id":"admin:1",
				"previous_status":"canceled","status":"active"}}`,
		},
		{
			name:           "недопустимый статус",
			userID:         "u-7",
			body:           `{"status":"gold"}`,
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"status":"Error","error":"field Status must be one of: none active trialing past_due canceled"}`,
		},
		{
			name:           "битый JSON",
			userID:         "u-7",
			body:           `{"status":`,
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"invalid request body"}`,
		},
		{
			name:           "пустой ID пользователя",
			userID:         " ",
			body:           `{"status":"active"}`,
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"user id is required"}`,
		},
		{
			name:   "ошибка записи",
			userID: "u-7",
			body:   `{"status":"canceled"}`,
			setupMock: func(m *MockService) {
				m.On("Override", mock.Anything, "admin-1", "u-7", models.StatusCanceled).
					Return(nil, errors.New("persistence failure")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"could not update entitlement"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)
			tt.setupMock(service)

			req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/entitlements/user", strings.NewReader(tt.body))
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("userID", tt.userID)
			ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
			ctx = middlewarectx.WithIdentity(ctx, admin)
			req = req.WithContext(ctx)
			rec := httptest.NewRecorder()

			New(sl.Discard(), service).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.JSONEq(t, tt.expectedBody, rec.Body.String())
			service.AssertExpectations(t)
		})
	}
}
