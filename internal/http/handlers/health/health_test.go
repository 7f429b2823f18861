package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	up   = pingerFunc(func(context.Context) error { return nil })
	down = pingerFunc(func(context.Context) error { return errors.New("connection refused") })
)

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		checks         []Check
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "все зависимости доступны",
			checks:         []Check{{Name: "postgres", Pinger: up, Required: true}, {Name: "redis", Pinger: up}},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"OK","data":{"postgres":"ok","redis":"ok"}}`,
		},
		{
			name:           "кэш недоступен",
			checks:         []Check{{Name: "postgres", Pinger: up, Required: true}, {Name: "redis", Pinger: down}},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"OK","data":{"postgres":"ok","redis":"down"}}`,
		},
		{
			name:           "база недоступна",
			checks:         []Check{{Name: "postgres", Pinger: down, Required: true}, {Name: "redis", Pinger: up}},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   `{"status":"Error","error":"unhealthy","data":{"postgres":"down","redis":"ok"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()

			New(sl.Discard(), tt.checks...).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.JSONEq(t, tt.expectedBody, rec.Body.String())
		})
	}
}
