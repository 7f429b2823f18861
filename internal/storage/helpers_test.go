package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/entitlement-sync/internal/migrations"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
)

// TestDataFactory содержит методы для создания тестовых данных
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateCustomer создает клиента провайдера и возвращает ID пользователя
func (f *TestDataFactory) CreateCustomer(t *testing.T, email, customerID string) string {
	t.Helper()
	userID := uuid.NewString()
	err := f.storage.UpsertCustomer(context.Background(), models.Customer{
		UserID:           userID,
		Email:            email,
		StripeCustomerID: customerID,
	})
	require.NoError(t, err)
	return userID
}

// Change возвращает изменение с уникальным ID события
func (f *TestDataFactory) Change(userID string, status models.SubscriptionStatus, createdAt time.Time) models.EntitlementChange {
	return models.EntitlementChange{
		EventID:        "evt_" + uuid.NewString(),
		EventType:      "customer.subscription.updated",
		EventCreatedAt: createdAt,
		UserID:         userID,
		Status:         status,
	}
}

// TestVerification содержит общие функции для проверки результатов тестов
type TestVerification struct {
	storage *Storage
}

// NewTestVerification создает новый объект для проверки результатов
func NewTestVerification(storage *Storage) *TestVerification {
	return &TestVerification{storage: storage}
}

// VerifyStatus проверяет статус подписки пользователя
func (v *TestVerification) VerifyStatus(t *testing.T, userID string, expected models.SubscriptionStatus) {
	t.Helper()
	var status string
	err := v.storage.DB.QueryRow("SELECT subscription_status FROM entitlements WHERE user_id = $1", userID).
		Scan(&status)
	require.NoError(t, err)
	require.Equal(t, string(expected), status)
}

// VerifyEventOutcome проверяет итог обработки события
func (v *TestVerification) VerifyEventOutcome(t *testing.T, eventID string, expected models.Outcome) {
	t.Helper()
	var outcome string
	err := v.storage.DB.QueryRow("SELECT outcome FROM webhook_events WHERE event_id = $1", eventID).
		Scan(&outcome)
	require.NoError(t, err)
	require.Equal(t, string(expected), outcome)
}

// VerifyEventCount проверяет количество записей аудита по событию
func (v *TestVerification) VerifyEventCount(t *testing.T, eventID string, expected int) {
	t.Helper()
	var count int
	err := v.storage.DB.QueryRow("SELECT COUNT(*) FROM webhook_events WHERE event_id = $1", eventID).
		Scan(&count)
	require.NoError(t, err)
	require.Equal(t, expected, count)
}

// setupTestDatabase создает тестовую БД с контейнером PostgreSQL и применяет миграции
func setupTestDatabase(t *testing.T) (*Storage, func()) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Пробуем подключиться несколько раз с ретраями
	var storage *Storage
	for range 10 {
		storage, err = New(connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "failed to create storage after retries")

	migrationsPath, err := filepath.Abs("../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath), "failed to apply migrations")

	cleanup := func() {
		if storage != nil && storage.DB != nil {
			_ = storage.Close()
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return storage, cleanup
}
