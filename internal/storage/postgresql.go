// Package storage реализует хранилище записей о доступе на основе PostgreSQL.
// Запись о доступе изменяется только через ApplyChange: внутри одной транзакции
// фиксируется событие провайдера (дедупликация и аудит) и выполняется upsert записи.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/entitlement-sync/internal/models"
)

var (
	// ErrNotFound запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguousCustomer по email найдено больше одного клиента.
	ErrAmbiguousCustomer = errors.New("ambiguous customer")
	// ErrCustomerConflict клиент провайдера уже привязан к другому пользователю.
	ErrCustomerConflict = errors.New("customer belongs to another user")
)

const uniqueViolation = "23505"

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// Ping проверяет доступность базы.
func (s *Storage) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	return s.DB.Close()
}

// ===== ENTITLEMENT METHODS =====

// GetEntitlement возвращает запись о доступе пользователя из представления customer_entitlements.
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*models.Entitlement, error) {
	const op = "storage.GetEntitlement"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT user_id, subscription_status, subscription_id, price_id,
				current_period_end, cancel_at_period_end, updated_at
			  FROM customer_entitlements
			  WHERE user_id = $1
			  LIMIT 1`
	row := s.DB.QueryRowContext(ctx, query, userID)

	result, err := scanEntitlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ApplyChange применяет изменение доступа идемпотентно.
//
// Повторная доставка события с тем же ID возвращает OutcomeDuplicate без изменений.
// Событие старше последнего применённого возвращает OutcomeStale и тоже ничего не меняет.
// При любой ошибке транзакция откатывается, событие не фиксируется и может быть доставлено снова.
func (s *Storage) ApplyChange(ctx context.Context, change models.EntitlementChange) (*models.ApplyResult, error) {
	const op = "storage.ApplyChange"

	if change.UserID == "" || change.EventID == "" {
		return nil, fmt.Errorf("%s: user id and event id are required", op)
	}
	if !change.Status.Valid() {
		return nil, fmt.Errorf("%s: invalid status %q", op, change.Status)
	}
	eventAt := change.EventCreatedAt
	if eventAt.IsZero() {
		eventAt = time.Now().UTC()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, event_type, user_id, event_created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id) DO NOTHING`,
		change.EventID, change.EventType, change.UserID, eventAt)
	if err != nil {
		return nil, fmt.Errorf("%s: record event: %w", op, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if inserted == 0 {
		return &models.ApplyResult{Outcome: models.OutcomeDuplicate}, nil
	}

	if change.CustomerID != "" {
		if err := upsertCustomer(ctx, tx, models.Customer{
			UserID:           change.UserID,
			Email:            change.CustomerEmail,
			StripeCustomerID: change.CustomerID,
		}); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	previous := models.StatusNone
	var lastEventAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT subscription_status, last_event_at
		 FROM entitlements
		 WHERE user_id = $1
		 FOR UPDATE`, change.UserID).Scan(&previous, &lastEventAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: lock entitlement: %w", op, err)
	}

	outcome := models.OutcomeApplied
	if change.Override {
		outcome = models.OutcomeOverride
	}

	var entitlement *models.Entitlement
	if !change.Override && lastEventAt.Valid && eventAt.Before(lastEventAt.Time) {
		outcome = models.OutcomeStale
	} else {
		row := tx.QueryRowContext(ctx,
			`INSERT INTO entitlements (user_id, subscription_status, subscription_id, price_id,
				current_period_end, cancel_at_period_end, last_event_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, COALESCE($6, false), $7, now())
			 ON CONFLICT (user_id) DO UPDATE SET
				subscription_status = EXCLUDED.subscription_status,
				subscription_id = CASE WHEN $8 THEN NULL
					ELSE COALESCE(EXCLUDED.subscription_id, entitlements.subscription_id) END,
				price_id = COALESCE(EXCLUDED.price_id, entitlements.price_id),
				current_period_end = COALESCE(EXCLUDED.current_period_end, entitlements.current_period_end),
				cancel_at_period_end = COALESCE($6, entitlements.cancel_at_period_end),
				last_event_at = GREATEST(entitlements.last_event_at, EXCLUDED.last_event_at),
				updated_at = GREATEST(entitlements.updated_at, EXCLUDED.updated_at)
			 RETURNING user_id, subscription_status, subscription_id, price_id,
				current_period_end, cancel_at_period_end, updated_at`,
			change.UserID,
			change.Status,
			subscriptionValue(change),
			nullString(change.PriceID),
			nullTime(change.CurrentPeriodEnd),
			nullBool(change.CancelAtPeriodEnd),
			eventAt,
			change.ClearSubscription,
		)
		entitlement, err = scanEntitlement(row)
		if err != nil {
			return nil, fmt.Errorf("%s: upsert entitlement: %w", op, err)
		}
	}

	newStatus := previous
	if entitlement != nil {
		newStatus = entitlement.SubscriptionStatus
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE webhook_events
		 SET previous_status = $2, new_status = $3, outcome = $4, processed_at = now()
		 WHERE event_id = $1`,
		change.EventID, previous, newStatus, outcome)
	if err != nil {
		return nil, fmt.Errorf("%s: finish event: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	return &models.ApplyResult{
		Outcome:        outcome,
		PreviousStatus: previous,
		Entitlement:    entitlement,
	}, nil
}

// ===== CUSTOMER METHODS =====

// UpsertCustomer сохраняет связь пользователя с клиентом провайдера.
// Пустые поля не затирают уже сохранённые значения.
func (s *Storage) UpsertCustomer(ctx context.Context, customer models.Customer) error {
	const op = "storage.UpsertCustomer"
	if err := upsertCustomer(ctx, s.DB, customer); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetCustomer возвращает клиента провайдера для пользователя.
func (s *Storage) GetCustomer(ctx context.Context, userID string) (*models.Customer, error) {
	const op = "storage.GetCustomer"

	var (
		customer   models.Customer
		email      sql.NullString
		customerID sql.NullString
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, email, stripe_customer_id FROM customers WHERE user_id = $1`,
		userID).Scan(&customer.UserID, &email, &customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	customer.Email = email.String
	customer.StripeCustomerID = customerID.String
	return &customer, nil
}

// ResolveUserByCustomerID находит пользователя по ID клиента провайдера.
func (s *Storage) ResolveUserByCustomerID(ctx context.Context, customerID string) (string, error) {
	const op = "storage.ResolveUserByCustomerID"

	var userID string
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id FROM customers WHERE stripe_customer_id = $1`, customerID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return userID, nil
}

// ResolveUserByEmail находит пользователя по email клиента.
// Если email принадлежит нескольким пользователям, возвращает ErrAmbiguousCustomer.
func (s *Storage) ResolveUserByEmail(ctx context.Context, email string) (string, error) {
	const op = "storage.ResolveUserByEmail"

	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT user_id FROM customers WHERE lower(email) = lower($1) LIMIT 2`, email)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	switch len(users) {
	case 0:
		return "", fmt.Errorf("%s: %w", op, ErrNotFound)
	case 1:
		return users[0], nil
	default:
		return "", fmt.Errorf("%s: %w", op, ErrAmbiguousCustomer)
	}
}

// CustomerExists сообщает, есть ли у пользователя запись клиента.
func (s *Storage) CustomerExists(ctx context.Context, userID string) (bool, error) {
	const op = "storage.CustomerExists"

	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM customers WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertCustomer(ctx context.Context, db execer, customer models.Customer) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO customers (user_id, stripe_customer_id, email)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET
			stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, customers.stripe_customer_id),
			email = COALESCE(EXCLUDED.email, customers.email),
			updated_at = now()`,
		customer.UserID, emptyToNull(customer.StripeCustomerID), emptyToNull(customer.Email))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("upsert customer %s: %w", customer.StripeCustomerID, ErrCustomerConflict)
	}
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(row scanner) (*models.Entitlement, error) {
	var (
		result         models.Entitlement
		subscriptionID sql.NullString
		priceID        sql.NullString
		periodEnd      sql.NullTime
	)
	if err := row.Scan(&result.UserID, &result.SubscriptionStatus, &subscriptionID, &priceID,
		&periodEnd, &result.CancelAtPeriodEnd, &result.UpdatedAt); err != nil {
		return nil, err
	}
	if subscriptionID.Valid {
		result.SubscriptionID = &subscriptionID.String
	}
	if priceID.Valid {
		result.PriceID = &priceID.String
	}
	if periodEnd.Valid {
		t := periodEnd.Time.UTC()
		result.CurrentPeriodEnd = &t
	}
	result.UpdatedAt = result.UpdatedAt.UTC()
	return &result, nil
}

func subscriptionValue(change models.EntitlementChange) sql.NullString {
	if change.ClearSubscription {
		return sql.NullString{}
	}
	return nullString(change.SubscriptionID)
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func emptyToNull(s string) sql.NullString {
	return nullString(&s)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
