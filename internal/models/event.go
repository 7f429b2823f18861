package models

import "time"

// Outcome итог обработки события провайдера.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeOverride  Outcome = "override"

	// OutcomeIgnored событие не меняет доступ и не записывается.
	OutcomeIgnored    Outcome = "ignored"
	// OutcomeUnresolved пользователь по событию не найден, событие отброшено.
	OutcomeUnresolved Outcome = "unresolved"
)

// EntitlementChange изменение записи о доступе, полученное из проверенного
// события провайдера или из ручного изменения администратором.
//
// Поля-указатели со значением nil оставляют текущее значение колонки.
// ClearSubscription сбрасывает subscription_id в NULL.
type EntitlementChange struct {
	EventID           string
	EventType         string
	EventCreatedAt    time.Time
	UserID            string
	CustomerID        string
	CustomerEmail     string
	Status            SubscriptionStatus
	SubscriptionID    *string
	ClearSubscription bool
	PriceID           *string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd *bool
	Override          bool
}

// ApplyResult результат применения изменения в хранилище.
type ApplyResult struct {
	Outcome        Outcome
	PreviousStatus SubscriptionStatus
	Entitlement    *Entitlement
}

// EntitlementChanged сообщение в брокер после изменения доступа.
type EntitlementChanged struct {
	UserID         string             `json:"user_id"`
	EventID        string             `json:"event_id"`
	EventType      string             `json:"event_type"`
	PreviousStatus SubscriptionStatus `json:"previous_status"`
	Status         SubscriptionStatus `json:"status"`
	ChangedAt      time.Time          `json:"changed_at"`
}
