// Package models содержит доменные структуры сервиса доступа: статус подписки,
// запись о доступе пользователя, результат чтения доступа и события изменения.
// Структуры используются в бизнес-логике, хранилище и HTTP-слое.
package models

import (
	"strings"
	"time"
)

// SubscriptionStatus статус подписки в записи о доступе.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Valid сообщает, входит ли статус в допустимое множество.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusTrialing, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// GrantsAccess возвращает true только для active и trialing.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s == StatusActive || s == StatusTrialing
}

// StatusFromProvider переводит статус подписки Stripe во внутренний статус.
// Неизвестные статусы не дают доступа.
func StatusFromProvider(status string) SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due", "unpaid":
		return StatusPastDue
	case "canceled", "incomplete_expired":
		return StatusCanceled
	default:
		return StatusNone
	}
}

// Entitlement запись о доступе пользователя. Одна запись на пользователя.
type Entitlement struct {
	UserID             string             `json:"userId"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	SubscriptionID     *string            `json:"subscriptionId"`
	PriceID            *string            `json:"priceId"`
	CurrentPeriodEnd   *time.Time         `json:"currentPeriodEnd"`
	CancelAtPeriodEnd  bool               `json:"cancelAtPeriodEnd"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// HasAccess сообщает, даёт ли запись доступ к платному контенту.
func (e *Entitlement) HasAccess() bool {
	return e != nil && e.SubscriptionStatus.GrantsAccess()
}

// AccessState результат чтения доступа для клиента.
// Err заполняется при ошибке чтения, HasActiveAccess в этом случае всегда false.
type AccessState struct {
	HasActiveAccess bool         `json:"hasActiveAccess"`
	Details         *Entitlement `json:"details"`
	Stale           bool         `json:"stale"`
	Err             error        `json:"-"`
}
