// Package metrics содержит метрики Prometheus сервисов доступа.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "entitlement"

var (
	// WebhookRequestsTotal число запросов вебхука по типу события и HTTP статусу.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Total provider webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration время обработки вебхука.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Provider webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// EventsApplied итог применения событий: applied, duplicate, stale, override, ignored.
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "events_total",
		Help:      "Entitlement change events by outcome.",
	}, []string{"outcome"})

	// QueryCacheTotal обращения к кэшу чтения: hit, miss, error.
	QueryCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "cache_total",
		Help:      "Entitlement query cache lookups by result.",
	}, []string{"result"})

	// QueryFailuresTotal неудачные чтения записи о доступе.
	QueryFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "failures_total",
		Help:      "Entitlement reads that failed closed.",
	})

	// GuardDecisionsTotal решения контроля доступа по типу.
	GuardDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "guard",
		Name:      "decisions_total",
		Help:      "Access guard decisions by kind.",
	}, []string{"decision"})
)
