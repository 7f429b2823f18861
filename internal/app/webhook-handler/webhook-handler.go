// Package webhookhandler отдельный приёмник событий провайдера оплаты.
//
// Приёмник не хранит состояния между запросами: каждое событие проверяется,
// записывается в базу, сбрасывает кэш и публикуется в брокер.
package webhookhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/entitlement-sync/internal/cache"
	"github.com/magabrotheeeer/entitlement-sync/internal/config"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/handlers/health"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/migrations"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/billing"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/entitlement"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/verifier"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/webhook"
	"github.com/magabrotheeeer/entitlement-sync/internal/storage"
)

const shutdownTimeout = 15 * time.Second

// App приёмник вебхуков.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *storage.Storage
	cache  *cache.Cache
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New подключает зависимости и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "webhookhandler.New"

	if cfg.WebhookSecret == "" {
		logger.Warn("stripe webhook secret is not set, all events will be rejected")
	}

	db, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, err
	}
	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	app := &App{logger: logger, db: db, cache: cacheRedis}

	var publisher webhook.Publisher
	if cfg.RabbitMQ.URL != "" {
		conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.Retries, cfg.RetryDelay)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ch, err := rabbitmq.SetupChannel(conn, cfg.Exchange, rabbitmq.DurableQueues(cfg.Queue, cfg.QueueTTL, cfg.QueueMaxLength))
		if err != nil {
			_ = conn.Close()
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.conn, app.ch = conn, ch
		publisher = rabbitmq.NewPublisher(ch, cfg.Exchange)
	}

	// Кэш чтения общий с API, поэтому сброс идёт через тот же сервис.
	entitlements := entitlement.NewService(logger, db, cacheRedis, cfg.CacheTTL, cfg.AdminUserIDs)
	billingService := billing.NewService(logger, db, billing.Config{
		SecretKey:   cfg.SecretKey,
		FrontendURL: cfg.FrontendURL,
		Prices:      cfg.Prices,
	})
	processor := webhook.NewProcessor(logger, db, entitlements, publisher, billingService)

	router := chi.NewRouter()
	RegisterRoutes(router,
		paymentwebhook.New(logger, verifier.New(cfg.WebhookSecret, cfg.WebhookTolerance), processor),
		health.New(logger, health.Check{Name: "postgres", Pinger: db, Required: true}),
	)

	app.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return app, nil
}

// RegisterRoutes регистрирует маршруты приёмника.
func RegisterRoutes(r chi.Router, webhookHandler, healthHandler http.Handler) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)
	r.Method(http.MethodPost, "/webhook-handler", webhookHandler)
	r.Method(http.MethodPost, "/api/v1/payments/webhook", webhookHandler)
	r.Method(http.MethodGet, "/health", healthHandler)
	r.Handle("/metrics", promhttp.Handler())
}

// Run запускает HTTP-сервер и останавливает его при отмене ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("webhook handler starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down webhook handler gracefully")
		return a.server.Shutdown(timeoutCtx)
	}
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close cache", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
}
