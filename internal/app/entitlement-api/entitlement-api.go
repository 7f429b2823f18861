package entitlementapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"github.com/magabrotheeeer/entitlement-sync/internal/cache"
	"github.com/magabrotheeeer/entitlement-sync/internal/config"
	grpcserver "github.com/magabrotheeeer/entitlement-sync/internal/grpc/server"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/handlers/health"
	"github.com/magabrotheeeer/entitlement-sync/internal/http/middlewarectx"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/jwt"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/migrations"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/billing"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/entitlement"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/guard"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/verifier"
	"github.com/magabrotheeeer/entitlement-sync/internal/services/webhook"
	"github.com/magabrotheeeer/entitlement-sync/internal/storage"
)

const shutdownTimeout = 15 * time.Second

// App HTTP API, потребитель событий изменения доступа и gRPC health.
type App struct {
	server       *http.Server
	logger       *slog.Logger
	db           *storage.Storage
	cache        *cache.Cache
	entitlements *entitlement.Service

	conn          *amqp.Connection
	ch            *amqp.Channel
	instanceQueue string

	grpcAddr string
	grpc     *grpc.Server
	health   *grpcserver.HealthServer
}

// New подключает зависимости и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "entitlementapi.New"

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

	app := &App{
		logger:   logger,
		db:       db,
		cache:    cacheRedis,
		grpcAddr: cfg.AddressGRPC,
	}

	// Без брокера изменения видны другим экземплярам только после истечения кэша.
	var publisher webhook.Publisher
	if cfg.RabbitMQ.URL != "" {
		conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.Retries, cfg.RetryDelay)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		instance := rabbitmq.InstanceQueue(cfg.Queue)
		ch, err := rabbitmq.SetupChannel(conn, cfg.Exchange, append(rabbitmq.DurableQueues(cfg.Queue, cfg.QueueTTL, cfg.QueueMaxLength), instance))
		if err != nil {
			_ = conn.Close()
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.conn, app.ch, app.instanceQueue = conn, ch, instance.QueueName
		publisher = rabbitmq.NewPublisher(ch, cfg.Exchange)
	} else {
		logger.Warn("rabbitmq is not configured, entitlement events are not published")
	}

	app.entitlements = entitlement.NewService(logger, db, cacheRedis, cfg.CacheTTL, cfg.AdminUserIDs)
	billingService := billing.NewService(logger, db, billing.Config{
		SecretKey:   cfg.SecretKey,
		FrontendURL: cfg.FrontendURL,
		Prices:      cfg.Prices,
	})
	processor := webhook.NewProcessor(logger, db, app.entitlements, publisher, billingService)
	accessGuard := guard.New(
		guard.NewPolicy(cfg.GatedPaths),
		guard.Paths{Login: cfg.LoginPath, Upgrade: cfg.UpgradePath},
		app.entitlements,
	)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Dependencies{
		Entitlements: app.entitlements,
		Guard:        accessGuard,
		Billing:      billingService,
		Verifier:     verifier.New(cfg.WebhookSecret, cfg.WebhookTolerance),
		Processor:    processor,
		Tokens:       jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		Limiter:      middlewarectx.NewRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		Checks: []health.Check{
			{Name: "postgres", Pinger: db, Required: true},
			{Name: "redis", Pinger: cacheRedis},
		},
	})

	app.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	if cfg.AddressGRPC != "" {
		app.health = grpcserver.NewHealthServer(logger, db, cfg.CheckInterval)
		app.grpc = grpc.NewServer()
		app.health.Register(app.grpc)
	}

	return app, nil
}

// Run запускает серверы и потребителя и ждёт отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)

	if a.ch != nil {
		done, err := rabbitmq.ConsumerMessage(gctx, a.logger, a.ch, a.instanceQueue, a.entitlements.HandleChanged)
		if err != nil {
			a.logger.Error("failed to start entitlement consumer", sl.Err(err))
			return err
		}
		g.Go(func() error {
			return waitConsumer(gctx, done)
		})
	}

	if a.grpc != nil {
		lis, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			return fmt.Errorf("entitlementapi.Run: %w", err)
		}
		g.Go(func() error {
			a.health.Watch(gctx)
			return nil
		})
		g.Go(func() error {
			return grpcserver.Serve(gctx, a.logger, a.grpc, lis)
		})
	}

	g.Go(func() error {
		return a.serveHTTP(gctx)
	})

	return g.Wait()
}

// errConsumerStopped брокер закрыл канал доставки до остановки приложения.
var errConsumerStopped = errors.New("entitlement consumer stopped")

// waitConsumer ждёт завершения потребителя. Остановка без отмены ctx означает
// потерю сброса кэша, поэтому возвращается ошибка и приложение завершается.
func waitConsumer(ctx context.Context, done <-chan struct{}) error {
	<-done
	if ctx.Err() != nil {
		return nil
	}
	return errConsumerStopped
}

func (a *App) serveHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
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
		a.logger.Info("shutting down HTTP server gracefully")
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
