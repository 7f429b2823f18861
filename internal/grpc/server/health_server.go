// Package server реализует gRPC-сервер проверки состояния сервиса доступа.
//
// HealthServer отдаёт стандартный grpc.health.v1.Health. Статус обновляется
// периодической проверкой базы: без базы сервис не может читать доступ.
package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
)

// ServiceName имя сервиса в health-проверке.
const ServiceName = "entitlement.EntitlementService"

const (
	defaultInterval = 15 * time.Second
	pingTimeout     = 3 * time.Second
)

// Pinger проверяет доступность зависимости.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer публикует состояние сервиса по gRPC.
type HealthServer struct {
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	log      *slog.Logger
}

// NewHealthServer создаёт HealthServer. До первой проверки статус NOT_SERVING.
func NewHealthServer(log *slog.Logger, pinger Pinger, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = defaultInterval
	}
	h := &HealthServer{
		health:   health.NewServer(),
		pinger:   pinger,
		interval: interval,
		log:      log,
	}
	h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register регистрирует сервис health на gRPC-сервере.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
}

// Watch проверяет базу каждые interval до отмены ctx.
// После отмены все сервисы переводятся в NOT_SERVING.
func (h *HealthServer) Watch(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Check выполняет одну проверку и обновляет статус.
func (h *HealthServer) Check(ctx context.Context) {
	const op = "grpc.HealthServer.Check"

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := h.pinger.Ping(pingCtx); err != nil {
		h.log.Warn("storage is unavailable", slog.String("op", op), sl.Err(err))
		h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (h *HealthServer) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Serve запускает gRPC-сервер на lis и останавливает его при отмене ctx.
func Serve(ctx context.Context, log *slog.Logger, s *grpc.Server, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("gRPC health server listening", slog.String("address", lis.Addr().String()))
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
