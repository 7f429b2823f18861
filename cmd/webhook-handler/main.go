// Package main принимает события провайдера оплаты и обновляет доступ пользователей.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	webhookhandler "github.com/magabrotheeeer/entitlement-sync/internal/app/webhook-handler"
	"github.com/magabrotheeeer/entitlement-sync/internal/config"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.New(cfg.Env, cfg.LogLevel)

	logger.Info("starting webhook-handler", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := webhookhandler.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize webhook handler", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("webhook handler stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("webhook-handler stopped gracefully")
}
