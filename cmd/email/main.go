package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/joao-fontenele/storefront-orders/internal/config"
	"github.com/joao-fontenele/storefront-orders/internal/email"
	"github.com/joao-fontenele/storefront-orders/internal/logger"
	"github.com/joao-fontenele/storefront-orders/internal/server"
	"github.com/joao-fontenele/storefront-orders/internal/telemetry"
)

func main() {
	cfg, err := config.Load("email")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log, cfg.Service.Name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("email service stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	tel, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Service.Name, cfg.Service.Version)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(context.WithoutCancel(ctx)) }()

	mux := http.NewServeMux()
	email.NewHandler(log).Routes(mux, telemetry.WithHTTPRoute)
	mux.Handle("GET /metrics", tel.MetricsHandler())
	mux.HandleFunc("GET /healthz", server.Healthz(nil))

	return server.Run(ctx, cfg.Service, mux, log)
}
