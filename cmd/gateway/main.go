package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/joao-fontenele/storefront-orders/internal/config"
	"github.com/joao-fontenele/storefront-orders/internal/gateway"
	"github.com/joao-fontenele/storefront-orders/internal/logger"
	"github.com/joao-fontenele/storefront-orders/internal/server"
	"github.com/joao-fontenele/storefront-orders/internal/telemetry"
)

func main() {
	cfg, err := config.Load("gateway")
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
		log.Error("gateway stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if err := cfg.Require("upstream.orders_url", "upstream.inventory_url"); err != nil {
		return err
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Service.Name, cfg.Service.Version)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(context.WithoutCancel(ctx)) }()

	client := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.Upstream.Timeout,
	}

	handler := gateway.NewHandler(
		gateway.NewServiceProxy(cfg.Upstream.OrdersURL, client),
		gateway.NewServiceProxy(cfg.Upstream.InventoryURL, client),
		log,
	)

	mux := http.NewServeMux()
	handler.Routes(mux, telemetry.WithHTTPRoute)
	mux.Handle("GET /metrics", tel.MetricsHandler())
	mux.HandleFunc("GET /healthz", server.Healthz(nil))

	return server.Run(ctx, cfg.Service, mux, log)
}
