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
	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/logger"
	"github.com/joao-fontenele/storefront-orders/internal/messaging"
	"github.com/joao-fontenele/storefront-orders/internal/telemetry"
	"github.com/joao-fontenele/storefront-orders/internal/worker"
)

func main() {
	cfg, err := config.Load("notification-worker")
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
		log.Error("notification worker stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("notification worker stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if err := cfg.Require("kafka.brokers", "upstream.email_url"); err != nil {
		return err
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Service.Name, cfg.Service.Version)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(context.WithoutCancel(ctx)) }()

	var sources []worker.Source
	for _, topic := range []string{domain.TopicOrderCreated, domain.TopicOrderStatusChanged} {
		consumer := messaging.NewConsumer(cfg.Kafka.Brokers, topic, cfg.Kafka.GroupID)
		defer func() { _ = consumer.Close() }()
		sources = append(sources, consumer)
	}

	client := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.Upstream.Timeout,
	}

	log.Info("starting notification worker", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("group_id", cfg.Kafka.GroupID))
	return worker.NewNotifier(cfg.Upstream.EmailURL, client, log).Run(ctx, sources...)
}
