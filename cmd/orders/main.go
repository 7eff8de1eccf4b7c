package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/joao-fontenele/storefront-orders/internal/auth"
	"github.com/joao-fontenele/storefront-orders/internal/config"
	"github.com/joao-fontenele/storefront-orders/internal/database"
	"github.com/joao-fontenele/storefront-orders/internal/inventory"
	"github.com/joao-fontenele/storefront-orders/internal/logger"
	"github.com/joao-fontenele/storefront-orders/internal/messaging"
	"github.com/joao-fontenele/storefront-orders/internal/numbering"
	"github.com/joao-fontenele/storefront-orders/internal/orders"
	"github.com/joao-fontenele/storefront-orders/internal/pricing"
	"github.com/joao-fontenele/storefront-orders/internal/server"
	"github.com/joao-fontenele/storefront-orders/internal/telemetry"
)

const orderNumberSequence = "storefront.order_number_seq"

func main() {
	cfg, err := config.Load("orders")
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
		log.Error("orders service stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if err := cfg.Require("database.url", "jwt.secret"); err != nil {
		return err
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Service.Name, cfg.Service.Version)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(context.WithoutCancel(ctx)) }()

	db, err := telemetry.OpenDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	checks := map[string]server.Check{"postgres": db.PingContext}

	sequence, closeSequence, err := newSequence(cfg, db)
	if err != nil {
		return err
	}
	defer closeSequence()
	if rs, ok := sequence.(*numbering.RedisSequence); ok {
		checks["redis"] = rs.Ping
	}

	rules, err := cfg.PricingRules()
	if err != nil {
		return err
	}

	opts := []orders.Option{
		orders.WithTransactor(database.NewTransactor(db)),
		orders.WithCalculator(pricing.NewCalculator(rules)),
		orders.WithLogger(log),
		orders.WithMeter(tel.Meter("orders")),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewProducer(cfg.Kafka.Brokers)
		defer func() { _ = producer.Close() }()
		opts = append(opts, orders.WithPublisher(producer))
	} else {
		log.Warn("kafka.brokers not set, order events will not be published")
	}

	manager := orders.NewManager(
		inventory.NewLedger(db),
		sequence,
		orders.NewOrderRepository(db),
		opts...,
	)

	verifier := auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
	authed := func(h http.HandlerFunc) http.Handler {
		return verifier.Middleware(telemetry.WithHTTPRoute(h))
	}

	mux := http.NewServeMux()
	orders.NewHandler(manager, log).Routes(mux, authed)
	mux.Handle("GET /metrics", tel.MetricsHandler())
	mux.HandleFunc("GET /healthz", server.Healthz(checks))

	return server.Run(ctx, cfg.Service, mux, log)
}

func newSequence(cfg *config.Config, db *sql.DB) (numbering.Sequence, func(), error) {
	opts := []numbering.Option{
		numbering.WithPrefix(cfg.Numbering.Prefix),
		numbering.WithWidth(cfg.Numbering.Width),
	}

	if cfg.Numbering.Backend != "redis" {
		return numbering.NewPostgresSequence(db, orderNumberSequence, opts...), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return numbering.NewRedisSequence(client, cfg.Numbering.RedisKey, opts...), func() { _ = client.Close() }, nil
}
