package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/pedidoslab/pedidos/internal/config"
	"github.com/pedidoslab/pedidos/internal/domain"
	"github.com/pedidoslab/pedidos/internal/kitchen"
	"github.com/pedidoslab/pedidos/internal/messaging"
	"github.com/pedidoslab/pedidos/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "pedidos-worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	db, err := telemetry.OpenDB("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	publisher, err := messaging.NewPublisher(cfg.AMQPURL)
	if err != nil {
		logger.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer func() { _ = publisher.Close() }()

	// Durable queue: confirmations published while the worker is down are
	// delivered on restart.
	consumer, err := messaging.NewConsumer(cfg.AMQPURL, domain.EventOrderConfirmed,
		messaging.WithDurableQueue("kitchen-worker"),
		messaging.WithRequeueOnError(),
	)
	if err != nil {
		logger.Error("failed to create consumer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = consumer.Close() }()

	repo := kitchen.NewRepository(db)
	handler := kitchen.NewHandler(repo, publisher, cfg.KitchenPrepTime, logger)
	poller := kitchen.NewPoller(repo, publisher, cfg.KitchenPollInterval, logger)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poller error", "error", err)
		}
	}()

	logger.Info("starting kitchen worker",
		"prep_time", cfg.KitchenPrepTime, "poll_interval", cfg.KitchenPollInterval)

	if err := consumer.Consume(ctx, handler.HandleConfirmed); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
