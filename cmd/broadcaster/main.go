package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pedidoslab/pedidos/internal/config"
	"github.com/pedidoslab/pedidos/internal/domain"
	"github.com/pedidoslab/pedidos/internal/messaging"
	"github.com/pedidoslab/pedidos/internal/realtime"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ephemeral subscription on purpose: a broadcaster that was offline has
	// permanently missed those events. This is a live view, not an audit log.
	consumer, err := messaging.NewConsumer(cfg.AMQPURL, domain.EventOrderWildcard)
	if err != nil {
		logger.Error("failed to create consumer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = consumer.Close() }()

	hub := realtime.NewHub(logger)
	wsHandler := realtime.NewHandler(hub, logger)
	broadcaster := realtime.NewBroadcaster(hub)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", wsHandler.HandleWS)

	server := &http.Server{
		Addr:        ":" + cfg.WSPort,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting broadcaster", "port", cfg.WSPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := consumer.Consume(ctx, broadcaster.HandleEvent); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
