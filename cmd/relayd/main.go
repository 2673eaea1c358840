package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"courier/internal/relay"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	addr := envOr("RELAY_ADDR", ":8080")
	dbPath := envOr("RELAY_DB", "relay.db")
	var promoCodes []string
	if raw := os.Getenv("RELAY_PROMO_CODES"); raw != "" {
		promoCodes = strings.Split(raw, ",")
	}

	store, err := relay.OpenStore(dbPath)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	hub := relay.NewHub(store, promoCodes, logger)
	srv := relay.NewServer(addr, hub, logger)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Fatal("relay failed", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
