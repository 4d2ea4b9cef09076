package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/app"
	"github.com/acme/outbound-call-queue/internal/scheduler"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath, "retry-worker")
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	sweeper, err := scheduler.NewRetrySweeper(container.Retry, container.Config.Retry, container.Logger)
	if err != nil {
		log.Fatalf("invalid retry settings: %v", err)
	}
	if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		container.Logger.Error("retry worker terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
