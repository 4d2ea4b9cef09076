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
	"github.com/acme/outbound-call-queue/internal/worker/status"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath, "status-worker")
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	if container.Kafka == nil || container.Journal == nil {
		log.Fatalf("status worker needs kafka.enabled and scylla.enabled")
	}
	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	cfg := container.Config.Kafka
	reader := container.Kafka.NewReader(cfg.OutcomeTopic, cfg.ConsumerGroupID)
	worker := status.New(reader, container.Journal, container.Logger)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		container.Logger.Error("status worker terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
