package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/api"
	"github.com/acme/outbound-call-queue/internal/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath, "api")
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	server := api.NewServer(container.Config, container.HandlerSet())

	container.Logger.Info("starting server",
		zap.Int("port", container.Config.HTTP.Port),
		zap.String("storage", container.Config.Storage.Driver),
	)
	if err := server.Start(ctx); err != nil {
		container.Logger.Error("server terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
