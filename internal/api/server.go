package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/acme/outbound-call-queue/internal/api/handlers"
	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/metrics"
)

// Server wraps the Fiber application.
type Server struct {
	app      *fiber.App
	cfg      *config.Config
	handlers *handlers.HandlerSet
}

// NewServer constructs a new HTTP server.
func NewServer(cfg *config.Config, handlers *handlers.HandlerSet) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		IdleTimeout:           cfg.HTTP.IdleTimeout,
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(otelfiber.Middleware())

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		exporter := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		app.Get(path, func(ctx *fiber.Ctx) error {
			exporter(ctx.Context())
			return nil
		})
	}
	handlers.Register(app)

	return &Server{app: app, cfg: cfg, handlers: handlers}
}

// App exposes the fiber application, mostly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.HTTP.Port)
	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
