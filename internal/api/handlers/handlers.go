package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/repository"
	campaignsvc "github.com/acme/outbound-call-queue/internal/service/campaign"
	queuesvc "github.com/acme/outbound-call-queue/internal/service/queue"
	"github.com/acme/outbound-call-queue/internal/window"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

// Deps lists everything the admin API talks to. Journal may be nil when the attempt
// journal is disabled.
type Deps struct {
	Repos     repository.Repositories
	Journal   repository.AttemptJournal
	Policy    *window.Policy
	Processor *queuesvc.Processor
	Retry     *queuesvc.RetryScheduler
	Scheduler *queuesvc.Scheduler
	Campaigns *campaignsvc.Service
	Launcher  *campaignsvc.Launcher
	Backoff   queuesvc.Backoff

	BatchSize   int
	MaxAttempts int
	PhoneRegion string

	Checks map[string]HealthCheck
	Logger *logger.Logger
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	Deps
	logger *logger.Logger
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(deps Deps) *HandlerSet {
	return &HandlerSet{Deps: deps, logger: deps.Logger.Component("api")}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	v1 := app.Group("/api").Group("/v1")

	queue := v1.Group("/queue")
	queue.Post("/schedule", h.bulkSchedule)
	queue.Post("/process", h.processQueue)
	queue.Post("/retry", h.retryFailed)
	queue.Get("/counts", h.queueCounts)
	queue.Get("/entries", h.listEntries)
	queue.Get("/entries/:id", h.getEntry)
	queue.Get("/entries/:id/attempts", h.entryAttempts)

	win := v1.Group("/window")
	win.Get("/status", h.windowStatus)
	win.Get("/schedule", h.windowSchedule)
	win.Get("/rules", h.listRules)
	win.Put("/rules", h.replaceRules)

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/", h.listCampaigns)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Put("/:id", h.updateCampaign)
	campaigns.Post("/:id/launch", h.launchCampaign)
	campaigns.Post("/:id/pause", h.pauseCampaign)
	campaigns.Post("/:id/resume", h.resumeCampaign)
	campaigns.Post("/:id/complete", h.completeCampaign)
	campaigns.Get("/:id/stats", h.campaignStats)
	campaigns.Get("/:id/calls", h.listCampaignCalls)
	campaigns.Get("/:id/attempts", h.campaignAttempts)

	contacts := v1.Group("/contacts")
	contacts.Post("/", h.createContact)
	contacts.Get("/:id", h.getContact)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", ctx.Path()), zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.Checks {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}
