package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
	campaignsvc "github.com/acme/outbound-call-queue/internal/service/campaign"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

type createCampaignRequest struct {
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	BatchSize          int     `json:"batch_size"`
	CallSpacing        string  `json:"call_spacing"`
	PromptOverride     *string `json:"prompt_override"`
	Priority           int     `json:"priority"`
	MaxConcurrentCalls int     `json:"max_concurrent_calls"`
	CreatedBy          string  `json:"created_by"`
	Scheduled          bool    `json:"scheduled"`
}

type updateCampaignRequest struct {
	Name               *string `json:"name"`
	Description        *string `json:"description"`
	BatchSize          *int    `json:"batch_size"`
	CallSpacing        *string `json:"call_spacing"`
	PromptOverride     *string `json:"prompt_override"`
	Priority           *int    `json:"priority"`
	MaxConcurrentCalls *int    `json:"max_concurrent_calls"`
}

type launchRequest struct {
	ContactIDs        []uuid.UUID `json:"contact_ids"`
	TimeZone          string      `json:"time_zone"`
	PhonePrefix       string      `json:"phone_prefix"`
	NotAttemptedSince *time.Time  `json:"not_attempted_since"`
	EnabledOnly       bool        `json:"enabled_only"`
	Limit             int         `json:"limit"`
}

type launchResponse struct {
	CampaignID uuid.UUID       `json:"campaign_id"`
	Scheduled  int             `json:"scheduled"`
	Skipped    int             `json:"skipped"`
	Skips      []domain.Skip   `json:"skips,omitempty"`
	Errors     []string        `json:"errors,omitempty"`
	Entries    []entryResponse `json:"entries"`
}

type campaignResponse struct {
	ID                 uuid.UUID             `json:"id"`
	Name               string                `json:"name"`
	Description        string                `json:"description"`
	Status             domain.CampaignStatus `json:"status"`
	BatchSize          int                   `json:"batch_size"`
	CallSpacing        string                `json:"call_spacing"`
	PromptOverride     *string               `json:"prompt_override,omitempty"`
	Priority           int                   `json:"priority"`
	MaxConcurrentCalls int                   `json:"max_concurrent_calls"`
	CreatedBy          string                `json:"created_by,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	LaunchedAt         *time.Time            `json:"launched_at,omitempty"`
	CompletedAt        *time.Time            `json:"completed_at,omitempty"`
}

type campaignStatsResponse struct {
	TotalCalls       int64 `json:"total_calls"`
	CompletedCalls   int64 `json:"completed_calls"`
	FailedCalls      int64 `json:"failed_calls"`
	PendingCalls     int64 `json:"pending_calls"`
	RetriesAttempted int64 `json:"retries_attempted"`
}

type campaignCallResponse struct {
	ID            uuid.UUID  `json:"id"`
	ContactID     uuid.UUID  `json:"contact_id"`
	QueueEntryID  uuid.UUID  `json:"queue_entry_id"`
	DispatchID    *string    `json:"dispatch_id,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	AttemptNumber int        `json:"attempt_number"`
	CreatedAt     time.Time  `json:"created_at"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badBody()
	}

	spacing, err := parseSpacing(req.CallSpacing)
	if err != nil {
		return translateError(err)
	}

	campaign, err := h.Campaigns.Create(ctx.UserContext(), campaignsvc.CreateCampaignInput{
		Name:               req.Name,
		Description:        req.Description,
		BatchSize:          req.BatchSize,
		CallSpacing:        spacing,
		PromptOverride:     req.PromptOverride,
		Priority:           req.Priority,
		MaxConcurrentCalls: req.MaxConcurrentCalls,
		CreatedBy:          req.CreatedBy,
		Scheduled:          req.Scheduled,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	limit := queryLimit(ctx, 50, 500)

	var (
		campaigns []*domain.Campaign
		err       error
	)
	if raw := ctx.Query("status"); raw != "" {
		campaigns, err = h.Campaigns.ListByStatus(ctx.UserContext(), domain.CampaignStatus(raw), limit)
	} else {
		var afterID *uuid.UUID
		if afterStr := ctx.Query("after_id"); afterStr != "" {
			id, parseErr := uuid.Parse(afterStr)
			if parseErr != nil {
				return fiber.NewError(http.StatusBadRequest, "invalid after_id")
			}
			afterID = &id
		}
		campaigns, err = h.Campaigns.List(ctx.UserContext(), afterID, limit)
	}
	if err != nil {
		return translateError(err)
	}

	resp := make([]campaignResponse, 0, len(campaigns))
	for _, c := range campaigns {
		resp = append(resp, toCampaignResponse(c))
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"campaigns": resp})
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseID(ctx, "campaign")
	if err != nil {
		return err
	}

	campaign, err := h.Campaigns.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) updateCampaign(ctx *fiber.Ctx) error {
	id, err := parseID(ctx, "campaign")
	if err != nil {
		return err
	}

	var req updateCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badBody()
	}

	input := campaignsvc.UpdateCampaignInput{
		ID:                 id,
		Name:               req.Name,
		Description:        req.Description,
		BatchSize:          req.BatchSize,
		PromptOverride:     req.PromptOverride,
		Priority:           req.Priority,
		MaxConcurrentCalls: req.MaxConcurrentCalls,
	}
	if req.CallSpacing != nil {
		spacing, err := parseSpacing(*req.CallSpacing)
		if err != nil {
			return translateError(err)
		}
		input.CallSpacing = &spacing
	}

	campaign, err := h.Campaigns.Update(ctx.UserContext(), input)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) launchCampaign(ctx *fiber.Ctx) error {
	id, err := parseID(ctx, "campaign")
	if err != nil {
		return err
	}

	var req launchRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return badBody()
		}
	}

	res, err := h.Launcher.Launch(ctx.UserContext(), id, domain.ContactCriteria{
		IDs:               req.ContactIDs,
		TimeZone:          req.TimeZone,
		PhonePrefix:       req.PhonePrefix,
		NotAttemptedSince: req.NotAttemptedSince,
		EnabledOnly:       req.EnabledOnly,
		Limit:             req.Limit,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(launchResponse{
		CampaignID: res.CampaignID,
		Scheduled:  res.Scheduled,
		Skipped:    res.Skipped,
		Skips:      res.Skips,
		Errors:     res.Errors,
		Entries:    toEntryResponses(res.Entries),
	})
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	return h.transition(ctx, h.Campaigns.Pause)
}

func (h *HandlerSet) resumeCampaign(ctx *fiber.Ctx) error {
	return h.transition(ctx, h.Campaigns.Resume)
}

func (h *HandlerSet) completeCampaign(ctx *fiber.Ctx) error {
	return h.transition(ctx, h.Campaigns.Complete)
}

func (h *HandlerSet) transition(ctx *fiber.Ctx, apply func(context.Context, uuid.UUID) error) error {
	id, err := parseID(ctx, "campaign")
	if err != nil {
		return err
	}
	if err := apply(ctx.UserContext(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := parseID(ctx, "campaign")
	if err != nil {
		return err
	}

	stats, err := h.Campaigns.Stats(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(campaignStatsResponse{
		TotalCalls:       stats.TotalCalls,
		CompletedCalls:   stats.CompletedCalls,
		FailedCalls:      stats.FailedCalls,
		PendingCalls:     stats.PendingCalls,
		RetriesAttempted: stats.RetriesAttempted,
	})
}

func (h *HandlerSet) listCampaignCalls(ctx *fiber.Ctx) error {
	id, err := parseID(ctx, "campaign")
	if err != nil {
		return err
	}

	calls, err := h.Campaigns.Calls(ctx.UserContext(), id, queryLimit(ctx, 100, 1000))
	if err != nil {
		return translateError(err)
	}

	resp := make([]campaignCallResponse, 0, len(calls))
	for _, c := range calls {
		resp = append(resp, campaignCallResponse{
			ID:            c.ID,
			ContactID:     c.ContactID,
			QueueEntryID:  c.QueueEntryID,
			DispatchID:    c.DispatchID,
			ErrorMessage:  c.ErrorMessage,
			AttemptNumber: c.AttemptNumber,
			CreatedAt:     c.CreatedAt,
			DispatchedAt:  c.DispatchedAt,
			CompletedAt:   c.CompletedAt,
		})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"calls": resp})
}

func parseSpacing(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid call_spacing %q", apperrors.ErrValidation, raw)
	}
	return d, nil
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:                 c.ID,
		Name:               c.Name,
		Description:        c.Description,
		Status:             c.Status,
		BatchSize:          c.BatchSize,
		CallSpacing:        c.CallSpacing.String(),
		PromptOverride:     c.PromptOverride,
		Priority:           c.Priority,
		MaxConcurrentCalls: c.MaxConcurrentCalls,
		CreatedBy:          c.CreatedBy,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
		LaunchedAt:         c.LaunchedAt,
		CompletedAt:        c.CompletedAt,
	}
}
