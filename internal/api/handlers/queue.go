package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
	queuesvc "github.com/acme/outbound-call-queue/internal/service/queue"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

var errJournalDisabled = fmt.Errorf("%w: attempt journal disabled", apperrors.ErrUnavailable)

type scheduleRequest struct {
	ContactIDs []uuid.UUID `json:"contact_ids"`
	Priority   int         `json:"priority"`
	NotBefore  *time.Time  `json:"not_before"`
	Notes      string      `json:"notes"`
}

type scheduleResponse struct {
	Scheduled int             `json:"scheduled"`
	Skipped   int             `json:"skipped"`
	Skips     []domain.Skip   `json:"skips,omitempty"`
	Entries   []entryResponse `json:"entries"`
}

type processRequest struct {
	Limit int `json:"limit"`
}

type retryRequest struct {
	MaxAttempts int `json:"max_attempts"`
}

type entryResponse struct {
	ID            uuid.UUID          `json:"id"`
	ContactID     uuid.UUID          `json:"contact_id"`
	CampaignID    *uuid.UUID         `json:"campaign_id,omitempty"`
	PhoneNumber   string             `json:"phone_number"`
	ScheduledAt   time.Time          `json:"scheduled_at"`
	Priority      int                `json:"priority"`
	Status        domain.EntryStatus `json:"status"`
	AttemptCount  int                `json:"attempt_count"`
	LastAttemptAt *time.Time         `json:"last_attempt_at,omitempty"`
	ClaimedAt     *time.Time         `json:"claimed_at,omitempty"`
	FailureReason *string            `json:"failure_reason,omitempty"`
	Notes         string             `json:"notes,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type attemptResponse struct {
	EntryID       uuid.UUID          `json:"entry_id"`
	CampaignID    *uuid.UUID         `json:"campaign_id,omitempty"`
	AttemptNumber int                `json:"attempt_number"`
	Status        domain.EntryStatus `json:"status"`
	DispatchID    string             `json:"dispatch_id,omitempty"`
	Error         string             `json:"error,omitempty"`
	DurationMs    int64              `json:"duration_ms"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

func (h *HandlerSet) bulkSchedule(ctx *fiber.Ctx) error {
	var req scheduleRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badBody()
	}

	res, err := h.Scheduler.BulkSchedule(ctx.UserContext(), queuesvc.ScheduleRequest{
		ContactIDs: req.ContactIDs,
		Priority:   req.Priority,
		NotBefore:  req.NotBefore,
		Notes:      req.Notes,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(scheduleResponse{
		Scheduled: res.Scheduled,
		Skipped:   res.Skipped,
		Skips:     res.Skips,
		Entries:   toEntryResponses(res.Entries),
	})
}

func (h *HandlerSet) processQueue(ctx *fiber.Ctx) error {
	var req processRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return badBody()
		}
	}
	if req.Limit == 0 {
		req.Limit = h.BatchSize
	}

	res, err := h.Processor.Process(ctx.UserContext(), req.Limit)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(res)
}

func (h *HandlerSet) retryFailed(ctx *fiber.Ctx) error {
	var req retryRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return badBody()
		}
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = h.MaxAttempts
	}

	res, err := h.Retry.RescheduleFailed(ctx.UserContext(), req.MaxAttempts, h.Backoff)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(res)
}

func (h *HandlerSet) queueCounts(ctx *fiber.Ctx) error {
	counts, err := h.Repos.Queue.CountsByStatus(ctx.UserContext())
	if err != nil {
		return translateError(err)
	}

	resp := make(map[domain.EntryStatus]int64, len(domain.EntryStatuses))
	for _, status := range domain.EntryStatuses {
		resp[status] = counts[status]
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) listEntries(ctx *fiber.Ctx) error {
	filter := domain.QueueFilter{Limit: queryLimit(ctx, 100, 1000)}

	if raw := ctx.Query("status"); raw != "" {
		status, ok := domain.ParseEntryStatus(raw)
		if !ok {
			return translateError(fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, raw))
		}
		filter.Status = status
	}
	for name, target := range map[string]**uuid.UUID{"campaign_id": &filter.CampaignID, "contact_id": &filter.ContactID} {
		raw := ctx.Query(name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid "+name)
		}
		*target = &id
	}

	entries, err := h.Repos.Queue.List(ctx.UserContext(), filter)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"entries": toEntryResponses(entries)})
}

func (h *HandlerSet) getEntry(ctx *fiber.Ctx) error {
	id, err := parseID(ctx, "entry")
	if err != nil {
		return err
	}

	entry, err := h.Repos.Queue.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toEntryResponse(*entry))
}

func (h *HandlerSet) entryAttempts(ctx *fiber.Ctx) error {
	id, err := parseID(ctx, "entry")
	if err != nil {
		return err
	}
	if h.Journal == nil {
		return translateError(errJournalDisabled)
	}

	attempts, err := h.Journal.ListByEntry(ctx.UserContext(), id, queryLimit(ctx, 50, 500))
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"attempts": toAttemptResponses(attempts)})
}

func toAttemptResponses(attempts []domain.DispatchAttempt) []attemptResponse {
	resp := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		item := attemptResponse{
			EntryID:       a.EntryID,
			AttemptNumber: a.AttemptNumber,
			Status:        a.Status,
			DispatchID:    a.DispatchID,
			Error:         a.Error,
			DurationMs:    a.Duration.Milliseconds(),
			OccurredAt:    a.OccurredAt,
		}
		if a.CampaignID != uuid.Nil {
			campaignID := a.CampaignID
			item.CampaignID = &campaignID
		}
		resp = append(resp, item)
	}
	return resp
}

func toEntryResponses(entries []domain.QueueEntry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	return out
}

func toEntryResponse(e domain.QueueEntry) entryResponse {
	return entryResponse{
		ID:            e.ID,
		ContactID:     e.ContactID,
		CampaignID:    e.CampaignID,
		PhoneNumber:   e.PhoneNumber,
		ScheduledAt:   e.ScheduledAt,
		Priority:      e.Priority,
		Status:        e.Status,
		AttemptCount:  e.AttemptCount,
		LastAttemptAt: e.LastAttemptAt,
		ClaimedAt:     e.ClaimedAt,
		FailureReason: e.FailureReason,
		Notes:         e.Notes,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}
