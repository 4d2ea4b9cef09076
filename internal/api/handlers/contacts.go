package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/pkg/phone"
)

type createContactRequest struct {
	PhoneNumber       string `json:"phone_number"`
	DisplayName       string `json:"display_name"`
	TimeZone          string `json:"time_zone"`
	SchedulingEnabled *bool  `json:"scheduling_enabled"`
}

type contactResponse struct {
	ID                uuid.UUID  `json:"id"`
	PhoneNumber       string     `json:"phone_number"`
	DisplayName       string     `json:"display_name,omitempty"`
	TimeZone          string     `json:"time_zone,omitempty"`
	SchedulingEnabled bool       `json:"scheduling_enabled"`
	LastAttemptAt     *time.Time `json:"last_attempt_at,omitempty"`
	NextAvailableAt   *time.Time `json:"next_available_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (h *HandlerSet) createContact(ctx *fiber.Ctx) error {
	var req createContactRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badBody()
	}

	number, err := phone.Normalize(req.PhoneNumber, h.PhoneRegion)
	if err != nil {
		return translateError(err)
	}

	contact := domain.Contact{
		PhoneNumber:       number,
		DisplayName:       req.DisplayName,
		TimeZone:          req.TimeZone,
		SchedulingEnabled: req.SchedulingEnabled == nil || *req.SchedulingEnabled,
	}
	if err := h.Repos.Contacts.Create(ctx.UserContext(), &contact); err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(toContactResponse(contact))
}

func (h *HandlerSet) getContact(ctx *fiber.Ctx) error {
	id, err := parseID(ctx, "contact")
	if err != nil {
		return err
	}

	contact, err := h.Repos.Contacts.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toContactResponse(*contact))
}

func toContactResponse(c domain.Contact) contactResponse {
	return contactResponse{
		ID:                c.ID,
		PhoneNumber:       c.PhoneNumber,
		DisplayName:       c.DisplayName,
		TimeZone:          c.TimeZone,
		SchedulingEnabled: c.SchedulingEnabled,
		LastAttemptAt:     c.LastAttemptAt,
		NextAvailableAt:   c.NextAvailableAt,
		CreatedAt:         c.CreatedAt,
	}
}
