package handlers

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// encodePageToken turns a journal paging state into a URL-safe token.
func encodePageToken(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(state)
}

func decodePageToken(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode page token: %w", err)
	}
	return data, nil
}

func (h *HandlerSet) campaignAttempts(ctx *fiber.Ctx) error {
	id, err := parseID(ctx, "campaign")
	if err != nil {
		return err
	}
	if h.Journal == nil {
		return translateError(errJournalDisabled)
	}

	state, err := decodePageToken(ctx.Query("page_token"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid page token")
	}

	attempts, next, err := h.Journal.ListByCampaign(ctx.UserContext(), id, queryLimit(ctx, 100, 1000), state)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"attempts":        toAttemptResponses(attempts),
		"next_page_token": encodePageToken(next),
	})
}
