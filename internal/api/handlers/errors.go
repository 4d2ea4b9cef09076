package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/repository"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "resource not found")
	case errors.Is(err, apperrors.ErrDuplicate), errors.Is(err, repository.ErrConflict),
		errors.Is(err, apperrors.ErrAdmissionDenied):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, apperrors.ErrIneligible), errors.Is(err, apperrors.ErrNoWindow):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, apperrors.ErrUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}

func parseID(ctx *fiber.Ctx, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid "+what+" id")
	}
	return id, nil
}

func queryLimit(ctx *fiber.Ctx, fallback, max int) int {
	limit, err := strconv.Atoi(ctx.Query("limit"))
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func badBody() error {
	return fiber.NewError(http.StatusBadRequest, "invalid request body")
}
