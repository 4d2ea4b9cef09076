package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

type ruleRequest struct {
	DayOfWeek int    `json:"day_of_week"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Enabled   *bool  `json:"enabled"`
	Label     string `json:"label"`
}

type ruleResponse struct {
	ID        uuid.UUID `json:"id"`
	DayOfWeek int       `json:"day_of_week"`
	Day       string    `json:"day"`
	Start     string    `json:"start"`
	End       string    `json:"end"`
	Enabled   bool      `json:"enabled"`
	Label     string    `json:"label,omitempty"`
}

func (h *HandlerSet) windowStatus(ctx *fiber.Ctx) error {
	status, err := h.Policy.CurrentStatus(ctx.UserContext())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(status)
}

func (h *HandlerSet) windowSchedule(ctx *fiber.Ctx) error {
	week, err := h.Policy.WeeklySchedule(ctx.UserContext())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"days": week})
}

func (h *HandlerSet) listRules(ctx *fiber.Ctx) error {
	rules, err := h.Repos.Rules.ListRules(ctx.UserContext())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"rules": toRuleResponses(rules)})
}

func (h *HandlerSet) replaceRules(ctx *fiber.Ctx) error {
	var req struct {
		Rules []ruleRequest `json:"rules"`
	}
	if err := ctx.BodyParser(&req); err != nil {
		return badBody()
	}

	rules, err := parseRules(req.Rules)
	if err != nil {
		return translateError(err)
	}
	if err := h.Repos.Rules.ReplaceRules(ctx.UserContext(), rules); err != nil {
		return translateError(err)
	}

	stored, err := h.Repos.Rules.ListRules(ctx.UserContext())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"rules": toRuleResponses(stored)})
}

func parseRules(reqs []ruleRequest) ([]domain.AvailabilityRule, error) {
	rules := make([]domain.AvailabilityRule, 0, len(reqs))
	for i, r := range reqs {
		start, err := domain.ParseTimeOfDay(r.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", apperrors.ErrValidation, i, err)
		}
		end, err := domain.ParseTimeOfDay(r.End)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", apperrors.ErrValidation, i, err)
		}
		rule := domain.AvailabilityRule{
			DayOfWeek: time.Weekday(r.DayOfWeek),
			Start:     start,
			End:       end,
			Enabled:   r.Enabled == nil || *r.Enabled,
			Label:     r.Label,
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", apperrors.ErrValidation, i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func toRuleResponses(rules []domain.AvailabilityRule) []ruleResponse {
	out := make([]ruleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, ruleResponse{
			ID:        r.ID,
			DayOfWeek: int(r.DayOfWeek),
			Day:       r.DayOfWeek.String(),
			Start:     r.Start.String(),
			End:       r.End.String(),
			Enabled:   r.Enabled,
			Label:     r.Label,
		})
	}
	return out
}
