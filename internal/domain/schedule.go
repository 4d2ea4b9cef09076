package domain

import "github.com/google/uuid"

// SkipReason explains why a contact got no queue entry during scheduling.
type SkipReason string

const (
	SkipNotFound           SkipReason = "not_found"
	SkipSchedulingDisabled SkipReason = "scheduling_disabled"
	SkipAlreadyActive      SkipReason = "already_active"
	SkipInvalidPhone       SkipReason = "invalid_phone"
)

// Skip is one contact left out of a scheduling run.
type Skip struct {
	ContactID uuid.UUID  `json:"contact_id"`
	Reason    SkipReason `json:"reason"`
	Detail    string     `json:"detail,omitempty"`
}
