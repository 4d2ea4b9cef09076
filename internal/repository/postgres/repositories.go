package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-queue/internal/repository"
)

// NewRepositories wires every PostgreSQL repository over one handle.
func NewRepositories(db *sqlx.DB) repository.Repositories {
	return repository.Repositories{
		Queue:      NewQueueStore(db),
		Campaigns:  NewCampaignRepository(db),
		Calls:      NewCampaignCallRepository(db),
		Contacts:   NewContactRepository(db),
		Rules:      NewAvailabilityRuleRepository(db),
		Statistics: NewCampaignStatisticsRepository(db),
	}
}
