// Package sqlite implements the repositories on the pure-Go SQLite driver. Timestamps are
// stored as unix milliseconds and ids as text.
package sqlite

import (
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/pkg/clock"
)

// NewRepositories wires every SQLite repository over one handle. Row timestamps the
// store stamps itself come from clk; a nil clk means the system clock.
func NewRepositories(db *sqlx.DB, clk clock.Clock) repository.Repositories {
	if clk == nil {
		clk = clock.System()
	}
	return repository.Repositories{
		Queue:      NewQueueStore(db, clk),
		Campaigns:  NewCampaignRepository(db),
		Calls:      NewCampaignCallRepository(db),
		Contacts:   NewContactRepository(db, clk),
		Rules:      NewAvailabilityRuleRepository(db, clk),
		Statistics: NewCampaignStatisticsRepository(db, clk),
	}
}
