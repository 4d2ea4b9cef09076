// Package sqlitetest opens migrated in-memory SQLite repositories for tests.
package sqlitetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/infra/db"
	"github.com/acme/outbound-call-queue/internal/infra/migrations"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/internal/repository/sqlite"
	"github.com/acme/outbound-call-queue/pkg/clock"
)

// Open returns migrated repositories over a private in-memory database.
func Open(t testing.TB) (repository.Repositories, *sqlx.DB) {
	t.Helper()
	return OpenWithClock(t, clock.System())
}

// OpenWithClock is Open with the clock the store stamps its own timestamps from.
func OpenWithClock(t testing.TB, clk clock.Clock) (repository.Repositories, *sqlx.DB) {
	t.Helper()
	ctx := context.Background()

	conn, err := db.NewSQLite(ctx, config.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, migrations.Run(ctx, conn.DB(), config.DriverSQLite))
	return sqlite.NewRepositories(conn.DB(), clk), conn.DB()
}

// Contact inserts an enabled contact with the given phone number.
func Contact(t testing.TB, repos repository.Repositories, phone string) domain.Contact {
	t.Helper()
	c := domain.Contact{
		ID:                uuid.New(),
		PhoneNumber:       phone,
		SchedulingEnabled: true,
		CreatedAt:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repos.Contacts.Create(context.Background(), &c))
	return c
}

// Campaign inserts a campaign in the given status.
func Campaign(t testing.TB, repos repository.Repositories, status domain.CampaignStatus) domain.Campaign {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := domain.Campaign{
		ID:          uuid.New(),
		Name:        "campaign " + string(status),
		Status:      status,
		BatchSize:   100,
		CallSpacing: 30 * time.Second,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, repos.Campaigns.Create(context.Background(), &c))
	require.NoError(t, repos.Statistics.Ensure(context.Background(), c.ID))
	return c
}
