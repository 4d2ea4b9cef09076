package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/internal/repository/sqlite/sqlitetest"
	"github.com/acme/outbound-call-queue/internal/window"
	"github.com/acme/outbound-call-queue/pkg/clock"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

func alwaysOpen() window.StaticRules {
	rules := make(window.StaticRules, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		rules = append(rules, domain.AvailabilityRule{DayOfWeek: d, Start: 0, End: domain.EndOfDay, Enabled: true})
	}
	return rules
}

func newLauncher(repos repository.Repositories, rules window.StaticRules, clk clock.Clock) *Launcher {
	return NewLauncher(repos, window.NewPolicy(rules, time.UTC, clk), clk, logger.Nop(), "US")
}

func contacts(t *testing.T, repos repository.Repositories, phones ...string) []domain.Contact {
	t.Helper()
	out := make([]domain.Contact, 0, len(phones))
	for _, p := range phones {
		out = append(out, sqlitetest.Contact(t, repos, p))
	}
	return out
}

func TestLaunchSpacesEntries(t *testing.T) {
	repos, _ := sqlitetest.Open(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	l := newLauncher(repos, alwaysOpen(), clock.NewFake(start))

	c := sqlitetest.Campaign(t, repos, domain.CampaignStatusDraft)
	c.BatchSize = 5
	c.CallSpacing = 30 * time.Second
	require.NoError(t, repos.Campaigns.Update(ctx, &c))
	contacts(t, repos, "+12015550400", "+12015550401", "+12015550402", "+12015550403", "+12015550404")

	res, err := l.Launch(ctx, c.ID, domain.ContactCriteria{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Scheduled)
	assert.Equal(t, 0, res.Skipped)
	require.Len(t, res.Entries, 5)

	for i, entry := range res.Entries {
		assert.True(t, entry.ScheduledAt.Equal(start.Add(time.Duration(i)*30*time.Second)), "entry %d at %s", i, entry.ScheduledAt)
		if i > 0 {
			assert.Equal(t, 30*time.Second, entry.ScheduledAt.Sub(res.Entries[i-1].ScheduledAt))
		}
		require.NotNil(t, entry.CampaignID)
		assert.Equal(t, c.ID, *entry.CampaignID)

		call, err := repos.Calls.GetByEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, call.CampaignID)
	}

	got, err := repos.Campaigns.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusRunning, got.Status)
	assert.NotNil(t, got.LaunchedAt)

	stats, err := repos.Statistics.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalCalls)
	assert.Equal(t, int64(5), stats.PendingCalls)
}

func TestLaunchTruncatesToBatchSize(t *testing.T) {
	repos, _ := sqlitetest.Open(t)
	ctx := context.Background()
	l := newLauncher(repos, alwaysOpen(), clock.NewFake(time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)))

	c := sqlitetest.Campaign(t, repos, domain.CampaignStatusRunning)
	c.BatchSize = 2
	require.NoError(t, repos.Campaigns.Update(ctx, &c))
	contacts(t, repos, "+12015550410", "+12015550411", "+12015550412")

	res, err := l.Launch(ctx, c.ID, domain.ContactCriteria{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scheduled)
}

func TestLaunchSkipsIneligibleContacts(t *testing.T) {
	repos, _ := sqlitetest.Open(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	l := newLauncher(repos, alwaysOpen(), clock.NewFake(start))
	c := sqlitetest.Campaign(t, repos, domain.CampaignStatusScheduled)

	cs := contacts(t, repos, "+12015550420", "+12015550421", "bogus", "+12015550423")
	disabled := domain.Contact{PhoneNumber: "+12015550424"}
	require.NoError(t, repos.Contacts.Create(ctx, &disabled))
	busy := domain.QueueEntry{ContactID: cs[1].ID, PhoneNumber: cs[1].PhoneNumber, ScheduledAt: start}
	require.NoError(t, repos.Queue.Enqueue(ctx, &busy, nil))
	missing := uuid.New()

	ids := []uuid.UUID{cs[3].ID, cs[1].ID, cs[2].ID, disabled.ID, missing, cs[0].ID}
	res, err := l.Launch(ctx, c.ID, domain.ContactCriteria{IDs: ids})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Scheduled)
	assert.Equal(t, 4, res.Skipped)
	reasons := map[uuid.UUID]domain.SkipReason{}
	for _, s := range res.Skips {
		reasons[s.ContactID] = s.Reason
	}
	assert.Equal(t, domain.SkipAlreadyActive, reasons[cs[1].ID])
	assert.Equal(t, domain.SkipInvalidPhone, reasons[cs[2].ID])
	assert.Equal(t, domain.SkipSchedulingDisabled, reasons[disabled.ID])
	assert.Equal(t, domain.SkipNotFound, reasons[missing])

	require.Len(t, res.Entries, 2)
	assert.Equal(t, cs[3].ID, res.Entries[0].ContactID, "selection order follows the requested ids")
	assert.Equal(t, cs[0].ID, res.Entries[1].ContactID)
	assert.True(t, res.Entries[0].ScheduledAt.Equal(start))
	assert.True(t, res.Entries[1].ScheduledAt.Equal(start.Add(30*time.Second)), "skipped contacts do not consume a spacing slot")
}

func TestLaunchSnapsSpacedTimesIntoWindow(t *testing.T) {
	repos, _ := sqlitetest.Open(t)
	ctx := context.Background()
	rules := window.StaticRules{
		{DayOfWeek: time.Monday, Start: domain.ClockTime(9, 0, 0), End: domain.ClockTime(17, 0, 0), Enabled: true},
		{DayOfWeek: time.Tuesday, Start: domain.ClockTime(9, 0, 0), End: domain.ClockTime(17, 0, 0), Enabled: true},
	}
	l := newLauncher(repos, rules, clock.NewFake(time.Date(2024, 1, 1, 16, 59, 30, 0, time.UTC)))
	c := sqlitetest.Campaign(t, repos, domain.CampaignStatusRunning)
	contacts(t, repos, "+12015550430", "+12015550431", "+12015550432")

	res, err := l.Launch(ctx, c.ID, domain.ContactCriteria{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)

	tuesdayOpen := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	assert.True(t, res.Entries[0].ScheduledAt.Equal(time.Date(2024, 1, 1, 16, 59, 30, 0, time.UTC)))
	assert.True(t, res.Entries[1].ScheduledAt.Equal(tuesdayOpen))
	assert.True(t, res.Entries[2].ScheduledAt.Equal(tuesdayOpen), "spacing collapses at the window boundary")
}

func TestLaunchRejectsCompletedCampaign(t *testing.T) {
	repos, _ := sqlitetest.Open(t)
	l := newLauncher(repos, alwaysOpen(), clock.NewFake(time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)))
	c := sqlitetest.Campaign(t, repos, domain.CampaignStatusCompleted)
	contacts(t, repos, "+12015550440")

	_, err := l.Launch(context.Background(), c.ID, domain.ContactCriteria{})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	counts, err := repos.Queue.CountsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[domain.EntryStatusPending])
}

func TestLaunchWithoutWindowFails(t *testing.T) {
	repos, _ := sqlitetest.Open(t)
	l := newLauncher(repos, nil, clock.NewFake(time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)))
	c := sqlitetest.Campaign(t, repos, domain.CampaignStatusDraft)
	contacts(t, repos, "+12015550450")

	_, err := l.Launch(context.Background(), c.ID, domain.ContactCriteria{})
	assert.ErrorIs(t, err, apperrors.ErrNoWindow)
}

func TestPauseLeavesEntriesUntouched(t *testing.T) {
	repos, _ := sqlitetest.Open(t)
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC))
	l := newLauncher(repos, alwaysOpen(), clk)
	svc := NewService(repos, clk, Defaults{})

	c := sqlitetest.Campaign(t, repos, domain.CampaignStatusDraft)
	contacts(t, repos, "+12015550460", "+12015550461")
	res, err := l.Launch(ctx, c.ID, domain.ContactCriteria{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Scheduled)

	require.NoError(t, svc.Pause(ctx, c.ID))
	for _, entry := range res.Entries {
		got, err := repos.Queue.Get(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.EntryStatusPending, got.Status)
		assert.True(t, got.ScheduledAt.Equal(entry.ScheduledAt))
	}

	claimed, err := repos.Queue.ClaimBatch(ctx, 10, clk.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, claimed)

	require.NoError(t, svc.Resume(ctx, c.ID))
	claimed, err = repos.Queue.ClaimBatch(ctx, 10, clk.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}
