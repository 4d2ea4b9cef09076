package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/repository/sqlite/sqlitetest"
	"github.com/acme/outbound-call-queue/pkg/clock"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

func TestValidateCreateInputFailures(t *testing.T) {
	cases := []CreateCampaignInput{
		{Name: ""},
		{Name: "   "},
		{Name: "test", BatchSize: -1},
		{Name: "test", CallSpacing: -time.Second},
		{Name: "test", MaxConcurrentCalls: -2},
	}

	for _, tc := range cases {
		err := validateCreateInput(tc)
		assert.ErrorIs(t, err, apperrors.ErrValidation, "input %+v", tc)
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	repos, _ := sqlitetest.Open(t)
	clk := clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(repos, clk, Defaults{BatchSize: 25, CallSpacing: 10 * time.Second, MaxConcurrentCalls: 3})

	c, err := svc.Create(context.Background(), CreateCampaignInput{Name: " Renewals "})
	require.NoError(t, err)
	assert.Equal(t, "Renewals", c.Name)
	assert.Equal(t, domain.CampaignStatusDraft, c.Status)
	assert.Equal(t, 25, c.BatchSize)
	assert.Equal(t, 10*time.Second, c.CallSpacing)
	assert.Equal(t, 3, c.MaxConcurrentCalls)

	stats, err := svc.Stats(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStats{}, *stats)
}

func TestUpdateCampaign(t *testing.T) {
	repos, _ := sqlitetest.Open(t)
	ctx := context.Background()
	svc := NewService(repos, clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)), Defaults{})

	c, err := svc.Create(ctx, CreateCampaignInput{Name: "initial", BatchSize: 10})
	require.NoError(t, err)

	prompt := "Hello from billing"
	spacing := time.Minute
	updated, err := svc.Update(ctx, UpdateCampaignInput{ID: c.ID, PromptOverride: &prompt, CallSpacing: &spacing})
	require.NoError(t, err)
	assert.Equal(t, "Hello from billing", updated.Prompt("fallback"))

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, got.CallSpacing)
	require.NotNil(t, got.PromptOverride)

	zero := 0
	_, err = svc.Update(ctx, UpdateCampaignInput{ID: c.ID, BatchSize: &zero})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, svc.Complete(ctx, c.ID))
	_, err = svc.Update(ctx, UpdateCampaignInput{ID: c.ID, PromptOverride: &prompt})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestLifecycleTransitions(t *testing.T) {
	repos, _ := sqlitetest.Open(t)
	ctx := context.Background()
	svc := NewService(repos, clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)), Defaults{})

	c := sqlitetest.Campaign(t, repos, domain.CampaignStatusRunning)

	require.NoError(t, svc.Resume(ctx, c.ID), "resuming a running campaign is a no-op")
	require.NoError(t, svc.Pause(ctx, c.ID))
	require.NoError(t, svc.Pause(ctx, c.ID), "pausing twice is a no-op")

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusPaused, got.Status)

	require.NoError(t, svc.Resume(ctx, c.ID))
	require.NoError(t, svc.Complete(ctx, c.ID))
	assert.ErrorIs(t, svc.Pause(ctx, c.ID), apperrors.ErrConflict)
	assert.ErrorIs(t, svc.Resume(ctx, c.ID), apperrors.ErrConflict)

	got, err = svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestListByStatusValidates(t *testing.T) {
	repos, _ := sqlitetest.Open(t)
	svc := NewService(repos, nil, Defaults{})

	_, err := svc.ListByStatus(context.Background(), domain.CampaignStatus("bogus"), 10)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
