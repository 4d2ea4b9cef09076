package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/internal/repository/sqlite/sqlitetest"
	campaignsvc "github.com/acme/outbound-call-queue/internal/service/campaign"
	queuesvc "github.com/acme/outbound-call-queue/internal/service/queue"
	"github.com/acme/outbound-call-queue/internal/telephony"
	"github.com/acme/outbound-call-queue/internal/window"
	"github.com/acme/outbound-call-queue/pkg/clock"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

type okDispatcher struct{}

func (okDispatcher) Dispatch(ctx context.Context, req telephony.Request) (telephony.Result, error) {
	return telephony.Result{DispatchID: "call-" + req.EntryID.String()}, nil
}

func newTestApp(t *testing.T, checks map[string]HealthCheck, journal repository.AttemptJournal) (*fiber.App, repository.Repositories) {
	t.Helper()
	repos, _ := sqlitetest.Open(t)
	clk := clock.NewFake(time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC))
	lg := logger.Nop()
	policy := window.NewPolicy(repos.Rules, time.UTC, clk)

	h := NewHandlerSet(Deps{
		Repos:       repos,
		Journal:     journal,
		Policy:      policy,
		Processor:   queuesvc.NewProcessor(repos, policy, okDispatcher{}, clk, lg, queuesvc.ProcessorConfig{WorkerCount: 2}),
		Retry:       queuesvc.NewRetryScheduler(repos, policy, clk, lg, 50, 0),
		Scheduler:   queuesvc.NewScheduler(repos, policy, clk, lg, "US"),
		Campaigns:   campaignsvc.NewService(repos, clk, campaignsvc.Defaults{}),
		Launcher:    campaignsvc.NewLauncher(repos, policy, clk, lg, "US"),
		Backoff:     queuesvc.Fixed(time.Minute),
		BatchSize:   10,
		MaxAttempts: 3,
		PhoneRegion: "US",
		Checks:      checks,
		Logger:      lg,
	})

	app := fiber.New(fiber.Config{ErrorHandler: h.ErrorHandler})
	h.Register(app)
	return app, repos
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func openAllWeek(t *testing.T, app *fiber.App) {
	t.Helper()
	rules := make([]map[string]any, 0, 7)
	for d := 0; d < 7; d++ {
		rules = append(rules, map[string]any{"day_of_week": d, "start": "00:00", "end": "24:00"})
	}
	code, body := do(t, app, http.MethodPut, "/api/v1/window/rules", map[string]any{"rules": rules})
	require.Equal(t, http.StatusOK, code, body)
}

func createContact(t *testing.T, app *fiber.App, number string) string {
	t.Helper()
	code, body := do(t, app, http.MethodPost, "/api/v1/contacts", map[string]any{"phone_number": number})
	require.Equal(t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func TestScheduleProcessAndInspectQueue(t *testing.T) {
	app, _ := newTestApp(t, nil, nil)
	openAllWeek(t, app)

	code, status := do(t, app, http.MethodGet, "/api/v1/window/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, status["allowed"])

	contactID := createContact(t, app, "(201) 555-0600")
	code, contact := do(t, app, http.MethodGet, "/api/v1/contacts/"+contactID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "+12015550600", contact["phone_number"])

	code, scheduled := do(t, app, http.MethodPost, "/api/v1/queue/schedule", map[string]any{"contact_ids": []string{contactID}})
	require.Equal(t, http.StatusCreated, code, scheduled)
	assert.Equal(t, 1.0, scheduled["scheduled"])
	entryID := scheduled["entries"].([]any)[0].(map[string]any)["id"].(string)

	code, processed := do(t, app, http.MethodPost, "/api/v1/queue/process", nil)
	require.Equal(t, http.StatusOK, code, processed)
	assert.Equal(t, 1.0, processed["processed"])
	assert.Equal(t, 1.0, processed["succeeded"])

	code, counts := do(t, app, http.MethodGet, "/api/v1/queue/counts", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, counts["completed"])
	assert.Equal(t, 0.0, counts["pending"])

	code, list := do(t, app, http.MethodGet, "/api/v1/queue/entries?status=completed&contact_id="+contactID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, list["entries"], 1)

	code, entry := do(t, app, http.MethodGet, "/api/v1/queue/entries/"+entryID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", entry["status"])

	code, retried := do(t, app, http.MethodPost, "/api/v1/queue/retry", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.0, retried["rescheduled"])
}

func TestErrorTranslation(t *testing.T) {
	app, _ := newTestApp(t, nil, nil)

	code, _ := do(t, app, http.MethodGet, "/api/v1/queue/entries/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, app, http.MethodGet, "/api/v1/queue/entries/6f1c2a8e-0000-4000-8000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, app, http.MethodGet, "/api/v1/queue/entries?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, app, http.MethodPost, "/api/v1/queue/process", map[string]any{"limit": -1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := do(t, app, http.MethodGet, "/api/v1/queue/entries/6f1c2a8e-0000-4000-8000-000000000000/attempts", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body["error"], "journal")

	code, _ = do(t, app, http.MethodPut, "/api/v1/window/rules", map[string]any{
		"rules": []map[string]any{{"day_of_week": 1, "start": "17:00", "end": "09:00"}},
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, app, http.MethodPost, "/api/v1/contacts", map[string]any{"phone_number": "12"})
	assert.Equal(t, http.StatusBadRequest, code)

	contactID := createContact(t, app, "+12015550601")
	code, _ = do(t, app, http.MethodPost, "/api/v1/queue/schedule", map[string]any{"contact_ids": []string{contactID}})
	assert.Equal(t, http.StatusUnprocessableEntity, code, "no calling window configured")

	code, _ = do(t, app, http.MethodPost, "/api/v1/campaigns", map[string]any{"name": "x", "call_spacing": "soon"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, app, http.MethodGet, "/api/v1/campaigns?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCampaignLifecycle(t *testing.T) {
	app, _ := newTestApp(t, nil, nil)
	openAllWeek(t, app)
	contactID := createContact(t, app, "+12015550610")

	code, created := do(t, app, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"name":         "renewals",
		"batch_size":   5,
		"call_spacing": "30s",
	})
	require.Equal(t, http.StatusCreated, code, created)
	assert.Equal(t, "draft", created["status"])
	id := created["id"].(string)
	base := "/api/v1/campaigns/" + id

	code, updated := do(t, app, http.MethodPut, base, map[string]any{"description": "Q1 renewals"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Q1 renewals", updated["description"])

	code, launched := do(t, app, http.MethodPost, base+"/launch", map[string]any{"contact_ids": []string{contactID}})
	require.Equal(t, http.StatusOK, code, launched)
	assert.Equal(t, 1.0, launched["scheduled"])

	code, got := do(t, app, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", got["status"])

	code, _ = do(t, app, http.MethodPost, base+"/pause", nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, app, http.MethodPost, base+"/resume", nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, stats := do(t, app, http.MethodGet, base+"/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, stats["total_calls"])
	assert.Equal(t, 1.0, stats["pending_calls"])

	code, calls := do(t, app, http.MethodGet, base+"/calls", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, calls["calls"], 1)

	code, _ = do(t, app, http.MethodPost, base+"/complete", nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, app, http.MethodPost, base+"/launch", nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = do(t, app, http.MethodPost, base+"/resume", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, list := do(t, app, http.MethodGet, "/api/v1/campaigns?status=completed", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, list["campaigns"], 1)
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t, map[string]HealthCheck{
		"ok":   func(context.Context) error { return nil },
		"down": func(context.Context) error { return errors.New("connection refused") },
	}, nil)

	code, body := do(t, app, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"down": "connection refused"}, body["errors"])
}

type pagedJournal struct {
	attempts []domain.DispatchAttempt
}

func (j *pagedJournal) Append(ctx context.Context, a domain.DispatchAttempt) error {
	j.attempts = append(j.attempts, a)
	return nil
}

func (j *pagedJournal) ListByEntry(ctx context.Context, entryID uuid.UUID, limit int) ([]domain.DispatchAttempt, error) {
	var out []domain.DispatchAttempt
	for _, a := range j.attempts {
		if a.EntryID == entryID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListByCampaign serves one attempt per page; the paging state is the next index.
func (j *pagedJournal) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, state []byte) ([]domain.DispatchAttempt, []byte, error) {
	idx := 0
	if len(state) > 0 {
		idx = int(state[0])
	}
	if idx >= len(j.attempts) {
		return nil, nil, nil
	}
	var next []byte
	if idx+1 < len(j.attempts) {
		next = []byte{byte(idx + 1)}
	}
	return j.attempts[idx : idx+1], next, nil
}

func TestAttemptEndpoints(t *testing.T) {
	entryID := uuid.New()
	campaignID := uuid.New()
	journal := &pagedJournal{attempts: []domain.DispatchAttempt{
		{EntryID: entryID, CampaignID: campaignID, AttemptNumber: 1, Status: domain.EntryStatusFailed, Error: "busy", Duration: 2 * time.Second},
		{EntryID: entryID, CampaignID: campaignID, AttemptNumber: 2, Status: domain.EntryStatusCompleted, DispatchID: "call-1"},
	}}
	app, _ := newTestApp(t, nil, journal)

	code, body := do(t, app, http.MethodGet, "/api/v1/queue/entries/"+entryID.String()+"/attempts", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["attempts"], 2)
	first := body["attempts"].([]any)[0].(map[string]any)
	assert.Equal(t, 2000.0, first["duration_ms"])
	assert.Equal(t, campaignID.String(), first["campaign_id"])

	base := "/api/v1/campaigns/" + campaignID.String() + "/attempts"
	code, page := do(t, app, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, page["attempts"], 1)
	token := page["next_page_token"].(string)
	require.NotEmpty(t, token)

	code, page = do(t, app, http.MethodGet, base+"?page_token="+token, nil)
	require.Equal(t, http.StatusOK, code)
	second := page["attempts"].([]any)[0].(map[string]any)
	assert.Equal(t, 2.0, second["attempt_number"])
	assert.Equal(t, "", page["next_page_token"])

	code, _ = do(t, app, http.MethodGet, base+"?page_token=!!!", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
