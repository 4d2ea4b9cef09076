package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-call-queue/internal/domain"
	events "github.com/acme/outbound-call-queue/internal/queue"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/internal/telephony"
	"github.com/acme/outbound-call-queue/internal/window"
	"github.com/acme/outbound-call-queue/pkg/clock"
)

// monday is 2024-01-01, a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2024, 1, 1, hour, minute, 0, 0, time.UTC)
}

func nineToFive() window.StaticRules {
	return window.StaticRules{{
		DayOfWeek: time.Monday,
		Start:     domain.ClockTime(9, 0, 0),
		End:       domain.ClockTime(17, 0, 0),
		Enabled:   true,
	}}
}

func allWeek() window.StaticRules {
	rules := make(window.StaticRules, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		rules = append(rules, domain.AvailabilityRule{DayOfWeek: d, Start: 0, End: domain.EndOfDay, Enabled: true})
	}
	return rules
}

func policyAt(rules window.StaticRules, clk clock.Clock) *window.Policy {
	return window.NewPolicy(rules, time.UTC, clk)
}

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []telephony.Request
	err      error
	delay    time.Duration
	inFlight int
	maxSeen  int
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req telephony.Request) (telephony.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return telephony.Result{}, telephony.Transient("cancelled", ctx.Err())
		}
	}
	if f.err != nil {
		return telephony.Result{}, f.err
	}
	return telephony.Result{DispatchID: "call-" + req.EntryID.String()[:8]}, nil
}

func (f *fakeDispatcher) calls() []telephony.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]telephony.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OutcomeEvent
	err    error
}

func (p *recordingPublisher) PublishOutcome(_ context.Context, evt events.OutcomeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

var errBoom = errors.New("boom")

func enqueueAt(t *testing.T, repos repository.Repositories, contact domain.Contact, at time.Time, priority int) domain.QueueEntry {
	t.Helper()
	entry := domain.QueueEntry{
		ContactID:   contact.ID,
		PhoneNumber: contact.PhoneNumber,
		ScheduledAt: at,
		Priority:    priority,
		CreatedAt:   at,
	}
	require.NoError(t, repos.Queue.Enqueue(context.Background(), &entry, nil))
	return entry
}

func reload(t *testing.T, repos repository.Repositories, entry domain.QueueEntry) *domain.QueueEntry {
	t.Helper()
	got, err := repos.Queue.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	return got
}
