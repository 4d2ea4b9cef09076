package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/metrics"
	queuesvc "github.com/acme/outbound-call-queue/internal/service/queue"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

type fakeProcessor struct {
	calls atomic.Int32
	limit atomic.Int32
	err   error
}

func (f *fakeProcessor) Process(ctx context.Context, limit int) (queuesvc.ProcessResult, error) {
	f.calls.Add(1)
	f.limit.Store(int32(limit))
	if f.err != nil {
		return queuesvc.ProcessResult{}, f.err
	}
	return queuesvc.ProcessResult{Admitted: true, Processed: 2, Succeeded: 1, Failed: 1}, nil
}

type fixedCounter map[domain.EntryStatus]int64

func (c fixedCounter) CountsByStatus(context.Context) (map[domain.EntryStatus]int64, error) {
	return c, nil
}

func TestTickUsesBatchSizeAndRefreshesGauges(t *testing.T) {
	proc := &fakeProcessor{}
	counts := fixedCounter{domain.EntryStatusPending: 4, domain.EntryStatusFailed: 1}
	s := New(proc, counts, config.SchedulerConfig{MaxBatchSize: 7}, logger.Nop())

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, int32(7), proc.limit.Load())

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.EntriesByStatus.WithLabelValues("pending")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.EntriesByStatus.WithLabelValues("processing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EntriesByStatus.WithLabelValues("failed")))
}

func TestTickReturnsProcessorErrors(t *testing.T) {
	boom := errors.New("store down")
	s := New(&fakeProcessor{err: boom}, nil, config.SchedulerConfig{}, logger.Nop())
	_, err := s.Tick(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 50, s.batchSize)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	proc := &fakeProcessor{}
	s := New(proc, nil, config.SchedulerConfig{TickInterval: 5 * time.Millisecond, MaxBatchSize: 1}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return proc.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type fakeRetrier struct {
	maxAttempts int
	backoff     queuesvc.Backoff
}

func (f *fakeRetrier) RescheduleFailed(ctx context.Context, maxAttempts int, backoff queuesvc.Backoff) (queuesvc.RetryResult, error) {
	f.maxAttempts = maxAttempts
	f.backoff = backoff
	return queuesvc.RetryResult{Rescheduled: 1}, nil
}

func TestRetrySweeperUsesConfiguredBackoff(t *testing.T) {
	r := &fakeRetrier{}
	sweeper, err := NewRetrySweeper(r, config.RetryConfig{
		MaxAttempts: 3,
		Strategy:    "linear",
		BaseDelay:   time.Minute,
		MaxDelay:    time.Hour,
	}, logger.Nop())
	require.NoError(t, err)

	res, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rescheduled)
	assert.Equal(t, 3, r.maxAttempts)
	require.NotNil(t, r.backoff)
	assert.Equal(t, 2*time.Minute, r.backoff(2))
}

func TestRetrySweeperRejectsUnknownStrategy(t *testing.T) {
	_, err := NewRetrySweeper(&fakeRetrier{}, config.RetryConfig{MaxAttempts: 3, Strategy: "random"}, logger.Nop())
	assert.Error(t, err)
}
