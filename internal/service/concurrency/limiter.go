// Package concurrency caps in-flight dispatches per campaign.
package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var acquireScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
if current < limit then
  current = redis.call('INCR', key)
  if ttl > 0 then
    redis.call('PEXPIRE', key, ttl)
  end
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '0')
if current <= 1 then
  redis.call('DEL', key)
  return 0
end
return redis.call('DECR', key)
`)

// Limiter coordinates campaign-level concurrency across processes using Redis counters.
// Counters expire after ttl so a crashed holder cannot pin a slot forever.
type Limiter struct {
	client       *redis.Client
	defaultLimit int
	ttl          time.Duration
}

// NewLimiter constructs a concurrency limiter.
func NewLimiter(client *redis.Client, defaultLimit int, ttl time.Duration) *Limiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Limiter{client: client, defaultLimit: defaultLimit, ttl: ttl}
}

// Acquire attempts to reserve a slot for the campaign. A non-positive limit falls back
// to the default; no limit at all always grants.
func (l *Limiter) Acquire(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error) {
	limit = effectiveLimit(limit, l.defaultLimit)
	if campaignID == uuid.Nil || limit <= 0 {
		return true, nil
	}

	res, err := acquireScript.Run(ctx, l.client, []string{key(campaignID)}, limit, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("concurrency acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees a previously acquired slot.
func (l *Limiter) Release(ctx context.Context, campaignID uuid.UUID) error {
	if campaignID == uuid.Nil {
		return nil
	}
	if _, err := releaseScript.Run(ctx, l.client, []string{key(campaignID)}).Int(); err != nil {
		return fmt.Errorf("concurrency release: %w", err)
	}
	return nil
}

// Local is the single-process limiter used when Redis is not configured.
type Local struct {
	mu           sync.Mutex
	active       map[uuid.UUID]int
	defaultLimit int
}

// NewLocal constructs an in-process limiter.
func NewLocal(defaultLimit int) *Local {
	return &Local{active: make(map[uuid.UUID]int), defaultLimit: defaultLimit}
}

// Acquire reserves a slot when the campaign is under its limit.
func (l *Local) Acquire(_ context.Context, campaignID uuid.UUID, limit int) (bool, error) {
	limit = effectiveLimit(limit, l.defaultLimit)
	if campaignID == uuid.Nil || limit <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[campaignID] >= limit {
		return false, nil
	}
	l.active[campaignID]++
	return true, nil
}

// Release frees a slot.
func (l *Local) Release(_ context.Context, campaignID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.active[campaignID]; n <= 1 {
		delete(l.active, campaignID)
	} else {
		l.active[campaignID] = n - 1
	}
	return nil
}

// Acquirer is satisfied by both limiters.
type Acquirer interface {
	Acquire(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error)
}

// Wait polls acquirer until a slot is granted or ctx ends.
func Wait(ctx context.Context, acquirer Acquirer, campaignID uuid.UUID, limit int, poll time.Duration) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		ok, err := acquirer.Acquire(ctx, campaignID, limit)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("concurrency wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func effectiveLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}

func key(campaignID uuid.UUID) string {
	return fmt.Sprintf("outbound:campaign:%s:active", campaignID.String())
}
