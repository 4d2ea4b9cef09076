package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/telephony"
	"github.com/acme/outbound-call-queue/pkg/phone"
)

// Provider simulates outbound call placement.
type Provider struct {
	successRate float64
	maxLatency  time.Duration
	region      string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.DispatchConfig) *Provider {
	return &Provider{
		successRate: cfg.MockSuccessRatio,
		maxLatency:  500 * time.Millisecond,
		region:      cfg.PhoneRegion,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Dispatch validates the number, waits a random latency and succeeds with the configured ratio.
func (p *Provider) Dispatch(ctx context.Context, req telephony.Request) (telephony.Result, error) {
	if !phone.Valid(req.PhoneNumber, p.region) {
		return telephony.Result{}, telephony.Invalid(fmt.Sprintf("invalid phone number %q", req.PhoneNumber))
	}

	p.mu.Lock()
	latency := time.Duration(p.rng.Int63n(int64(p.maxLatency) + 1))
	roll := p.rng.Float64()
	rejected := p.rng.Float64() < 0.3
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return telephony.Result{}, telephony.Transient("call timed out", ctx.Err())
	case <-time.After(latency):
	}

	if roll < p.successRate {
		return telephony.Result{DispatchID: "mock-" + uuid.NewString(), Duration: latency}, nil
	}
	if rejected {
		return telephony.Result{}, telephony.Rejected("simulated provider rejection")
	}
	return telephony.Result{}, telephony.Transient("simulated failure", nil)
}
