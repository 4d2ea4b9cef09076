package queue

import (
	"fmt"
	"math"
	"time"

	"github.com/acme/outbound-call-queue/internal/config"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

// Backoff maps the attempts already made to the delay before the next one.
// Implementations must be non-decreasing in attempts.
type Backoff func(attempts int) time.Duration

// Fixed waits the same delay after every failure.
func Fixed(delay time.Duration) Backoff {
	return func(int) time.Duration { return delay }
}

// Linear waits base times the number of attempts, capped at max when max > 0.
func Linear(base, max time.Duration) Backoff {
	return func(attempts int) time.Duration {
		if attempts < 1 {
			attempts = 1
		}
		return capDelay(time.Duration(attempts)*base, max)
	}
}

// Exponential doubles base per attempt, capped at max when max > 0.
func Exponential(base, max time.Duration) Backoff {
	return func(attempts int) time.Duration {
		if attempts < 1 {
			attempts = 1
		}
		factor := math.Pow(2, float64(attempts-1))
		d := float64(base) * factor
		if d >= math.MaxInt64 {
			return capDelay(time.Duration(math.MaxInt64), max)
		}
		return capDelay(time.Duration(d), max)
	}
}

// BackoffFromConfig selects the strategy named by retry.strategy.
func BackoffFromConfig(cfg config.RetryConfig) (Backoff, error) {
	switch cfg.Strategy {
	case "fixed":
		return Fixed(cfg.BaseDelay), nil
	case "linear":
		return Linear(cfg.BaseDelay, cfg.MaxDelay), nil
	case "exponential", "":
		return Exponential(cfg.BaseDelay, cfg.MaxDelay), nil
	default:
		return nil, fmt.Errorf("%w: unknown retry strategy %q", apperrors.ErrValidation, cfg.Strategy)
	}
}

func capDelay(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}
