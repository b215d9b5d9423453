package actions

import "time"

const (
	// InitialRetryDelay is the backoff after the first failure.
	InitialRetryDelay = 30 * time.Second
	// MaxRetryDelay caps the backoff.
	MaxRetryDelay = 300 * time.Second
	// MaxBackoffExponent caps consecutive failures in the exponent so the
	// shift cannot overflow.
	MaxBackoffExponent = 10
	// MaxServiceMissingRetries bounds how often a structurally absent
	// service is treated as "still loading" before it counts as permanent.
	MaxServiceMissingRetries = 3
)

// RetryDelay computes the exponential backoff delay for the given number of
// consecutive failures: 30s, 60s, 120s, 240s, then clamped at 300s.
// Zero failures means no delay.
func RetryDelay(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}

	capped := consecutiveFailures
	if capped > MaxBackoffExponent {
		capped = MaxBackoffExponent
	}

	delay := InitialRetryDelay << (capped - 1)
	if delay > MaxRetryDelay {
		delay = MaxRetryDelay
	}
	return delay
}
