package resilience

import (
	"time"
)

// FixedDelay returns a config that makes up to attempts calls with exactly
// delay between them. Used for polling, where backoff growth and jitter only
// stretch the wait.
func FixedDelay(attempts int, delay time.Duration) RetryConfig {
	if attempts <= 0 {
		attempts = 1
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: delay,
		MaxBackoff:     delay,
		Multiplier:     1,
		JitterFraction: 0,
	}
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
