package resilience

import (
	"time"

	"github.com/sells-group/email-sleuth/internal/config"
)

// DNSRetryConfig builds the per-server retry policy for MX queries.
func DNSRetryConfig(c config.DNSConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if c.AttemptsPerServer > 0 {
		cfg.MaxAttempts = c.AttemptsPerServer
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(c config.CircuitConfig) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return cfg
}
