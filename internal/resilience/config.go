package resilience

import (
	"time"

	"github.com/sells-group/cv-extract/internal/config"
)

// FromConfig converts config values to breaker and retry settings. Zero
// values keep the defaults.
func FromConfig(c config.ResilienceConfig) (BreakerConfig, RetryConfig) {
	bc := DefaultBreakerConfig()
	if c.FailureThreshold > 0 {
		bc.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		bc.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}

	rc := DefaultRetryConfig()
	if c.StoreRetries > 0 {
		rc.Attempts = c.StoreRetries
	}
	if c.InitialBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		rc.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.Multiplier > 0 {
		rc.Multiplier = c.Multiplier
	}
	return bc, rc
}
