package resilience

import "time"

// PolicyFromMillis builds a Policy from config values. Zero values keep
// the defaults.
func PolicyFromMillis(maxAttempts, initialBackoffMs, maxBackoffMs int) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return p
}

// BreakerFromSeconds builds a BreakerConfig from config values.
func BreakerFromSeconds(name string, failureThreshold, cooldownSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig(name)
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}
