package resilience

import "time"

const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// A store that backs per-tick bookkeeping should be skipped quickly
	// and retried soon.
	StoreThreshold         = 3
	StoreResetTimeout      = 15 * time.Second
	StoreHalfOpenSuccesses = 1
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// StoreConfig returns settings for a best-effort store wrapper.
func StoreConfig(name string) Config {
	return Config{
		Name:              name,
		Threshold:         StoreThreshold,
		ResetTimeout:      StoreResetTimeout,
		HalfOpenSuccesses: StoreHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
