// Package correlation matches executed emulation steps against SIEM alerts
// and aggregates the outcome into a coverage report.
package correlation

import "time"

// Config is the immutable tuning of a correlation engine.
type Config struct {
	// Index is the alert index pattern searched by both tiers.
	Index string
	// StepWindow is the half-width of the window searched around each step.
	StepWindow time.Duration
	// MaxConcurrency bounds in-flight step searches.
	MaxConcurrency int
	// SearchTimeout bounds a single alert store call.
	SearchTimeout time.Duration
	// OperationTimeout bounds a whole correlation.
	OperationTimeout time.Duration
	// DefaultWindow is the operation span assumed when start or end is missing.
	DefaultWindow time.Duration
	// FallbackWindow is the half-width of each fallback hint fetch.
	FallbackWindow time.Duration
	// FallbackHintSize caps each hint fetch.
	FallbackHintSize int
	// FallbackRangeSize caps the full-range fetch.
	FallbackRangeSize int
}

// DefaultConfig returns the settings used against stock Wazuh deployments.
func DefaultConfig() Config {
	return Config{
		Index:             "wazuh-alerts-*",
		StepWindow:        180 * time.Second,
		MaxConcurrency:    4,
		SearchTimeout:     30 * time.Second,
		OperationTimeout:  5 * time.Minute,
		DefaultWindow:     3 * time.Hour,
		FallbackWindow:    5 * time.Minute,
		FallbackHintSize:  200,
		FallbackRangeSize: 2000,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Index == "" {
		c.Index = def.Index
	}
	if c.StepWindow <= 0 {
		c.StepWindow = def.StepWindow
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = def.MaxConcurrency
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = def.SearchTimeout
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = def.OperationTimeout
	}
	if c.DefaultWindow <= 0 {
		c.DefaultWindow = def.DefaultWindow
	}
	if c.FallbackWindow <= 0 {
		c.FallbackWindow = def.FallbackWindow
	}
	if c.FallbackHintSize <= 0 {
		c.FallbackHintSize = def.FallbackHintSize
	}
	if c.FallbackRangeSize <= 0 {
		c.FallbackRangeSize = def.FallbackRangeSize
	}
	return c
}
