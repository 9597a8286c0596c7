package models

import "time"

// Config controls the display policy. It can be overridden by remote configuration.
type Config struct {
	Enabled bool `json:"enabled"`

	// MaxMessagesPerSession is enforced as a per-day cap shared by all sessions of a subject.
	MaxMessagesPerSession int   `json:"maxMessagesPerSession"`
	DisplayInterval       int64 `json:"displayInterval"` // milliseconds, advisory
	DebugMode             bool  `json:"debugMode"`
}

// DefaultConfig returns the built-in policy configuration
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		MaxMessagesPerSession: 3,
		DisplayInterval:       30000,
		DebugMode:             false,
	}
}

// DisplayIntervalDuration returns DisplayInterval as a duration
func (c Config) DisplayIntervalDuration() time.Duration {
	return time.Duration(c.DisplayInterval) * time.Millisecond
}
