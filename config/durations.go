package config

import "time"

// Durations are validated on load, so parsing here cannot fail for a loaded
// config. An empty value yields zero.

func (s ServerConfig) ReadTimeoutDuration() time.Duration  { return parseDuration(s.ReadTimeout) }
func (s ServerConfig) WriteTimeoutDuration() time.Duration { return parseDuration(s.WriteTimeout) }
func (s ServerConfig) IdleTimeoutDuration() time.Duration  { return parseDuration(s.IdleTimeout) }

func (h HealthCheckConfig) IntervalDuration() time.Duration { return parseDuration(h.Interval) }
func (h HealthCheckConfig) TimeoutDuration() time.Duration  { return parseDuration(h.Timeout) }

func (r RateLimitConfig) WindowDuration() time.Duration { return parseDuration(r.Window) }

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
