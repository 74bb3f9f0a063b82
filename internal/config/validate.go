package config

import (
	"fmt"
	"log/slog"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Out-of-range values that would stall or spin the pollers are clamped.
// Errors are logged as warnings but do not prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	c.PollIntervalMs = clamp(&errs, "poll_interval_ms", c.PollIntervalMs, 100, 60000)
	c.StatsIntervalMs = clamp(&errs, "stats_interval_ms", c.StatsIntervalMs, 100, 60000)
	c.TerminationTimeoutSec = clamp(&errs, "termination_timeout_sec", c.TerminationTimeoutSec, 1, 60)
	c.LaunchGraceMs = clamp(&errs, "launch_grace_ms", c.LaunchGraceMs, 0, 5000)
	c.MaxConcurrentRequests = clamp(&errs, "max_concurrent_requests", c.MaxConcurrentRequests, 1, 64)
	c.RequestQueueSize = clamp(&errs, "request_queue_size", c.RequestQueueSize, 1, 1024)
	c.LogMaxSizeMB = clamp(&errs, "log_max_size_mb", c.LogMaxSizeMB, 1, 1024)
	c.LogMaxFiles = clamp(&errs, "log_max_files", c.LogMaxFiles, 1, 100)

	patterns := make([]string, 0, len(c.ApplicationPatterns))
	for _, p := range c.ApplicationPatterns {
		p = strings.TrimSpace(p)
		if p == "" {
			errs = append(errs, fmt.Errorf("application_patterns contains an empty pattern, ignoring"))
			continue
		}
		patterns = append(patterns, p)
	}
	c.ApplicationPatterns = patterns

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}

// FillUnset replaces zero or negative intervals and pool sizes with their
// defaults and returns the keys it changed. Unlike Validate it keeps small
// positive values as they are.
func (c *Config) FillUnset() []string {
	d := Default()
	var keys []string
	fill := func(key string, v *int, def int) {
		if *v <= 0 {
			*v = def
			keys = append(keys, key)
		}
	}
	fill("poll_interval_ms", &c.PollIntervalMs, d.PollIntervalMs)
	fill("stats_interval_ms", &c.StatsIntervalMs, d.StatsIntervalMs)
	fill("termination_timeout_sec", &c.TerminationTimeoutSec, d.TerminationTimeoutSec)
	fill("max_concurrent_requests", &c.MaxConcurrentRequests, d.MaxConcurrentRequests)
	fill("request_queue_size", &c.RequestQueueSize, d.RequestQueueSize)
	return keys
}

func clamp(errs *[]error, key string, value, lo, hi int) int {
	if value < lo {
		*errs = append(*errs, fmt.Errorf("%s %d is below minimum %d, clamping", key, value, lo))
		return lo
	}
	if value > hi {
		*errs = append(*errs, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, value, hi))
		return hi
	}
	return value
}
