package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates errors that must stop startup from values
// that were auto-corrected.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// ValidateTiered checks the config. Out-of-range timings are clamped to
// safe values and reported as warnings; values that would make the run
// touch the wrong device are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	// Zero would never fire; anything past two minutes leaves the console
	// unusable for too long if the program hangs.
	if c.WatchdogTimeoutSeconds < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("watchdog_timeout_seconds %d is below minimum 1, clamping", c.WatchdogTimeoutSeconds))
		c.WatchdogTimeoutSeconds = 1
	} else if c.WatchdogTimeoutSeconds > 120 {
		r.Warnings = append(r.Warnings, fmt.Errorf("watchdog_timeout_seconds %d exceeds maximum 120, clamping", c.WatchdogTimeoutSeconds))
		c.WatchdogTimeoutSeconds = 120
	}

	if c.TeardownGraceSeconds < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("teardown_grace_seconds %d is below minimum 1, clamping", c.TeardownGraceSeconds))
		c.TeardownGraceSeconds = 1
	} else if c.TeardownGraceSeconds > 10 {
		r.Warnings = append(r.Warnings, fmt.Errorf("teardown_grace_seconds %d exceeds maximum 10, clamping", c.TeardownGraceSeconds))
		c.TeardownGraceSeconds = 10
	}

	if c.PollIntervalMs < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("poll_interval_ms %d is below minimum 1, clamping", c.PollIntervalMs))
		c.PollIntervalMs = 1
	} else if c.PollIntervalMs > 1000 {
		r.Warnings = append(r.Warnings, fmt.Errorf("poll_interval_ms %d exceeds maximum 1000, clamping", c.PollIntervalMs))
		c.PollIntervalMs = 1000
	}

	if c.GPUMajor != DRMMajor {
		r.Warnings = append(r.Warnings, fmt.Errorf("gpu_major %d is not the DRM class %d", c.GPUMajor, DRMMajor))
	}

	if c.InputDevice == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("input_device is empty"))
	} else if !filepath.IsAbs(c.InputDevice) {
		r.Fatals = append(r.Fatals, fmt.Errorf("input_device %q must be an absolute path", c.InputDevice))
	} else if !strings.HasPrefix(filepath.Clean(c.InputDevice), "/dev/input/") {
		r.Warnings = append(r.Warnings, fmt.Errorf("input_device %q is outside /dev/input", c.InputDevice))
	}

	if _, err := c.FillRGB(); err != nil {
		r.Warnings = append(r.Warnings, fmt.Errorf("%w, using 3399ff", err))
		c.FillColor = "3399ff"
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.LogFile != "" && !filepath.IsAbs(c.LogFile) {
		r.Fatals = append(r.Fatals, fmt.Errorf("log_file %q must be an absolute path", c.LogFile))
	}

	if c.LogKeep < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_keep %d is negative, clamping", c.LogKeep))
		c.LogKeep = 0
	}

	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}

	return r
}
