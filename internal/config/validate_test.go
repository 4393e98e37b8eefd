package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredRelativeInputDeviceIsFatal(t *testing.T) {
	cfg := Default()
	cfg.InputDevice = "input/event0"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("relative input_device should be fatal")
	}
	found := false
	for _, err := range result.Fatals {
		if strings.Contains(err.Error(), "absolute path") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected absolute path error in fatals")
	}
}

func TestValidateTieredEmptyInputDeviceIsFatal(t *testing.T) {
	cfg := Default()
	cfg.InputDevice = ""
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("empty input_device should be fatal")
	}
}

func TestValidateTieredInputOutsideDevInputIsWarning(t *testing.T) {
	cfg := Default()
	cfg.InputDevice = "/tmp/event0"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("unusual input path should be a warning: %v", result.Fatals)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", result.Warnings)
	}
}

func TestValidateTieredWatchdogClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.WatchdogTimeoutSeconds = 0
	result := cfg.ValidateTiered()

	if result.HasFatals() {
		t.Fatalf("clamped watchdog should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped watchdog")
	}
	if cfg.WatchdogTimeoutSeconds != 1 {
		t.Fatalf("WatchdogTimeoutSeconds = %d, want 1 (clamped)", cfg.WatchdogTimeoutSeconds)
	}
}

func TestValidateTieredHighWatchdogClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.WatchdogTimeoutSeconds = 9999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped watchdog should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.WatchdogTimeoutSeconds != 120 {
		t.Fatalf("WatchdogTimeoutSeconds = %d, want 120 (clamped)", cfg.WatchdogTimeoutSeconds)
	}
}

func TestValidateTieredPollAndGraceClamping(t *testing.T) {
	cfg := Default()
	cfg.PollIntervalMs = 0
	cfg.TeardownGraceSeconds = 60
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped timings should be warnings: %v", result.Fatals)
	}
	if cfg.PollIntervalMs != 1 {
		t.Fatalf("PollIntervalMs = %d, want 1", cfg.PollIntervalMs)
	}
	if cfg.TeardownGraceSeconds != 10 {
		t.Fatalf("TeardownGraceSeconds = %d, want 10", cfg.TeardownGraceSeconds)
	}
}

func TestValidateTieredBadFillColorResets(t *testing.T) {
	cfg := Default()
	cfg.FillColor = "blue"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("bad fill color should not be fatal")
	}
	if cfg.FillColor != "3399ff" {
		t.Fatalf("FillColor = %q, want reset to 3399ff", cfg.FillColor)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.LogFile = "relative.log" // fatal
	cfg.LogFormat = "xml"        // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	cfg.LogFile = "/var/log/seatlease/run.log"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("valid config has warnings: %v", result.Warnings)
	}
}
