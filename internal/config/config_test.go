package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("explicit config file that does not exist should fail")
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seatlease.yaml")
	content := "watchdog_timeout_seconds: 5\ninput_device: /dev/input/event3\nforce_control: true\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WatchdogTimeout() != 5*time.Second {
		t.Fatalf("WatchdogTimeout() = %v, want 5s", cfg.WatchdogTimeout())
	}
	if cfg.InputDevice != "/dev/input/event3" {
		t.Fatalf("InputDevice = %q", cfg.InputDevice)
	}
	if !cfg.ForceControl {
		t.Fatal("ForceControl should be true")
	}
	if cfg.GPUMajor != DRMMajor || cfg.PollInterval() != 10*time.Millisecond {
		t.Fatalf("defaults not kept: gpu_major=%d poll=%v", cfg.GPUMajor, cfg.PollInterval())
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seatlease.yaml")
	if err := os.WriteFile(path, []byte("poll_interval_ms: 25\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SEATLEASE_INPUT_DEVICE", "/dev/input/event9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InputDevice != "/dev/input/event9" {
		t.Fatalf("InputDevice = %q, want env override", cfg.InputDevice)
	}
	if cfg.PollIntervalMs != 25 {
		t.Fatalf("PollIntervalMs = %d, want 25", cfg.PollIntervalMs)
	}
}

func TestFillRGBAcceptsPrefixes(t *testing.T) {
	for _, s := range []string{"3399ff", "#3399FF", "0x3399ff"} {
		cfg := Default()
		cfg.FillColor = s
		rgb, err := cfg.FillRGB()
		if err != nil {
			t.Fatalf("FillRGB(%q): %v", s, err)
		}
		if rgb != 0x3399FF {
			t.Fatalf("FillRGB(%q) = %#x, want 0x3399ff", s, rgb)
		}
	}
}

func TestFillRGBRejectsShortValues(t *testing.T) {
	cfg := Default()
	cfg.FillColor = "fff"
	if _, err := cfg.FillRGB(); err == nil {
		t.Fatal("three digit colour should be rejected")
	}
}

func TestRenderYAML(t *testing.T) {
	out, err := Default().Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	s := string(out)
	for _, want := range []string{"watchdog_timeout_seconds: 20", "gpu_major: 226", "input_device: /dev/input/event0"} {
		if !strings.Contains(s, want) {
			t.Fatalf("rendered config missing %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "log_file") {
		t.Fatalf("empty log_file should be omitted:\n%s", s)
	}
}
