package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DRMMajor is the character device class of DRM card nodes.
const DRMMajor = 226

type Config struct {
	WatchdogTimeoutSeconds int    `mapstructure:"watchdog_timeout_seconds" yaml:"watchdog_timeout_seconds"`
	TeardownGraceSeconds   int    `mapstructure:"teardown_grace_seconds" yaml:"teardown_grace_seconds"`
	PollIntervalMs         int    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	GPUMajor               uint32 `mapstructure:"gpu_major" yaml:"gpu_major"`
	GPUMinor               uint32 `mapstructure:"gpu_minor" yaml:"gpu_minor"`
	InputDevice            string `mapstructure:"input_device" yaml:"input_device"`
	FillColor              string `mapstructure:"fill_color" yaml:"fill_color"`
	ForceControl           bool   `mapstructure:"force_control" yaml:"force_control"`
	LogLevel               string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat              string `mapstructure:"log_format" yaml:"log_format"`
	LogFile                string `mapstructure:"log_file" yaml:"log_file,omitempty"`
	LogKeep                int    `mapstructure:"log_keep" yaml:"log_keep"`
}

func Default() *Config {
	return &Config{
		WatchdogTimeoutSeconds: 20,
		TeardownGraceSeconds:   2,
		PollIntervalMs:         10,
		GPUMajor:               DRMMajor,
		GPUMinor:               0,
		InputDevice:            "/dev/input/event0",
		FillColor:              "3399ff",
		LogLevel:               "info",
		LogFormat:              "text",
		LogKeep:                3,
	}
}

// Load reads cfgFile (or seatlease.yaml from the default search path) on
// top of Default. SEATLEASE_* environment variables override file values.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("seatlease")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SEATLEASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindDefaults registers every key so AutomaticEnv can see keys that are
// absent from the config file.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("watchdog_timeout_seconds", cfg.WatchdogTimeoutSeconds)
	v.SetDefault("teardown_grace_seconds", cfg.TeardownGraceSeconds)
	v.SetDefault("poll_interval_ms", cfg.PollIntervalMs)
	v.SetDefault("gpu_major", cfg.GPUMajor)
	v.SetDefault("gpu_minor", cfg.GPUMinor)
	v.SetDefault("input_device", cfg.InputDevice)
	v.SetDefault("fill_color", cfg.FillColor)
	v.SetDefault("force_control", cfg.ForceControl)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_keep", cfg.LogKeep)
}

// Render returns the config as YAML.
func (c *Config) Render() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.WatchdogTimeoutSeconds) * time.Second
}

func (c *Config) TeardownGrace() time.Duration {
	return time.Duration(c.TeardownGraceSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// FillRGB parses FillColor ("3399ff", "#3399FF" or "0x3399ff") into 0x00RRGGBB.
func (c *Config) FillRGB() (uint32, error) {
	s := strings.TrimSpace(c.FillColor)
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 6 {
		return 0, fmt.Errorf("fill_color %q must be six hex digits", c.FillColor)
	}
	rgb, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("fill_color %q: %w", c.FillColor, err)
	}
	return uint32(rgb), nil
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		if _, err := os.Stat(filepath.Join(dir, "seatlease")); err == nil {
			return filepath.Join(dir, "seatlease")
		}
	}
	return "/etc/seatlease"
}
