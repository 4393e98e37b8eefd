package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/seatlease/internal/input"
	"github.com/breeze-rmm/seatlease/internal/sessionbroker"
	"github.com/breeze-rmm/seatlease/internal/sysinfo"
)

type probeReport struct {
	Session     string       `yaml:"session"`
	SessionErr  string       `yaml:"session_error,omitempty"`
	GPU         string       `yaml:"gpu"`
	InputDevice string       `yaml:"input_device"`
	InputNumber string       `yaml:"input_number,omitempty"`
	InputErr    string       `yaml:"input_error,omitempty"`
	Host        sysinfo.Host `yaml:"host"`
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show what a run would request, without contacting the broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()

		report := probeReport{
			GPU:         sessionbroker.DeviceNumber{Major: cfg.GPUMajor, Minor: cfg.GPUMinor}.String(),
			InputDevice: cfg.InputDevice,
			Host:        sysinfo.Collect(context.Background()),
		}
		if id, err := sessionbroker.ResolveCurrentSession(); err != nil {
			report.SessionErr = err.Error()
		} else {
			report.Session = id
		}
		if dev, err := input.DeviceNumberOf(cfg.InputDevice); err != nil {
			report.InputErr = err.Error()
		} else {
			report.InputNumber = dev.String()
		}

		out, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
