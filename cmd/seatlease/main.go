package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/breeze-rmm/seatlease/internal/config"
	"github.com/breeze-rmm/seatlease/internal/logging"
)

var (
	version   = "0.1.0"
	cfgFile   string
	logLevel  string
	logFormat string
)

// runLogMaxMB caps the per-run log file.
const runLogMaxMB = 10

var rootCmd = &cobra.Command{
	Use:   "seatlease",
	Short: "Take the display and keyboard of a login session through systemd-logind",
	Long: `seatlease asks systemd-logind for control of the current session, takes the
DRM card and a keyboard, paints the screen and echoes key presses until ESC is
pressed. A watchdog hands every device back if the run hangs.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("seatlease v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/seatlease/seatlease.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log_format (text, json)")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the config, applies flag overrides, validates it and
// initializes logging. The returned close function flushes the run log.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if result := cfg.ValidateTiered(); result.HasFatals() {
		return nil, nil, fmt.Errorf("invalid config: %w", errors.Join(result.Fatals...))
	}

	closeLog := func() {}
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		rl, err := logging.OpenRunLog(cfg.LogFile, runLogMaxMB, cfg.LogKeep)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = rl
		closeLog = func() {
			if n := rl.Dropped(); n > 0 {
				fmt.Fprintf(os.Stderr, "log file reached %d MB, %d writes dropped\n", runLogMaxMB, n)
			}
			rl.Close()
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, out,
		slog.String(logging.KeyRunID, uuid.NewString()),
		slog.String("version", version))

	return cfg, closeLog, nil
}
