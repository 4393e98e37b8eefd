package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/seatlease/internal/seat"
	"github.com/breeze-rmm/seatlease/internal/watchdog"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Take the session's display and keyboard until ESC",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		runner := seat.NewRunner(cfg, seat.Deps{})
		code := runner.Supervise(ctx, watchdog.New(cfg.WatchdogTimeout()))
		stop()
		closeLog()
		if code != seat.ExitOK {
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
