package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/seatlease/internal/broker"
	"github.com/breeze-rmm/seatlease/internal/sessionbroker"
)

var watchSessions bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List logind sessions and whether seatlease could control them",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()

		client, err := broker.Connect()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		det := sessionbroker.NewDetector(client)
		sessions, err := det.ListSessions(ctx)
		if err != nil {
			return err
		}
		printSessions(sessions)

		if !watchSessions {
			return nil
		}
		for ev := range det.WatchSessions(ctx) {
			fmt.Printf("%s\t%s\t%s\t%s\n", ev.Type, ev.Session.ID, ev.Session.Username, ev.Session.Seat)
		}
		return nil
	},
}

func printSessions(sessions []sessionbroker.DetectedSession) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tUSER\tSEAT\tTTY\tTYPE\tCLASS\tSTATE\tCONTROLLABLE")
	for _, s := range sessions {
		vt := "-"
		if s.VTNr > 0 {
			vt = fmt.Sprintf("tty%d", s.VTNr)
		}
		seatName := s.Seat
		if seatName == "" {
			seatName = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			s.ID, s.Username, seatName, vt, s.Type, s.Class, s.State, s.Controllable())
	}
	w.Flush()
}

func init() {
	sessionsCmd.Flags().BoolVarP(&watchSessions, "watch", "w", false, "keep running and print logins and logouts")
	rootCmd.AddCommand(sessionsCmd)
}
