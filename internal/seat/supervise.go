package seat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/breeze-rmm/seatlease/internal/health"
	"github.com/breeze-rmm/seatlease/internal/logging"
	"github.com/breeze-rmm/seatlease/internal/watchdog"
)

// Exit statuses.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// Supervise runs r under wd and returns the process exit status. If the
// watchdog fires first, teardown runs here, bounded by the teardown grace
// window, whether or not Run ever returns. Either way the health board is
// checked afterwards and anything it still shows as held fails the run.
func (r *Runner) Supervise(parent context.Context, wd *watchdog.Watchdog) int {
	ctx, err := wd.Arm(parent)
	if err != nil {
		log.Error("watchdog unavailable", logging.Err(err))
		return ExitFailure
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		if !wd.Disarm() {
			return r.settle(r.emergency(wd))
		}
		if err != nil {
			fmt.Fprintln(r.deps.Stderr, Describe(err))
			return r.settle(ExitFailure)
		}
		return r.settle(ExitOK)
	case <-wd.Fired():
		return r.settle(r.emergency(wd))
	}
}

// settle turns code into a failure when the board shows a resource that
// teardown never handed back, or a failure nobody reported.
func (r *Runner) settle(code int) int {
	overall := r.monitor.Overall()
	leaked := r.monitor.Leaked()
	log.Info("resource board settled", "overall", string(overall), "leaked", len(leaked))

	if len(leaked) > 0 {
		fmt.Fprintf(r.deps.Stderr, "resources still held after teardown: %s\n", strings.Join(leaked, ", "))
		log.Error("resources leaked", "resources", r.monitor)
		return ExitFailure
	}
	if overall == health.Failed {
		return ExitFailure
	}
	return code
}

func (r *Runner) emergency(wd *watchdog.Watchdog) int {
	fmt.Fprintln(r.deps.Stderr, "\nSAFETY ALARM TRIGGERED: Program timed out. Releasing hardware...")
	log.Error("watchdog fired, forcing teardown", "timeout", wd.Timeout().String())

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TeardownGrace())
	defer cancel()
	steps, err := r.coord.Release(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && len(steps) == 0:
		fmt.Fprintln(r.deps.Stderr, "teardown did not finish within the grace window")
	case err != nil:
		fmt.Fprintf(r.deps.Stderr, "released with errors: %v\n", err)
	default:
		fmt.Fprintf(r.deps.Stderr, "released %d resources\n", len(steps))
	}
	log.Info("emergency teardown finished", "steps", len(steps), "resources", r.monitor)
	return ExitFailure
}
