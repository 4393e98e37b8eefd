// Package watchdog bounds the lifetime of a run. Once armed, the deadline
// cannot be extended or rearmed; when it expires the armed context is
// cancelled with ErrWatchdogFired and Fired is closed. Nothing else happens
// on the timer goroutine, so whoever waits on Fired performs teardown.
package watchdog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/breeze-rmm/seatlease/internal/logging"
)

var log = logging.L("watchdog")

var (
	ErrWatchdogFired = errors.New("watchdog: deadline expired")
	ErrRearm         = errors.New("watchdog: already armed")
)

// State is the watchdog lifecycle position.
type State int

const (
	Idle State = iota
	Armed
	Fired
	Disarmed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	case Disarmed:
		return "disarmed"
	default:
		return "unknown"
	}
}

// Watchdog is a one-shot process deadline.
type Watchdog struct {
	timeout time.Duration

	mu     sync.Mutex
	state  State
	timer  *time.Timer
	cancel context.CancelCauseFunc
	fired  chan struct{}
}

// New returns an idle watchdog that will fire timeout after Arm.
func New(timeout time.Duration) *Watchdog {
	return &Watchdog{timeout: timeout, fired: make(chan struct{})}
}

// Timeout returns the configured deadline.
func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// Arm starts the deadline and returns a context derived from parent that is
// cancelled with ErrWatchdogFired when it expires. It may be called once.
func (w *Watchdog) Arm(parent context.Context) (context.Context, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Idle {
		return nil, ErrRearm
	}

	ctx, cancel := context.WithCancelCause(parent)
	w.cancel = cancel
	w.state = Armed
	w.timer = time.AfterFunc(w.timeout, w.expire)
	log.Debug("watchdog armed", "timeout", w.timeout.String())
	return ctx, nil
}

func (w *Watchdog) expire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Armed {
		return
	}
	w.state = Fired
	w.cancel(ErrWatchdogFired)
	close(w.fired)
}

// Fired is closed when the deadline expires. It is never closed for a
// watchdog that was disarmed first.
func (w *Watchdog) Fired() <-chan struct{} {
	return w.fired
}

// Disarm stops the deadline. It reports false if the watchdog already
// fired, in which case the caller must let the emergency path finish.
// Disarming an idle or already disarmed watchdog returns true.
func (w *Watchdog) Disarm() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case Fired:
		return false
	case Armed:
		w.timer.Stop()
		w.cancel(context.Canceled)
	}
	w.state = Disarmed
	return true
}

// State returns the current lifecycle position.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
