// Package input consumes raw evdev events from a granted input descriptor
// while holding an exclusive grab on it.
package input

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/breeze-rmm/seatlease/internal/logging"
)

var log = logging.L("input")

// readBatch is how many events one read asks for.
const readBatch = 64

// Device is the descriptor-level control surface of an evdev node.
type Device interface {
	Read(p []byte) (int, error)
	SetNonblock(nonblocking bool) error
	Grab(exclusive bool) error
}

// LeasedFD lends out a descriptor owned by someone else for the duration
// of one call. *sessionbroker.Lease implements it.
type LeasedFD interface {
	WithFD(fn func(fd int) error) error
}

// Grabber owns the exclusive grab on an input device. The grab must be
// dropped with Ungrab before the device lease is released, or the device
// stays unusable for every other consumer.
type Grabber struct {
	dev Device
	buf []byte

	mu          sync.Mutex
	nonblocking bool
	grabbed     bool
	grabDone    bool // the grab is taken at most once
}

// Open wraps dev.
func Open(dev Device) *Grabber {
	return &Grabber{dev: dev, buf: make([]byte, readBatch*eventSize)}
}

// SetNonblocking puts the descriptor in non-blocking mode. PollEvents
// refuses to run before this succeeds.
func (g *Grabber) SetNonblocking() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nonblocking {
		return nil
	}
	if err := g.dev.SetNonblock(true); err != nil {
		return fmt.Errorf("input: set non-blocking: %w", err)
	}
	g.nonblocking = true
	return nil
}

// GrabExclusive takes the device away from every other reader, including
// the console. Only the first call issues the grab.
func (g *Grabber) GrabExclusive() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.grabDone {
		return nil
	}
	if err := g.dev.Grab(true); err != nil {
		return fmt.Errorf("%w: %w", ErrGrabFailed, err)
	}
	g.grabDone = true
	g.grabbed = true
	log.Info("input device grabbed")
	return nil
}

// Grabbed reports whether the exclusive grab is currently held.
func (g *Grabber) Grabbed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grabbed
}

// Ungrab drops the exclusive grab. Calling it without a grab, or twice, is
// a no-op.
func (g *Grabber) Ungrab() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.grabbed {
		return nil
	}
	g.grabbed = false
	if err := g.dev.Grab(false); err != nil {
		return fmt.Errorf("input: ungrab: %w", err)
	}
	log.Info("input device released from grab")
	return nil
}

// PollEvents drains every event currently queued on the device and
// returns them in the order the device reported them. An empty result
// means nothing was pending; it never waits for input.
func (g *Grabber) PollEvents() ([]Event, error) {
	g.mu.Lock()
	nonblocking := g.nonblocking
	g.mu.Unlock()
	if !nonblocking {
		return nil, ErrBlockingRead
	}

	var events []Event
	for {
		n, err := g.dev.Read(g.buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return events, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return events, fmt.Errorf("input: read: %w", err)
		}
		if n == 0 {
			return events, nil
		}
		batch, err := decodeEvents(g.buf[:n])
		if err != nil {
			return events, err
		}
		events = append(events, batch...)
	}
}

// Run drains events every interval until the Escape key is pressed, ctx is
// done, or the device fails. Events are handed to forward in device order;
// the Escape press and anything after it in the same drain are not.
// Run returns nil on Escape and the context's cause on cancellation.
func (g *Grabber) Run(ctx context.Context, interval time.Duration, forward func(Event)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		events, err := g.PollEvents()
		for _, ev := range events {
			if IsTerminate(ev) {
				log.Info("escape pressed")
				return nil
			}
			if forward != nil {
				forward(ev)
			}
		}
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
		}
	}
}
