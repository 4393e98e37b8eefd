// Package release owns the record of every privileged resource a run holds
// and tears them down exactly once, newest first.
package release

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/breeze-rmm/seatlease/internal/logging"
)

var log = logging.L("release")

// ErrTeardownStarted is returned by the Track methods once Release has begun.
// The resource handed in has already been released when it is returned.
var ErrTeardownStarted = errors.New("release: teardown already started")

// Connection is the broker connection.
type Connection interface {
	Close() error
}

// Session is a controlled broker session.
type Session interface {
	ReleaseControl(ctx context.Context) error
}

// Lease is a broker-granted device.
type Lease interface {
	Release(ctx context.Context) error
}

// Surface is the mapped scanout buffer.
type Surface interface {
	Close() error
}

// Grab is an exclusive input grab.
type Grab interface {
	Ungrab() error
}

// Step names one teardown action.
type Step string

const (
	StepUngrab          Step = "ungrab-input"
	StepInputLease      Step = "release-input-lease"
	StepCloseSurface    Step = "close-surface"
	StepGPULease        Step = "release-gpu-lease"
	StepReleaseControl  Step = "release-control"
	StepCloseConnection Step = "close-connection"
)

// Held is a snapshot of which resources the record still owns.
type Held struct {
	Connection bool
	Session    bool
	GPULease   bool
	Surface    bool
	InputLease bool
	Grab       bool
}

// Any reports whether anything is still owned.
func (h Held) Any() bool {
	return h.Connection || h.Session || h.GPULease || h.Surface || h.InputLease || h.Grab
}

// Options tune a Coordinator.
type Options struct {
	// LateGrace bounds the release of a resource tracked after teardown
	// began. Defaults to two seconds.
	LateGrace time.Duration
	// Observe, when set, is called after every performed step.
	Observe func(step Step, err error)
}

// Coordinator is the single owner of teardown. All fields of the record
// are read and written under mu.
type Coordinator struct {
	opts Options

	mu      sync.Mutex
	conn    Connection
	session Session
	gpu     Lease
	surface Surface
	input   Lease
	grab    Grab

	started bool
	done    chan struct{}
	steps   []Step
	err     error
}

func New(opts Options) *Coordinator {
	if opts.LateGrace <= 0 {
		opts.LateGrace = 2 * time.Second
	}
	return &Coordinator{opts: opts, done: make(chan struct{})}
}

func (c *Coordinator) TrackConnection(conn Connection) error {
	return c.track(func() { c.conn = conn }, func(context.Context) error { return conn.Close() })
}

func (c *Coordinator) TrackSession(s Session) error {
	return c.track(func() { c.session = s }, s.ReleaseControl)
}

func (c *Coordinator) TrackGPULease(l Lease) error {
	return c.track(func() { c.gpu = l }, l.Release)
}

func (c *Coordinator) TrackSurface(s Surface) error {
	return c.track(func() { c.surface = s }, func(context.Context) error { return s.Close() })
}

func (c *Coordinator) TrackInputLease(l Lease) error {
	return c.track(func() { c.input = l }, l.Release)
}

func (c *Coordinator) TrackGrab(g Grab) error {
	return c.track(func() { c.grab = g }, func(context.Context) error { return g.Ungrab() })
}

func (c *Coordinator) track(record func(), releaseNow func(context.Context) error) error {
	c.mu.Lock()
	if !c.started {
		record()
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.LateGrace)
	defer cancel()
	if err := releaseNow(ctx); err != nil {
		log.Warn("late resource release failed", logging.Err(err))
		return errors.Join(ErrTeardownStarted, err)
	}
	log.Info("resource acquired after teardown began, released immediately")
	return ErrTeardownStarted
}

// Held returns a coherent snapshot of the record.
func (c *Coordinator) Held() Held {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Held{
		Connection: c.conn != nil,
		Session:    c.session != nil,
		GPULease:   c.gpu != nil,
		Surface:    c.surface != nil,
		InputLease: c.input != nil,
		Grab:       c.grab != nil,
	}
}

// Started reports whether Release has been called.
func (c *Coordinator) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Done is closed when the first Release finishes.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

type action struct {
	step Step
	live func() bool
	run  func(ctx context.Context) error
	drop func()
}

// Release tears down everything in the record in reverse acquisition
// order: ungrab, input lease, surface, GPU lease, session control, then
// the connection. Absent or already released resources are skipped and a
// failing step does not stop the ones after it. Only the first call does
// the work; concurrent and later callers wait for it, or for their own
// ctx, and receive the same steps and error.
func (c *Coordinator) Release(ctx context.Context) ([]Step, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		select {
		case <-c.done:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return append([]Step(nil), c.steps...), c.err
	}
	c.started = true
	actions := c.plan()
	c.mu.Unlock()

	start := time.Now()
	var (
		steps []Step
		errs  []error
	)
	for _, a := range actions {
		if a.live() {
			stepStart := time.Now()
			err := a.run(ctx)
			steps = append(steps, a.step)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", a.step, err))
				log.Warn("teardown step failed", logging.KeyStep, string(a.step), logging.Err(err))
			} else {
				log.Info("teardown step done", logging.KeyStep, string(a.step),
					logging.KeyDurationMs, time.Since(stepStart).Milliseconds())
			}
			if c.opts.Observe != nil {
				c.opts.Observe(a.step, err)
			}
		}
		c.mu.Lock()
		a.drop()
		c.mu.Unlock()
	}

	err := errors.Join(errs...)
	c.mu.Lock()
	c.steps = steps
	c.err = err
	close(c.done)
	c.mu.Unlock()

	log.Info("teardown complete", "steps", len(steps), "failed", len(errs),
		logging.KeyDurationMs, time.Since(start).Milliseconds())
	return append([]Step(nil), steps...), err
}

// plan must be called with mu held. The liveness checks run later,
// outside mu, since a resource may block while it is being acquired.
func (c *Coordinator) plan() []action {
	grab, input, surface, gpu, session, conn := c.grab, c.input, c.surface, c.gpu, c.session, c.conn
	return []action{
		{StepUngrab, func() bool { return grab != nil && grabbed(grab) }, func(context.Context) error { return grab.Ungrab() }, func() { c.grab = nil }},
		{StepInputLease, func() bool { return input != nil && held(input) }, func(ctx context.Context) error { return input.Release(ctx) }, func() { c.input = nil }},
		{StepCloseSurface, func() bool { return surface != nil && mapped(surface) }, func(context.Context) error { return surface.Close() }, func() { c.surface = nil }},
		{StepGPULease, func() bool { return gpu != nil && held(gpu) }, func(ctx context.Context) error { return gpu.Release(ctx) }, func() { c.gpu = nil }},
		{StepReleaseControl, func() bool { return session != nil && controlled(session) }, func(ctx context.Context) error { return session.ReleaseControl(ctx) }, func() { c.session = nil }},
		{StepCloseConnection, func() bool { return conn != nil && open(conn) }, func(context.Context) error { return conn.Close() }, func() { c.conn = nil }},
	}
}

// The checks below let a resource report that it is already released.
// Resources that cannot tell are assumed live.

func grabbed(g Grab) bool {
	if p, ok := g.(interface{ Grabbed() bool }); ok {
		return p.Grabbed()
	}
	return true
}

func held(l Lease) bool {
	if p, ok := l.(interface{ Held() bool }); ok {
		return p.Held()
	}
	return true
}

func mapped(s Surface) bool {
	if p, ok := s.(interface{ Mapped() bool }); ok {
		return p.Mapped()
	}
	return true
}

func controlled(s Session) bool {
	if p, ok := s.(interface{ MayHoldControl() bool }); ok {
		return p.MayHoldControl()
	}
	return true
}

func open(c Connection) bool {
	if p, ok := c.(interface{ Open() bool }); ok {
		return p.Open()
	}
	return true
}
