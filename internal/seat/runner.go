// Package seat sequences one run: acquire every privileged resource in
// order, drive the display and input until Escape, then hand everything
// back through the release coordinator.
package seat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/breeze-rmm/seatlease/internal/broker"
	"github.com/breeze-rmm/seatlease/internal/config"
	"github.com/breeze-rmm/seatlease/internal/display"
	"github.com/breeze-rmm/seatlease/internal/drm"
	"github.com/breeze-rmm/seatlease/internal/health"
	"github.com/breeze-rmm/seatlease/internal/input"
	"github.com/breeze-rmm/seatlease/internal/logging"
	"github.com/breeze-rmm/seatlease/internal/release"
	"github.com/breeze-rmm/seatlease/internal/sessionbroker"
	"github.com/breeze-rmm/seatlease/internal/sysinfo"
)

var log = logging.L("seat")

// Resource names on the health board.
const (
	resBroker  = "broker"
	resSession = "session"
	resGPU     = "gpu"
	resDisplay = "display"
	resInput   = "input"
	resGrab    = "grab"
)

var stepResource = map[release.Step]string{
	release.StepUngrab:          resGrab,
	release.StepInputLease:      resInput,
	release.StepCloseSurface:    resDisplay,
	release.StepGPULease:        resGPU,
	release.StepReleaseControl:  resSession,
	release.StepCloseConnection: resBroker,
}

// Bus is the broker connection a run owns.
type Bus interface {
	broker.Caller
	Close() error
}

// Deps are the system entry points a Runner uses. Zero fields fall back to
// the real implementations.
type Deps struct {
	Dial           func() (Bus, error)
	ResolveSession func() (string, error)
	OpenCard       func(fd int) drm.Device
	OpenInput      func(lease input.LeasedFD) *input.Grabber
	InputNumber    func(path string) (sessionbroker.DeviceNumber, error)
	Host           func(ctx context.Context) sysinfo.Host

	Stdout io.Writer
	Stderr io.Writer
}

func (d *Deps) fill() {
	if d.Dial == nil {
		d.Dial = func() (Bus, error) {
			c, err := broker.Connect()
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if d.ResolveSession == nil {
		d.ResolveSession = sessionbroker.ResolveCurrentSession
	}
	if d.OpenCard == nil {
		d.OpenCard = func(fd int) drm.Device { return drm.Open(fd) }
	}
	if d.OpenInput == nil {
		d.OpenInput = input.OpenLeased
	}
	if d.InputNumber == nil {
		d.InputNumber = input.DeviceNumberOf
	}
	if d.Host == nil {
		d.Host = sysinfo.Collect
	}
	if d.Stdout == nil {
		d.Stdout = os.Stdout
	}
	if d.Stderr == nil {
		d.Stderr = os.Stderr
	}
}

// Runner performs a single run. It is not reusable.
type Runner struct {
	cfg     *config.Config
	deps    Deps
	coord   *release.Coordinator
	monitor *health.Monitor

	// set during acquisition, read by the event loop
	grabber *input.Grabber
}

func NewRunner(cfg *config.Config, deps Deps) *Runner {
	deps.fill()
	r := &Runner{cfg: cfg, deps: deps, monitor: health.NewMonitor()}
	r.coord = release.New(release.Options{
		LateGrace: cfg.TeardownGrace(),
		Observe:   r.observe,
	})
	return r
}

// Monitor exposes the health board of the run.
func (r *Runner) Monitor() *health.Monitor { return r.monitor }

// Coordinator exposes the release record of the run.
func (r *Runner) Coordinator() *release.Coordinator { return r.coord }

func (r *Runner) observe(step release.Step, err error) {
	name := stepResource[step]
	if err != nil {
		r.monitor.Update(name, health.Failed, err.Error())
		return
	}
	r.monitor.Update(name, health.Released, "")
}

// Run acquires everything, runs the event loop until Escape, and tears
// down. A failure at any point skips straight to teardown; the returned
// error joins the run failure with any teardown failure.
func (r *Runner) Run(ctx context.Context) (err error) {
	// host collection shells out and reads /proc, so it runs under ctx
	log.Info("starting run", "host", r.deps.Host(ctx),
		"watchdog", r.cfg.WatchdogTimeout().String(), "input", r.cfg.InputDevice)

	defer func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.TeardownGrace())
		defer cancel()
		if _, relErr := r.coord.Release(tctx); relErr != nil {
			err = errors.Join(err, relErr)
		}
		log.Info("run finished", "resources", r.monitor)
	}()

	if err := r.acquire(ctx); err != nil {
		log.Error("acquisition failed", logging.Err(err))
		return err
	}

	fmt.Fprintf(r.deps.Stdout, "Input active. Press ESC to exit (safety timeout in %s).\n", r.cfg.WatchdogTimeout())
	if err := r.grabber.Run(ctx, r.cfg.PollInterval(), r.forward); err != nil {
		return err
	}
	fmt.Fprintln(r.deps.Stdout, "Escape pressed. Exiting safely...")
	return nil
}

// step runs one acquisition stage unless ctx is already done.
func (r *Runner) step(ctx context.Context, name string, fn func() error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	start := time.Now()
	if err := fn(); err != nil {
		if !errors.Is(err, release.ErrTeardownStarted) {
			r.monitor.Update(name, health.Failed, err.Error())
		}
		return err
	}
	log.Debug("stage done", logging.KeyStep, name, logging.KeyDurationMs, time.Since(start).Milliseconds())
	return nil
}

func (r *Runner) acquire(ctx context.Context) error {
	var (
		bus     Bus
		sess    *sessionbroker.Session
		gpu     *sessionbroker.Lease
		card    drm.Device
		surface *display.Surface
		keys    *sessionbroker.Lease
	)

	stages := []struct {
		name string
		fn   func() error
	}{
		{resBroker, func() (err error) {
			if bus, err = r.deps.Dial(); err != nil {
				return err
			}
			return r.hold(resBroker, health.Held, "", func() error { return r.coord.TrackConnection(bus) })
		}},
		{resSession, func() error {
			id, err := r.deps.ResolveSession()
			if err != nil {
				return err
			}
			if sess, err = sessionbroker.Lookup(ctx, bus, id); err != nil {
				return err
			}
			// on the board before the request goes out: an unanswered
			// TakeControl is still released by teardown
			if err := r.hold(resSession, health.Held, id, func() error { return r.coord.TrackSession(sess) }); err != nil {
				return err
			}
			return sess.TakeControl(ctx, r.cfg.ForceControl)
		}},
		{resGPU, func() (err error) {
			dev := sessionbroker.DeviceNumber{Major: r.cfg.GPUMajor, Minor: r.cfg.GPUMinor}
			if gpu, err = sess.TakeDevice(ctx, dev); err != nil {
				return err
			}
			status, detail := leaseStatus(gpu)
			if err := r.hold(resGPU, status, detail, func() error { return r.coord.TrackGPULease(gpu) }); err != nil {
				return err
			}
			card = r.deps.OpenCard(gpu.Fd())
			return nil
		}},
		{resDisplay, func() error {
			out, err := display.DiscoverOutput(card)
			if err != nil {
				return err
			}
			fmt.Fprintf(r.deps.Stdout, "Display: %dx%d @ %dHz\n", out.Mode.HDisplay, out.Mode.VDisplay, out.Mode.VRefresh)
			if surface, err = display.Allocate(card, out); err != nil {
				return err
			}
			if err := r.hold(resDisplay, health.Held, out.Mode.String(), func() error { return r.coord.TrackSurface(surface) }); err != nil {
				return err
			}

			rgb, err := r.cfg.FillRGB()
			if err != nil {
				return err
			}
			if err := surface.Fill(rgb); err != nil {
				return err
			}
			return surface.Present()
		}},
		{resInput, func() error {
			dev, err := r.deps.InputNumber(r.cfg.InputDevice)
			if err != nil {
				return err
			}
			log.Info("input device detected", "path", r.cfg.InputDevice, logging.KeyDevice, dev.String())
			if keys, err = sess.TakeDevice(ctx, dev); err != nil {
				return err
			}
			status, detail := leaseStatus(keys)
			return r.hold(resInput, status, detail, func() error { return r.coord.TrackInputLease(keys) })
		}},
		{resGrab, func() error {
			// the grabber borrows the descriptor from the lease, so a
			// teardown that already released it fails the grab instead of
			// reaching a closed or reused descriptor
			g := r.deps.OpenInput(keys)
			if err := g.SetNonblocking(); err != nil {
				return err
			}
			if err := g.GrabExclusive(); err != nil {
				return err
			}
			if err := r.hold(resGrab, health.Held, "", func() error { return r.coord.TrackGrab(g) }); err != nil {
				return err
			}
			r.grabber = g
			return nil
		}},
	}

	for _, s := range stages {
		if err := r.step(ctx, s.name, s.fn); err != nil {
			return err
		}
	}
	return nil
}

// hold puts a fresh resource on the board, then in the release record.
// In that order teardown's verdict on the board is always the last word.
func (r *Runner) hold(name string, status health.Status, detail string, track func() error) error {
	r.monitor.Update(name, status, detail)
	err := track()
	switch {
	case err == nil:
	case err == release.ErrTeardownStarted: //nolint:errorlint // joined means the late release failed too
		r.monitor.Update(name, health.Released, "released on arrival")
	default:
		r.monitor.Update(name, health.Failed, err.Error())
	}
	return err
}

func leaseStatus(l *sessionbroker.Lease) (health.Status, string) {
	if l.Paused {
		return health.Paused, "granted while session inactive"
	}
	return health.Held, l.Device.String()
}

func (r *Runner) forward(ev input.Event) {
	if ev.Type != input.EvKey {
		log.Debug("input event", "type", ev.Type, "code", ev.Code, "value", ev.Value)
		return
	}
	log.Info("key event", "code", ev.Code, "value", ev.Value)
	fmt.Fprintf(r.deps.Stdout, "INPUT: Code=%d Val=%d\n", ev.Code, ev.Value)
}
