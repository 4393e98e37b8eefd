package sessionbroker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/breeze-rmm/seatlease/internal/broker"
	"github.com/breeze-rmm/seatlease/internal/logging"
)

var log = logging.L("sessionbroker")

// Session is the negotiated login session. Control must be taken before
// any device is requested and released before the broker connection closes.
type Session struct {
	ID   string
	Path dbus.ObjectPath

	caller  broker.Caller
	closeFD func(fd int) error

	mu         sync.Mutex
	controlled bool
	pending    bool // a TakeControl call went out and its outcome is unknown
	leases     int  // held leases granted through this session
}

// NewSession binds an already resolved session path to caller.
func NewSession(caller broker.Caller, id string, path dbus.ObjectPath) *Session {
	return &Session{
		ID:      id,
		Path:    path,
		caller:  caller,
		closeFD: unix.Close,
	}
}

// Lookup asks the broker for the object path of session id.
func Lookup(ctx context.Context, caller broker.Caller, id string) (*Session, error) {
	reply, err := caller.Call(ctx, broker.ManagerPath, broker.ManagerInterface, "GetSession", id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSessionLookupFailed, id, err)
	}

	var path dbus.ObjectPath
	if err := reply.Store(&path); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSessionLookupFailed, id, err)
	}
	if !path.IsValid() {
		return nil, fmt.Errorf("%w: %s: broker returned invalid path %q", ErrSessionLookupFailed, id, path)
	}

	log.Debug("session resolved", logging.KeySession, id, "path", string(path))
	return NewSession(caller, id, path), nil
}

// TakeControl makes this process the session controller. The broker
// refuses when another controller (usually a display server) already
// holds the session; that refusal is returned as ErrControlDenied.
//
// When the call fails without an answer from the broker (ctx ended, the
// connection dropped) control may have been granted anyway. The session then
// counts as possibly controlled and ReleaseControl still contacts the broker.
func (s *Session) TakeControl(ctx context.Context, force bool) error {
	// mu is not held across the call so teardown can inspect the session
	// while the broker is slow to answer.
	s.mu.Lock()
	if s.controlled {
		s.mu.Unlock()
		return nil
	}
	s.pending = true
	s.mu.Unlock()

	if _, err := s.caller.Call(ctx, string(s.Path), broker.SessionInterface, "TakeControl", force); err != nil {
		if broker.Code(err) == "" {
			// transport or context failure, not a refusal
			return fmt.Errorf("take control of session %s: %w", s.ID, err)
		}
		s.mu.Lock()
		s.pending = false
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrControlDenied, err)
	}

	s.mu.Lock()
	s.controlled = true
	s.pending = false
	s.mu.Unlock()
	log.Info("session control taken", logging.KeySession, s.ID, "force", force)
	return nil
}

// Controlled reports whether TakeControl succeeded and control has not
// been released since.
func (s *Session) Controlled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlled
}

// MayHoldControl reports whether the broker might consider this process
// the controller: control was granted, or a TakeControl call is in flight
// or ended without an answer.
func (s *Session) MayHoldControl() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlled || s.pending
}

// ReleaseControl hands control back to the broker. It is a no-op on a
// session that was never controlled or was already released. For a session
// whose TakeControl outcome is unknown the release is best effort: a broker
// refusal means control was never granted and is not an error.
func (s *Session) ReleaseControl(ctx context.Context) error {
	s.mu.Lock()
	if !s.controlled && !s.pending {
		s.mu.Unlock()
		return nil
	}
	confirmed := s.controlled
	s.controlled = false
	s.pending = false
	outstanding := s.leases
	s.mu.Unlock()

	if outstanding > 0 {
		log.Warn("releasing control with devices still held", logging.KeySession, s.ID, "leases", outstanding)
	}

	if _, err := s.caller.Call(ctx, string(s.Path), broker.SessionInterface, "ReleaseControl"); err != nil {
		if !confirmed && broker.Code(err) != "" {
			log.Debug("control was never granted", logging.KeySession, s.ID, logging.Err(err))
			return nil
		}
		return fmt.Errorf("release control of session %s: %w", s.ID, err)
	}
	log.Info("session control released", logging.KeySession, s.ID, "confirmed", confirmed)
	return nil
}

// TakeDevice requests exclusive access to the device dev. It fails with
// ErrNotControlled, without contacting the broker, when control has not
// been taken.
func (s *Session) TakeDevice(ctx context.Context, dev DeviceNumber) (*Lease, error) {
	s.mu.Lock()
	controlled := s.controlled
	s.mu.Unlock()
	if !controlled {
		return nil, &DeviceError{Device: dev, Err: ErrNotControlled}
	}

	reply, err := s.caller.Call(ctx, string(s.Path), broker.SessionInterface, "TakeDevice", dev.Major, dev.Minor)
	if err != nil {
		return nil, &DeviceError{Device: dev, Err: err}
	}

	var (
		fd     dbus.UnixFD
		paused bool
	)
	if err := reply.Store(&fd, &paused); err != nil {
		return nil, &DeviceError{Device: dev, Err: err}
	}
	if fd < 0 {
		return nil, &DeviceError{Device: dev, Err: errors.New("broker returned an invalid descriptor")}
	}

	s.mu.Lock()
	s.leases++
	s.mu.Unlock()

	l := &Lease{Device: dev, Paused: paused, session: s, fd: int(fd), held: true}
	dlog := logging.WithDevice(log, dev.Kind(), dev.Major, dev.Minor).With(logging.KeySession, s.ID)
	if paused {
		// The grant stands but the session is inactive; data may not flow
		// until it is resumed. Nothing here waits for that.
		dlog.Info("device granted while session is paused")
	} else {
		dlog.Info("device granted")
	}
	return l, nil
}

func (s *Session) releaseDevice(ctx context.Context, dev DeviceNumber) error {
	s.mu.Lock()
	s.leases--
	controlled := s.controlled
	s.mu.Unlock()

	// Without control the broker has already dropped our devices.
	if !controlled {
		return nil
	}
	if _, err := s.caller.Call(ctx, string(s.Path), broker.SessionInterface, "ReleaseDevice", dev.Major, dev.Minor); err != nil {
		return fmt.Errorf("release device %s: %w", dev, err)
	}
	return nil
}
