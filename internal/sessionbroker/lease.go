package sessionbroker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/breeze-rmm/seatlease/internal/logging"
)

// DeviceNumber identifies a character device by its (major, minor) pair.
type DeviceNumber struct {
	Major uint32
	Minor uint32
}

func (d DeviceNumber) String() string {
	return fmt.Sprintf("%d:%d", d.Major, d.Minor)
}

// Character device classes from Documentation/admin-guide/devices.txt.
const (
	inputMajor = 13
	drmMajor   = 226
)

// Kind names the device class for logs.
func (d DeviceNumber) Kind() string {
	switch d.Major {
	case drmMajor:
		return "drm"
	case inputMajor:
		return "input"
	}
	return "char"
}

// Lease is one exclusive device grant. It owns the descriptor the broker
// handed back. A lease is either held or released; released is final.
type Lease struct {
	Device DeviceNumber
	// Paused is set when the broker granted the device while the session
	// was inactive. It is recorded only.
	Paused bool

	session *Session

	mu   sync.Mutex
	fd   int
	held bool
}

// Fd returns the granted descriptor, or -1 once the lease is released.
func (l *Lease) Fd() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return -1
	}
	return l.fd
}

// WithFD runs fn on the granted descriptor while holding the lease, so a
// concurrent Release cannot close the descriptor (or let it be reused)
// underneath fn. Release waits for fn to return. fn must not block.
func (l *Lease) WithFD(fn func(fd int) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return fmt.Errorf("%w: %s", ErrLeaseReleased, l.Device)
	}
	return fn(l.fd)
}

// Held reports whether the lease has not been released.
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Release tells the broker the device is no longer needed and closes the
// descriptor. Only the first call has any effect; later calls return nil.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	l.held = false
	fd := l.fd
	l.fd = -1
	l.mu.Unlock()

	var errs []error
	if err := l.session.releaseDevice(ctx, l.Device); err != nil {
		errs = append(errs, err)
	}
	if err := l.session.closeFD(fd); err != nil {
		errs = append(errs, fmt.Errorf("close device %s: %w", l.Device, err))
	}

	logging.WithDevice(log, l.Device.Kind(), l.Device.Major, l.Device.Minor).
		Debug("device lease released", "errors", len(errs))
	return errors.Join(errs...)
}
