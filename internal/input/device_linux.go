//go:build linux

package input

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/breeze-rmm/seatlease/internal/sessionbroker"
)

// EVIOCGRAB is _IOW('E', 0x90, int).
const ioctlEVIOCGRAB = 0x40044590

// leasedDevice drives an evdev descriptor it does not own; closing it is
// the lease's job. Every operation borrows the descriptor so none of them
// can reach a descriptor the lease has already closed.
type leasedDevice struct {
	src LeasedFD
}

// OpenLeased returns a Grabber for a granted evdev descriptor.
func OpenLeased(src LeasedFD) *Grabber {
	return Open(leasedDevice{src: src})
}

func (d leasedDevice) Read(p []byte) (n int, err error) {
	err = d.src.WithFD(func(fd int) error {
		n, err = unix.Read(fd, p)
		return err
	})
	return n, err
}

func (d leasedDevice) SetNonblock(nonblocking bool) error {
	return d.src.WithFD(func(fd int) error {
		return unix.SetNonblock(fd, nonblocking)
	})
}

func (d leasedDevice) Grab(exclusive bool) error {
	v := 0
	if exclusive {
		v = 1
	}
	return d.src.WithFD(func(fd int) error {
		return unix.IoctlSetInt(fd, ioctlEVIOCGRAB, v)
	})
}

// DeviceNumberOf reads the (major, minor) pair of the character device at
// path. Input node numbers are assigned at boot, so they are looked up
// rather than assumed.
func DeviceNumberOf(path string) (sessionbroker.DeviceNumber, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return sessionbroker.DeviceNumber{}, fmt.Errorf("%w: %w", ErrInputDeviceNotFound, &os.PathError{Op: "stat", Path: path, Err: err})
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return sessionbroker.DeviceNumber{}, fmt.Errorf("%w: %s is not a character device", ErrInputDeviceNotFound, path)
	}
	rdev := uint64(st.Rdev)
	return sessionbroker.DeviceNumber{Major: unix.Major(rdev), Minor: unix.Minor(rdev)}, nil
}
