package sessionbroker

import (
	"errors"
	"fmt"
)

var (
	ErrNoSession           = errors.New("sessionbroker: process is not part of a login session")
	ErrSessionLookupFailed = errors.New("sessionbroker: session lookup failed")
	ErrControlDenied       = errors.New("sessionbroker: session control denied")
	ErrNotControlled       = errors.New("sessionbroker: session is not under our control")
	ErrDeviceUnavailable   = errors.New("sessionbroker: device unavailable")
	ErrLeaseReleased       = errors.New("sessionbroker: device lease already released")
)

// DeviceError reports a TakeDevice failure for a specific device number.
// errors.Is(err, ErrDeviceUnavailable) holds for every DeviceError.
type DeviceError struct {
	Device DeviceNumber
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("sessionbroker: device %s unavailable: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) Is(target error) bool { return target == ErrDeviceUnavailable }
