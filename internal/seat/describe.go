package seat

import (
	"errors"
	"fmt"

	"github.com/breeze-rmm/seatlease/internal/broker"
	"github.com/breeze-rmm/seatlease/internal/display"
	"github.com/breeze-rmm/seatlease/internal/input"
	"github.com/breeze-rmm/seatlease/internal/sessionbroker"
	"github.com/breeze-rmm/seatlease/internal/watchdog"
)

// Describe renders err as the one-line message shown to the user.
func Describe(err error) string {
	var devErr *sessionbroker.DeviceError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, sessionbroker.ErrControlDenied):
		return fmt.Sprintf("Handshake failed. Is another display server running (X11/Wayland) on this session? (%v)", err)
	case errors.As(err, &devErr):
		return fmt.Sprintf("Failed to get device %s: %v", devErr.Device, devErr.Err)
	case errors.Is(err, input.ErrInputDeviceNotFound):
		return fmt.Sprintf("Input device not found. Does it exist? (%v)", err)
	case errors.Is(err, sessionbroker.ErrNoSession):
		return "Not running inside a login session. Start seatlease from a virtual terminal login."
	case errors.Is(err, broker.ErrBrokerUnavailable):
		return fmt.Sprintf("Cannot reach systemd-logind on the system bus: %v", err)
	case errors.Is(err, display.ErrNoDisplayConnected):
		return "No connected display found."
	case errors.Is(err, watchdog.ErrWatchdogFired):
		return "Safety timeout reached."
	}
	return err.Error()
}
