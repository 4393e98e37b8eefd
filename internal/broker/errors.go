package broker

import (
	"errors"
	"fmt"
)

var (
	ErrBrokerUnavailable = errors.New("broker: session broker unavailable")
	ErrClosed            = errors.New("broker: connection is closed")
)

// Error is a failure reported by the broker itself, as opposed to a
// transport or context failure.
type Error struct {
	Code    string // D-Bus error name, e.g. org.freedesktop.login1.DeviceIsTaken
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("broker: %s", e.Code)
	}
	return fmt.Sprintf("broker: %s: %s", e.Code, e.Message)
}

// Code returns the broker error name carried by err, or "" when err is not
// a broker-reported failure.
func Code(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
