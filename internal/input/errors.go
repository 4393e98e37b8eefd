package input

import "errors"

var (
	ErrInputDeviceNotFound = errors.New("input: input device node not found")
	ErrGrabFailed          = errors.New("input: exclusive grab failed")
	ErrBlockingRead        = errors.New("input: refusing to read from a blocking descriptor")
	ErrShortEvent          = errors.New("input: partial event record")
)
