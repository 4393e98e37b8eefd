package display

import "errors"

var (
	ErrNoDisplayConnected     = errors.New("display: no connected output with a usable mode")
	ErrNoController           = errors.New("display: card has no display controller")
	ErrBufferAllocationFailed = errors.New("display: buffer allocation failed")
	ErrModesetFailed          = errors.New("display: modeset failed")
	ErrSurfaceClosed          = errors.New("display: surface is closed")
)
