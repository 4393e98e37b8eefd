// Package drm is the mode-setting capability used by the display surface:
// connector and controller enumeration, dumb buffers, framebuffers and
// controller programming on a DRM card descriptor.
package drm

import (
	"bytes"
	"fmt"
)

// Mode mirrors struct drm_mode_modeinfo from the kernel UAPI header
// (include/uapi/drm/drm_mode.h). Field order and widths are ABI.
type Mode struct {
	Clock      uint32
	HDisplay   uint16
	HSyncStart uint16
	HSyncEnd   uint16
	HTotal     uint16
	HSkew      uint16
	VDisplay   uint16
	VSyncStart uint16
	VSyncEnd   uint16
	VTotal     uint16
	VScan      uint16
	VRefresh   uint32
	Flags      uint32
	Type       uint32
	Name       [32]byte
}

// ModeName returns the NUL-terminated mode name.
func (m Mode) ModeName() string {
	name := m.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%d", m.HDisplay, m.VDisplay, m.VRefresh)
}

// Connection is the drm_mode_connection value of a connector.
type Connection uint32

const (
	Connected         Connection = 1
	Disconnected      Connection = 2
	UnknownConnection Connection = 3
)

// Connector is one display output as reported by GETCONNECTOR.
type Connector struct {
	ID         uint32
	Type       uint32
	TypeID     uint32
	EncoderID  uint32
	Connection Connection
	Modes      []Mode
}

// Buffer is a dumb (CPU-mappable) buffer object.
type Buffer struct {
	Handle uint32
	Width  uint32
	Height uint32
	BPP    uint32
	Pitch  uint32
	Size   uint64
}

// Device is the set of mode-setting operations the display surface needs.
type Device interface {
	ListConnectors() ([]Connector, error)
	Controllers() ([]uint32, error)

	CreateMappableBuffer(width, height, bpp uint32) (Buffer, error)
	DestroyBuffer(handle uint32) error
	MapBuffer(buf Buffer) ([]byte, error)
	Unmap(mem []byte) error

	RegisterFramebuffer(buf Buffer, depth uint32) (uint32, error)
	RemoveFramebuffer(fbID uint32) error

	SetController(crtcID, fbID uint32, connectors []uint32, mode *Mode) error
}
