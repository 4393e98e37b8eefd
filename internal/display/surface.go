// Package display turns a granted DRM card into a single visible surface:
// pick an output, allocate and map a dumb buffer, and scan it out.
package display

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/breeze-rmm/seatlease/internal/drm"
	"github.com/breeze-rmm/seatlease/internal/logging"
)

var log = logging.L("display")

const (
	bitsPerPixel = 32
	colourDepth  = 24 // XRGB8888
)

// Output is the connector/controller pair and mode chosen for scanout.
type Output struct {
	Mode         drm.Mode
	ConnectorID  uint32
	ControllerID uint32
}

// DiscoverOutput picks the first connected connector that advertises at
// least one mode, its first (preferred) mode, and the card's first
// controller. It is not a layout engine: additional outputs are ignored.
func DiscoverOutput(dev drm.Device) (Output, error) {
	connectors, err := dev.ListConnectors()
	if err != nil {
		return Output{}, fmt.Errorf("%w: %w", ErrNoDisplayConnected, err)
	}

	for _, conn := range connectors {
		if conn.Connection != drm.Connected || len(conn.Modes) == 0 {
			continue
		}

		controllers, err := dev.Controllers()
		if err != nil {
			return Output{}, err
		}
		if len(controllers) == 0 {
			return Output{}, ErrNoController
		}

		out := Output{Mode: conn.Modes[0], ConnectorID: conn.ID, ControllerID: controllers[0]}
		log.Info("display output selected",
			"connector", out.ConnectorID,
			"controller", out.ControllerID,
			"mode", out.Mode.String())
		return out, nil
	}
	return Output{}, ErrNoDisplayConnected
}

// Surface is a mapped framebuffer bound to one output. The mapping is only
// valid while the GPU lease it came from is held; Close must run before
// that lease is released.
type Surface struct {
	Output
	FramebufferID uint32

	dev drm.Device
	buf drm.Buffer

	mu     sync.Mutex
	pixels []byte
	closed bool
}

// Allocate creates a dumb buffer matching out's mode at 32 bpp, registers
// it as a framebuffer and maps it. Anything created before a failing step
// is destroyed before returning.
func Allocate(dev drm.Device, out Output) (s *Surface, err error) {
	width, height := uint32(out.Mode.HDisplay), uint32(out.Mode.VDisplay)
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: mode %s has no area", ErrBufferAllocationFailed, out.Mode)
	}

	buf, err := dev.CreateMappableBuffer(width, height, bitsPerPixel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBufferAllocationFailed, err)
	}
	defer func() {
		if err != nil {
			if derr := dev.DestroyBuffer(buf.Handle); derr != nil {
				log.Warn("cannot destroy dumb buffer after failed allocation", logging.Err(derr))
			}
		}
	}()

	if buf.Pitch < width*bitsPerPixel/8 || buf.Size < uint64(buf.Pitch)*uint64(height) {
		return nil, fmt.Errorf("%w: driver returned pitch %d size %d for %dx%d", ErrBufferAllocationFailed, buf.Pitch, buf.Size, width, height)
	}

	fbID, err := dev.RegisterFramebuffer(buf, colourDepth)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBufferAllocationFailed, err)
	}
	defer func() {
		if err != nil {
			if rerr := dev.RemoveFramebuffer(fbID); rerr != nil {
				log.Warn("cannot remove framebuffer after failed allocation", logging.Err(rerr))
			}
		}
	}()

	pixels, err := dev.MapBuffer(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBufferAllocationFailed, err)
	}

	log.Debug("surface allocated", "fb", fbID, "pitch", buf.Pitch, "size", buf.Size)
	return &Surface{
		Output:        out,
		FramebufferID: fbID,
		dev:           dev,
		buf:           buf,
		pixels:        pixels,
	}, nil
}

// Present binds framebuffer fbID to controllerID driving connectorID in
// mode. A rejection is returned as ErrModesetFailed; nothing is retried.
func Present(dev drm.Device, controllerID, fbID, connectorID uint32, mode drm.Mode) error {
	if err := dev.SetController(controllerID, fbID, []uint32{connectorID}, &mode); err != nil {
		return fmt.Errorf("%w: %s on connector %d: %w", ErrModesetFailed, mode, connectorID, err)
	}
	return nil
}

// Present scans the surface out on its output.
func (s *Surface) Present() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSurfaceClosed
	}
	if err := Present(s.dev, s.ControllerID, s.FramebufferID, s.ConnectorID, s.Mode); err != nil {
		return err
	}
	log.Info("surface presented", "mode", s.Mode.String(), "refresh", s.Mode.VRefresh)
	return nil
}

// Fill paints every visible pixel with rgb (0x00RRGGBB).
func (s *Surface) Fill(rgb uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSurfaceClosed
	}

	pitch := int(s.buf.Pitch)
	rowBytes := int(s.buf.Width) * bitsPerPixel / 8
	for y := 0; y < int(s.buf.Height); y++ {
		row := s.pixels[y*pitch : y*pitch+rowBytes]
		for x := 0; x < len(row); x += 4 {
			binary.LittleEndian.PutUint32(row[x:], rgb)
		}
	}
	return nil
}

// Mapped reports whether the pixel buffer is still mapped.
func (s *Surface) Mapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close unmaps the buffer, removes the framebuffer and destroys the dumb
// buffer. Every step is attempted; only the first call does anything.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pixels := s.pixels
	s.pixels = nil
	s.mu.Unlock()

	var errs []error
	if err := s.dev.Unmap(pixels); err != nil {
		errs = append(errs, err)
	}
	if err := s.dev.RemoveFramebuffer(s.FramebufferID); err != nil {
		errs = append(errs, err)
	}
	if err := s.dev.DestroyBuffer(s.buf.Handle); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
