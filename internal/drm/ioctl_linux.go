//go:build linux

package drm

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DRM ioctl numbers from include/uapi/drm/drm.h. All mode-setting ioctls
// are DRM_IOWR('d', nr, type); the size field is the Go mirror's size,
// which matches the C layout on every Linux ABI because all fields are
// naturally aligned.
const (
	drmIoctlBase = 'd'

	nrModeGetResources = 0xA0
	nrModeSetCrtc      = 0xA2
	nrModeGetConnector = 0xA7
	nrModeAddFB        = 0xAE
	nrModeRmFB         = 0xAF
	nrModeCreateDumb   = 0xB2
	nrModeMapDumb      = 0xB3
	nrModeDestroyDumb  = 0xB4
)

func iowr(nr, size uintptr) uintptr {
	const dirReadWrite = 3
	return dirReadWrite<<30 | size<<16 | drmIoctlBase<<8 | nr
}

// struct drm_mode_card_res
type modeCardRes struct {
	fbIDPtr         uint64
	crtcIDPtr       uint64
	connectorIDPtr  uint64
	encoderIDPtr    uint64
	countFBs        uint32
	countCrtcs      uint32
	countConnectors uint32
	countEncoders   uint32
	minWidth        uint32
	maxWidth        uint32
	minHeight       uint32
	maxHeight       uint32
}

// struct drm_mode_get_connector
type modeGetConnector struct {
	encodersPtr     uint64
	modesPtr        uint64
	propsPtr        uint64
	propValuesPtr   uint64
	countModes      uint32
	countProps      uint32
	countEncoders   uint32
	encoderID       uint32
	connectorID     uint32
	connectorType   uint32
	connectorTypeID uint32
	connection      uint32
	mmWidth         uint32
	mmHeight        uint32
	subpixel        uint32
	pad             uint32
}

// struct drm_mode_crtc
type modeCrtc struct {
	setConnectorsPtr uint64
	countConnectors  uint32
	crtcID           uint32
	fbID             uint32
	x                uint32
	y                uint32
	gammaSize        uint32
	modeValid        uint32
	mode             Mode
}

// struct drm_mode_fb_cmd
type modeFBCmd struct {
	fbID   uint32
	width  uint32
	height uint32
	pitch  uint32
	bpp    uint32
	depth  uint32
	handle uint32
}

// struct drm_mode_create_dumb
type modeCreateDumb struct {
	height uint32
	width  uint32
	bpp    uint32
	flags  uint32
	handle uint32
	pitch  uint32
	size   uint64
}

// struct drm_mode_map_dumb
type modeMapDumb struct {
	handle uint32
	pad    uint32
	offset uint64
}

// struct drm_mode_destroy_dumb
type modeDestroyDumb struct {
	handle uint32
}

var (
	ioctlModeGetResources = iowr(nrModeGetResources, unsafe.Sizeof(modeCardRes{}))
	ioctlModeSetCrtc      = iowr(nrModeSetCrtc, unsafe.Sizeof(modeCrtc{}))
	ioctlModeGetConnector = iowr(nrModeGetConnector, unsafe.Sizeof(modeGetConnector{}))
	ioctlModeAddFB        = iowr(nrModeAddFB, unsafe.Sizeof(modeFBCmd{}))
	ioctlModeRmFB         = iowr(nrModeRmFB, unsafe.Sizeof(uint32(0)))
	ioctlModeCreateDumb   = iowr(nrModeCreateDumb, unsafe.Sizeof(modeCreateDumb{}))
	ioctlModeMapDumb      = iowr(nrModeMapDumb, unsafe.Sizeof(modeMapDumb{}))
	ioctlModeDestroyDumb  = iowr(nrModeDestroyDumb, unsafe.Sizeof(modeDestroyDumb{}))
)

// maxProbeAttempts bounds the count/fill retry loop when hotplug changes
// the number of objects between the two ioctl passes.
const maxProbeAttempts = 4

// Card issues mode-setting ioctls on a DRM card descriptor it does not own.
type Card struct {
	fd uintptr
}

// Open wraps fd, which must be a DRM card node opened read-write.
func Open(fd int) *Card {
	return &Card{fd: uintptr(fd)}
}

// ioctl retries on EINTR and EAGAIN like libdrm's drmIoctl.
func (c *Card) ioctl(req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, c.fd, req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}

func ptr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}

func (c *Card) resources() (crtcs, connectors []uint32, err error) {
	for attempt := 0; attempt < maxProbeAttempts; attempt++ {
		var res modeCardRes
		if err := c.ioctl(ioctlModeGetResources, unsafe.Pointer(&res)); err != nil {
			return nil, nil, fmt.Errorf("drm get resources: %w", err)
		}

		want := res
		fbs := make([]uint32, want.countFBs)
		crtcs = make([]uint32, want.countCrtcs)
		connectors = make([]uint32, want.countConnectors)
		encoders := make([]uint32, want.countEncoders)
		res.fbIDPtr = ptr(fbs)
		res.crtcIDPtr = ptr(crtcs)
		res.connectorIDPtr = ptr(connectors)
		res.encoderIDPtr = ptr(encoders)

		err := c.ioctl(ioctlModeGetResources, unsafe.Pointer(&res))
		runtime.KeepAlive(fbs)
		runtime.KeepAlive(crtcs)
		runtime.KeepAlive(connectors)
		runtime.KeepAlive(encoders)
		if err != nil {
			return nil, nil, fmt.Errorf("drm get resources: %w", err)
		}

		// The kernel only fills as many entries as we offered; a larger
		// count means objects appeared in between.
		if res.countFBs <= want.countFBs && res.countCrtcs <= want.countCrtcs &&
			res.countConnectors <= want.countConnectors && res.countEncoders <= want.countEncoders {
			return crtcs[:res.countCrtcs], connectors[:res.countConnectors], nil
		}
	}
	return nil, nil, errors.New("drm get resources: object count kept changing")
}

// Controllers returns the CRTC ids of the card in kernel order.
func (c *Card) Controllers() ([]uint32, error) {
	crtcs, _, err := c.resources()
	return crtcs, err
}

// ListConnectors returns every connector with its advertised modes, in
// kernel order.
func (c *Card) ListConnectors() ([]Connector, error) {
	_, ids, err := c.resources()
	if err != nil {
		return nil, err
	}

	connectors := make([]Connector, 0, len(ids))
	for _, id := range ids {
		conn, err := c.connector(id)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, conn)
	}
	return connectors, nil
}

func (c *Card) connector(id uint32) (Connector, error) {
	for attempt := 0; attempt < maxProbeAttempts; attempt++ {
		// A zero-count pass makes the kernel probe the output.
		probe := modeGetConnector{connectorID: id}
		if err := c.ioctl(ioctlModeGetConnector, unsafe.Pointer(&probe)); err != nil {
			return Connector{}, fmt.Errorf("drm get connector %d: %w", id, err)
		}

		want := probe
		modes := make([]Mode, want.countModes)
		encoders := make([]uint32, want.countEncoders)
		props := make([]uint32, want.countProps)
		values := make([]uint64, want.countProps)

		fill := modeGetConnector{
			connectorID:   id,
			countModes:    want.countModes,
			countEncoders: want.countEncoders,
			countProps:    want.countProps,
			modesPtr:      ptr(modes),
			encodersPtr:   ptr(encoders),
			propsPtr:      ptr(props),
			propValuesPtr: ptr(values),
		}
		err := c.ioctl(ioctlModeGetConnector, unsafe.Pointer(&fill))
		runtime.KeepAlive(modes)
		runtime.KeepAlive(encoders)
		runtime.KeepAlive(props)
		runtime.KeepAlive(values)
		if err != nil {
			return Connector{}, fmt.Errorf("drm get connector %d: %w", id, err)
		}

		if fill.countModes <= want.countModes && fill.countEncoders <= want.countEncoders && fill.countProps <= want.countProps {
			return Connector{
				ID:         fill.connectorID,
				Type:       fill.connectorType,
				TypeID:     fill.connectorTypeID,
				EncoderID:  fill.encoderID,
				Connection: Connection(fill.connection),
				Modes:      modes[:fill.countModes],
			}, nil
		}
	}
	return Connector{}, fmt.Errorf("drm get connector %d: mode count kept changing", id)
}

func (c *Card) CreateMappableBuffer(width, height, bpp uint32) (Buffer, error) {
	req := modeCreateDumb{width: width, height: height, bpp: bpp}
	if err := c.ioctl(ioctlModeCreateDumb, unsafe.Pointer(&req)); err != nil {
		return Buffer{}, fmt.Errorf("drm create dumb %dx%d@%d: %w", width, height, bpp, err)
	}
	return Buffer{
		Handle: req.handle,
		Width:  width,
		Height: height,
		BPP:    bpp,
		Pitch:  req.pitch,
		Size:   req.size,
	}, nil
}

func (c *Card) DestroyBuffer(handle uint32) error {
	req := modeDestroyDumb{handle: handle}
	if err := c.ioctl(ioctlModeDestroyDumb, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("drm destroy dumb %d: %w", handle, err)
	}
	return nil
}

// MapBuffer maps the whole dumb buffer shared and writable.
func (c *Card) MapBuffer(buf Buffer) ([]byte, error) {
	req := modeMapDumb{handle: buf.Handle}
	if err := c.ioctl(ioctlModeMapDumb, unsafe.Pointer(&req)); err != nil {
		return nil, fmt.Errorf("drm map dumb %d: %w", buf.Handle, err)
	}
	mem, err := unix.Mmap(int(c.fd), int64(req.offset), int(buf.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap dumb %d: %w", buf.Handle, err)
	}
	return mem, nil
}

func (c *Card) Unmap(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

func (c *Card) RegisterFramebuffer(buf Buffer, depth uint32) (uint32, error) {
	req := modeFBCmd{
		width:  buf.Width,
		height: buf.Height,
		pitch:  buf.Pitch,
		bpp:    buf.BPP,
		depth:  depth,
		handle: buf.Handle,
	}
	if err := c.ioctl(ioctlModeAddFB, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("drm add fb: %w", err)
	}
	return req.fbID, nil
}

func (c *Card) RemoveFramebuffer(fbID uint32) error {
	id := fbID
	if err := c.ioctl(ioctlModeRmFB, unsafe.Pointer(&id)); err != nil {
		return fmt.Errorf("drm rm fb %d: %w", fbID, err)
	}
	return nil
}

// SetController scans fbID out on crtcID for the given connectors. A nil
// mode disables the controller.
func (c *Card) SetController(crtcID, fbID uint32, connectors []uint32, mode *Mode) error {
	req := modeCrtc{
		crtcID:           crtcID,
		fbID:             fbID,
		setConnectorsPtr: ptr(connectors),
		countConnectors:  uint32(len(connectors)),
	}
	if mode != nil {
		req.mode = *mode
		req.modeValid = 1
	}
	err := c.ioctl(ioctlModeSetCrtc, unsafe.Pointer(&req))
	runtime.KeepAlive(connectors)
	if err != nil {
		return fmt.Errorf("drm set crtc %d: %w", crtcID, err)
	}
	return nil
}

var _ Device = (*Card)(nil)
