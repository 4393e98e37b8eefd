package display

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/breeze-rmm/seatlease/internal/drm"
)

type fakeCard struct {
	connectors  []drm.Connector
	controllers []uint32

	createErr, addErr, mapErr, setErr error

	calls  []string
	setArg struct {
		crtc, fb   uint32
		connectors []uint32
		mode       drm.Mode
	}
}

func (f *fakeCard) ListConnectors() ([]drm.Connector, error) {
	f.calls = append(f.calls, "list")
	return f.connectors, nil
}

func (f *fakeCard) Controllers() ([]uint32, error) {
	f.calls = append(f.calls, "controllers")
	return f.controllers, nil
}

func (f *fakeCard) CreateMappableBuffer(w, h, bpp uint32) (drm.Buffer, error) {
	f.calls = append(f.calls, "create")
	if f.createErr != nil {
		return drm.Buffer{}, f.createErr
	}
	pitch := w * bpp / 8
	return drm.Buffer{Handle: 1, Width: w, Height: h, BPP: bpp, Pitch: pitch, Size: uint64(pitch) * uint64(h)}, nil
}

func (f *fakeCard) DestroyBuffer(handle uint32) error {
	f.calls = append(f.calls, "destroy")
	return nil
}

func (f *fakeCard) MapBuffer(buf drm.Buffer) ([]byte, error) {
	f.calls = append(f.calls, "map")
	if f.mapErr != nil {
		return nil, f.mapErr
	}
	return make([]byte, buf.Size), nil
}

func (f *fakeCard) Unmap(mem []byte) error {
	f.calls = append(f.calls, "unmap")
	return nil
}

func (f *fakeCard) RegisterFramebuffer(buf drm.Buffer, depth uint32) (uint32, error) {
	f.calls = append(f.calls, "addfb")
	if f.addErr != nil {
		return 0, f.addErr
	}
	return 42, nil
}

func (f *fakeCard) RemoveFramebuffer(fbID uint32) error {
	f.calls = append(f.calls, "rmfb")
	return nil
}

func (f *fakeCard) SetController(crtcID, fbID uint32, connectors []uint32, mode *drm.Mode) error {
	f.calls = append(f.calls, "setcrtc")
	f.setArg.crtc, f.setArg.fb, f.setArg.connectors, f.setArg.mode = crtcID, fbID, connectors, *mode
	return f.setErr
}

func mode(w, h, hz int) drm.Mode {
	return drm.Mode{HDisplay: uint16(w), VDisplay: uint16(h), VRefresh: uint32(hz)}
}

func TestDiscoverOutputPicksFirstModeOfFirstConnected(t *testing.T) {
	card := &fakeCard{
		connectors: []drm.Connector{
			{ID: 30, Connection: drm.Disconnected, Modes: []drm.Mode{mode(640, 480, 60)}},
			{ID: 31, Connection: drm.Connected},
			{ID: 32, Connection: drm.Connected, Modes: []drm.Mode{mode(1920, 1080, 60), mode(1280, 720, 60)}},
			{ID: 33, Connection: drm.Connected, Modes: []drm.Mode{mode(3840, 2160, 30)}},
		},
		controllers: []uint32{50, 51},
	}

	out, err := DiscoverOutput(card)
	if err != nil {
		t.Fatalf("DiscoverOutput: %v", err)
	}
	if out.Mode.String() != "1920x1080@60" {
		t.Fatalf("mode = %s, want 1920x1080@60", out.Mode)
	}
	if out.ConnectorID != 32 || out.ControllerID != 50 {
		t.Fatalf("connector=%d controller=%d, want 32/50", out.ConnectorID, out.ControllerID)
	}
}

func TestDiscoverOutputNoneConnected(t *testing.T) {
	card := &fakeCard{
		connectors: []drm.Connector{
			{ID: 30, Connection: drm.Disconnected},
			{ID: 31, Connection: drm.UnknownConnection, Modes: []drm.Mode{mode(800, 600, 60)}},
		},
		controllers: []uint32{50},
	}
	if _, err := DiscoverOutput(card); !errors.Is(err, ErrNoDisplayConnected) {
		t.Fatalf("expected ErrNoDisplayConnected, got %v", err)
	}
}

func TestDiscoverOutputWithoutController(t *testing.T) {
	card := &fakeCard{connectors: []drm.Connector{{ID: 1, Connection: drm.Connected, Modes: []drm.Mode{mode(800, 600, 60)}}}}
	if _, err := DiscoverOutput(card); !errors.Is(err, ErrNoController) {
		t.Fatalf("expected ErrNoController, got %v", err)
	}
}

func TestAllocateFillPresentClose(t *testing.T) {
	card := &fakeCard{}
	out := Output{Mode: mode(4, 2, 60), ConnectorID: 32, ControllerID: 50}

	s, err := Allocate(card, out)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if s.FramebufferID != 42 || !s.Mapped() {
		t.Fatalf("unexpected surface: fb=%d mapped=%v", s.FramebufferID, s.Mapped())
	}

	if err := s.Fill(0x3399FF); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	for i := 0; i < len(s.pixels); i += 4 {
		if got := binary.LittleEndian.Uint32(s.pixels[i:]); got != 0x3399FF {
			t.Fatalf("pixel %d = %#x, want 0x3399ff", i/4, got)
		}
	}

	if err := s.Present(); err != nil {
		t.Fatalf("Present: %v", err)
	}
	if card.setArg.crtc != 50 || card.setArg.fb != 42 || !reflect.DeepEqual(card.setArg.connectors, []uint32{32}) {
		t.Fatalf("unexpected setcrtc args: %+v", card.setArg)
	}

	for i := 0; i < 2; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}
	want := []string{"create", "addfb", "map", "setcrtc", "unmap", "rmfb", "destroy"}
	if !reflect.DeepEqual(card.calls, want) {
		t.Fatalf("calls = %v, want %v", card.calls, want)
	}
	if s.Mapped() {
		t.Fatal("surface should be unmapped after Close")
	}
	if err := s.Fill(0); !errors.Is(err, ErrSurfaceClosed) {
		t.Fatalf("Fill after Close = %v", err)
	}
}

func TestAllocateRollsBackOnMapFailure(t *testing.T) {
	card := &fakeCard{mapErr: errors.New("ENOMEM")}

	_, err := Allocate(card, Output{Mode: mode(1920, 1080, 60)})
	if !errors.Is(err, ErrBufferAllocationFailed) {
		t.Fatalf("expected ErrBufferAllocationFailed, got %v", err)
	}
	want := []string{"create", "addfb", "map", "rmfb", "destroy"}
	if !reflect.DeepEqual(card.calls, want) {
		t.Fatalf("calls = %v, want %v", card.calls, want)
	}
}

func TestAllocateRollsBackOnAddFBFailure(t *testing.T) {
	card := &fakeCard{addErr: errors.New("EINVAL")}

	if _, err := Allocate(card, Output{Mode: mode(1920, 1080, 60)}); !errors.Is(err, ErrBufferAllocationFailed) {
		t.Fatalf("expected ErrBufferAllocationFailed, got %v", err)
	}
	want := []string{"create", "addfb", "destroy"}
	if !reflect.DeepEqual(card.calls, want) {
		t.Fatalf("calls = %v, want %v", card.calls, want)
	}
}

func TestAllocateCreateFailure(t *testing.T) {
	card := &fakeCard{createErr: errors.New("ENOSPC")}
	if _, err := Allocate(card, Output{Mode: mode(1920, 1080, 60)}); !errors.Is(err, ErrBufferAllocationFailed) {
		t.Fatalf("expected ErrBufferAllocationFailed, got %v", err)
	}
	if !reflect.DeepEqual(card.calls, []string{"create"}) {
		t.Fatalf("nothing to roll back, got calls %v", card.calls)
	}
}

func TestPresentRejected(t *testing.T) {
	card := &fakeCard{setErr: errors.New("EINVAL")}
	err := Present(card, 50, 42, 32, mode(1920, 1080, 60))
	if !errors.Is(err, ErrModesetFailed) {
		t.Fatalf("expected ErrModesetFailed, got %v", err)
	}
	if card.setArg.mode.String() != "1920x1080@60" {
		t.Fatalf("mode not passed through: %s", card.setArg.mode)
	}
}
