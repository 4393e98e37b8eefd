package input

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Event types and codes from include/uapi/linux/input-event-codes.h.
const (
	EvSyn = 0x00
	EvKey = 0x01
	EvRel = 0x02
	EvAbs = 0x03
	EvMsc = 0x04

	KeyEsc = 1
	KeyA   = 30

	KeyRelease = 0
	KeyPress   = 1
	KeyRepeat  = 2
)

// Event mirrors struct input_event.
type Event struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

func (e Event) String() string {
	return fmt.Sprintf("type=%d code=%d value=%d", e.Type, e.Code, e.Value)
}

// IsTerminate reports whether ev is the one event that ends the loop:
// the Escape key going down.
func IsTerminate(ev Event) bool {
	return ev.Type == EvKey && ev.Code == KeyEsc && ev.Value == KeyPress
}

var eventSize = binary.Size(Event{})

// decodeEvents splits a read buffer into events in device order.
func decodeEvents(p []byte) ([]Event, error) {
	if len(p)%eventSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortEvent, len(p))
	}
	events := make([]Event, len(p)/eventSize)
	if err := binary.Read(bytes.NewReader(p), binary.NativeEndian, events); err != nil {
		return nil, err
	}
	return events, nil
}

// encodeEvents is the inverse of decodeEvents.
func encodeEvents(events ...Event) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.NativeEndian, events)
	return buf.Bytes()
}
