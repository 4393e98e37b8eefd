package sessionbroker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/breeze-rmm/seatlease/internal/broker"
)

// SessionEventType identifies login/logout events.
type SessionEventType string

const (
	SessionLogin  SessionEventType = "login"
	SessionLogout SessionEventType = "logout"
)

// SessionEvent represents a session appearing or disappearing.
type SessionEvent struct {
	Type    SessionEventType `json:"type"`
	Session DetectedSession  `json:"session"`
}

// DetectedSession is a snapshot of a session known to the broker.
type DetectedSession struct {
	ID       string          `json:"id" yaml:"id"`
	UID      uint32          `json:"uid" yaml:"uid"`
	Username string          `json:"username" yaml:"username"`
	Seat     string          `json:"seat,omitempty" yaml:"seat,omitempty"`
	Path     dbus.ObjectPath `json:"path" yaml:"path"`
	Type     string          `json:"type,omitempty" yaml:"type,omitempty"` // "tty", "x11", "wayland", ...
	Class    string          `json:"class,omitempty" yaml:"class,omitempty"`
	State    string          `json:"state,omitempty" yaml:"state,omitempty"` // "active", "online", "closing"
	VTNr     uint32          `json:"vtnr,omitempty" yaml:"vtnr,omitempty"`
	Remote   bool            `json:"remote" yaml:"remote"`
	Active   bool            `json:"active" yaml:"active"`
}

// Controllable reports whether a process in this session could plausibly
// take control: a local session on a seat that no display server claims.
func (d DetectedSession) Controllable() bool {
	return !d.Remote && d.Seat != "" && (d.Type == "tty" || d.Type == "unspecified")
}

// Detector enumerates broker sessions.
type Detector struct {
	caller   broker.Caller
	interval time.Duration
}

func NewDetector(caller broker.Caller) *Detector {
	return &Detector{caller: caller, interval: 5 * time.Second}
}

type listedSession struct {
	ID   string
	UID  uint32
	User string
	Seat string
	Path dbus.ObjectPath
}

// ListSessions returns all sessions sorted by id. Sessions whose properties
// cannot be read are still listed with the fields ListSessions provides.
func (d *Detector) ListSessions(ctx context.Context) ([]DetectedSession, error) {
	reply, err := d.caller.Call(ctx, broker.ManagerPath, broker.ManagerInterface, "ListSessions")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var listed []listedSession
	if err := reply.Store(&listed); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]DetectedSession, 0, len(listed))
	for _, l := range listed {
		sess := DetectedSession{ID: l.ID, UID: l.UID, Username: l.User, Seat: l.Seat, Path: l.Path}

		props, err := d.caller.Call(ctx, string(l.Path), "org.freedesktop.DBus.Properties", "GetAll", broker.SessionInterface)
		if err == nil {
			var values map[string]dbus.Variant
			if props.Store(&values) == nil {
				applyProperties(&sess, values)
			}
		} else {
			log.Debug("session properties unavailable", "session", l.ID, "error", err)
		}

		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

func applyProperties(sess *DetectedSession, values map[string]dbus.Variant) {
	for key, v := range values {
		switch key {
		case "Type":
			sess.Type, _ = v.Value().(string)
		case "Class":
			sess.Class, _ = v.Value().(string)
		case "State":
			sess.State, _ = v.Value().(string)
		case "VTNr":
			sess.VTNr, _ = v.Value().(uint32)
		case "Remote":
			sess.Remote, _ = v.Value().(bool)
		case "Active":
			sess.Active, _ = v.Value().(bool)
		}
	}
}

// WatchSessions polls the broker and emits an event for every session that
// appears or disappears. The channel is closed when ctx is cancelled.
func (d *Detector) WatchSessions(ctx context.Context) <-chan SessionEvent {
	ch := make(chan SessionEvent, 16)

	go func() {
		defer close(ch)

		known := make(map[string]DetectedSession)
		if sessions, err := d.ListSessions(ctx); err == nil {
			for _, s := range sessions {
				known[s.ID] = s
			}
		}

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := d.ListSessions(ctx)
				if err != nil {
					continue
				}

				currentMap := make(map[string]DetectedSession, len(current))
				for _, s := range current {
					currentMap[s.ID] = s
					if _, exists := known[s.ID]; !exists {
						if !emit(ctx, ch, SessionEvent{Type: SessionLogin, Session: s}) {
							return
						}
					}
				}
				for id, s := range known {
					if _, exists := currentMap[id]; !exists {
						if !emit(ctx, ch, SessionEvent{Type: SessionLogout, Session: s}) {
							return
						}
					}
				}

				known = currentMap
			}
		}
	}()

	return ch
}

func emit(ctx context.Context, ch chan<- SessionEvent, ev SessionEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
