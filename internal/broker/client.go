// Package broker is a thin request/response client for the systemd-logind
// session broker on the D-Bus system bus.
package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/breeze-rmm/seatlease/internal/logging"
)

var log = logging.L("broker")

const (
	Destination      = "org.freedesktop.login1"
	ManagerPath      = "/org/freedesktop/login1"
	ManagerInterface = "org.freedesktop.login1.Manager"
	SessionInterface = "org.freedesktop.login1.Session"
)

// Caller issues a single method call on a broker object. It is what the
// session layer depends on; *Client is the production implementation.
type Caller interface {
	Call(ctx context.Context, object, iface, method string, args ...any) (*Reply, error)
}

// Reply is the body of a successful method call.
type Reply struct {
	Body []any
}

// Store decodes the reply body into dest, in signature order.
func (r *Reply) Store(dest ...any) error {
	if r == nil {
		return fmt.Errorf("broker: empty reply")
	}
	if err := dbus.Store(r.Body, dest...); err != nil {
		return fmt.Errorf("broker: decode reply: %w", err)
	}
	return nil
}

// busConn is the part of *dbus.Conn the client needs.
type busConn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Close() error
}

// Client owns the single broker connection of the process. It makes no
// retries: every failure goes straight back to the caller.
type Client struct {
	mu     sync.Mutex
	conn   busConn
	closed bool
}

// Connect opens a private connection to the system bus. A shared
// connection would let another package close it under us.
func Connect() (*Client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}
	if !conn.SupportsUnixFDs() {
		conn.Close()
		return nil, fmt.Errorf("%w: bus transport cannot pass file descriptors", ErrBrokerUnavailable)
	}
	log.Debug("connected to system bus")
	return New(conn), nil
}

// New wraps an established connection.
func New(conn busConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Call(ctx context.Context, object, iface, method string, args ...any) (*Reply, error) {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	call := conn.Object(Destination, dbus.ObjectPath(object)).
		CallWithContext(ctx, iface+"."+method, 0, args...)
	if call.Err != nil {
		log.Debug("broker call failed", "object", object, "method", method, logging.Err(call.Err))
		return nil, translate(ctx, call.Err)
	}
	return &Reply{Body: call.Body}, nil
}

// Open reports whether Close has not been called yet.
func (c *Client) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close closes the connection. Only the first call reaches the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	return conn.Close()
}

func translate(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return context.Cause(ctx)
	}
	switch e := err.(type) {
	case dbus.Error:
		return &Error{Code: e.Name, Message: firstString(e.Body)}
	case *dbus.Error:
		return &Error{Code: e.Name, Message: firstString(e.Body)}
	}
	return err
}

func firstString(body []any) string {
	if len(body) == 0 {
		return ""
	}
	if s, ok := body[0].(string); ok {
		return s
	}
	return fmt.Sprint(body[0])
}
