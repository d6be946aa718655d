package server

import (
	"net"
	"sync"

	"github.com/plazachat/plaza/pkg/protocol"
)

// SafeConn wraps a net.Conn with write synchronization. Reads stay
// single-threaded (one reader goroutine per connection), but broadcasts
// from other sessions' handlers all write to the same socket, and two
// interleaved partial frames would corrupt the stream.
type SafeConn struct {
	conn    net.Conn
	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// NewSafeConn wraps a connection.
func NewSafeConn(conn net.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// Read implements io.Reader by delegating to the underlying connection.
func (c *SafeConn) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// WriteFrame writes one complete frame while holding the write lock, so
// concurrent senders never interleave. Header and payload go out in a
// single write: over the WebSocket adapter that keeps one frame inside one
// binary message.
func (c *SafeConn) WriteFrame(payload []byte) error {
	buf, err := protocol.EncodeFrameBytes(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(buf)
	return err
}

// Close closes the underlying connection. Safe to call more than once.
func (c *SafeConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// RemoteAddr returns the observed peer address. Used for logging only;
// routing goes by the address the client reports at login.
func (c *SafeConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
