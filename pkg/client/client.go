package client

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/plazachat/plaza/pkg/protocol"
)

// Handlers carries one callback per inbound message variant. The UI layer
// fills in what it cares about; nil callbacks are skipped.
//
// OnDisconnect fires exactly once when the session ends. Its error is nil
// after a user-initiated logout and non-nil when the transport dropped.
type Handlers struct {
	OnRoster       func(*protocol.RosterMessage)
	OnFriendLogin  func(*protocol.FriendLoginMessage)
	OnUserLogout   func(*protocol.UserLogoutMessage)
	OnSquareText   func(*protocol.SquareTextMessage)
	OnPrivateText  func(*protocol.PrivateTextMessage)
	OnSquareMedia  func(*protocol.SquareMediaMessage)
	OnPrivateMedia func(*protocol.PrivateMediaMessage)
	OnDisconnect   func(err error)
}

// Client maintains one connection to the server and mirrors the server's
// connection handler: a single reader goroutine, writes serialized behind
// a mutex.
type Client struct {
	config   Config
	handlers Handlers

	conn    net.Conn
	writeMu sync.Mutex

	userClosed     atomic.Bool
	disconnectOnce sync.Once
	wg             sync.WaitGroup

	logger *log.Logger
}

// New creates a client session. Connect must be called before any send.
func New(config Config, handlers Handlers) *Client {
	return &Client{config: config, handlers: handlers}
}

// SetLogger sets a logger for connection events.
func (c *Client) SetLogger(logger *log.Logger) {
	c.logger = logger
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Connect dials the server, sends the login announcing the configured
// local address, and starts the read loop.
func (c *Client) Connect() error {
	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, err := net.Dial("tcp", c.config.ServerAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.config.ServerAddr, err)
	}
	c.conn = conn
	c.logf("connected to %s as %q", c.config.ServerAddr, c.config.Username)

	if err := c.send(&protocol.LoginMessage{
		Username:  c.config.Username,
		LocalIP:   c.config.LocalIP,
		LocalPort: protocol.PortNumber(c.config.LocalPort),
		Timestamp: protocol.Timestamp(),
	}); err != nil {
		conn.Close()
		c.conn = nil
		return fmt.Errorf("login failed: %w", err)
	}

	c.wg.Add(1)
	go c.readLoop()

	return nil
}

// Logout sends an orderly goodbye and closes the connection. The
// OnDisconnect callback fires with a nil error.
func (c *Client) Logout() error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.userClosed.Store(true)
	err := c.send(&protocol.LogoutMessage{
		Username:  c.config.Username,
		LocalIP:   c.config.LocalIP,
		LocalPort: protocol.PortNumber(c.config.LocalPort),
		Timestamp: protocol.Timestamp(),
	})
	c.conn.Close()
	c.wg.Wait()
	return err
}

// Close tears the connection down without a logout message, as if the
// process died. Mostly useful in tests.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	c.userClosed.Store(true)
	c.conn.Close()
	c.wg.Wait()
}

// SendSquareText broadcasts a text message to everyone else.
func (c *Client) SendSquareText(content string) error {
	return c.send(&protocol.SquareTextMessage{
		Content:   content,
		Timestamp: protocol.Timestamp(),
	})
}

// SendPrivateText sends a text message to the user at the given address.
func (c *Client) SendPrivateText(targetIP string, targetPort int, content string) error {
	return c.send(&protocol.PrivateTextMessage{
		TargetIP:   targetIP,
		TargetPort: protocol.PortNumber(targetPort),
		Content:    content,
		Timestamp:  protocol.Timestamp(),
	})
}

// SendSquareMedia broadcasts an attachment. The raw bytes are base64
// encoded here, at the boundary.
func (c *Client) SendSquareMedia(kind protocol.MediaKind, data []byte, ext, fileName string) error {
	return c.send(&protocol.SquareMediaMessage{
		Kind:      kind,
		Data:      base64.StdEncoding.EncodeToString(data),
		Ext:       ext,
		FileName:  fileName,
		Timestamp: protocol.Timestamp(),
	})
}

// SendPrivateMedia sends an attachment to the user at the given address.
func (c *Client) SendPrivateMedia(kind protocol.MediaKind, targetIP string, targetPort int, data []byte, ext, fileName string) error {
	return c.send(&protocol.PrivateMediaMessage{
		Kind:       kind,
		TargetIP:   targetIP,
		TargetPort: protocol.PortNumber(targetPort),
		Data:       base64.StdEncoding.EncodeToString(data),
		Ext:        ext,
		FileName:   fileName,
		Timestamp:  protocol.Timestamp(),
	})
}

// DecodeMedia decodes a received attachment's base64 payload.
func DecodeMedia(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}

func (c *Client) send(msg protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	buf, err := protocol.EncodeFrameBytes(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("send %s: %w", msg.MessageType(), err)
	}
	return nil
}

// readLoop reads and dispatches inbound frames until the connection ends.
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		payload, err := protocol.ReadFrame(c.conn)
		if err != nil {
			c.finish(err)
			return
		}

		msg, err := protocol.Decode(payload)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedMessage) {
				c.logf("%v (frame skipped)", err)
				continue
			}
			c.finish(err)
			return
		}

		c.dispatch(msg)
	}
}

// finish reports the terminal event once. A read error after the user
// asked to close is the expected shutdown, not a connection loss.
func (c *Client) finish(err error) {
	c.disconnectOnce.Do(func() {
		if c.userClosed.Load() {
			err = nil
		} else {
			c.logf("connection lost: %v", err)
		}
		if c.handlers.OnDisconnect != nil {
			c.handlers.OnDisconnect(err)
		}
	})
}

func (c *Client) dispatch(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.RosterMessage:
		if c.handlers.OnRoster != nil {
			c.handlers.OnRoster(m)
		}
	case *protocol.FriendLoginMessage:
		if c.handlers.OnFriendLogin != nil {
			c.handlers.OnFriendLogin(m)
		}
	case *protocol.UserLogoutMessage:
		if c.handlers.OnUserLogout != nil {
			c.handlers.OnUserLogout(m)
		}
	case *protocol.SquareTextMessage:
		if c.handlers.OnSquareText != nil {
			c.handlers.OnSquareText(m)
		}
	case *protocol.PrivateTextMessage:
		if c.handlers.OnPrivateText != nil {
			c.handlers.OnPrivateText(m)
		}
	case *protocol.SquareMediaMessage:
		if c.handlers.OnSquareMedia != nil {
			c.handlers.OnSquareMedia(m)
		}
	case *protocol.PrivateMediaMessage:
		if c.handlers.OnPrivateMedia != nil {
			c.handlers.OnPrivateMedia(m)
		}
	default:
		c.logf("ignoring inbound %s", msg.MessageType())
	}
}
