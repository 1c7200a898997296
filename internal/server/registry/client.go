// Package registry is the single source of truth for "who is online and on
// which socket". It owns every live Connection and the username index over
// them. All mutation happens on the engine's dispatch goroutine.
package registry

import (
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vkuskov/meeseng/internal/protocol"
)

// State is the authentication state of a connection.
type State int

const (
	StateUnauthenticated State = iota
	StatePendingChallenge
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StatePendingChallenge:
		return "pending_challenge"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Client represents one accepted TCP connection. The username field is
// empty until the handshake binds one.
type Client struct {
	ID uuid.UUID

	conn         net.Conn
	codec        *protocol.Codec
	writeTimeout time.Duration

	state    State
	username string
	closed   bool
}

func NewClient(conn net.Conn, writeTimeout time.Duration, maxFrameBytes int) *Client {
	return &Client{
		ID:           uuid.New(),
		conn:         conn,
		codec:        protocol.NewCodecSize(conn, maxFrameBytes),
		writeTimeout: writeTimeout,
	}
}

// Read blocks until the next frame arrives. Called only from the client's
// reader goroutine.
func (c *Client) Read() (*protocol.Message, error) {
	return c.codec.Read()
}

// Send writes one frame under the write deadline. Any error means the peer
// is gone; the caller must tear the connection down.
func (c *Client) Send(msg *protocol.Message) error {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.codec.Write(msg)
}

// Close shuts the socket. Idempotent.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// SetReadDeadline bounds the next blocking Read. A zero time clears it.
func (c *Client) SetReadDeadline(t time.Time) {
	_ = c.conn.SetReadDeadline(t)
}

func (c *Client) State() State         { return c.state }
func (c *Client) SetState(s State)     { c.state = s }
func (c *Client) Username() string     { return c.username }
func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// PeerHostPort splits the remote address for login bookkeeping.
func (c *Client) PeerHostPort() (string, int) {
	host, portStr, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
