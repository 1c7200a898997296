// Package chat implements the client side of the messaging protocol: the
// connection, the authentication handshake and one method per server
// operation.
package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/vkuskov/meeseng/internal/cryptox"
	"github.com/vkuskov/meeseng/internal/protocol"
	"github.com/vkuskov/meeseng/internal/shared"
)

const (
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 15 * time.Second
	eventBuffer      = 64
)

// ErrServerRejected wraps the server's textual reason for a 400 reply.
var ErrServerRejected = errors.New("server rejected request")

// ErrConnectionClosed is returned by operations once the link is gone.
var ErrConnectionClosed = errors.New("connection closed")

// Client is an authenticated protocol connection. Request methods are safe
// for one caller at a time; pushed messages and refresh notices arrive on
// the Events channel.
type Client struct {
	conn     net.Conn
	codec    *protocol.Codec
	username string

	mu      sync.Mutex
	replies chan *protocol.Message
	events  chan *protocol.Message
	closed  chan struct{}
	once    sync.Once
}

// Dial connects to a server but does not authenticate; call Login next.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		codec:   protocol.NewCodec(conn),
		replies: make(chan *protocol.Message, 1),
		events:  make(chan *protocol.Message, eventBuffer),
		closed:  make(chan struct{}),
	}, nil
}

// Login performs the challenge handshake. The password is wiped before
// returning. On success the background reader starts and the connection is
// ready for requests.
func (c *Client) Login(username string, password []byte, pubkey string) error {
	defer shared.WipeByteArray(password)

	_ = c.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer c.conn.SetDeadline(time.Time{})

	greeting, err := c.codec.Read()
	if err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	if greeting.Response != protocol.ResponseDigest {
		return fmt.Errorf("unexpected greeting response %d", greeting.Response)
	}

	err = c.codec.Write(&protocol.Message{
		Action:    protocol.ActionPresence,
		Account:   username,
		PublicKey: pubkey,
		Time:      time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("send presence: %w", err)
	}

	reply, err := c.codec.Read()
	if err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}
	if reply.Response == protocol.ResponseBadRequest {
		return fmt.Errorf("%w: %s", ErrServerRejected, reply.Error)
	}
	if reply.Response != protocol.ResponseDigest || reply.Data == "" {
		return fmt.Errorf("unexpected challenge response %d", reply.Response)
	}

	challenge, err := base64.StdEncoding.DecodeString(reply.Data)
	if err != nil {
		return fmt.Errorf("decode challenge: %w", err)
	}

	hash := cryptox.DerivePasswordHash(password, username)
	digest := cryptox.ChallengeDigest(hash, challenge)
	shared.WipeByteArray(hash)

	err = c.codec.Write(protocol.DigestResponse(base64.StdEncoding.EncodeToString(digest)))
	if err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	final, err := c.codec.Read()
	if err != nil {
		return fmt.Errorf("read login result: %w", err)
	}
	if final.Response != protocol.ResponseOK {
		return fmt.Errorf("%w: %s", ErrServerRejected, final.Error)
	}

	c.username = username
	go c.readLoop()
	return nil
}

// Username returns the name bound during Login.
func (c *Client) Username() string { return c.username }

// Events delivers incoming chat messages and refresh notices. The channel
// is never closed; watch Done for connection loss.
func (c *Client) Events() <-chan *protocol.Message { return c.events }

// Done is closed when the connection is lost or Close is called.
func (c *Client) Done() <-chan struct{} { return c.closed }

func (c *Client) readLoop() {
	for {
		msg, err := c.codec.Read()
		if err != nil {
			c.Close()
			return
		}
		if msg.Action == protocol.ActionMessage || msg.Response == protocol.ResponseServiceRefresh {
			select {
			case c.events <- msg:
			default: // a stalled consumer must not wedge the reader
			}
			continue
		}
		select {
		case c.replies <- msg:
		default:
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, req *protocol.Message) (*protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.replies: // stale reply left by a cancelled request
	default:
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.codec.Write(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case reply := <-c.replies:
		if reply.Response == protocol.ResponseBadRequest {
			return nil, fmt.Errorf("%w: %s", ErrServerRejected, reply.Error)
		}
		return reply, nil
	case <-c.closed:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendText delivers a direct message. to may be BroadcastDest.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	_, err := c.roundTrip(ctx, &protocol.Message{
		Action: protocol.ActionMessage,
		From:   c.username,
		To:     to,
		Text:   text,
		Time:   time.Now().Unix(),
	})
	return err
}

// Contacts fetches the caller's contact list.
func (c *Client) Contacts(ctx context.Context) ([]string, error) {
	reply, err := c.roundTrip(ctx, &protocol.Message{
		Action:  protocol.ActionGetContacts,
		Account: c.username,
		Time:    time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}
	return reply.List, nil
}

// AddContact adds name to the caller's contact list.
func (c *Client) AddContact(ctx context.Context, name string) error {
	_, err := c.roundTrip(ctx, &protocol.Message{
		Action:  protocol.ActionAddContact,
		Account: c.username,
		To:      name,
		Time:    time.Now().Unix(),
	})
	return err
}

// RemoveContact removes name from the caller's contact list.
func (c *Client) RemoveContact(ctx context.Context, name string) error {
	_, err := c.roundTrip(ctx, &protocol.Message{
		Action:  protocol.ActionRemoveContact,
		Account: c.username,
		To:      name,
		Time:    time.Now().Unix(),
	})
	return err
}

// Users fetches the list of all registered users.
func (c *Client) Users(ctx context.Context) ([]string, error) {
	reply, err := c.roundTrip(ctx, &protocol.Message{
		Action:  protocol.ActionUsersRequest,
		Account: c.username,
		Time:    time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}
	return reply.List, nil
}

// PublicKey fetches another user's public key.
func (c *Client) PublicKey(ctx context.Context, user string) (string, error) {
	reply, err := c.roundTrip(ctx, &protocol.Message{
		Action:  protocol.ActionPubKeyRequest,
		Account: user,
		Time:    time.Now().Unix(),
	})
	if err != nil {
		return "", err
	}
	return reply.Data, nil
}

// Quit announces departure; the server closes the connection without a
// reply, so none is awaited.
func (c *Client) Quit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := c.codec.Write(&protocol.Message{
		Action:  protocol.ActionExit,
		Account: c.username,
		Time:    time.Now().Unix(),
	})
	c.Close()
	return err
}

// Close drops the connection. Idempotent.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
