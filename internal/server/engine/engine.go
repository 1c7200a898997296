// Package engine drives the server: it owns the listening socket, the
// client registry and the dispatch loop.
//
// The loop is single-threaded with respect to protocol state: one
// goroutine owns every registry mutation, every handshake step and every
// router call. Readiness comes from the runtime's netpoller. Each
// connection has a reader goroutine that blocks on the codec and posts
// events into the loop's channel, and the accept goroutine posts new
// connections the same way. Events from one connection arrive in order,
// and no two events are ever handled concurrently.
package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/vkuskov/meeseng/internal/logging"
	"github.com/vkuskov/meeseng/internal/protocol"
	"github.com/vkuskov/meeseng/internal/server/auth"
	"github.com/vkuskov/meeseng/internal/server/registry"
	"github.com/vkuskov/meeseng/internal/server/router"
	"github.com/vkuskov/meeseng/internal/server/users"
)

const (
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultWriteTimeout     = 5 * time.Second

	acceptRetryDelay = 100 * time.Millisecond
	eventBuffer      = 128
)

// Config holds the engine's runtime settings.
type Config struct {
	Addr             string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxFrameBytes    int
}

type eventKind int

const (
	eventAccept eventKind = iota
	eventMessage
	eventListenerDown
)

type event struct {
	kind   eventKind
	conn   net.Conn          // eventAccept
	client *registry.Client  // eventMessage
	msg    *protocol.Message // eventMessage, nil when err is set
	err    error
}

type Engine struct {
	cfg    Config
	logger logging.Logger
	store  users.Store

	reg     *registry.Registry
	auth    *auth.Service
	router  *router.Router
	pending map[*registry.Client]*auth.Handshake

	ln     net.Listener
	events chan event
	done   chan struct{}
}

func New(cfg Config, logger logging.Logger, store users.Store) *Engine {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger.With("module", "engine"),
		store:   store,
		reg:     registry.New(),
		auth:    auth.NewService(store),
		pending: make(map[*registry.Client]*auth.Handshake),
		events:  make(chan event, eventBuffer),
		done:    make(chan struct{}),
	}
	e.router = router.New(e.reg, store, logger, e.teardown)
	return e
}

// Listen binds the configured address. Run calls it implicitly, but
// callers that need the bound address (":0" in tests) can call it first
// and then ask Addr.
func (e *Engine) Listen() error {
	ln, err := net.Listen("tcp", e.cfg.Addr)
	if err != nil {
		return err
	}
	e.ln = ln
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (e *Engine) Addr() net.Addr {
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

// Run blocks in the dispatch loop until ctx is cancelled or the listener
// fails permanently. On return every open connection has been closed and
// logged out.
func (e *Engine) Run(ctx context.Context) error {
	if e.ln == nil {
		if err := e.Listen(); err != nil {
			return err
		}
	}

	e.logger.Info(ctx, "listening", "addr", e.ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = e.ln.Close()
	}()
	go e.acceptLoop(e.ln)

	defer close(e.done)
	defer e.shutdown(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-e.events:
			switch ev.kind {
			case eventAccept:
				e.handleAccept(ctx, ev.conn)
			case eventMessage:
				e.handleMessage(ctx, ev)
			case eventListenerDown:
				if ctx.Err() != nil {
					return nil
				}
				return ev.err
			}
		}
	}
}

func (e *Engine) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				e.post(event{kind: eventListenerDown, err: err})
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			// transient accept failures must not kill the server
			e.logger.Warn(context.Background(), "accept error", "error", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		if !e.post(event{kind: eventAccept, conn: conn}) {
			_ = conn.Close()
			return
		}
	}
}

// post delivers an event to the dispatch loop unless it has exited.
func (e *Engine) post(ev event) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) handleAccept(ctx context.Context, conn net.Conn) {
	c := registry.NewClient(conn, e.cfg.WriteTimeout, e.cfg.MaxFrameBytes)
	e.reg.Add(c)

	hs, greeting := e.auth.Begin()
	e.pending[c] = hs
	c.SetReadDeadline(time.Now().Add(e.cfg.HandshakeTimeout))

	e.logger.Debug(ctx, "connection accepted", "client", c.ID, "peer", c.RemoteAddr().String())

	if err := c.Send(greeting); err != nil {
		e.logger.Warn(ctx, "greeting failed", "client", c.ID, "error", err)
		e.teardown(c, "write error")
		return
	}

	go e.readLoop(c)
}

// readLoop is the only other goroutine that touches the connection, and
// it only reads: all writes and state changes happen on the dispatch
// goroutine.
func (e *Engine) readLoop(c *registry.Client) {
	for {
		msg, err := c.Read()
		if !e.post(event{kind: eventMessage, client: c, msg: msg, err: err}) {
			return
		}
		if err != nil {
			return
		}
	}
}

func (e *Engine) handleMessage(ctx context.Context, ev event) {
	c := ev.client
	if !e.reg.Contains(c) {
		// already torn down; the reader drains on its own
		return
	}

	if ev.err != nil {
		reason := "read error"
		if errors.Is(ev.err, io.EOF) {
			reason = "peer closed"
		} else {
			e.logger.Debug(ctx, "read failed", "client", c.ID, "error", ev.err)
		}
		e.teardown(c, reason)
		return
	}

	if hs, ok := e.pending[c]; ok {
		e.advanceHandshake(ctx, c, hs, ev.msg)
		return
	}

	e.router.Dispatch(ctx, c, ev.msg)
}

func (e *Engine) advanceHandshake(ctx context.Context, c *registry.Client, hs *auth.Handshake, msg *protocol.Message) {
	nameTaken := func(name string) bool {
		_, taken := e.reg.Lookup(name)
		return taken
	}

	reply, err := e.auth.Advance(ctx, hs, msg, nameTaken)
	if err != nil {
		// report once, then the connection is gone
		_ = c.Send(auth.FailureReply(err))
		e.logger.Info(ctx, "authentication rejected", "client", c.ID, "error", err)
		e.teardown(c, "auth failed")
		return
	}

	if reply != nil {
		if sendErr := c.Send(reply); sendErr != nil {
			e.teardown(c, "write error")
			return
		}
		c.SetState(registry.StatePendingChallenge)
		return
	}

	if hs.Done() {
		e.completeLogin(ctx, c, hs)
	}
}

func (e *Engine) completeLogin(ctx context.Context, c *registry.Client, hs *auth.Handshake) {
	username := hs.Username()

	// store bookkeeping goes first; the registry is only mutated once it
	// succeeded, so a store failure leaves no half-bound connection
	host, port := c.PeerHostPort()
	if err := e.store.RecordLogin(ctx, username, host, port, hs.PublicKey()); err != nil {
		e.logger.Error(ctx, "record login failed", "user", username, "error", err)
		_ = c.Send(protocol.BadRequest(auth.ReplyBadHandshake))
		e.teardown(c, "store error")
		return
	}

	if err := e.reg.Register(c, username); err != nil {
		// another connection bound the name between presence and digest
		_ = c.Send(auth.FailureReply(err))
		e.teardown(c, "duplicate username")
		return
	}

	delete(e.pending, c)
	c.SetReadDeadline(time.Time{})

	if err := c.Send(protocol.OK()); err != nil {
		e.teardown(c, "write error")
		return
	}

	e.logger.Info(ctx, "user logged in", "user", username, "client", c.ID, "peer", c.RemoteAddr().String())
	e.broadcastRefresh(c)
}

// teardown is the single exit path for a connection: registry removal,
// logout bookkeeping and the refresh broadcast. Idempotent.
func (e *Engine) teardown(c *registry.Client, reason string) {
	username, existed := e.reg.Remove(c)
	if !existed {
		return
	}
	delete(e.pending, c)

	if username != "" {
		if err := e.store.RecordLogout(context.Background(), username); err != nil {
			e.logger.Warn(context.Background(), "record logout failed", "user", username, "error", err)
		}
		e.logger.Info(context.Background(), "user logged out", "user", username, "reason", reason)
		e.broadcastRefresh(nil)
	} else {
		e.logger.Debug(context.Background(), "connection dropped", "client", c.ID, "reason", reason)
	}
}

// broadcastRefresh tells every authenticated client (except the one that
// triggered the change) that the global lists changed.
func (e *Engine) broadcastRefresh(except *registry.Client) {
	for _, c := range e.reg.Authenticated() {
		if c == except {
			continue
		}
		if err := c.Send(protocol.ServiceRefresh()); err != nil {
			e.teardown(c, "write error")
		}
	}
}

func (e *Engine) shutdown(ctx context.Context) {
	e.logger.Info(ctx, "shutting down", "open_connections", e.reg.Len())
	for _, c := range e.reg.Clients() {
		e.teardown(c, "server shutdown")
	}
}
