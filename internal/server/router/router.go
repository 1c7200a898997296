// Package router dispatches messages from authenticated connections:
// directed and broadcast text, contact-list operations, user and key
// queries, and logout.
package router

import (
	"context"
	"errors"

	"github.com/vkuskov/meeseng/internal/logging"
	"github.com/vkuskov/meeseng/internal/protocol"
	"github.com/vkuskov/meeseng/internal/server/registry"
	"github.com/vkuskov/meeseng/internal/server/users"
	"github.com/vkuskov/meeseng/internal/shared"
)

// Reply strings rendered by clients.
const (
	ReplyBadRequest  = "bad request"
	ReplyUnknownUser = "Unknown user."
	ReplyNoPublicKey = "no public key"
)

// Dropper tears a connection down: registry removal, logout bookkeeping
// and the service-refresh broadcast. Provided by the engine so teardown
// stays in one place.
type Dropper func(c *registry.Client, reason string)

type Router struct {
	reg    *registry.Registry
	store  users.Store
	logger logging.Logger
	drop   Dropper
}

func New(reg *registry.Registry, store users.Store, logger logging.Logger, drop Dropper) *Router {
	return &Router{
		reg:    reg,
		store:  store,
		logger: logger.With("module", "router"),
		drop:   drop,
	}
}

// Dispatch handles one decoded message from an authenticated connection.
// Every failure path is local to c or to the destination it addressed.
func (r *Router) Dispatch(ctx context.Context, c *registry.Client, msg *protocol.Message) {
	switch msg.Action {
	case protocol.ActionMessage:
		r.handleMessage(ctx, c, msg)
	case protocol.ActionGetContacts:
		r.handleGetContacts(ctx, c, msg)
	case protocol.ActionAddContact:
		r.handleContactMutation(ctx, c, msg, true)
	case protocol.ActionRemoveContact:
		r.handleContactMutation(ctx, c, msg, false)
	case protocol.ActionUsersRequest:
		r.handleUsersRequest(ctx, c)
	case protocol.ActionPubKeyRequest:
		r.handlePubKeyRequest(ctx, c, msg)
	case protocol.ActionExit:
		r.handleExit(c, msg)
	default:
		r.reply(c, protocol.BadRequest(ReplyBadRequest))
	}
}

// reply sends a response to c; a failed send means the peer is gone.
func (r *Router) reply(c *registry.Client, msg *protocol.Message) {
	if err := c.Send(msg); err != nil {
		r.logger.Warn(context.Background(), "reply failed, dropping client",
			"client", c.ID, "user", c.Username(), "error", err)
		r.drop(c, "write error")
	}
}

func (r *Router) handleMessage(ctx context.Context, c *registry.Client, msg *protocol.Message) {
	if msg.From != c.Username() || msg.To == "" {
		r.reply(c, protocol.BadRequest(ReplyBadRequest))
		return
	}

	// history/analytics only; a store failure must not block delivery
	if err := r.store.RecordMessage(ctx, msg.From, msg.To); err != nil {
		r.logger.Warn(ctx, "record message failed", "error", err)
	}

	if msg.To == protocol.BroadcastDest {
		r.broadcast(c, msg)
		return
	}

	dest, ok := r.reg.Lookup(msg.To)
	if !ok {
		r.reply(c, protocol.BadRequest(ReplyUnknownUser))
		return
	}

	if err := dest.Send(msg); err != nil {
		// the destination is gone; the sender is not at fault
		r.logger.Warn(ctx, "delivery failed, dropping destination",
			"destination", msg.To, "error", err)
		r.drop(dest, "write error")
	}
	r.reply(c, protocol.OK())
}

// broadcast delivers a copy to every registered connection, sender
// included, with the destination rewritten per recipient.
func (r *Router) broadcast(c *registry.Client, msg *protocol.Message) {
	for _, recipient := range r.reg.Authenticated() {
		out := *msg
		out.To = recipient.Username()
		if err := recipient.Send(&out); err != nil {
			r.logger.Warn(context.Background(), "broadcast delivery failed, dropping destination",
				"destination", recipient.Username(), "error", err)
			r.drop(recipient, "write error")
		}
	}
	if r.reg.Contains(c) {
		r.reply(c, protocol.OK())
	}
}

func (r *Router) handleGetContacts(ctx context.Context, c *registry.Client, msg *protocol.Message) {
	if msg.Account != c.Username() {
		r.reply(c, protocol.BadRequest(ReplyBadRequest))
		return
	}

	contacts, err := r.store.Contacts(ctx, msg.Account)
	if err != nil {
		r.logger.Error(ctx, "contact list lookup failed", "user", msg.Account, "error", err)
		r.reply(c, protocol.BadRequest(ReplyBadRequest))
		return
	}
	r.reply(c, protocol.NameList(contacts))
}

func (r *Router) handleContactMutation(ctx context.Context, c *registry.Client, msg *protocol.Message, add bool) {
	if msg.Account != c.Username() || msg.To == "" {
		r.reply(c, protocol.BadRequest(ReplyBadRequest))
		return
	}

	var err error
	if add {
		err = r.store.AddContact(ctx, msg.Account, msg.To)
	} else {
		err = r.store.RemoveContact(ctx, msg.Account, msg.To)
	}
	if err != nil {
		r.logger.Error(ctx, "contact mutation failed",
			"user", msg.Account, "contact", msg.To, "error", err)
		r.reply(c, protocol.BadRequest(ReplyBadRequest))
		return
	}
	r.reply(c, protocol.OK())
}

func (r *Router) handleUsersRequest(ctx context.Context, c *registry.Client) {
	all, err := r.store.AllUsers(ctx)
	if err != nil {
		r.logger.Error(ctx, "user list lookup failed", "error", err)
		r.reply(c, protocol.BadRequest(ReplyBadRequest))
		return
	}
	r.reply(c, protocol.NameList(all))
}

// handlePubKeyRequest intentionally performs no identity check: any
// authenticated client may query any user's key.
func (r *Router) handlePubKeyRequest(ctx context.Context, c *registry.Client, msg *protocol.Message) {
	if msg.Account == "" {
		r.reply(c, protocol.BadRequest(ReplyBadRequest))
		return
	}

	key, err := r.store.PublicKey(ctx, msg.Account)
	if err != nil {
		if errors.Is(err, shared.ErrorNotFound) {
			r.reply(c, protocol.BadRequest(ReplyNoPublicKey))
			return
		}
		r.logger.Error(ctx, "public key lookup failed", "user", msg.Account, "error", err)
		r.reply(c, protocol.BadRequest(ReplyBadRequest))
		return
	}
	r.reply(c, protocol.PubKeyResponse(key))
}

func (r *Router) handleExit(c *registry.Client, msg *protocol.Message) {
	if msg.Account != c.Username() {
		r.reply(c, protocol.BadRequest(ReplyBadRequest))
		return
	}
	// no reply; the connection is gone
	r.drop(c, "exit")
}
