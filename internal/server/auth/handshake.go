// Package auth implements the challenge–response handshake a connection
// must pass before the router will accept its messages.
//
// Two round trips, as the protocol requires: the server greets a new
// connection with a challenge, the client announces itself with a presence
// message, the server answers with a fresh keyed-digest challenge, and the
// client proves knowledge of its password hash by returning
// HMAC-SHA256(passwordHash, challenge).
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/vkuskov/meeseng/internal/cryptox"
	"github.com/vkuskov/meeseng/internal/protocol"
	"github.com/vkuskov/meeseng/internal/server/users"
	"github.com/vkuskov/meeseng/internal/shared"
)

// Failure reply strings are part of the protocol: clients render them
// verbatim.
const (
	ReplyUserInUse    = "Username is in use."
	ReplyUnknownUser  = "User is not registered."
	ReplyBadPassword  = "Bad password."
	ReplyBadHandshake = "bad request"
)

const challengeSize = 64

var ErrUnexpectedMessage = errors.New("unexpected handshake message")

type phase int

const (
	phaseAwaitPresence phase = iota
	phaseAwaitDigest
	phaseDone
)

// Handshake is the per-connection state machine. The challenge bytes and
// the expected digest live only between the two round trips and are
// discarded once the digest is checked.
type Handshake struct {
	phase    phase
	username string
	pubkey   string
	expected []byte
}

func (h *Handshake) Username() string  { return h.username }
func (h *Handshake) PublicKey() string { return h.pubkey }
func (h *Handshake) Done() bool        { return h.phase == phaseDone }

// Service runs handshakes against the user store.
type Service struct {
	store users.Store
}

func NewService(store users.Store) *Service {
	return &Service{store: store}
}

// Begin creates the handshake state for a fresh connection together with
// the greeting challenge the server sends right after accept.
func (s *Service) Begin() (*Handshake, *protocol.Message) {
	greeting := base64.StdEncoding.EncodeToString(shared.GenerateRandByteArray(challengeSize))
	return &Handshake{phase: phaseAwaitPresence}, protocol.Challenge(greeting)
}

// Advance consumes one client message. nameTaken reports whether a
// username is already bound to a live connection. On success it returns
// the next server reply; when the handshake completes the reply is nil and
// h.Done() is true (the caller registers the connection and sends the OK).
//
// Every returned error is terminal for the connection: the caller sends
// FailureReply(err) and closes.
func (s *Service) Advance(ctx context.Context, h *Handshake, msg *protocol.Message, nameTaken func(string) bool) (*protocol.Message, error) {
	switch h.phase {
	case phaseAwaitPresence:
		return s.handlePresence(ctx, h, msg, nameTaken)
	case phaseAwaitDigest:
		return nil, s.handleDigest(h, msg)
	default:
		return nil, ErrUnexpectedMessage
	}
}

func (s *Service) handlePresence(ctx context.Context, h *Handshake, msg *protocol.Message, nameTaken func(string) bool) (*protocol.Message, error) {
	if msg.Action != protocol.ActionPresence || msg.Account == "" {
		return nil, ErrUnexpectedMessage
	}

	// duplicate logins are rejected before any digest exchange
	if nameTaken(msg.Account) {
		return nil, shared.ErrorUsernameInUse
	}

	hash, err := s.store.PasswordHash(ctx, msg.Account)
	if err != nil {
		if errors.Is(err, shared.ErrorNotFound) {
			return nil, shared.ErrorUnknownUser
		}
		return nil, fmt.Errorf("password hash lookup: %w", err)
	}

	challenge := shared.GenerateRandByteArray(challengeSize)
	h.username = msg.Account
	h.pubkey = msg.PublicKey
	h.expected = cryptox.ChallengeDigest(hash, challenge)
	h.phase = phaseAwaitDigest

	return protocol.Challenge(base64.StdEncoding.EncodeToString(challenge)), nil
}

func (s *Service) handleDigest(h *Handshake, msg *protocol.Message) error {
	expected := h.expected
	h.expected = nil // single attempt, never reused

	if msg.Response != protocol.ResponseDigest || msg.Data == "" {
		return ErrUnexpectedMessage
	}

	digest, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return shared.ErrorBadDigest
	}

	if subtle.ConstantTimeCompare(expected, digest) != 1 {
		return shared.ErrorBadDigest
	}

	h.phase = phaseDone
	return nil
}

// FailureReply maps a handshake error to the structured reply sent before
// the connection is closed.
func FailureReply(err error) *protocol.Message {
	switch {
	case errors.Is(err, shared.ErrorUsernameInUse):
		return protocol.BadRequest(ReplyUserInUse)
	case errors.Is(err, shared.ErrorUnknownUser):
		return protocol.BadRequest(ReplyUnknownUser)
	case errors.Is(err, shared.ErrorBadDigest):
		return protocol.BadRequest(ReplyBadPassword)
	default:
		return protocol.BadRequest(ReplyBadHandshake)
	}
}
