package router

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkuskov/meeseng/internal/logging"
	"github.com/vkuskov/meeseng/internal/protocol"
	"github.com/vkuskov/meeseng/internal/server/registry"
	"github.com/vkuskov/meeseng/internal/server/users"
)

// testPeer is the far end of one registered connection. A background
// goroutine collects everything the router sends to it.
type testPeer struct {
	client *registry.Client
	conn   net.Conn

	mu  sync.Mutex
	got []*protocol.Message
}

func newPeer(t *testing.T) *testPeer {
	t.Helper()
	srv, cli := net.Pipe()
	p := &testPeer{client: registry.NewClient(srv, time.Second, 0), conn: cli}

	go func() {
		codec := protocol.NewCodec(cli)
		for {
			m, err := codec.Read()
			if err != nil {
				return
			}
			p.mu.Lock()
			p.got = append(p.got, m)
			p.mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		srv.Close()
		cli.Close()
	})
	return p
}

func (p *testPeer) messages() []*protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*protocol.Message, len(p.got))
	copy(out, p.got)
	return out
}

func (p *testPeer) waitN(t *testing.T, n int) []*protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := p.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, have %d", n, len(p.messages()))
	return nil
}

type fixture struct {
	reg     *registry.Registry
	store   *users.MemoryStore
	router  *Router
	dropped []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:   registry.New(),
		store: users.NewMemoryStore(),
	}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.router = New(f.reg, f.store, logger, func(c *registry.Client, reason string) {
		if name, existed := f.reg.Remove(c); existed {
			f.dropped = append(f.dropped, name+"/"+reason)
		}
	})
	return f
}

func (f *fixture) login(t *testing.T, name string) *testPeer {
	t.Helper()
	p := newPeer(t)
	f.reg.Add(p.client)
	require.NoError(t, f.store.CreateUser(context.Background(), name, []byte("h")))
	require.NoError(t, f.reg.Register(p.client, name))
	return p
}

func TestDirectedMessage_Delivered(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	msg := &protocol.Message{Action: protocol.ActionMessage, From: "alice", To: "bob", Text: "hi"}
	f.router.Dispatch(context.Background(), alice.client, msg)

	got := bob.waitN(t, 1)
	assert.Equal(t, "alice", got[0].From)
	assert.Equal(t, "bob", got[0].To)
	assert.Equal(t, "hi", got[0].Text)

	ack := alice.waitN(t, 1)
	assert.Equal(t, protocol.ResponseOK, ack[0].Response)

	assert.Equal(t, 1, f.store.MessageCount())
}

func TestDirectedMessage_UnknownDestination(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")

	msg := &protocol.Message{Action: protocol.ActionMessage, From: "alice", To: "carol", Text: "hi"}
	f.router.Dispatch(context.Background(), alice.client, msg)

	got := alice.waitN(t, 1)
	assert.Equal(t, protocol.ResponseBadRequest, got[0].Response)
	assert.Equal(t, ReplyUnknownUser, got[0].Error)
}

func TestDirectedMessage_SenderIdentityEnforced(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	// alice's connection claims to be bob
	msg := &protocol.Message{Action: protocol.ActionMessage, From: "bob", To: "bob", Text: "hi"}
	f.router.Dispatch(context.Background(), alice.client, msg)

	got := alice.waitN(t, 1)
	assert.Equal(t, protocol.ResponseBadRequest, got[0].Response)
	assert.Empty(t, bob.messages())
	assert.Zero(t, f.store.MessageCount())
}

func TestBroadcast_RewritesDestinationPerRecipient(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")
	carol := f.login(t, "carol")

	msg := &protocol.Message{Action: protocol.ActionMessage, From: "alice", To: protocol.BroadcastDest, Text: "hi all"}
	f.router.Dispatch(context.Background(), alice.client, msg)

	for name, p := range map[string]*testPeer{"bob": bob, "carol": carol} {
		got := p.waitN(t, 1)
		assert.Equal(t, name, got[0].To)
		assert.Equal(t, "alice", got[0].From)
		assert.Equal(t, "hi all", got[0].Text)
	}

	// the sender gets its own copy plus the ack
	got := alice.waitN(t, 2)
	assert.Equal(t, "alice", got[0].To)
	assert.Equal(t, protocol.ResponseOK, got[1].Response)
}

func TestDeliveryFailure_DropsDestinationNotSender(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	// bob's peer stops reading and the transport dies
	bob.conn.Close()

	msg := &protocol.Message{Action: protocol.ActionMessage, From: "alice", To: "bob", Text: "hi"}
	f.router.Dispatch(context.Background(), alice.client, msg)

	ack := alice.waitN(t, 1)
	assert.Equal(t, protocol.ResponseOK, ack[0].Response)

	_, stillThere := f.reg.Lookup("bob")
	assert.False(t, stillThere)
	assert.Contains(t, f.dropped, "bob/write error")
	_, aliceThere := f.reg.Lookup("alice")
	assert.True(t, aliceThere)
}

func TestGetContacts(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")
	require.NoError(t, f.store.AddContact(context.Background(), "alice", "bob"))

	f.router.Dispatch(context.Background(), alice.client,
		&protocol.Message{Action: protocol.ActionGetContacts, Account: "alice"})

	got := alice.waitN(t, 1)
	assert.Equal(t, protocol.ResponseAccepted, got[0].Response)
	assert.Equal(t, []string{"bob"}, got[0].List)
}

func TestContactOps_IdentityEnforced(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")

	actions := []string{protocol.ActionGetContacts, protocol.ActionAddContact, protocol.ActionRemoveContact}
	for _, action := range actions {
		f.router.Dispatch(context.Background(), alice.client,
			&protocol.Message{Action: action, Account: "mallory", To: "bob"})
	}

	got := alice.waitN(t, len(actions))
	for _, m := range got {
		assert.Equal(t, protocol.ResponseBadRequest, m.Response)
		assert.Equal(t, ReplyBadRequest, m.Error)
	}
}

func TestAddRemoveContact(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")

	f.router.Dispatch(context.Background(), alice.client,
		&protocol.Message{Action: protocol.ActionAddContact, Account: "alice", To: "bob"})
	got := alice.waitN(t, 1)
	assert.Equal(t, protocol.ResponseOK, got[0].Response)

	contacts, err := f.store.Contacts(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, contacts)

	f.router.Dispatch(context.Background(), alice.client,
		&protocol.Message{Action: protocol.ActionRemoveContact, Account: "alice", To: "bob"})
	got = alice.waitN(t, 2)
	assert.Equal(t, protocol.ResponseOK, got[1].Response)

	contacts, err = f.store.Contacts(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, contacts)
}

func TestUsersRequest(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")
	_ = f.login(t, "bob")

	f.router.Dispatch(context.Background(), alice.client,
		&protocol.Message{Action: protocol.ActionUsersRequest, Account: "alice"})

	got := alice.waitN(t, 1)
	assert.Equal(t, protocol.ResponseAccepted, got[0].Response)
	assert.ElementsMatch(t, []string{"alice", "bob"}, got[0].List)
}

func TestPubKeyRequest(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")
	_ = f.login(t, "bob")
	require.NoError(t, f.store.RecordLogin(context.Background(), "bob", "10.0.0.9", 4000, "bob-key"))

	// no identity check: alice may ask for bob's key
	f.router.Dispatch(context.Background(), alice.client,
		&protocol.Message{Action: protocol.ActionPubKeyRequest, Account: "bob"})
	got := alice.waitN(t, 1)
	assert.Equal(t, protocol.ResponseAccepted, got[0].Response)
	assert.Equal(t, "bob-key", got[0].Data)

	f.router.Dispatch(context.Background(), alice.client,
		&protocol.Message{Action: protocol.ActionPubKeyRequest, Account: "alice"})
	got = alice.waitN(t, 2)
	assert.Equal(t, protocol.ResponseBadRequest, got[1].Response)
	assert.Equal(t, ReplyNoPublicKey, got[1].Error)
}

func TestExit(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")

	f.router.Dispatch(context.Background(), alice.client,
		&protocol.Message{Action: protocol.ActionExit, Account: "alice"})

	_, there := f.reg.Lookup("alice")
	assert.False(t, there)
	assert.Equal(t, []string{"alice/exit"}, f.dropped)
	assert.Empty(t, alice.messages(), "exit sends no reply")
}

func TestExit_IdentityEnforced(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")

	f.router.Dispatch(context.Background(), alice.client,
		&protocol.Message{Action: protocol.ActionExit, Account: "bob"})

	got := alice.waitN(t, 1)
	assert.Equal(t, protocol.ResponseBadRequest, got[0].Response)
	_, there := f.reg.Lookup("alice")
	assert.True(t, there)
}

func TestUnknownAction(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice")

	f.router.Dispatch(context.Background(), alice.client, &protocol.Message{Action: "join"})

	got := alice.waitN(t, 1)
	assert.Equal(t, protocol.ResponseBadRequest, got[0].Response)
	assert.Equal(t, ReplyBadRequest, got[0].Error)

	// connection stays open after a malformed request
	_, there := f.reg.Lookup("alice")
	assert.True(t, there)
}
