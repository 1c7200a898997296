package registry

import (
	"github.com/vkuskov/meeseng/internal/shared"
)

// Registry tracks every open connection and the username index over the
// authenticated ones. It is not safe for concurrent use: the engine's
// dispatch goroutine is the only caller.
//
// Invariant: byUsername[u] == c implies c is in clients; Remove clears
// both atomically.
type Registry struct {
	clients    map[*Client]struct{}
	byUsername map[string]*Client
}

func New() *Registry {
	return &Registry{
		clients:    make(map[*Client]struct{}),
		byUsername: make(map[string]*Client),
	}
}

// Add inserts a freshly accepted, not yet authenticated connection.
func (r *Registry) Add(c *Client) {
	r.clients[c] = struct{}{}
}

// Register binds username to c and marks it authenticated. Fails with
// shared.ErrorUsernameInUse if the name is already bound to a live
// connection.
func (r *Registry) Register(c *Client, username string) error {
	if _, exists := r.byUsername[username]; exists {
		return shared.ErrorUsernameInUse
	}
	r.clients[c] = struct{}{}
	r.byUsername[username] = c
	c.username = username
	c.state = StateAuthenticated
	return nil
}

// Lookup returns the connection bound to username.
func (r *Registry) Lookup(username string) (*Client, bool) {
	c, ok := r.byUsername[username]
	return c, ok
}

// Remove drops c from both indexes and closes its socket. It returns the
// username that was bound, if any. Removing an already-removed connection
// is a no-op.
func (r *Registry) Remove(c *Client) (username string, existed bool) {
	if _, ok := r.clients[c]; !ok {
		return "", false
	}
	delete(r.clients, c)
	if c.username != "" {
		if bound, ok := r.byUsername[c.username]; ok && bound == c {
			delete(r.byUsername, c.username)
		}
		username = c.username
	}
	_ = c.Close()
	return username, true
}

// Contains reports whether c is still tracked.
func (r *Registry) Contains(c *Client) bool {
	_, ok := r.clients[c]
	return ok
}

// AllUsernames returns a snapshot of the bound usernames. Order is
// unspecified.
func (r *Registry) AllUsernames() []string {
	names := make([]string, 0, len(r.byUsername))
	for name := range r.byUsername {
		names = append(names, name)
	}
	return names
}

// Authenticated returns a snapshot of all username-bound connections.
func (r *Registry) Authenticated() []*Client {
	out := make([]*Client, 0, len(r.byUsername))
	for _, c := range r.byUsername {
		out = append(out, c)
	}
	return out
}

// Clients returns a snapshot of every open connection.
func (r *Registry) Clients() []*Client {
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int { return len(r.clients) }
