package chat

import (
	"sort"
	"sync"

	"github.com/ntpoppe/sharply-sub000/tools/errs"
)

// Registry is the concurrency-safe bidirectional map between live
// connections and users. One user may hold many connections; every
// connection belongs to exactly one user.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Client            // conn_id -> client
	byUser map[string]map[string]*Client // user -> conn_id -> client
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
	}
}

// Register records the connection. The second return reports whether
// this is the user's first live connection (the distinct online set
// grew). Re-registering a known conn ID fails with
// errs.ErrDuplicateConnection and leaves the original mapping intact.
func (r *Registry) Register(c *Client) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byConn[c.ConnID]; exists {
		return false, errs.ErrDuplicateConnection.WithDetail(c.ConnID)
	}
	m := r.byUser[c.UserID]
	if m == nil {
		m = make(map[string]*Client)
		r.byUser[c.UserID] = m
		first = true
	}
	m[c.ConnID] = c
	r.byConn[c.ConnID] = c
	return first, nil
}

// Unregister removes the mapping. Unknown connection IDs are an
// expected race (disconnect-before-register) and return ok=false with
// no error. last reports whether the owning user just went offline.
func (r *Registry) Unregister(connID string) (c *Client, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok = r.byConn[connID]
	if !ok {
		return nil, false, false
	}
	delete(r.byConn, connID)
	if m := r.byUser[c.UserID]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(r.byUser, c.UserID)
			last = true
		}
	}
	return c, last, true
}

// Get returns the client for a live connection ID.
func (r *Registry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byConn[connID]
	return c, ok
}

// UsersOnline returns the distinct users with at least one live
// connection, under one consistent snapshot. Sorted for determinism.
func (r *Registry) UsersOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// ConnsOfUser lists all live connections of one user.
func (r *Registry) ConnsOfUser(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byUser[userID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// ListAll snapshots every live connection (presence broadcast target).
func (r *Registry) ListAll() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, c)
	}
	return out
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
