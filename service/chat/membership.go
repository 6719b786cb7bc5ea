package chat

import (
	"context"
	"sync"

	"github.com/ntpoppe/sharply-sub000/tools/errs"
)

// Membership is the channel bookkeeping half of the gateway state:
// the per-user access cache (loaded once per online session) and the
// per-channel subscriber sets. It never talks to a socket and never
// enforces access on Join; call sites gate joins with HasAccess.
type Membership struct {
	source AccessSource

	mu      sync.RWMutex
	access  map[string]map[string]struct{} // user -> accessible channel set
	loading map[string]chan struct{}       // in-flight access loads
	subs    map[string]map[string]*Client  // channel -> conn_id -> client
	byConn  map[string]map[string]struct{} // conn_id -> joined channel set
}

func NewMembership(source AccessSource) *Membership {
	return &Membership{
		source:  source,
		access:  make(map[string]map[string]struct{}),
		loading: make(map[string]chan struct{}),
		subs:    make(map[string]map[string]*Client),
		byConn:  make(map[string]map[string]struct{}),
	}
}

// LoadAccess populates the access cache for a user, hitting the
// AccessSource at most once per online session no matter how many
// connections arrive concurrently: the first caller loads, the rest
// wait for its result.
func (m *Membership) LoadAccess(ctx context.Context, userID string) error {
	for {
		m.mu.Lock()
		if _, ok := m.access[userID]; ok {
			m.mu.Unlock()
			return nil
		}
		if ch, inflight := m.loading[userID]; inflight {
			m.mu.Unlock()
			select {
			case <-ch:
				continue // loader finished; re-check the cache
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		ch := make(chan struct{})
		m.loading[userID] = ch
		m.mu.Unlock()

		channels, err := m.source.AccessibleChannels(ctx, userID)

		m.mu.Lock()
		delete(m.loading, userID)
		close(ch)
		if err != nil {
			m.mu.Unlock()
			return errs.WrapMsg(err, "load channel access", "user", userID)
		}
		set := make(map[string]struct{}, len(channels))
		for _, id := range channels {
			set[id] = struct{}{}
		}
		m.access[userID] = set
		m.mu.Unlock()
		return nil
	}
}

// HasAccess is a pure cache lookup. It fails open to false for users
// with no cached entry; access checks for offline users belong to the
// AccessSource, not this cache.
func (m *Membership) HasAccess(userID, channelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.access[userID]
	if !ok {
		return false
	}
	_, ok = set[channelID]
	return ok
}

// EvictAccess drops the cached access set. Called on a user's last
// disconnect.
func (m *Membership) EvictAccess(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.access, userID)
}

// RefreshAccess re-reads the AccessSource for an online user, replaces
// the cached set, and prunes this user's connections out of channel
// groups they no longer have access to. No-op for users with no cached
// entry.
func (m *Membership) RefreshAccess(ctx context.Context, userID string) error {
	m.mu.RLock()
	_, online := m.access[userID]
	m.mu.RUnlock()
	if !online {
		return nil
	}

	channels, err := m.source.AccessibleChannels(ctx, userID)
	if err != nil {
		return errs.WrapMsg(err, "refresh channel access", "user", userID)
	}
	set := make(map[string]struct{}, len(channels))
	for _, id := range channels {
		set[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, still := m.access[userID]; !still {
		return nil // went offline while we were reading
	}
	m.access[userID] = set
	for channelID, conns := range m.subs {
		if _, ok := set[channelID]; ok {
			continue
		}
		for connID, c := range conns {
			if c.UserID != userID {
				continue
			}
			delete(conns, connID)
			if s := m.byConn[connID]; s != nil {
				delete(s, channelID)
			}
		}
		if len(conns) == 0 {
			delete(m.subs, channelID)
		}
	}
	return nil
}

// Join adds the connection to the channel's subscriber set.
func (m *Membership) Join(c *Client, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := m.subs[channelID]
	if conns == nil {
		conns = make(map[string]*Client)
		m.subs[channelID] = conns
	}
	conns[c.ConnID] = c

	set := m.byConn[c.ConnID]
	if set == nil {
		set = make(map[string]struct{})
		m.byConn[c.ConnID] = set
	}
	set[channelID] = struct{}{}
}

// Leave removes the connection from one channel group. Leaving a group
// the connection never joined is a no-op.
func (m *Membership) Leave(connID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conns := m.subs[channelID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(m.subs, channelID)
		}
	}
	if set := m.byConn[connID]; set != nil {
		delete(set, channelID)
		if len(set) == 0 {
			delete(m.byConn, connID)
		}
	}
}

// DropConn removes the connection from every group it had joined.
// Part of the unconditional disconnect cleanup.
func (m *Membership) DropConn(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for channelID := range m.byConn[connID] {
		if conns := m.subs[channelID]; conns != nil {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.subs, channelID)
			}
		}
	}
	delete(m.byConn, connID)
}

// Subscribers snapshots the channel's current subscriber set.
func (m *Membership) Subscribers(channelID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := m.subs[channelID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}
