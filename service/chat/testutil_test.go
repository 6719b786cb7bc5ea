package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ntpoppe/sharply-sub000/tools/errs"
)

// memAccess is an in-memory AccessSource with per-user call counting.
type memAccess struct {
	mu     sync.Mutex
	grants map[string][]string
	calls  map[string]int
	err    error
	delay  time.Duration
}

func newMemAccess() *memAccess {
	return &memAccess{grants: make(map[string][]string), calls: make(map[string]int)}
}

func (a *memAccess) AccessibleChannels(ctx context.Context, userID string) ([]string, error) {
	a.mu.Lock()
	a.calls[userID]++
	delay, err, out := a.delay, a.err, append([]string(nil), a.grants[userID]...)
	a.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *memAccess) callCount(userID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[userID]
}

// memDir is an in-memory UserDirectory.
type memDir struct {
	mu    sync.Mutex
	names map[string]string
}

func newMemDir() *memDir { return &memDir{names: make(map[string]string)} }

func (d *memDir) Username(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.names[userID]
	if !ok {
		return "", errs.ErrUserNotFound.WithDetail(userID)
	}
	return name, nil
}

// memStore is an in-memory MessageStore assigning strictly increasing
// timestamps per channel, like the real one.
type memStore struct {
	mu       sync.Mutex
	channels map[string]struct{}
	msgs     map[string][]*Message
	lastTS   map[string]time.Time
	seq      int
	persists int
	failWith error
}

func newMemStore(channels ...string) *memStore {
	s := &memStore{
		channels: make(map[string]struct{}),
		msgs:     make(map[string][]*Message),
		lastTS:   make(map[string]time.Time),
	}
	for _, c := range channels {
		s.channels[c] = struct{}{}
	}
	return s
}

func (s *memStore) Persist(ctx context.Context, channelID, senderID, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persists++
	if s.failWith != nil {
		return nil, s.failWith
	}
	if _, ok := s.channels[channelID]; !ok {
		return nil, errs.ErrChannelNotFound.WithDetail(channelID)
	}
	ts := time.Now().UTC().Truncate(time.Millisecond)
	if last := s.lastTS[channelID]; !ts.After(last) {
		ts = last.Add(time.Millisecond)
	}
	s.lastTS[channelID] = ts
	s.seq++
	m := &Message{
		ID:        fmt.Sprintf("m%d", s.seq),
		ChannelID: channelID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: ts,
	}
	s.msgs[channelID] = append(s.msgs[channelID], m)
	return m, nil
}

func (s *memStore) History(ctx context.Context, channelID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		return nil, errs.ErrChannelNotFound.WithDetail(channelID)
	}
	return append([]*Message(nil), s.msgs[channelID]...), nil
}

func (s *memStore) persistCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persists
}

// memMirror records Online/Offline transitions.
type memMirror struct {
	mu     sync.Mutex
	events []string
}

func (m *memMirror) Online(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "online:"+userID)
	return nil
}

func (m *memMirror) Offline(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "offline:"+userID)
	return nil
}

func (m *memMirror) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// memRelay captures published channel frames.
type memRelay struct {
	mu       sync.Mutex
	channels []string
	err      error
}

func (r *memRelay) PublishMessage(ctx context.Context, channelID string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channelID)
	return r.err
}

func (r *memRelay) published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.channels...)
}

func newTestServer(access *memAccess, dir *memDir, store *memStore) *Server {
	return NewServer(store, dir, access, Options{SendQueueSize: 32, FanoutWorkers: 2, FanoutQueue: 64})
}

// mustConnect registers a nil-socket client through the full connect
// sequence.
func mustConnect(t *testing.T, srv *Server, connID, userID string) *Client {
	t.Helper()
	c := NewClient(connID, userID, nil, srv.Options().SendQueueSize)
	if err := srv.Connect(context.Background(), c); err != nil {
		t.Fatalf("connect %s/%s failed: %v", connID, userID, err)
	}
	return c
}

// recvFrameOfType drains the client's queue until a frame of the given
// type arrives. Roster broadcasts run on the fan-out pool, so tests
// wait rather than assume synchronous delivery.
func recvFrameOfType(t *testing.T, c *Client, typ string) *Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case payload := <-c.Send:
			f, err := ParseFrame(payload)
			if err != nil {
				t.Fatalf("bad frame on %s: %v", c.ConnID, err)
			}
			if f.Type == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("no %q frame on %s within deadline", typ, c.ConnID)
		}
	}
}

// expectNoFrame asserts the client's queue stays empty for a short
// settle window.
func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.Send:
		f, _ := ParseFrame(payload)
		t.Fatalf("unexpected frame on %s: %+v", c.ConnID, f)
	case <-time.After(100 * time.Millisecond):
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.Send:
		default:
			return
		}
	}
}

var errStoreDown = errors.New("store down")
