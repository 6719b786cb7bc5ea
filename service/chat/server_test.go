package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/ntpoppe/sharply-sub000/tools/errs"
)

// TestMultiTabScenario walks the canonical sequence: userA opens two
// tabs, userB one, everyone meets in channel 10, then userA's tabs
// close one by one.
func TestMultiTabScenario(t *testing.T) {
	access := newMemAccess()
	access.grants["userA"] = []string{"10"}
	access.grants["userB"] = []string{"10"}
	dir := newMemDir()
	dir.names["userA"] = "amy"
	dir.names["userB"] = "bob"
	store := newMemStore("10")
	srv := newTestServer(access, dir, store)
	ctx := context.Background()
	defer srv.Close(ctx)

	// first tab: distinct set grows, roster broadcast fires
	c1 := mustConnect(t, srv, "c1", "userA")
	f := recvFrameOfType(t, c1, FrameRoster)
	r, err := FramePayload[RosterPayload](f)
	if err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	if len(r.Users) != 1 || r.Users[0].Username != "amy" {
		t.Fatalf("initial roster = %v", r.Users)
	}

	// second tab of the same user: snapshot to the newcomer only
	c2 := mustConnect(t, srv, "c2", "userA")
	recvFrameOfType(t, c2, FrameRoster)
	expectNoFrame(t, c1)
	if got := access.callCount("userA"); got != 1 {
		t.Errorf("access loaded %d times for userA, want 1 per session", got)
	}

	// userB arrives: everyone sees the new roster
	c3 := mustConnect(t, srv, "c3", "userB")
	for _, c := range []*Client{c1, c2, c3} {
		f := recvFrameOfType(t, c, FrameRoster)
		r, err := FramePayload[RosterPayload](f)
		if err != nil {
			t.Fatalf("decode roster: %v", err)
		}
		if len(r.Users) != 2 {
			t.Errorf("conn %s roster has %d users, want 2", c.ConnID, len(r.Users))
		}
	}

	for _, join := range []struct{ conn, channel string }{
		{"c1", "10"}, {"c2", "10"}, {"c3", "10"},
	} {
		if err := srv.JoinChannel(join.conn, join.channel); err != nil {
			t.Fatalf("join %s -> %s failed: %v", join.conn, join.channel, err)
		}
	}

	// a message from userB reaches every tab, including the sender's
	msg, err := srv.SendMessage(ctx, "10", "userB", "hello all")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	for _, c := range []*Client{c1, c2, c3} {
		f := recvFrameOfType(t, c, FrameMessage)
		p, err := FramePayload[MessagePayload](f)
		if err != nil {
			t.Fatalf("decode message on %s: %v", c.ConnID, err)
		}
		if p.ID != msg.ID || p.Username != "bob" || p.Content != "hello all" {
			t.Errorf("conn %s payload = %+v", c.ConnID, p)
		}
	}

	// first tab closes: userA still online, no roster change, cache kept
	srv.Disconnect(ctx, "c1")
	expectNoFrame(t, c3)
	if !srv.Membership().HasAccess("userA", "10") {
		t.Errorf("access cache must survive a non-last disconnect")
	}

	// a message now skips the closed tab
	drain(c2)
	drain(c3)
	if _, err := srv.SendMessage(ctx, "10", "userB", "still here?"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	recvFrameOfType(t, c2, FrameMessage)
	recvFrameOfType(t, c3, FrameMessage)
	expectNoFrame(t, c1)

	// last tab closes: eviction plus roster broadcast to the survivors
	srv.Disconnect(ctx, "c2")
	f = recvFrameOfType(t, c3, FrameRoster)
	r, err = FramePayload[RosterPayload](f)
	if err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	if len(r.Users) != 1 || r.Users[0].Username != "bob" {
		t.Errorf("final roster = %v, want only bob", r.Users)
	}
	if srv.Membership().HasAccess("userA", "10") {
		t.Errorf("access cache must be evicted on last disconnect")
	}
	if got := access.callCount("userA"); got != 1 {
		t.Errorf("access loaded %d times across the whole session, want 1", got)
	}
}

func TestConnectRollsBackOnAccessFailure(t *testing.T) {
	access := newMemAccess()
	access.err = errors.New("db down")
	srv := newTestServer(access, newMemDir(), newMemStore())
	ctx := context.Background()
	defer srv.Close(ctx)

	c := NewClient("c1", "userA", nil, 8)
	if err := srv.Connect(ctx, c); err == nil {
		t.Fatalf("connect must fail when access cannot be loaded")
	}
	if got := srv.Registry().Len(); got != 0 {
		t.Errorf("failed connect left %d registrations behind", got)
	}
}

func TestJoinChannelEnforcesAccess(t *testing.T) {
	access := newMemAccess()
	access.grants["userA"] = []string{"10"}
	dir := newMemDir()
	dir.names["userA"] = "amy"
	srv := newTestServer(access, dir, newMemStore("10"))
	ctx := context.Background()
	defer srv.Close(ctx)

	mustConnect(t, srv, "c1", "userA")

	if err := srv.JoinChannel("c1", "secret"); !errs.ErrAccessDenied.Is(err) {
		t.Errorf("want ErrAccessDenied, got %v", err)
	}
	if err := srv.JoinChannel("ghost-conn", "10"); !errs.ErrConnectionNotFound.Is(err) {
		t.Errorf("want ErrConnectionNotFound, got %v", err)
	}
	if err := srv.JoinChannel("c1", "10"); err != nil {
		t.Errorf("granted join failed: %v", err)
	}
}

func TestDisconnectUnknownConnIsNoop(t *testing.T) {
	srv := newTestServer(newMemAccess(), newMemDir(), newMemStore())
	defer srv.Close(context.Background())
	srv.Disconnect(context.Background(), "never-registered")
}

func TestMirrorSeesFirstAndLastOnly(t *testing.T) {
	access := newMemAccess()
	access.grants["userA"] = []string{"10"}
	dir := newMemDir()
	dir.names["userA"] = "amy"
	srv := newTestServer(access, dir, newMemStore("10"))
	mirror := &memMirror{}
	srv.SetMirror(mirror)
	ctx := context.Background()
	defer srv.Close(ctx)

	mustConnect(t, srv, "c1", "userA")
	mustConnect(t, srv, "c2", "userA")
	srv.Disconnect(ctx, "c1")
	srv.Disconnect(ctx, "c2")

	got := mirror.snapshot()
	want := []string{"online:userA", "offline:userA"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("mirror events = %v, want %v", got, want)
	}
}

func TestRefreshAccessDropsLiveSubscription(t *testing.T) {
	access := newMemAccess()
	access.grants["userA"] = []string{"10", "20"}
	dir := newMemDir()
	dir.names["userA"] = "amy"
	srv := newTestServer(access, dir, newMemStore("10", "20"))
	ctx := context.Background()
	defer srv.Close(ctx)

	c := mustConnect(t, srv, "c1", "userA")
	recvFrameOfType(t, c, FrameRoster)
	if err := srv.JoinChannel("c1", "20"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	access.mu.Lock()
	access.grants["userA"] = []string{"10"}
	access.mu.Unlock()
	if err := srv.RefreshAccess(ctx, "userA"); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	drain(c)
	if _, err := srv.SendMessage(ctx, "20", "userA", "hi"); !errs.ErrAccessDenied.Is(err) {
		t.Errorf("send after revoke: want ErrAccessDenied, got %v", err)
	}
	expectNoFrame(t, c)
}

// A connection can finish its upgrade while the process is shutting
// down; the late Connect must degrade gracefully, never panic the
// process.
func TestConnectAfterCloseDoesNotPanic(t *testing.T) {
	access := newMemAccess()
	access.grants["userA"] = []string{"10"}
	dir := newMemDir()
	dir.names["userA"] = "amy"
	srv := newTestServer(access, dir, newMemStore("10"))
	ctx := context.Background()

	srv.Close(ctx)

	c := NewClient("c1", "userA", nil, 8)
	if err := srv.Connect(ctx, c); err != nil {
		t.Fatalf("late connect errored: %v", err)
	}
	srv.Disconnect(ctx, "c1")
}

func TestCloseDropsEveryConnection(t *testing.T) {
	access := newMemAccess()
	access.grants["userA"] = []string{"10"}
	access.grants["userB"] = []string{"10"}
	dir := newMemDir()
	dir.names["userA"] = "amy"
	dir.names["userB"] = "bob"
	srv := newTestServer(access, dir, newMemStore("10"))
	ctx := context.Background()

	mustConnect(t, srv, "c1", "userA")
	mustConnect(t, srv, "c2", "userB")
	srv.Close(ctx)

	if got := srv.Registry().Len(); got != 0 {
		t.Errorf("%d connections survive Close, want 0", got)
	}
}
