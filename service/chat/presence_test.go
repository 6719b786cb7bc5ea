package chat

import (
	"context"
	"reflect"
	"testing"
)

func TestBuildRosterSortedByUsername(t *testing.T) {
	reg := NewRegistry()
	dir := newMemDir()
	dir.names["u1"] = "zoe"
	dir.names["u2"] = "amy"
	dir.names["u3"] = "sam"
	dir.names["u4"] = "sam" // duplicate display name, tie broken by ID
	for _, c := range []struct{ conn, user string }{
		{"c1", "u1"}, {"c2", "u2"}, {"c3", "u3"}, {"c4", "u4"},
		{"c5", "u1"}, // second tab must not duplicate the roster entry
	} {
		if _, err := reg.Register(NewClient(c.conn, c.user, nil, 8)); err != nil {
			t.Fatalf("register %s failed: %v", c.conn, err)
		}
	}
	p := NewPresenceBroadcaster(reg, dir, NewSender(reg, NewFanout(1, 8)))

	got := p.BuildRoster(context.Background())
	want := []RosterEntry{
		{UserID: "u2", Username: "amy"},
		{UserID: "u3", Username: "sam"},
		{UserID: "u4", Username: "sam"},
		{UserID: "u1", Username: "zoe"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("roster = %v, want %v", got, want)
	}
}

func TestBuildRosterSkipsFailedLookups(t *testing.T) {
	reg := NewRegistry()
	dir := newMemDir()
	dir.names["u1"] = "amy"
	reg.Register(NewClient("c1", "u1", nil, 8))
	reg.Register(NewClient("c2", "deleted-user", nil, 8))
	p := NewPresenceBroadcaster(reg, dir, NewSender(reg, NewFanout(1, 8)))

	got := p.BuildRoster(context.Background())
	want := []RosterEntry{{UserID: "u1", Username: "amy"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("roster = %v, want %v", got, want)
	}
}

func TestBroadcastReachesEveryConnection(t *testing.T) {
	reg := NewRegistry()
	dir := newMemDir()
	dir.names["u1"] = "amy"
	dir.names["u2"] = "bob"
	c1 := NewClient("c1", "u1", nil, 8)
	c2 := NewClient("c2", "u2", nil, 8)
	reg.Register(c1)
	reg.Register(c2)
	fan := NewFanout(2, 8)
	defer fan.Stop()
	p := NewPresenceBroadcaster(reg, dir, NewSender(reg, fan))

	p.Broadcast(context.Background())

	for _, c := range []*Client{c1, c2} {
		f := recvFrameOfType(t, c, FrameRoster)
		r, err := FramePayload[RosterPayload](f)
		if err != nil {
			t.Fatalf("decode roster: %v", err)
		}
		if len(r.Users) != 2 {
			t.Errorf("conn %s roster has %d users, want 2", c.ConnID, len(r.Users))
		}
	}
}
