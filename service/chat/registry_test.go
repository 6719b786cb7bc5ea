package chat

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/ntpoppe/sharply-sub000/tools/errs"
)

func TestRegisterFirstAndSecondConnection(t *testing.T) {
	r := NewRegistry()

	first, err := r.Register(NewClient("c1", "userA", nil, 8))
	if err != nil {
		t.Fatalf("register c1 failed: %v", err)
	}
	if !first {
		t.Errorf("c1 should be userA's first connection")
	}

	first, err = r.Register(NewClient("c2", "userA", nil, 8))
	if err != nil {
		t.Fatalf("register c2 failed: %v", err)
	}
	if first {
		t.Errorf("c2 must not report first, userA already online")
	}

	if got := r.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
	if got := len(r.ConnsOfUser("userA")); got != 2 {
		t.Errorf("ConnsOfUser = %d conns, want 2", got)
	}
}

func TestRegisterDuplicateConnID(t *testing.T) {
	r := NewRegistry()
	orig := NewClient("c1", "userA", nil, 8)
	if _, err := r.Register(orig); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, err := r.Register(NewClient("c1", "userB", nil, 8))
	if !errs.ErrDuplicateConnection.Is(err) {
		t.Fatalf("want ErrDuplicateConnection, got %v", err)
	}

	// original mapping intact
	got, ok := r.Get("c1")
	if !ok || got != orig {
		t.Errorf("duplicate register must not replace the original client")
	}
	if got := r.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestUnregisterLastConnection(t *testing.T) {
	r := NewRegistry()
	r.Register(NewClient("c1", "userA", nil, 8))
	r.Register(NewClient("c2", "userA", nil, 8))

	_, last, ok := r.Unregister("c1")
	if !ok || last {
		t.Errorf("unregister c1: ok=%v last=%v, want ok=true last=false", ok, last)
	}
	c, last, ok := r.Unregister("c2")
	if !ok || !last {
		t.Errorf("unregister c2: ok=%v last=%v, want ok=true last=true", ok, last)
	}
	if c.UserID != "userA" {
		t.Errorf("unregister returned user %s, want userA", c.UserID)
	}

	if _, _, ok := r.Unregister("c2"); ok {
		t.Errorf("unregistering an unknown conn must report ok=false")
	}
	if got := r.Len(); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
}

// TestUsersOnlineUnderConcurrentChurn hammers Register/Unregister from
// one goroutine per connection while a reader snapshots UsersOnline,
// then checks the final snapshot against what each goroutine left
// behind. Run with -race.
func TestUsersOnlineUnderConcurrentChurn(t *testing.T) {
	const (
		users        = 8
		connsPerUser = 4
		iterations   = 50
	)
	r := NewRegistry()

	universe := make(map[string]struct{}, users)
	for u := 0; u < users; u++ {
		universe[fmt.Sprintf("user%d", u)] = struct{}{}
	}

	var writers, reader sync.WaitGroup
	stop := make(chan struct{})

	// reader: every snapshot must be sorted, duplicate-free and drawn
	// from the known user set, no matter when it is taken
	reader.Add(1)
	go func() {
		defer reader.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := r.UsersOnline()
			if !sort.StringsAreSorted(snap) {
				t.Errorf("snapshot not sorted: %v", snap)
				return
			}
			for i, u := range snap {
				if i > 0 && snap[i-1] == u {
					t.Errorf("snapshot has duplicate %q", u)
					return
				}
				if _, known := universe[u]; !known {
					t.Errorf("snapshot has ghost user %q", u)
					return
				}
			}
		}
	}()

	// writers: churn each connection, leaving the even-indexed ones
	// registered at the end
	for u := 0; u < users; u++ {
		for c := 0; c < connsPerUser; c++ {
			writers.Add(1)
			go func(u, c int) {
				defer writers.Done()
				userID := fmt.Sprintf("user%d", u)
				connID := fmt.Sprintf("user%d-conn%d", u, c)
				for i := 0; i < iterations; i++ {
					if _, err := r.Register(NewClient(connID, userID, nil, 1)); err != nil {
						t.Errorf("register %s: %v", connID, err)
						return
					}
					if _, _, ok := r.Unregister(connID); !ok {
						t.Errorf("unregister %s: not found", connID)
						return
					}
				}
				if c%2 == 0 {
					if _, err := r.Register(NewClient(connID, userID, nil, 1)); err != nil {
						t.Errorf("final register %s: %v", connID, err)
					}
				}
			}(u, c)
		}
	}

	writers.Wait()
	close(stop)
	reader.Wait()

	// every user kept two live connections, so all of them are online
	want := make([]string, 0, users)
	for u := range universe {
		want = append(want, u)
	}
	sort.Strings(want)
	if got := r.UsersOnline(); !reflect.DeepEqual(got, want) {
		t.Errorf("final UsersOnline = %v, want %v", got, want)
	}
	if got := r.Len(); got != users*connsPerUser/2 {
		t.Errorf("final Len = %d, want %d", got, users*connsPerUser/2)
	}
}

func TestUsersOnlineDistinctSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(NewClient("c1", "zoe", nil, 8))
	r.Register(NewClient("c2", "amy", nil, 8))
	r.Register(NewClient("c3", "zoe", nil, 8))

	got := r.UsersOnline()
	want := []string{"amy", "zoe"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UsersOnline = %v, want %v", got, want)
	}
}
