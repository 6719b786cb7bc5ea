package chat

import (
	"context"
	"sort"

	"github.com/ntpoppe/sharply-sub000/logger"
)

// PresenceBroadcaster derives the online roster from the registry and
// pushes it to every connection whenever the distinct user set changes.
// The roster is recomputed from scratch on each broadcast; an
// incremental roster would be cheaper but this cannot drift.
type PresenceBroadcaster struct {
	reg    *Registry
	dir    UserDirectory
	sender Deliverer
}

func NewPresenceBroadcaster(reg *Registry, dir UserDirectory, sender Deliverer) *PresenceBroadcaster {
	return &PresenceBroadcaster{reg: reg, dir: dir, sender: sender}
}

// BuildRoster resolves usernames for every online user and returns the
// entries sorted by username (ordinal), ties broken by user ID. A user
// whose username lookup fails is left out of this snapshot rather than
// failing the whole roster.
func (p *PresenceBroadcaster) BuildRoster(ctx context.Context) []RosterEntry {
	users := p.reg.UsersOnline()
	entries := make([]RosterEntry, 0, len(users))
	for _, id := range users {
		name, err := p.dir.Username(ctx, id)
		if err != nil {
			logger.Warnf("[presence] username lookup failed user=%s err=%v", id, err)
			continue
		}
		entries = append(entries, RosterEntry{UserID: id, Username: name})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Username != entries[j].Username {
			return entries[i].Username < entries[j].Username
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

// Broadcast sends the current roster to all registered connections.
// Presence is global; channel membership plays no part here.
func (p *PresenceBroadcaster) Broadcast(ctx context.Context) {
	p.sender.BroadcastAll(BuildRosterFrame(p.BuildRoster(ctx)))
}

// SendSnapshot delivers the current roster to a single connection,
// used for newcomers whose arrival did not change the distinct set.
func (p *PresenceBroadcaster) SendSnapshot(ctx context.Context, c *Client) {
	p.sender.DeliverToConn(c, BuildRosterFrame(p.BuildRoster(ctx)))
}
