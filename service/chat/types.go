package chat

import (
	"context"
	"time"
)

// Message is the durable record returned by the persistence collaborator.
// ID and Timestamp are assigned at persistence time, never by the client.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AccessSource answers which channels a user may read/write.
// Backed by the persistence layer; the gateway only caches its answers.
type AccessSource interface {
	AccessibleChannels(ctx context.Context, userID string) ([]string, error)
}

// UserDirectory resolves user IDs to display names.
// Returns errs.ErrUserNotFound for deleted/unknown users.
type UserDirectory interface {
	Username(ctx context.Context, userID string) (string, error)
}

// MessageStore persists and reads back channel messages.
// Persist returns errs.ErrChannelNotFound for unknown channels and
// guarantees strictly increasing timestamps per channel in call order.
type MessageStore interface {
	Persist(ctx context.Context, channelID, senderID, content string) (*Message, error)
	History(ctx context.Context, channelID string) ([]*Message, error)
}

// PresenceMirror reflects first-connect / last-disconnect transitions
// into an external store so peer gateways can locate users. Optional.
type PresenceMirror interface {
	Online(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string) error
}

// Relay forwards channel frames to peer gateway nodes. Optional.
type Relay interface {
	PublishMessage(ctx context.Context, channelID string, payload []byte) error
}

// Deliverer is the narrow transport capability the dispatcher and the
// presence broadcaster are written against. Group delivery preserves
// call order per group; broadcast order is unspecified.
type Deliverer interface {
	DeliverToConn(c *Client, payload []byte)
	DeliverToGroup(conns []*Client, payload []byte)
	BroadcastAll(payload []byte)
}
