package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ntpoppe/sharply-sub000/logger"
	"github.com/ntpoppe/sharply-sub000/tools/errs"
)

// Dispatcher runs the send path: validate, persist, then fan out the
// durable record to the channel's current subscribers. Persistence
// commits before any delivery begins, so a failed send never leaves a
// half-delivered unpersisted message and a failed delivery never needs
// to compensate the store.
type Dispatcher struct {
	store          MessageStore
	membership     *Membership
	dir            UserDirectory
	sender         Deliverer
	relay          Relay // optional cross-node forward
	persistTimeout time.Duration

	mu       sync.Mutex
	channels map[string]*sync.Mutex // per-channel send serialization
}

func NewDispatcher(store MessageStore, membership *Membership, dir UserDirectory, sender Deliverer, persistTimeout time.Duration) *Dispatcher {
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	return &Dispatcher{
		store:          store,
		membership:     membership,
		dir:            dir,
		sender:         sender,
		persistTimeout: persistTimeout,
		channels:       make(map[string]*sync.Mutex),
	}
}

// SetRelay attaches the optional peer-gateway relay.
func (d *Dispatcher) SetRelay(r Relay) { d.relay = r }

func (d *Dispatcher) channelLock(channelID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := d.channels[channelID]
	if l == nil {
		l = &sync.Mutex{}
		d.channels[channelID] = l
	}
	return l
}

// Send persists and fans out one message.
//
// Per-channel sends are serialized so timestamps assigned by the store
// are strictly increasing in call order and delivery order matches
// persistence order; sends on different channels run in parallel.
// Delivery is at-most-once against the subscriber snapshot taken after
// the persist: a connection joining mid-flight may miss this message
// and picks it up from history instead.
func (d *Dispatcher) Send(ctx context.Context, channelID, senderID, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errs.ErrEmptyContent
	}
	if !d.membership.HasAccess(senderID, channelID) {
		return nil, errs.ErrAccessDenied.WithDetail("channel " + channelID)
	}

	l := d.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	pctx, cancel := context.WithTimeout(ctx, d.persistTimeout)
	defer cancel()
	msg, err := d.store.Persist(pctx, channelID, senderID, content)
	if err != nil {
		if errs.ErrChannelNotFound.Is(err) {
			return nil, err
		}
		return nil, errs.ErrPersistenceUnavailable.WrapMsg(err.Error(), "channel", channelID)
	}

	username, err := d.dir.Username(ctx, senderID)
	if err != nil {
		// deliver under the raw ID rather than dropping a persisted message
		logger.Warnf("[dispatch] sender name lookup failed user=%s err=%v", senderID, err)
		username = senderID
	}

	payload := BuildMessageFrame(msg, username)
	d.sender.DeliverToGroup(d.membership.Subscribers(channelID), payload)

	if d.relay != nil {
		if err := d.relay.PublishMessage(ctx, channelID, payload); err != nil {
			logger.Warnf("[dispatch] relay publish failed channel=%s err=%v", channelID, err)
		}
	}
	return msg, nil
}

// DeliverRemote hands a frame received from a peer gateway to the
// local subscribers of its channel. No persistence: the origin node
// already committed the message.
func (d *Dispatcher) DeliverRemote(channelID string, payload []byte) {
	l := d.channelLock(channelID)
	l.Lock()
	defer l.Unlock()
	d.sender.DeliverToGroup(d.membership.Subscribers(channelID), payload)
}
