package chat

import (
	"context"
	"time"

	"github.com/ntpoppe/sharply-sub000/logger"
	"github.com/ntpoppe/sharply-sub000/tools/errs"
)

type Options struct {
	GatewayID      string
	SendQueueSize  int
	PersistTimeout time.Duration
	FanoutWorkers  int
	FanoutQueue    int
	MaxMisses      int // consecutive dropped frames before the transport cuts a connection
}

func (o *Options) norm() {
	if o.GatewayID == "" {
		o.GatewayID = "gateway_1"
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 256
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 5 * time.Second
	}
	if o.FanoutWorkers <= 0 {
		o.FanoutWorkers = 4
	}
	if o.FanoutQueue <= 0 {
		o.FanoutQueue = 1024
	}
	if o.MaxMisses <= 0 {
		o.MaxMisses = 32
	}
}

// Server is the presence-and-fan-out core. It owns the connection
// registry and the membership index, and composes connect/disconnect/
// join/leave/send sequences over them. All state is instance-scoped so
// tests construct independent servers.
type Server struct {
	opts       Options
	reg        *Registry
	membership *Membership
	presence   *PresenceBroadcaster
	dispatcher *Dispatcher
	fan        *Fanout
	sender     *Sender
	store      MessageStore
	mirror     PresenceMirror // optional
}

func NewServer(store MessageStore, dir UserDirectory, access AccessSource, opts Options) *Server {
	opts.norm()
	reg := NewRegistry()
	fan := NewFanout(opts.FanoutWorkers, opts.FanoutQueue)
	sender := NewSender(reg, fan)
	membership := NewMembership(access)
	s := &Server{
		opts:       opts,
		reg:        reg,
		membership: membership,
		presence:   NewPresenceBroadcaster(reg, dir, sender),
		dispatcher: NewDispatcher(store, membership, dir, sender, opts.PersistTimeout),
		fan:        fan,
		sender:     sender,
		store:      store,
	}
	return s
}

// SetMirror attaches the optional external presence mirror.
func (s *Server) SetMirror(m PresenceMirror) { s.mirror = m }

// SetRelay attaches the optional peer-gateway relay.
func (s *Server) SetRelay(r Relay) { s.dispatcher.SetRelay(r) }

func (s *Server) Options() Options        { return s.opts }
func (s *Server) Registry() *Registry     { return s.reg }
func (s *Server) Membership() *Membership { return s.membership }
func (s *Server) Dispatcher() *Dispatcher { return s.dispatcher }
func (s *Server) Store() MessageStore     { return s.store }

// Connect registers a live connection, loads the user's channel access
// (once per online session) and announces presence. On the first
// connection of a user everyone gets a fresh roster; on additional
// connections only the newcomer receives a snapshot.
func (s *Server) Connect(ctx context.Context, c *Client) error {
	first, err := s.reg.Register(c)
	if err != nil {
		return err
	}
	if err := s.membership.LoadAccess(ctx, c.UserID); err != nil {
		// roll back: an online connection with no access set would be
		// unable to join or send anything
		s.reg.Unregister(c.ConnID)
		return err
	}
	if first {
		if s.mirror != nil {
			if merr := s.mirror.Online(ctx, c.UserID); merr != nil {
				logger.Warnf("[server] presence mirror online failed user=%s err=%v", c.UserID, merr)
			}
		}
		s.presence.Broadcast(ctx)
	} else {
		s.presence.SendSnapshot(ctx, c)
	}
	logger.Infof("[server] connect conn=%s user=%s first=%v online=%d", c.ConnID, c.UserID, first, s.reg.Len())
	return nil
}

// Disconnect tears a connection down unconditionally: registry entry,
// every group membership, and (on the user's last connection) the
// cached access set, the mirror entry and a roster re-broadcast.
// Unknown connection IDs are a tolerated race.
func (s *Server) Disconnect(ctx context.Context, connID string) {
	c, last, ok := s.reg.Unregister(connID)
	if !ok {
		return
	}
	s.membership.DropConn(connID)
	c.CloseDone()
	if last {
		s.membership.EvictAccess(c.UserID)
		if s.mirror != nil {
			if merr := s.mirror.Offline(ctx, c.UserID); merr != nil {
				logger.Warnf("[server] presence mirror offline failed user=%s err=%v", c.UserID, merr)
			}
		}
		s.presence.Broadcast(ctx)
	}
	logger.Infof("[server] disconnect conn=%s user=%s last=%v online=%d", connID, c.UserID, last, s.reg.Len())
}

// JoinChannel subscribes a connection to a channel's live messages.
// Access is enforced here against the connect-time cache; the
// membership index itself stays a pure bookkeeping structure.
func (s *Server) JoinChannel(connID, channelID string) error {
	c, ok := s.reg.Get(connID)
	if !ok {
		return errs.ErrConnectionNotFound.WithDetail(connID)
	}
	if !s.membership.HasAccess(c.UserID, channelID) {
		return errs.ErrAccessDenied.WithDetail("channel " + channelID)
	}
	s.membership.Join(c, channelID)
	return nil
}

// LeaveChannel unsubscribes a connection from a channel. Never errors;
// leaving an unjoined channel is a no-op.
func (s *Server) LeaveChannel(connID, channelID string) {
	s.membership.Leave(connID, channelID)
}

// SendMessage persists and fans out a message on behalf of a user.
func (s *Server) SendMessage(ctx context.Context, channelID, senderID, content string) (*Message, error) {
	return s.dispatcher.Send(ctx, channelID, senderID, content)
}

// RefreshAccess re-reads a user's grants and prunes stale group
// memberships. Invoked when grants change while the user is online.
func (s *Server) RefreshAccess(ctx context.Context, userID string) error {
	return s.membership.RefreshAccess(ctx, userID)
}

// Roster returns the current roster snapshot (HTTP debugging surface).
func (s *Server) Roster(ctx context.Context) []RosterEntry {
	return s.presence.BuildRoster(ctx)
}

// Close drops every connection and stops the fan-out workers.
func (s *Server) Close(ctx context.Context) {
	for _, c := range s.reg.ListAll() {
		s.Disconnect(ctx, c.ConnID)
		if c.WS != nil {
			_ = c.WS.Close()
		}
	}
	s.fan.Stop()
}
