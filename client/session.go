// Package client implements the terminal client's view of the chat
// service: a single-channel subscription with history backfill and
// live message handling.
package client

import (
	"context"
	"sort"
	"sync"

	"github.com/ntpoppe/sharply-sub000/logger"
	"github.com/ntpoppe/sharply-sub000/service/chat"
	"github.com/ntpoppe/sharply-sub000/tools/safe"
)

// Transport sends control frames to the gateway.
type Transport interface {
	SendFrame(f chat.Frame) error
}

// HistorySource loads recent persisted messages for a channel.
type HistorySource interface {
	History(ctx context.Context, channelID string) ([]chat.MessagePayload, error)
}

// Session tracks which channel the user is viewing. A user views one
// channel at a time; switching channels leaves the previous one,
// joins the new one and replaces the message list with that channel's
// history. Live messages arriving while history loads are buffered
// and merged in afterwards.
type Session struct {
	transport Transport
	history   HistorySource

	mu       sync.Mutex
	current  string
	gen      uint64 // bumped per switch, guards stale history fetches
	loading  bool
	messages []chat.MessagePayload
	pending  []chat.MessagePayload

	// OnUpdate, when set, is called after the visible message list
	// changes. Called without the session lock held.
	OnUpdate func()
}

func NewSession(t Transport, h HistorySource) *Session {
	return &Session{transport: t, history: h}
}

// Current returns the channel the session is viewing, empty if none.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Messages returns a snapshot of the visible message list.
func (s *Session) Messages() []chat.MessagePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.MessagePayload, len(s.messages))
	copy(out, s.messages)
	return out
}

// SelectChannel switches the session to channelID. The previous
// channel is left, the new one joined, and the message list is
// cleared and repopulated from history. The history fetch runs off
// the lock; a fetch that completes after another switch is discarded.
func (s *Session) SelectChannel(ctx context.Context, channelID string) error {
	s.mu.Lock()
	if s.current == channelID {
		s.mu.Unlock()
		return nil
	}
	prev := s.current
	s.current = channelID
	s.gen++
	gen := s.gen
	s.loading = true
	s.messages = nil
	s.pending = nil
	s.mu.Unlock()

	if prev != "" {
		if err := s.transport.SendFrame(chat.Frame{Type: chat.FrameLeave, Payload: chat.LeavePayload{ChannelID: prev}}); err != nil {
			return err
		}
	}
	if err := s.transport.SendFrame(chat.Frame{Type: chat.FrameJoin, Payload: chat.JoinPayload{ChannelID: channelID}}); err != nil {
		return err
	}

	safe.Go(func() {
		msgs, err := s.history.History(ctx, channelID)
		if err != nil {
			logger.Warnf("history fetch failed channel=%s err=%v", channelID, err)
			msgs = nil
		}
		s.finishLoad(gen, msgs)
	})
	return nil
}

// finishLoad installs fetched history, merging in any live messages
// buffered during the fetch. Duplicates (a message both persisted and
// delivered live) are dropped by ID.
func (s *Session) finishLoad(gen uint64, msgs []chat.MessagePayload) {
	s.mu.Lock()
	if gen != s.gen {
		// user switched channels again, this fetch is stale
		s.mu.Unlock()
		return
	}
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = struct{}{}
	}
	for _, m := range s.pending {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
	s.messages = msgs
	s.pending = nil
	s.loading = false
	s.mu.Unlock()
	s.notify()
}

// OnLiveMessage feeds a message frame received from the gateway.
// Messages for channels other than the current one are dropped.
func (s *Session) OnLiveMessage(m chat.MessagePayload) {
	s.mu.Lock()
	if m.ChannelID != s.current {
		s.mu.Unlock()
		return
	}
	if s.loading {
		s.pending = append(s.pending, m)
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	s.notify()
}

// OnReconnect re-joins the current channel after the gateway
// connection is re-established. History is refetched since messages
// may have been missed while disconnected.
func (s *Session) OnReconnect(ctx context.Context) error {
	s.mu.Lock()
	cur := s.current
	if cur == "" {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.loading = true
	s.messages = nil
	s.pending = nil
	s.mu.Unlock()

	if err := s.transport.SendFrame(chat.Frame{Type: chat.FrameJoin, Payload: chat.JoinPayload{ChannelID: cur}}); err != nil {
		return err
	}
	safe.Go(func() {
		msgs, err := s.history.History(ctx, cur)
		if err != nil {
			logger.Warnf("history refetch failed channel=%s err=%v", cur, err)
			msgs = nil
		}
		s.finishLoad(gen, msgs)
	})
	return nil
}

func (s *Session) notify() {
	if s.OnUpdate != nil {
		s.OnUpdate()
	}
}
